package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EventStore persists the append-only event log. Append is an idempotent
// upsert on (topic, key) so replaying a prefix of the log is safe.
type EventStore interface {
	Append(ctx context.Context, ev Event) error
	ListByTopic(ctx context.Context, topic string, opts ListOpts) ([]Event, error)
}

// TraderStateStore holds the single current-state projection per address.
type TraderStateStore interface {
	Upsert(ctx context.Context, snap PositionSnapshot) error
	Get(ctx context.Context, address string) (PositionSnapshot, error)
	List(ctx context.Context, opts ListOpts) ([]PositionSnapshot, error)
	Count(ctx context.Context) (int64, error)
}

// SnapshotStore persists the historical snapshot log keyed by
// (address, observed_at).
type SnapshotStore interface {
	Insert(ctx context.Context, snap PositionSnapshot) error
	ListByAddress(ctx context.Context, address string, opts ListOpts) ([]PositionSnapshot, error)
}

// SignalStore persists emitted signals keyed by (symbol, timestamp).
type SignalStore interface {
	Upsert(ctx context.Context, sig Signal) error
	Latest(ctx context.Context, symbol string) (Signal, error)
	List(ctx context.Context, symbol string, opts ListOpts) ([]Signal, error)
}

// CandleStore persists per-symbol candles keyed by (symbol, interval, open_time).
type CandleStore interface {
	Upsert(ctx context.Context, c Candle) error
	List(ctx context.Context, symbol, interval string, opts ListOpts) ([]Candle, error)
}
