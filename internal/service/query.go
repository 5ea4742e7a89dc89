// Package service holds the read-side query service behind the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kevinmok/hypertracker/internal/domain"
)

// StatsFunc returns the live collector counters. Wired from the app so the
// service does not depend on the pipeline packages.
type StatsFunc func() domain.CollectorStats

// AlertsFunc returns the in-process active alerts, used when no alert cache
// is configured.
type AlertsFunc func() []domain.WhaleAlert

// Query serves the read API: cached reads first, the stores as fallback.
type Query struct {
	signals   domain.SignalStore
	state     domain.TraderStateStore
	snapshots domain.SnapshotStore
	candles   domain.CandleStore

	signalCache domain.SignalCache // optional
	alertCache  domain.AlertCache  // optional

	localAlerts AlertsFunc // optional
	stats       StatsFunc  // optional

	logger *slog.Logger
	now    func() time.Time
}

// QueryDeps bundles the stores and optional caches for NewQuery.
type QueryDeps struct {
	Signals   domain.SignalStore
	State     domain.TraderStateStore
	Snapshots domain.SnapshotStore
	Candles   domain.CandleStore

	SignalCache domain.SignalCache
	AlertCache  domain.AlertCache
	LocalAlerts AlertsFunc
	Stats       StatsFunc
}

// NewQuery creates the query service.
func NewQuery(deps QueryDeps, logger *slog.Logger) *Query {
	return &Query{
		signals:     deps.Signals,
		state:       deps.State,
		snapshots:   deps.Snapshots,
		candles:     deps.Candles,
		signalCache: deps.SignalCache,
		alertCache:  deps.AlertCache,
		localAlerts: deps.LocalAlerts,
		stats:       deps.Stats,
		logger:      logger.With(slog.String("component", "query")),
		now:         time.Now,
	}
}

// LatestSignal returns the most recent signal for a symbol, preferring the
// cache. A cache miss or failure falls through to the store.
func (q *Query) LatestSignal(ctx context.Context, symbol string) (domain.Signal, error) {
	if q.signalCache != nil {
		sig, err := q.signalCache.GetLatest(ctx, symbol)
		if err == nil {
			return sig, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			q.logger.Warn("signal cache read failed", slog.String("error", err.Error()))
		}
	}

	sig, err := q.signals.Latest(ctx, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Signal{}, domain.ErrNotFound
		}
		return domain.Signal{}, fmt.Errorf("service: latest signal %s: %w", symbol, err)
	}
	return sig, nil
}

// SignalHistory returns stored signals for a symbol, newest first.
func (q *Query) SignalHistory(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.Signal, error) {
	sigs, err := q.signals.List(ctx, symbol, opts)
	if err != nil {
		return nil, fmt.Errorf("service: signal history %s: %w", symbol, err)
	}
	return sigs, nil
}

// ActiveAlerts returns the unexpired whale alerts: from the alert cache when
// configured, otherwise from the in-process detector.
func (q *Query) ActiveAlerts(ctx context.Context) ([]domain.WhaleAlert, error) {
	if q.alertCache != nil {
		alerts, err := q.alertCache.Active(ctx, q.now())
		if err == nil {
			return alerts, nil
		}
		q.logger.Warn("alert cache read failed", slog.String("error", err.Error()))
	}
	if q.localAlerts != nil {
		return q.localAlerts(), nil
	}
	return nil, nil
}

// Trader returns the current state for one address.
func (q *Query) Trader(ctx context.Context, address string) (domain.PositionSnapshot, error) {
	addr, err := domain.ParseAddress(address)
	if err != nil {
		return domain.PositionSnapshot{}, err
	}

	snap, err := q.state.Get(ctx, addr)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.PositionSnapshot{}, domain.ErrNotFound
		}
		return domain.PositionSnapshot{}, fmt.Errorf("service: trader %s: %w", addr, err)
	}
	return snap, nil
}

// Traders returns tracked traders ordered by account value.
func (q *Query) Traders(ctx context.Context, opts domain.ListOpts) ([]domain.PositionSnapshot, error) {
	snaps, err := q.state.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("service: list traders: %w", err)
	}
	return snaps, nil
}

// TraderHistory returns the snapshot history for one address, newest first.
func (q *Query) TraderHistory(ctx context.Context, address string, opts domain.ListOpts) ([]domain.PositionSnapshot, error) {
	addr, err := domain.ParseAddress(address)
	if err != nil {
		return nil, err
	}

	snaps, err := q.snapshots.ListByAddress(ctx, addr, opts)
	if err != nil {
		return nil, fmt.Errorf("service: trader history %s: %w", addr, err)
	}
	return snaps, nil
}

// Candles returns stored candles for a symbol and interval, newest first.
func (q *Query) Candles(ctx context.Context, symbol, interval string, opts domain.ListOpts) ([]domain.Candle, error) {
	candles, err := q.candles.List(ctx, symbol, interval, opts)
	if err != nil {
		return nil, fmt.Errorf("service: candles %s/%s: %w", symbol, interval, err)
	}
	return candles, nil
}

// Stats returns the live collector counters plus the stored trader count.
func (q *Query) Stats(ctx context.Context) (domain.CollectorStats, error) {
	var stats domain.CollectorStats
	if q.stats != nil {
		stats = q.stats()
	}
	if q.state != nil {
		if n, err := q.state.Count(ctx); err == nil && n > int64(stats.TrackedTraders) {
			stats.TrackedTraders = int(n)
		}
	}
	return stats, nil
}
