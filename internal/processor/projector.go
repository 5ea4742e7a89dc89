package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kevinmok/hypertracker/internal/domain"
)

// ProjectorOptions configures the storage projector.
type ProjectorOptions struct {
	// SkipTopics are diverted to the blob archive instead of the event
	// log; they are too chatty to keep in Postgres.
	SkipTopics []string

	// CandleInterval is the bucket width mark prices fold into.
	CandleInterval time.Duration
}

// DefaultProjectorOptions returns the production projector settings.
func DefaultProjectorOptions() ProjectorOptions {
	return ProjectorOptions{
		SkipTopics:     []string{domain.TopicMarkPrice, domain.TopicTraderOrders},
		CandleInterval: time.Minute,
	}
}

// ProjectorStores bundles the write-side stores the projector feeds.
type ProjectorStores struct {
	Events    domain.EventStore
	State     domain.TraderStateStore
	Snapshots domain.SnapshotStore
	Signals   domain.SignalStore
	Candles   domain.CandleStore
}

// Projector subscribes to every topic and materializes events into the
// stores. Storage failures are logged and swallowed: the projector must
// never stall the pipeline, and the (topic, key) upsert keys make replays
// converge on the same rows.
type Projector struct {
	opts   ProjectorOptions
	stores ProjectorStores
	blob   domain.BlobWriter // optional
	logger *slog.Logger
	skip   map[string]struct{}

	mu      sync.Mutex
	candles map[string]domain.Candle // symbol -> open bucket
}

// NewProjector creates a projector; wire HandleEvent to the bus with the "*"
// pattern. blob may be nil, in which case skip-set events are dropped.
func NewProjector(opts ProjectorOptions, stores ProjectorStores, blob domain.BlobWriter, logger *slog.Logger) *Projector {
	skip := make(map[string]struct{}, len(opts.SkipTopics))
	for _, t := range opts.SkipTopics {
		skip[t] = struct{}{}
	}
	return &Projector{
		opts:    opts,
		stores:  stores,
		blob:    blob,
		logger:  logger.With(slog.String("component", "projector")),
		skip:    skip,
		candles: make(map[string]domain.Candle),
	}
}

// HandleEvent materializes one event. It always returns nil; failures are
// logged with the event identity so an operator can replay them.
func (p *Projector) HandleEvent(ctx context.Context, ev domain.Event) error {
	if _, skipped := p.skip[ev.Topic]; skipped {
		p.archive(ctx, ev)
	} else if err := p.stores.Events.Append(ctx, ev); err != nil {
		p.logError("append event", ev, err)
	}

	switch ev.Topic {
	case domain.TopicTraderPositions:
		snap, ok := ev.Payload.(domain.PositionSnapshot)
		if !ok {
			p.logError("project positions", ev, fmt.Errorf("unexpected payload %T", ev.Payload))
			return nil
		}
		if err := p.stores.Snapshots.Insert(ctx, snap); err != nil {
			p.logError("insert snapshot", ev, err)
		}
		if err := p.stores.State.Upsert(ctx, snap); err != nil {
			p.logError("upsert trader state", ev, err)
		}

	case domain.TopicTradingSignal:
		sig, ok := ev.Payload.(domain.Signal)
		if !ok {
			p.logError("project signal", ev, fmt.Errorf("unexpected payload %T", ev.Payload))
			return nil
		}
		if err := p.stores.Signals.Upsert(ctx, sig); err != nil {
			p.logError("upsert signal", ev, err)
		}

	case domain.TopicMarkPrice:
		mp, ok := ev.Payload.(domain.MarkPrice)
		if !ok {
			p.logError("project mark price", ev, fmt.Errorf("unexpected payload %T", ev.Payload))
			return nil
		}
		if err := p.stores.Candles.Upsert(ctx, p.fold(mp)); err != nil {
			p.logError("upsert candle", ev, err)
		}
	}
	return nil
}

// fold folds one mark price into its per-symbol candle bucket and returns the
// updated candle.
func (p *Projector) fold(mp domain.MarkPrice) domain.Candle {
	p.mu.Lock()
	defer p.mu.Unlock()

	openTime := mp.Timestamp.Truncate(p.opts.CandleInterval)
	c, ok := p.candles[mp.Symbol]
	if !ok || !c.OpenTime.Equal(openTime) {
		c = domain.Candle{
			Symbol:   mp.Symbol,
			Interval: p.opts.CandleInterval.String(),
			OpenTime: openTime,
			Open:     mp.Price,
			High:     mp.Price,
			Low:      mp.Price,
		}
	}
	if mp.Price > c.High {
		c.High = mp.Price
	}
	if mp.Price < c.Low {
		c.Low = mp.Price
	}
	c.Close = mp.Price
	c.Samples++
	p.candles[mp.Symbol] = c
	return c
}

// archive writes a skip-set event to the blob store as JSON.
func (p *Projector) archive(ctx context.Context, ev domain.Event) {
	if p.blob == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.logError("marshal archive", ev, err)
		return
	}
	path := fmt.Sprintf("events/%s/%d-%s.json", ev.Topic, ev.Timestamp.UnixMilli(), ev.ID)
	if err := p.blob.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		p.logError("archive event", ev, err)
	}
}

func (p *Projector) logError(op string, ev domain.Event, err error) {
	p.logger.Error(op+" failed",
		slog.String("topic", ev.Topic),
		slog.String("key", ev.Key),
		slog.String("error", err.Error()),
	)
}
