// Package router turns raw WebSocket frames into bus events: it buffers
// inbound frames, parses them per channel, de-duplicates unchanged position
// snapshots, and classifies order transitions.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kevinmok/hypertracker/internal/domain"
	"github.com/kevinmok/hypertracker/internal/platform/hyperliquid"
)

// orderSizeEpsilon bounds the float noise tolerated when comparing order
// sizes across updates.
const orderSizeEpsilon = 1e-6

// EventSink is where parsed events go; in production this is the bus.
type EventSink interface {
	PublishBulk(ctx context.Context, evs []domain.Event) error
}

// Options configures the router.
type Options struct {
	// Coins restricts position and mark-price output to these symbols.
	// Empty means no filter.
	Coins []string

	// BufferMaxSize triggers an immediate flush when the frame buffer
	// reaches this many frames.
	BufferMaxSize int

	// FlushInterval is the periodic flush cadence.
	FlushInterval time.Duration

	// MaxSaveInterval forces a position snapshot through the de-dup gate
	// when the last emission for the address is at least this old.
	MaxSaveInterval time.Duration
}

// DefaultOptions returns the production router settings.
func DefaultOptions(coins []string) Options {
	return Options{
		Coins:           coins,
		BufferMaxSize:   1000,
		FlushInterval:   5 * time.Second,
		MaxSaveInterval: 10 * time.Minute,
	}
}

// Stats is a point-in-time view of the router counters.
type Stats struct {
	Buffered         int
	FramesReceived   int64
	ParseErrors      int64
	PositionsEmitted int64
	PositionsSkipped int64
}

type dedupEntry struct {
	tuple    string
	lastEmit time.Time
}

// orderRecord is the last observed shape of a tracked resting order.
type orderRecord struct {
	coin string
	side string
	px   float64
	size float64
}

// orderChanged reports whether any of the compared fields moved, with float
// fields compared under the size epsilon.
func orderChanged(prev, cur orderRecord) bool {
	return prev.coin != cur.coin ||
		prev.side != cur.side ||
		math.Abs(cur.px-prev.px) > orderSizeEpsilon ||
		math.Abs(cur.size-prev.size) > orderSizeEpsilon
}

// Router buffers raw frames and flushes them into domain events. A flush
// happens when the buffer fills or on the periodic tick; processing runs
// outside the buffer lock so the feed never blocks on parsing.
type Router struct {
	opts   Options
	sink   EventSink
	logger *slog.Logger
	coins  map[string]struct{}

	bufMu  sync.Mutex
	buffer [][]byte

	stateMu sync.Mutex
	dedup   map[string]dedupEntry
	orders  map[string]map[int64]orderRecord // address -> oid -> last shape

	framesReceived   atomic.Int64
	parseErrors      atomic.Int64
	positionsEmitted atomic.Int64
	positionsSkipped atomic.Int64

	now func() time.Time
}

// New creates a Router. Run starts the periodic flush.
func New(opts Options, sink EventSink, logger *slog.Logger) *Router {
	coins := make(map[string]struct{}, len(opts.Coins))
	for _, c := range opts.Coins {
		coins[c] = struct{}{}
	}
	return &Router{
		opts:   opts,
		sink:   sink,
		logger: logger.With(slog.String("component", "router")),
		coins:  coins,
		dedup:  make(map[string]dedupEntry),
		orders: make(map[string]map[int64]orderRecord),
		now:    time.Now,
	}
}

// HandleFrame accepts one raw frame from the pool. Safe for concurrent use.
// When the buffer hits BufferMaxSize the batch is flushed immediately.
func (r *Router) HandleFrame(clientID int, raw []byte) {
	r.framesReceived.Add(1)

	r.bufMu.Lock()
	r.buffer = append(r.buffer, raw)
	var batch [][]byte
	if len(r.buffer) >= r.opts.BufferMaxSize {
		batch = r.buffer
		r.buffer = nil
	}
	r.bufMu.Unlock()

	if batch != nil {
		r.process(context.Background(), batch)
	}
}

// Run flushes the buffer on every tick until the context ends, then performs
// a final drain.
func (r *Router) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Flush(context.Background())
			return ctx.Err()
		case <-ticker.C:
			r.Flush(ctx)
		}
	}
}

// Flush drains the buffer and processes whatever was queued.
func (r *Router) Flush(ctx context.Context) {
	r.bufMu.Lock()
	batch := r.buffer
	r.buffer = nil
	r.bufMu.Unlock()

	if len(batch) > 0 {
		r.process(ctx, batch)
	}
}

// Stats returns the current counters.
func (r *Router) Stats() Stats {
	r.bufMu.Lock()
	buffered := len(r.buffer)
	r.bufMu.Unlock()

	return Stats{
		Buffered:         buffered,
		FramesReceived:   r.framesReceived.Load(),
		ParseErrors:      r.parseErrors.Load(),
		PositionsEmitted: r.positionsEmitted.Load(),
		PositionsSkipped: r.positionsSkipped.Load(),
	}
}

// process parses a batch of frames and publishes the resulting events.
func (r *Router) process(ctx context.Context, batch [][]byte) {
	var events []domain.Event
	for _, raw := range batch {
		evs, err := r.parseFrame(raw)
		if err != nil {
			r.parseErrors.Add(1)
			r.logger.Warn("frame dropped", slog.String("error", err.Error()))
			continue
		}
		events = append(events, evs...)
	}

	if len(events) == 0 {
		return
	}
	if err := r.sink.PublishBulk(ctx, events); err != nil {
		r.logger.Error("publish failed",
			slog.Int("events", len(events)),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Router) parseFrame(raw []byte) ([]domain.Event, error) {
	var env hyperliquid.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("router: envelope: %w", err)
	}

	switch env.Channel {
	case "webData2":
		var wd hyperliquid.WebData2
		if err := json.Unmarshal(env.Data, &wd); err != nil {
			return nil, fmt.Errorf("router: webData2: %w", err)
		}
		return r.handleWebData2(wd)

	case "orderUpdates":
		var entries []hyperliquid.OrderUpdateEntry
		if err := json.Unmarshal(env.Data, &entries); err != nil {
			return nil, fmt.Errorf("router: orderUpdates: %w", err)
		}
		return r.handleOrderUpdates(entries)

	case "allMids":
		var mids hyperliquid.AllMids
		if err := json.Unmarshal(env.Data, &mids); err != nil {
			return nil, fmt.Errorf("router: allMids: %w", err)
		}
		return r.handleAllMids(mids), nil

	case "subscriptionResponse", "pong", "":
		// Acknowledgements carry no data.
		return nil, nil

	default:
		r.logger.Debug("unknown channel", slog.String("channel", env.Channel))
		return nil, nil
	}
}

// handleWebData2 converts an account push into a position snapshot, gated by
// the tuple de-dup: an unchanged tuple is skipped unless the last emission
// for the address is older than MaxSaveInterval. The push's open-order list
// is reconciled against the tracked set regardless of the position gate.
func (r *Router) handleWebData2(wd hyperliquid.WebData2) ([]domain.Event, error) {
	addr, err := domain.ParseAddress(wd.User)
	if err != nil {
		return nil, fmt.Errorf("router: webData2 user: %w", err)
	}

	snap := domain.PositionSnapshot{
		Address: addr,
		Margin: domain.MarginSummary{
			AccountValue:    float64(wd.ClearinghouseState.MarginSummary.AccountValue),
			TotalNtlPos:     float64(wd.ClearinghouseState.MarginSummary.TotalNtlPos),
			TotalMarginUsed: float64(wd.ClearinghouseState.MarginSummary.TotalMarginUsed),
		},
		SourceTime: time.UnixMilli(wd.ClearinghouseState.Time),
		ObservedAt: r.now(),
	}
	for _, ap := range wd.ClearinghouseState.AssetPositions {
		size := float64(ap.Position.Szi)
		if size == 0 {
			continue
		}
		if !r.wantCoin(ap.Position.Coin) {
			continue
		}
		snap.Positions = append(snap.Positions, domain.Position{
			Coin:       ap.Position.Coin,
			Size:       size,
			Leverage:   float64(ap.Position.Leverage.Value),
			EntryPrice: float64(ap.Position.EntryPx),
			Margin:     float64(ap.Position.MarginUsed),
		})
	}

	tuple := domain.NormalizeTuple(snap.Positions)
	now := r.now()

	r.stateMu.Lock()
	prev, seen := r.dedup[addr]
	fresh := !seen || prev.tuple != tuple || now.Sub(prev.lastEmit) >= r.opts.MaxSaveInterval
	if fresh {
		r.dedup[addr] = dedupEntry{tuple: tuple, lastEmit: now}
	}
	orderStates := r.refreshOrdersLocked(addr, wd.OpenOrders, now)
	r.stateMu.Unlock()

	var events []domain.Event
	if len(orderStates) > 0 {
		events = append(events, domain.Event{
			ID:        uuid.New().String(),
			Topic:     domain.TopicTraderOrders,
			Key:       fmt.Sprintf("%s:%d", addr, now.UnixMilli()),
			Payload:   domain.OrderUpdate{Address: addr, Orders: orderStates},
			Timestamp: now,
		})
	}

	if !fresh {
		r.positionsSkipped.Add(1)
		return events, nil
	}
	r.positionsEmitted.Add(1)

	return append(events, domain.Event{
		ID:        uuid.New().String(),
		Topic:     domain.TopicTraderPositions,
		Key:       fmt.Sprintf("%s:%d", addr, snap.SourceTime.UnixMilli()),
		Payload:   snap,
		Timestamp: now,
	}), nil
}

// refreshOrdersLocked reconciles an account push's open-order list against the
// tracked set: an unseen oid opens, a field change updates, and a tracked
// order missing from the refresh closes with a zero-size synthetic entry.
// Caller must hold r.stateMu.
func (r *Router) refreshOrdersLocked(addr string, open []hyperliquid.OpenOrder, now time.Time) []domain.OrderState {
	tracked := r.orders[addr]

	var out []domain.OrderState
	seen := make(map[int64]struct{}, len(open))
	for _, o := range open {
		seen[o.Oid] = struct{}{}
		rec := orderRecord{coin: o.Coin, side: o.Side, px: float64(o.LimitPx), size: float64(o.Sz)}

		var status domain.OrderStatus
		prior, ok := tracked[o.Oid]
		switch {
		case !ok:
			status = domain.OrderStatusOpen
		case orderChanged(prior, rec):
			status = domain.OrderStatusUpdated
		default:
			continue // unchanged
		}

		if tracked == nil {
			tracked = make(map[int64]orderRecord)
			r.orders[addr] = tracked
		}
		tracked[o.Oid] = rec
		out = append(out, domain.OrderState{
			OID:        o.Oid,
			Coin:       o.Coin,
			Side:       o.Side,
			LimitPrice: float64(o.LimitPx),
			Size:       float64(o.Sz),
			OrigSize:   float64(o.OrigSz),
			Status:     status,
			Timestamp:  time.UnixMilli(o.Timestamp),
		})
	}

	for oid, rec := range tracked {
		if _, still := seen[oid]; still {
			continue
		}
		delete(tracked, oid)
		out = append(out, domain.OrderState{
			OID:        oid,
			Coin:       rec.coin,
			Side:       rec.side,
			LimitPrice: rec.px,
			Size:       0,
			Status:     domain.OrderStatusClosed,
			Timestamp:  now,
		})
	}
	if len(tracked) == 0 {
		delete(r.orders, addr)
	}
	return out
}

// handleOrderUpdates classifies each order against its prior state: an unseen
// oid opens, a terminal status or drained size closes, and a change to the
// order's coin, side, limit price, or size updates.
func (r *Router) handleOrderUpdates(entries []hyperliquid.OrderUpdateEntry) ([]domain.Event, error) {
	byUser := make(map[string][]domain.OrderState)

	r.stateMu.Lock()
	for _, e := range entries {
		addr, err := domain.ParseAddress(e.User)
		if err != nil {
			continue
		}
		rec := orderRecord{
			coin: e.Order.Coin,
			side: e.Order.Side,
			px:   float64(e.Order.LimitPx),
			size: float64(e.Order.Sz),
		}
		tracked := r.orders[addr]
		prior, seen := tracked[e.Order.Oid]

		var status domain.OrderStatus
		switch {
		case isTerminalStatus(e.Status) || rec.size <= orderSizeEpsilon:
			status = domain.OrderStatusClosed
			delete(tracked, e.Order.Oid)
			if len(tracked) == 0 {
				delete(r.orders, addr)
			}
		case !seen:
			status = domain.OrderStatusOpen
			if tracked == nil {
				tracked = make(map[int64]orderRecord)
				r.orders[addr] = tracked
			}
			tracked[e.Order.Oid] = rec
		case orderChanged(prior, rec):
			status = domain.OrderStatusUpdated
			tracked[e.Order.Oid] = rec
		default:
			continue // no observable change
		}

		byUser[addr] = append(byUser[addr], domain.OrderState{
			OID:        e.Order.Oid,
			Coin:       e.Order.Coin,
			Side:       e.Order.Side,
			LimitPrice: float64(e.Order.LimitPx),
			Size:       float64(e.Order.Sz),
			OrigSize:   float64(e.Order.OrigSz),
			Status:     status,
			Timestamp:  time.UnixMilli(e.StatusTimestamp),
		})
	}
	r.stateMu.Unlock()

	now := r.now()
	events := make([]domain.Event, 0, len(byUser))
	for addr, orders := range byUser {
		events = append(events, domain.Event{
			ID:        uuid.New().String(),
			Topic:     domain.TopicTraderOrders,
			Key:       fmt.Sprintf("%s:%d", addr, now.UnixMilli()),
			Payload:   domain.OrderUpdate{Address: addr, Orders: orders},
			Timestamp: now,
		})
	}
	return events, nil
}

func (r *Router) handleAllMids(mids hyperliquid.AllMids) []domain.Event {
	now := r.now()
	var events []domain.Event
	for coin, mid := range mids.Mids {
		if !r.wantCoin(coin) {
			continue
		}
		events = append(events, domain.Event{
			ID:    uuid.New().String(),
			Topic: domain.TopicMarkPrice,
			Key:   fmt.Sprintf("%s:%d", coin, now.UnixMilli()),
			Payload: domain.MarkPrice{
				Symbol:    coin,
				Price:     float64(mid),
				Timestamp: now,
			},
			Timestamp: now,
		})
	}
	return events
}

func (r *Router) wantCoin(coin string) bool {
	if len(r.coins) == 0 {
		return true
	}
	_, ok := r.coins[coin]
	return ok
}

func isTerminalStatus(s string) bool {
	switch s {
	case "filled", "canceled", "rejected", "marginCanceled", "triggered":
		return true
	}
	return false
}
