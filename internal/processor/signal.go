// Package processor holds the stream processors fed by the bus: the weighted
// signal generator and the whale change detector.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kevinmok/hypertracker/internal/domain"
)

// EventSink is where processors publish derived events; in production this is
// the bus.
type EventSink interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// SignalOptions configures the signal generator.
type SignalOptions struct {
	// Symbol is the instrument the signal is computed for.
	Symbol string

	// TTL bounds how long a trader state counts as fresh.
	TTL time.Duration

	// MaxTraders caps the tracked state; the least recently updated entry
	// is evicted when a new address would exceed it.
	MaxTraders int

	// DefaultScore is used for traders with no leaderboard score.
	DefaultScore float64

	// BuyThreshold / SellThreshold bound the NEUTRAL band on the long/short
	// bias difference.
	BuyThreshold  float64
	SellThreshold float64

	// EmitBiasDelta re-emits when the long bias moved at least this much
	// since the last emitted signal.
	EmitBiasDelta float64

	// EmitConfidence always emits at or above this confidence.
	EmitConfidence float64
}

// DefaultSignalOptions returns the production signal settings for a symbol.
func DefaultSignalOptions(symbol string) SignalOptions {
	return SignalOptions{
		Symbol:         symbol,
		TTL:            24 * time.Hour,
		MaxTraders:     10_000,
		DefaultScore:   50,
		BuyThreshold:   0.2,
		SellThreshold:  -0.2,
		EmitBiasDelta:  0.1,
		EmitConfidence: 0.7,
	}
}

type traderEntry struct {
	snap      domain.PositionSnapshot
	updatedAt time.Time
}

// SignalGenerator folds trader position snapshots into a weighted directional
// signal for one symbol. Each trader contributes its leaderboard score (as
// score/100) to the side of its position; the signal is emitted through the
// sink when it changes materially.
type SignalGenerator struct {
	opts   SignalOptions
	sink   EventSink
	logger *slog.Logger

	mu      sync.Mutex
	traders map[string]*traderEntry
	scores  map[string]float64
	price   float64

	last    *domain.Signal
	emitted atomic.Int64

	now func() time.Time
}

// NewSignalGenerator creates a generator; wire its Handle* methods to the bus.
func NewSignalGenerator(opts SignalOptions, sink EventSink, logger *slog.Logger) *SignalGenerator {
	return &SignalGenerator{
		opts:    opts,
		sink:    sink,
		logger:  logger.With(slog.String("component", "signal"), slog.String("symbol", opts.Symbol)),
		traders: make(map[string]*traderEntry),
		scores:  make(map[string]float64),
		now:     time.Now,
	}
}

// Emitted returns how many signals have been published.
func (g *SignalGenerator) Emitted() int64 { return g.emitted.Load() }

// TrackedTraders returns the current state size.
func (g *SignalGenerator) TrackedTraders() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.traders)
}

// HandlePositions consumes a trader_positions event: it updates the trader
// state (evicting the stalest entry past MaxTraders) and recomputes the
// signal.
func (g *SignalGenerator) HandlePositions(ctx context.Context, ev domain.Event) error {
	snap, ok := ev.Payload.(domain.PositionSnapshot)
	if !ok {
		return fmt.Errorf("signal: unexpected payload %T on %s", ev.Payload, ev.Topic)
	}

	g.mu.Lock()
	now := g.now()
	entry, seen := g.traders[snap.Address]
	if seen {
		entry.snap = snap
		entry.updatedAt = now
	} else {
		g.traders[snap.Address] = &traderEntry{snap: snap, updatedAt: now}
	}
	g.sweepLocked(now)
	sig, emit := g.computeLocked(now)
	g.mu.Unlock()

	if !emit {
		return nil
	}
	return g.publish(ctx, sig)
}

// HandleScores consumes a scored_traders event and updates the score map.
func (g *SignalGenerator) HandleScores(ctx context.Context, ev domain.Event) error {
	upd, ok := ev.Payload.(domain.ScoreUpdate)
	if !ok {
		return fmt.Errorf("signal: unexpected payload %T on %s", ev.Payload, ev.Topic)
	}

	g.mu.Lock()
	for _, s := range upd.Scores {
		g.scores[s.Address] = s.Score
	}
	g.mu.Unlock()
	return nil
}

// HandleMarkPrice consumes a mark_price event for the generator's symbol.
func (g *SignalGenerator) HandleMarkPrice(ctx context.Context, ev domain.Event) error {
	mp, ok := ev.Payload.(domain.MarkPrice)
	if !ok {
		return fmt.Errorf("signal: unexpected payload %T on %s", ev.Payload, ev.Topic)
	}
	if mp.Symbol != g.opts.Symbol {
		return nil
	}

	g.mu.Lock()
	g.price = mp.Price
	g.mu.Unlock()
	return nil
}

// sweepLocked applies the eviction rules on every position update: TTL-stale
// addresses are dropped, then the least recently updated go until the count is
// back under the cap. Evicted addresses lose their score entry too, so the
// score map cannot outgrow the tracked set. Caller must hold g.mu.
func (g *SignalGenerator) sweepLocked(now time.Time) {
	cutoff := now.Add(-g.opts.TTL)
	for addr, e := range g.traders {
		if e.updatedAt.Before(cutoff) {
			delete(g.traders, addr)
			delete(g.scores, addr)
		}
	}
	for len(g.traders) > g.opts.MaxTraders {
		g.evictStalestLocked()
	}
}

// evictStalestLocked removes the least recently updated trader and its score.
func (g *SignalGenerator) evictStalestLocked() {
	var victim string
	var oldest time.Time
	for addr, e := range g.traders {
		if victim == "" || e.updatedAt.Before(oldest) {
			victim, oldest = addr, e.updatedAt
		}
	}
	if victim != "" {
		delete(g.traders, victim)
		delete(g.scores, victim)
	}
}

// computeLocked recomputes the signal over the fresh trader set and decides
// whether it clears the emission gate. Caller must hold g.mu.
func (g *SignalGenerator) computeLocked(now time.Time) (domain.Signal, bool) {
	var (
		longWeight, shortWeight float64
		net                     float64
		nLong, nShort, nFlat    int
		fresh                   int
	)

	for addr, e := range g.traders {
		if now.Sub(e.updatedAt) > g.opts.TTL {
			continue
		}
		fresh++

		pos, has := e.snap.Find(g.opts.Symbol)
		if !has || pos.Size == 0 {
			nFlat++
			continue
		}

		score := g.opts.DefaultScore
		if s, ok := g.scores[addr]; ok {
			score = s
		}
		w := score / 100
		net += pos.Size * w

		if pos.Size > 0 {
			longWeight += w
			nLong++
		} else {
			shortWeight += w
			nShort++
		}
	}

	if fresh == 0 {
		return domain.Signal{}, false
	}

	total := longWeight + shortWeight
	var longBias, shortBias float64
	if total > 0 {
		longBias = longWeight / total
		shortBias = shortWeight / total
	}

	// The recommendation band is on the bias difference, not the raw
	// score-weighted exposure.
	bias := longBias - shortBias
	rec := domain.RecommendationNeutral
	switch {
	case bias > g.opts.BuyThreshold:
		rec = domain.RecommendationBuy
	case bias < g.opts.SellThreshold:
		rec = domain.RecommendationSell
	}

	confidence := 0.5*math.Abs(bias) +
		0.3*math.Min(float64(fresh)/100, 1) +
		0.2*math.Min(total/100, 1)
	confidence = math.Min(confidence, 1)

	sig := domain.Signal{
		Symbol:         g.opts.Symbol,
		LongBias:       longBias,
		ShortBias:      shortBias,
		NetExposure:    net,
		TradersLong:    nLong,
		TradersShort:   nShort,
		TradersFlat:    nFlat,
		Recommendation: rec,
		Confidence:     confidence,
		Price:          g.price,
		Timestamp:      now,
	}

	emit := g.last == nil ||
		g.last.Recommendation != sig.Recommendation ||
		math.Abs(g.last.LongBias-sig.LongBias) >= g.opts.EmitBiasDelta ||
		sig.Confidence >= g.opts.EmitConfidence

	if emit {
		copied := sig
		g.last = &copied
	}
	return sig, emit
}

func (g *SignalGenerator) publish(ctx context.Context, sig domain.Signal) error {
	ev := domain.Event{
		ID:        uuid.New().String(),
		Topic:     domain.TopicTradingSignal,
		Key:       fmt.Sprintf("%s:%d", sig.Symbol, sig.Timestamp.UnixMilli()),
		Payload:   sig,
		Timestamp: sig.Timestamp,
	}
	if err := g.sink.Publish(ctx, ev); err != nil {
		return fmt.Errorf("signal: publish: %w", err)
	}
	g.emitted.Add(1)

	g.logger.Info("signal emitted",
		slog.String("recommendation", string(sig.Recommendation)),
		slog.Float64("net_exposure", sig.NetExposure),
		slog.Float64("confidence", sig.Confidence),
	)
	return nil
}
