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

// WhaleOptions configures the change detector.
type WhaleOptions struct {
	// ChangeWindow is the sliding window alerts are classified over.
	ChangeWindow time.Duration

	// PositionTTL bounds how long a remembered per-coin size stays
	// comparable; older baselines are discarded.
	PositionTTL time.Duration

	// MinChangePct is the relative size move that counts as material when
	// no zero-crossing happened.
	MinChangePct float64

	// MaxChanges and MaxAlerts cap the retained rings.
	MaxChanges int
	MaxAlerts  int

	// FlipThreshold is the net-direction move against the prior window
	// that raises a MEDIUM alert.
	FlipThreshold float64

	// Thresholds sets the account-value floors of the top two bands used
	// for classification and change weighting.
	Thresholds domain.TierThresholds
}

// DefaultWhaleOptions returns the production detector settings.
func DefaultWhaleOptions() WhaleOptions {
	return WhaleOptions{
		ChangeWindow:  5 * time.Minute,
		PositionTTL:   7 * 24 * time.Hour,
		MinChangePct:  10,
		MaxChanges:    1000,
		MaxAlerts:     500,
		FlipThreshold: 0.3,
		Thresholds:    domain.DefaultTierThresholds(),
	}
}

type coinState struct {
	size      float64
	updatedAt time.Time
}

// WhaleDetector watches position snapshots for material per-coin changes by
// large holders and raises tiered alerts over a sliding window. Priorities
// are checked highest first; the first rule that matches wins:
//
//	CRITICAL  an alpha-whale change is in the window
//	HIGH      at least two distinct whale-or-better addresses in the window
//	MEDIUM    the window's weighted net direction flipped hard vs the prior window
//	LOW       a single whale-or-better change
type WhaleDetector struct {
	opts   WhaleOptions
	sink   EventSink
	logger *slog.Logger

	mu        sync.Mutex
	positions map[string]map[string]coinState // address -> coin -> last size
	changes   []domain.PositionChange         // ring, newest last
	alerts    []domain.WhaleAlert             // ring, newest last
	prevNet   float64
	hasPrev   bool

	raised atomic.Int64

	now func() time.Time
}

// NewWhaleDetector creates a detector; wire HandlePositions to the bus.
func NewWhaleDetector(opts WhaleOptions, sink EventSink, logger *slog.Logger) *WhaleDetector {
	if opts.Thresholds == (domain.TierThresholds{}) {
		opts.Thresholds = domain.DefaultTierThresholds()
	}
	return &WhaleDetector{
		opts:      opts,
		sink:      sink,
		logger:    logger.With(slog.String("component", "whale")),
		positions: make(map[string]map[string]coinState),
		now:       time.Now,
	}
}

// Raised returns how many alerts have been published.
func (d *WhaleDetector) Raised() int64 { return d.raised.Load() }

// ActiveAlerts returns the unexpired alerts, newest first.
func (d *WhaleDetector) ActiveAlerts() []domain.WhaleAlert {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var out []domain.WhaleAlert
	for i := len(d.alerts) - 1; i >= 0; i-- {
		if d.alerts[i].Active(now) {
			out = append(out, d.alerts[i])
		}
	}
	return out
}

// HandlePositions consumes a trader_positions event: it diffs the snapshot
// against the remembered per-coin sizes, records material changes, and
// classifies the window.
func (d *WhaleDetector) HandlePositions(ctx context.Context, ev domain.Event) error {
	snap, ok := ev.Payload.(domain.PositionSnapshot)
	if !ok {
		return fmt.Errorf("whale: unexpected payload %T on %s", ev.Payload, ev.Topic)
	}

	d.mu.Lock()
	now := d.now()
	fresh := d.diffLocked(snap, now)
	var alert *domain.WhaleAlert
	if len(fresh) > 0 {
		alert = d.classifyLocked(now)
	}
	d.mu.Unlock()

	if alert == nil {
		return nil
	}
	return d.publish(ctx, *alert)
}

// diffLocked compares the snapshot against the remembered sizes and records
// the material changes. Caller must hold d.mu.
func (d *WhaleDetector) diffLocked(snap domain.PositionSnapshot, now time.Time) []domain.PositionChange {
	prior := d.positions[snap.Address]
	next := make(map[string]coinState, len(snap.Positions))

	av := snap.AccountValue()
	tier := d.opts.Thresholds.TierFor(av)

	var fresh []domain.PositionChange
	record := func(coin string, prev, cur float64) {
		if !material(prev, cur, d.opts.MinChangePct) {
			return
		}
		fresh = append(fresh, domain.PositionChange{
			Address:      snap.Address,
			Coin:         coin,
			PriorSize:    prev,
			CurrentSize:  cur,
			ChangePct:    changePct(prev, cur),
			AccountValue: av,
			Tier:         tier,
			DetectedAt:   now,
		})
	}

	for _, p := range snap.Positions {
		next[p.Coin] = coinState{size: p.Size, updatedAt: now}

		var prev float64
		if st, ok := prior[p.Coin]; ok && now.Sub(st.updatedAt) <= d.opts.PositionTTL {
			prev = st.size
		}
		record(p.Coin, prev, p.Size)
	}
	// Coins that vanished from the snapshot were closed.
	for coin, st := range prior {
		if _, still := next[coin]; still {
			continue
		}
		if now.Sub(st.updatedAt) > d.opts.PositionTTL {
			continue
		}
		record(coin, st.size, 0)
	}

	d.positions[snap.Address] = next

	d.changes = append(d.changes, fresh...)
	if overflow := len(d.changes) - d.opts.MaxChanges; overflow > 0 {
		d.changes = append([]domain.PositionChange(nil), d.changes[overflow:]...)
	}
	return fresh
}

// classifyLocked prunes the expired state and evaluates the sliding window.
// Caller must hold d.mu.
func (d *WhaleDetector) classifyLocked(now time.Time) *domain.WhaleAlert {
	d.pruneLocked(now)

	window := d.changes
	if len(window) == 0 {
		return nil
	}

	whales := make(map[string]struct{})
	hasAlpha := false
	for _, c := range window {
		switch c.Tier {
		case domain.TierAlphaWhale:
			hasAlpha = true
			whales[c.Address] = struct{}{}
		case domain.TierWhale:
			whales[c.Address] = struct{}{}
		}
	}

	net := windowNet(window, d.opts.Thresholds.Whale)
	flipped := d.hasPrev &&
		math.Signbit(net) != math.Signbit(d.prevNet) &&
		math.Abs(net-d.prevNet) >= d.opts.FlipThreshold
	d.prevNet, d.hasPrev = net, true

	var (
		priority domain.AlertPriority
		ttl      time.Duration
		impact   domain.SignalImpact
	)
	switch {
	case hasAlpha:
		priority, ttl = domain.AlertCritical, time.Hour
		impact = domain.SignalImpact{ConfidenceBoost: 0.30, PriorityMultiplier: 1.5}
	case len(whales) >= 2:
		priority, ttl = domain.AlertHigh, 30*time.Minute
		impact = domain.SignalImpact{ConfidenceBoost: 0.20, PriorityMultiplier: 1.3}
	case flipped:
		priority, ttl = domain.AlertMedium, 15*time.Minute
		impact = domain.SignalImpact{ConfidenceBoost: 0.15, PriorityMultiplier: 1.1}
	case len(whales) == 1:
		priority, ttl = domain.AlertLow, 10*time.Minute
		impact = domain.SignalImpact{ConfidenceBoost: 0.05, PriorityMultiplier: 1.0}
	default:
		return nil
	}

	alert := domain.WhaleAlert{
		ID:         uuid.New().String(),
		Priority:   priority,
		Changes:    append([]domain.PositionChange(nil), window...),
		Impact:     impact,
		DetectedAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	d.alerts = append(d.alerts, alert)
	if overflow := len(d.alerts) - d.opts.MaxAlerts; overflow > 0 {
		d.alerts = append([]domain.WhaleAlert(nil), d.alerts[overflow:]...)
	}
	return &alert
}

// pruneLocked drops ring entries that fell out of the sliding window and
// per-coin baselines past the position TTL, so neither map grows with dead
// state. Caller must hold d.mu.
func (d *WhaleDetector) pruneLocked(now time.Time) {
	cutoff := now.Add(-d.opts.ChangeWindow)
	kept := d.changes[:0]
	for _, c := range d.changes {
		if !c.DetectedAt.Before(cutoff) {
			kept = append(kept, c)
		}
	}
	d.changes = kept

	stale := now.Add(-d.opts.PositionTTL)
	for addr, coins := range d.positions {
		for coin, st := range coins {
			if st.updatedAt.Before(stale) {
				delete(coins, coin)
			}
		}
		if len(coins) == 0 {
			delete(d.positions, addr)
		}
	}
}

func (d *WhaleDetector) publish(ctx context.Context, alert domain.WhaleAlert) error {
	ev := domain.Event{
		ID:        alert.ID,
		Topic:     domain.TopicWhaleAlert,
		Key:       alert.ID,
		Payload:   alert,
		Timestamp: alert.DetectedAt,
	}
	if err := d.sink.Publish(ctx, ev); err != nil {
		return fmt.Errorf("whale: publish: %w", err)
	}
	d.raised.Add(1)

	d.logger.Info("alert raised",
		slog.String("priority", string(alert.Priority)),
		slog.Int("changes", len(alert.Changes)),
	)
	return nil
}

// material reports whether a size move is worth recording: any zero-crossing
// (including opens and closes) or a relative move of at least minPct.
func material(prev, cur, minPct float64) bool {
	if prev == cur {
		return false
	}
	if prev == 0 || cur == 0 {
		return true
	}
	if (prev > 0) != (cur > 0) {
		return true
	}
	return math.Abs(cur-prev)/math.Abs(prev)*100 >= minPct
}

// changePct is the relative size move in percent; opens report +/-100.
func changePct(prev, cur float64) float64 {
	if prev == 0 {
		if cur > 0 {
			return 100
		}
		return -100
	}
	return (cur - prev) / math.Abs(prev) * 100
}

// windowNet is the account-value-weighted net direction of a window in
// [-1, 1]: each change contributes |delta| * min(av/whaleFloor, 3) to its
// side.
func windowNet(window []domain.PositionChange, whaleFloor float64) float64 {
	var long, short float64
	for _, c := range window {
		delta := c.CurrentSize - c.PriorSize
		if delta == 0 {
			continue
		}
		w := math.Min(c.AccountValue/whaleFloor, 3)
		if delta > 0 {
			long += math.Abs(delta) * w
		} else {
			short += math.Abs(delta) * w
		}
	}
	if long+short == 0 {
		return 0
	}
	return (long - short) / (long + short)
}
