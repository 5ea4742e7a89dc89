package processor

import (
	"context"
	"testing"
	"time"

	"github.com/kevinmok/hypertracker/internal/domain"
)

func snapEvent(addr string, accountValue float64, coin string, size float64) domain.Event {
	return domain.Event{
		Topic: domain.TopicTraderPositions,
		Key:   addr,
		Payload: domain.PositionSnapshot{
			Address:   addr,
			Positions: []domain.Position{{Coin: coin, Size: size, EntryPrice: 50_000}},
			Margin:    domain.MarginSummary{AccountValue: accountValue},
		},
	}
}

func (s *captureSink) alerts() []domain.WhaleAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WhaleAlert
	for _, ev := range s.events {
		if ev.Topic == domain.TopicWhaleAlert {
			out = append(out, ev.Payload.(domain.WhaleAlert))
		}
	}
	return out
}

func TestWhale_AlphaWhaleRaisesCritical(t *testing.T) {
	sink := &captureSink{}
	d := NewWhaleDetector(DefaultWhaleOptions(), sink, discard())
	ctx := context.Background()

	d.HandlePositions(ctx, snapEvent("0xalpha", 25_000_000, "BTC", 100)) // open: material
	alerts := sink.alerts()
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts))
	}
	alert := alerts[0]

	if alert.Priority != domain.AlertCritical {
		t.Errorf("expected CRITICAL for an alpha whale, got %s", alert.Priority)
	}
	if got := alert.ExpiresAt.Sub(alert.DetectedAt); got != time.Hour {
		t.Errorf("expected 1h expiry, got %s", got)
	}
	if alert.Impact.ConfidenceBoost != 0.30 || alert.Impact.PriorityMultiplier != 1.5 {
		t.Errorf("unexpected impact %+v", alert.Impact)
	}
	if len(alert.Changes) != 1 || alert.Changes[0].Tier != domain.TierAlphaWhale {
		t.Errorf("expected the alpha-whale change in the window, got %+v", alert.Changes)
	}
}

func TestWhale_TwoWhalesInWindowRaiseHigh(t *testing.T) {
	sink := &captureSink{}
	d := NewWhaleDetector(DefaultWhaleOptions(), sink, discard())
	ctx := context.Background()

	d.HandlePositions(ctx, snapEvent("0xwhale1", 12_000_000, "BTC", 50))
	d.HandlePositions(ctx, snapEvent("0xwhale2", 15_000_000, "BTC", -40))

	alerts := sink.alerts()
	if len(alerts) != 2 {
		t.Fatalf("expected two alerts, got %d", len(alerts))
	}
	if alerts[0].Priority != domain.AlertLow {
		t.Errorf("first whale alone is LOW, got %s", alerts[0].Priority)
	}
	if alerts[1].Priority != domain.AlertHigh {
		t.Errorf("second distinct whale escalates to HIGH, got %s", alerts[1].Priority)
	}
	if got := alerts[1].ExpiresAt.Sub(alerts[1].DetectedAt); got != 30*time.Minute {
		t.Errorf("expected 30m expiry for HIGH, got %s", got)
	}
}

func TestWhale_SameWhaleTwiceStaysSingle(t *testing.T) {
	sink := &captureSink{}
	d := NewWhaleDetector(DefaultWhaleOptions(), sink, discard())
	ctx := context.Background()

	d.HandlePositions(ctx, snapEvent("0xwhale1", 12_000_000, "BTC", 50))
	d.HandlePositions(ctx, snapEvent("0xwhale1", 12_000_000, "BTC", 100)) // +100%

	alerts := sink.alerts()
	if len(alerts) != 2 {
		t.Fatalf("expected two alerts, got %d", len(alerts))
	}
	for i, a := range alerts {
		if a.Priority != domain.AlertLow {
			t.Errorf("alert %d: one distinct whale stays LOW, got %s", i, a.Priority)
		}
	}
}

func TestWhale_ImmaterialChangeIgnored(t *testing.T) {
	sink := &captureSink{}
	d := NewWhaleDetector(DefaultWhaleOptions(), sink, discard())
	ctx := context.Background()

	d.HandlePositions(ctx, snapEvent("0xwhale1", 12_000_000, "BTC", 100))
	raised := len(sink.alerts())

	d.HandlePositions(ctx, snapEvent("0xwhale1", 12_000_000, "BTC", 109)) // +9%: below threshold
	if got := len(sink.alerts()); got != raised {
		t.Errorf("a sub-threshold move must not alert: %d -> %d", raised, got)
	}

	d.HandlePositions(ctx, snapEvent("0xwhale1", 12_000_000, "BTC", 120)) // +10.09%
	if got := len(sink.alerts()); got != raised+1 {
		t.Errorf("a threshold-clearing move must alert: %d -> %d", raised, got)
	}
}

func TestWhale_ClosedPositionIsMaterial(t *testing.T) {
	sink := &captureSink{}
	d := NewWhaleDetector(DefaultWhaleOptions(), sink, discard())
	ctx := context.Background()

	d.HandlePositions(ctx, snapEvent("0xwhale1", 12_000_000, "BTC", 100))

	// The coin vanishes from the next snapshot: a full close.
	d.HandlePositions(ctx, domain.Event{
		Topic: domain.TopicTraderPositions,
		Payload: domain.PositionSnapshot{
			Address: "0xwhale1",
			Margin:  domain.MarginSummary{AccountValue: 12_000_000},
		},
	})

	alerts := sink.alerts()
	if len(alerts) != 2 {
		t.Fatalf("expected the close to alert, got %d alerts", len(alerts))
	}
	last := alerts[1]
	change := last.Changes[len(last.Changes)-1]
	if change.CurrentSize != 0 || change.PriorSize != 100 {
		t.Errorf("expected a 100 -> 0 close, got %+v", change)
	}
	if change.ChangePct != -100 {
		t.Errorf("expected -100%% change, got %f", change.ChangePct)
	}
}

func TestWhale_DirectionFlipRaisesMedium(t *testing.T) {
	sink := &captureSink{}
	opts := DefaultWhaleOptions()
	opts.ChangeWindow = time.Minute
	d := NewWhaleDetector(opts, sink, discard())
	ctx := context.Background()

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	current := base
	d.now = func() time.Time { return current }

	// Sub-whale accounts only, so the tier rules stay quiet. First window:
	// strong buying.
	d.HandlePositions(ctx, snapEvent("0xmed1", 2_000_000, "BTC", 100))

	// Next window: the flow flips hard to selling.
	current = base.Add(2 * time.Minute)
	d.HandlePositions(ctx, snapEvent("0xmed2", 2_000_000, "BTC", -100))

	alerts := sink.alerts()
	if len(alerts) != 1 {
		t.Fatalf("expected only the flip to alert, got %d", len(alerts))
	}
	if alerts[0].Priority != domain.AlertMedium {
		t.Errorf("expected MEDIUM on a direction flip, got %s", alerts[0].Priority)
	}
	if got := alerts[0].ExpiresAt.Sub(alerts[0].DetectedAt); got != 15*time.Minute {
		t.Errorf("expected 15m expiry for MEDIUM, got %s", got)
	}
}

func TestWhale_ConfiguredThresholdsChangeTiering(t *testing.T) {
	sink := &captureSink{}
	opts := DefaultWhaleOptions()
	opts.Thresholds = domain.TierThresholds{AlphaWhale: 2_000_000, Whale: 1_000_000}
	d := NewWhaleDetector(opts, sink, discard())
	ctx := context.Background()

	// Under the lowered floors a $3M account classifies as an alpha whale.
	d.HandlePositions(ctx, snapEvent("0xsmall", 3_000_000, "BTC", 10))

	alerts := sink.alerts()
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts))
	}
	if alerts[0].Priority != domain.AlertCritical {
		t.Errorf("expected CRITICAL under lowered floors, got %s", alerts[0].Priority)
	}
}

func TestWhale_WindowAndBaselinePruning(t *testing.T) {
	sink := &captureSink{}
	opts := DefaultWhaleOptions()
	opts.ChangeWindow = time.Minute
	opts.PositionTTL = 30 * time.Minute
	d := NewWhaleDetector(opts, sink, discard())
	ctx := context.Background()

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	current := base
	d.now = func() time.Time { return current }

	d.HandlePositions(ctx, snapEvent("0xwhale1", 12_000_000, "BTC", 100))

	// Two minutes later the first change has left the window: a second
	// whale on its own stays LOW instead of escalating to HIGH.
	current = base.Add(2 * time.Minute)
	d.HandlePositions(ctx, snapEvent("0xwhale2", 15_000_000, "BTC", 50))

	alerts := sink.alerts()
	if len(alerts) != 2 {
		t.Fatalf("expected two alerts, got %d", len(alerts))
	}
	last := alerts[1]
	if last.Priority != domain.AlertLow {
		t.Errorf("a whale outside the window must not escalate: got %s", last.Priority)
	}
	if len(last.Changes) != 1 || last.Changes[0].Address != "0xwhale2" {
		t.Errorf("expected only the in-window change, got %+v", last.Changes)
	}
	if len(d.changes) != 1 {
		t.Errorf("expected the ring pruned to the window, got %d entries", len(d.changes))
	}

	// Past the position TTL the first whale's per-coin baseline is swept.
	current = base.Add(40 * time.Minute)
	d.HandlePositions(ctx, snapEvent("0xwhale2", 15_000_000, "BTC", 200))
	if _, ok := d.positions["0xwhale1"]; ok {
		t.Error("expected the stale baseline to be swept")
	}
	if _, ok := d.positions["0xwhale2"]; !ok {
		t.Error("the refreshed baseline must survive the sweep")
	}
}

func TestWhale_ActiveAlertsExpire(t *testing.T) {
	sink := &captureSink{}
	d := NewWhaleDetector(DefaultWhaleOptions(), sink, discard())
	ctx := context.Background()

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	current := base
	d.now = func() time.Time { return current }

	d.HandlePositions(ctx, snapEvent("0xwhale1", 12_000_000, "BTC", 100)) // LOW, 10m
	if got := len(d.ActiveAlerts()); got != 1 {
		t.Fatalf("expected one active alert, got %d", got)
	}

	current = base.Add(11 * time.Minute)
	if got := len(d.ActiveAlerts()); got != 0 {
		t.Errorf("expected the alert to expire, got %d active", got)
	}
}
