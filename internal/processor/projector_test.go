package processor

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kevinmok/hypertracker/internal/domain"
)

type memEventStore struct {
	mu   sync.Mutex
	rows map[string]domain.Event // topic+"/"+key
}

func newMemEventStore() *memEventStore {
	return &memEventStore{rows: make(map[string]domain.Event)}
}

func (s *memEventStore) Append(ctx context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[ev.Topic+"/"+ev.Key] = ev
	return nil
}

func (s *memEventStore) ListByTopic(ctx context.Context, topic string, opts domain.ListOpts) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, ev := range s.rows {
		if ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out, nil
}

type memStateStore struct {
	mu   sync.Mutex
	rows map[string]domain.PositionSnapshot
}

func newMemStateStore() *memStateStore {
	return &memStateStore{rows: make(map[string]domain.PositionSnapshot)}
}

func (s *memStateStore) Upsert(ctx context.Context, snap domain.PositionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[snap.Address] = snap
	return nil
}

func (s *memStateStore) Get(ctx context.Context, address string) (domain.PositionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.rows[address]
	if !ok {
		return domain.PositionSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (s *memStateStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.PositionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PositionSnapshot
	for _, snap := range s.rows {
		out = append(out, snap)
	}
	return out, nil
}

func (s *memStateStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

type memSnapshotStore struct {
	mu   sync.Mutex
	rows map[string]domain.PositionSnapshot // address+"/"+observed
}

func newMemSnapshotStore() *memSnapshotStore {
	return &memSnapshotStore{rows: make(map[string]domain.PositionSnapshot)}
}

func (s *memSnapshotStore) Insert(ctx context.Context, snap domain.PositionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[snap.Address+"/"+snap.ObservedAt.String()] = snap
	return nil
}

func (s *memSnapshotStore) ListByAddress(ctx context.Context, address string, opts domain.ListOpts) ([]domain.PositionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PositionSnapshot
	for _, snap := range s.rows {
		if snap.Address == address {
			out = append(out, snap)
		}
	}
	return out, nil
}

type memSignalStore struct {
	mu   sync.Mutex
	rows map[string]domain.Signal // symbol+"/"+ts
}

func newMemSignalStore() *memSignalStore {
	return &memSignalStore{rows: make(map[string]domain.Signal)}
}

func (s *memSignalStore) Upsert(ctx context.Context, sig domain.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[sig.Symbol+"/"+sig.Timestamp.String()] = sig
	return nil
}

func (s *memSignalStore) Latest(ctx context.Context, symbol string) (domain.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest domain.Signal
	found := false
	for _, sig := range s.rows {
		if sig.Symbol == symbol && (!found || sig.Timestamp.After(latest.Timestamp)) {
			latest, found = sig, true
		}
	}
	if !found {
		return domain.Signal{}, domain.ErrNotFound
	}
	return latest, nil
}

func (s *memSignalStore) List(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Signal
	for _, sig := range s.rows {
		if sig.Symbol == symbol {
			out = append(out, sig)
		}
	}
	return out, nil
}

type memCandleStore struct {
	mu   sync.Mutex
	rows map[string]domain.Candle // symbol+"/"+interval+"/"+open
}

func newMemCandleStore() *memCandleStore {
	return &memCandleStore{rows: make(map[string]domain.Candle)}
}

func (s *memCandleStore) Upsert(ctx context.Context, c domain.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[c.Symbol+"/"+c.Interval+"/"+c.OpenTime.String()] = c
	return nil
}

func (s *memCandleStore) List(ctx context.Context, symbol, interval string, opts domain.ListOpts) ([]domain.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Candle
	for _, c := range s.rows {
		if c.Symbol == symbol && c.Interval == interval {
			out = append(out, c)
		}
	}
	return out, nil
}

type memBlob struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func newMemBlob() *memBlob { return &memBlob{objs: make(map[string][]byte)} }

func (b *memBlob) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objs[path] = buf.Bytes()
	return nil
}

func newTestProjector() (*Projector, *memEventStore, *memStateStore, *memSnapshotStore, *memSignalStore, *memCandleStore, *memBlob) {
	events := newMemEventStore()
	state := newMemStateStore()
	snaps := newMemSnapshotStore()
	sigs := newMemSignalStore()
	candles := newMemCandleStore()
	blob := newMemBlob()

	p := NewProjector(DefaultProjectorOptions(), ProjectorStores{
		Events:    events,
		State:     state,
		Snapshots: snaps,
		Signals:   sigs,
		Candles:   candles,
	}, blob, discard())
	return p, events, state, snaps, sigs, candles, blob
}

func TestProjector_PositionsFanOut(t *testing.T) {
	p, events, state, snaps, _, _, _ := newTestProjector()
	ctx := context.Background()

	snap := domain.PositionSnapshot{
		Address:    "0xaaa",
		Positions:  []domain.Position{{Coin: "BTC", Size: 5}},
		ObservedAt: time.Now(),
	}
	ev := domain.Event{
		ID: "e1", Topic: domain.TopicTraderPositions, Key: "0xaaa:1000",
		Payload: snap, Timestamp: time.Now(),
	}
	if err := p.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(events.rows) != 1 {
		t.Errorf("expected event appended, got %d rows", len(events.rows))
	}
	if _, err := state.Get(ctx, "0xaaa"); err != nil {
		t.Errorf("expected trader state upserted: %v", err)
	}
	history, _ := snaps.ListByAddress(ctx, "0xaaa", domain.ListOpts{})
	if len(history) != 1 {
		t.Errorf("expected one history row, got %d", len(history))
	}
}

func TestProjector_ReplayConverges(t *testing.T) {
	p, events, state, _, sigs, _, _ := newTestProjector()
	ctx := context.Background()

	evs := []domain.Event{
		{
			ID: "e1", Topic: domain.TopicTraderPositions, Key: "0xaaa:1000",
			Payload: domain.PositionSnapshot{Address: "0xaaa", ObservedAt: time.Unix(1, 0)},
		},
		{
			ID: "e2", Topic: domain.TopicTradingSignal, Key: "BTC:2000",
			Payload: domain.Signal{Symbol: "BTC", Timestamp: time.Unix(2, 0)},
		},
	}

	for round := 0; round < 2; round++ { // second round is the replay
		for _, ev := range evs {
			if err := p.HandleEvent(ctx, ev); err != nil {
				t.Fatalf("round %d: unexpected error: %v", round, err)
			}
		}
	}

	if len(events.rows) != 2 {
		t.Errorf("replay must not duplicate event rows, got %d", len(events.rows))
	}
	if len(state.rows) != 1 {
		t.Errorf("replay must not duplicate trader state, got %d", len(state.rows))
	}
	if len(sigs.rows) != 1 {
		t.Errorf("replay must not duplicate signals, got %d", len(sigs.rows))
	}
}

func TestProjector_SkipTopicsGoToBlob(t *testing.T) {
	p, events, _, _, _, candles, blob := newTestProjector()
	ctx := context.Background()

	now := time.Date(2026, 8, 25, 12, 0, 30, 0, time.UTC)
	ev := domain.Event{
		ID: "e1", Topic: domain.TopicMarkPrice, Key: "BTC:1000",
		Payload:   domain.MarkPrice{Symbol: "BTC", Price: 50_000, Timestamp: now},
		Timestamp: now,
	}
	if err := p.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(events.rows) != 0 {
		t.Errorf("skip-set topic must bypass the event log, got %d rows", len(events.rows))
	}
	if len(blob.objs) != 1 {
		t.Errorf("expected one archived object, got %d", len(blob.objs))
	}
	// The candle projection still runs for diverted mark prices.
	got, _ := candles.List(ctx, "BTC", "1m0s", domain.ListOpts{})
	if len(got) != 1 {
		t.Fatalf("expected one candle, got %d", len(got))
	}
}

func TestProjector_CandleFold(t *testing.T) {
	p, _, _, _, _, candles, _ := newTestProjector()
	ctx := context.Background()

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	prices := []struct {
		at    time.Duration
		price float64
	}{
		{0, 100},
		{10 * time.Second, 120},
		{20 * time.Second, 90},
		{30 * time.Second, 110},
		{70 * time.Second, 200}, // next bucket
	}
	for i, pr := range prices {
		p.HandleEvent(ctx, domain.Event{
			ID: "e", Topic: domain.TopicMarkPrice, Key: string(rune('a' + i)),
			Payload:   domain.MarkPrice{Symbol: "BTC", Price: pr.price, Timestamp: base.Add(pr.at)},
			Timestamp: base.Add(pr.at),
		})
	}

	got, _ := candles.List(ctx, "BTC", "1m0s", domain.ListOpts{})
	if len(got) != 2 {
		t.Fatalf("expected two candle buckets, got %d", len(got))
	}

	var first domain.Candle
	for _, c := range got {
		if c.OpenTime.Equal(base) {
			first = c
		}
	}
	if first.Open != 100 || first.High != 120 || first.Low != 90 || first.Close != 110 {
		t.Errorf("unexpected OHLC %+v", first)
	}
	if first.Samples != 4 {
		t.Errorf("expected 4 samples in the first bucket, got %d", first.Samples)
	}
}
