package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kevinmok/hypertracker/internal/platform/hyperliquid"
)

// fakeExchange is a WebSocket server that records every subscribe frame and
// can be told to drop live connections or reject new ones.
type fakeExchange struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	frames   []hyperliquid.SubscribeRequest
	accepted int
	reject   bool
}

func newFakeExchange(t *testing.T) *fakeExchange {
	t.Helper()
	f := &fakeExchange{}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeExchange) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	if f.reject {
		f.mu.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	f.mu.Unlock()

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.accepted++
	f.mu.Unlock()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req hyperliquid.SubscribeRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}
		f.mu.Lock()
		f.frames = append(f.frames, req)
		f.mu.Unlock()
	}
}

func (f *fakeExchange) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeExchange) setReject(v bool) {
	f.mu.Lock()
	f.reject = v
	f.mu.Unlock()
}

func (f *fakeExchange) dropAll() {
	f.mu.Lock()
	conns := f.conns
	f.conns = nil
	f.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (f *fakeExchange) subscribedUsers() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int)
	for _, fr := range f.frames {
		if fr.Method == "subscribe" && fr.Subscription.User != "" {
			out[fr.Subscription.User]++
		}
	}
	return out
}

func (f *fakeExchange) subscribedTypes() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int)
	for _, fr := range f.frames {
		if fr.Method == "subscribe" {
			out[fr.Subscription.Type]++
		}
	}
	return out
}

func (f *fakeExchange) connCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted
}

func testPoolOptions(url string, numClients int) PoolOptions {
	return PoolOptions{
		URL:        url,
		NumClients: numClients,
		BatchSize:  100,
		WS: hyperliquid.WSOptions{
			ReconnectBase: 10 * time.Millisecond,
			ReconnectMax:  20 * time.Millisecond,
			MaxAttempts:   1,
		},
		ReplacementCooldown: 20 * time.Millisecond,
		MaxRestarts:         3,
		RestartBackoff:      20 * time.Millisecond,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestPool_StartSubscribesRosterAcrossClients(t *testing.T) {
	ex := newFakeExchange(t)
	pool := NewPool(testPoolOptions(ex.url(), 2), nil, slog.New(slog.DiscardHandler))

	roster := []string{"0xaaa", "0xbbb", "0xccc"}
	if err := pool.Start(context.Background(), roster); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer pool.Stop()

	// 3 users x (webData2 + orderUpdates) + 1 allMids on slot 0.
	if !waitFor(t, time.Second, func() bool {
		types := ex.subscribedTypes()
		return types["webData2"] == 3 && types["orderUpdates"] == 3 && types["allMids"] == 1
	}) {
		t.Errorf("expected full subscription replay, got %v", ex.subscribedTypes())
	}

	stats := pool.Stats()
	if stats.Connected != 2 || stats.Tracked != 3 {
		t.Errorf("expected 2 connected / 3 tracked, got %+v", stats)
	}
}

func TestPool_TrackAndUntrack(t *testing.T) {
	ex := newFakeExchange(t)
	pool := NewPool(testPoolOptions(ex.url(), 2), nil, slog.New(slog.DiscardHandler))

	if err := pool.Start(context.Background(), []string{"0xaaa"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer pool.Stop()

	if err := pool.Track("0xddd"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := pool.Track("0xddd"); err != nil {
		t.Fatalf("tracking twice must be a no-op: %v", err)
	}
	if got := pool.Stats().Tracked; got != 2 {
		t.Errorf("expected 2 tracked, got %d", got)
	}

	if !waitFor(t, time.Second, func() bool {
		return ex.subscribedUsers()["0xddd"] == 2 // webData2 + orderUpdates
	}) {
		t.Errorf("expected subscribe frames for tracked address, got %v", ex.subscribedUsers())
	}

	if err := pool.Untrack("0xddd"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := pool.Stats().Tracked; got != 1 {
		t.Errorf("expected 1 tracked after untrack, got %d", got)
	}
}

func TestPool_BatchSizeCapsAssignments(t *testing.T) {
	ex := newFakeExchange(t)
	opts := testPoolOptions(ex.url(), 2)
	opts.BatchSize = 1
	pool := NewPool(opts, nil, slog.New(slog.DiscardHandler))

	// Three addresses against two slots of one each: the roster truncates.
	if err := pool.Start(context.Background(), []string{"0xaaa", "0xbbb", "0xccc"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer pool.Stop()

	if got := pool.Stats().Tracked; got != 2 {
		t.Errorf("expected the roster capped at pool capacity 2, got %d", got)
	}
	if err := pool.Track("0xddd"); err == nil {
		t.Error("expected an error when every slot is at its batch cap")
	}
}

func TestPool_ReplacesSlotAfterTerminalDisconnect(t *testing.T) {
	ex := newFakeExchange(t)
	pool := NewPool(testPoolOptions(ex.url(), 1), nil, slog.New(slog.DiscardHandler))

	if err := pool.Start(context.Background(), []string{"0xaaa", "0xbbb"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer pool.Stop()

	// Kill the live connection and refuse the client's own reconnect so it
	// gives the slot up; then accept again and expect the replacement to
	// replay the slot's roster share.
	ex.setReject(true)
	ex.dropAll()

	time.Sleep(40 * time.Millisecond) // let the single reconnect attempt fail
	ex.setReject(false)

	if !waitFor(t, 2*time.Second, func() bool {
		return pool.Stats().Connected == 1
	}) {
		t.Fatalf("expected slot to be replaced, stats %+v", pool.Stats())
	}

	users := ex.subscribedUsers()
	// Initial replay plus the replacement replay.
	if users["0xaaa"] < 4 || users["0xbbb"] < 4 {
		t.Errorf("expected replacement to re-subscribe both addresses, got %v", users)
	}
	if got := ex.connCount(); got < 2 {
		t.Errorf("expected at least 2 accepted connections, got %d", got)
	}
}

func TestPool_AbandonsSlotAfterMaxRestarts(t *testing.T) {
	ex := newFakeExchange(t)
	pool := NewPool(testPoolOptions(ex.url(), 1), nil, slog.New(slog.DiscardHandler))

	if err := pool.Start(context.Background(), []string{"0xaaa"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer pool.Stop()

	ex.setReject(true)
	ex.dropAll()

	if !waitFor(t, 2*time.Second, func() bool {
		stats := pool.Stats()
		return len(stats.EmptySlots) == 1 && stats.Connected == 0
	}) {
		t.Errorf("expected slot to be abandoned, stats %+v", pool.Stats())
	}
}
