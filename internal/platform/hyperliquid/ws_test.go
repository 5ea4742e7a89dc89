package hyperliquid

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsHarness is a bare WebSocket server for exercising one client's
// connection lifecycle.
type wsHarness struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	accepted int
	pings    int
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()
	h := &wsHarness{}
	h.srv = httptest.NewServer(http.HandlerFunc(h.handle))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *wsHarness) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetPingHandler(func(msg string) error {
		h.mu.Lock()
		h.pings++
		h.mu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(msg), time.Now().Add(time.Second))
	})

	h.mu.Lock()
	h.conns = append(h.conns, conn)
	h.accepted++
	h.mu.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *wsHarness) url() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http")
}

func (h *wsHarness) dropAll() {
	h.mu.Lock()
	conns := h.conns
	h.conns = nil
	h.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (h *wsHarness) connCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.accepted
}

func (h *wsHarness) pingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pings
}

func testWSOptions() WSOptions {
	return WSOptions{
		Heartbeat:     30 * time.Second,
		ReconnectBase: 10 * time.Millisecond,
		ReconnectMax:  20 * time.Millisecond,
		MaxAttempts:   5,
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

func TestWSClient_ReconnectSwapsLoopGeneration(t *testing.T) {
	h := newWSHarness(t)
	c := NewWSClient(0, h.url(), testWSOptions(), slog.New(slog.DiscardHandler))

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Stop()

	c.mu.RLock()
	first := c.connStop
	c.mu.RUnlock()
	if first == nil {
		t.Fatal("expected loop stop channel after Start")
	}

	h.dropAll()

	if !waitFor(t, 2*time.Second, func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.conn != nil && c.connStop != nil && c.connStop != first
	}) {
		t.Fatal("expected a fresh connection with its own stop channel")
	}

	select {
	case <-first:
	default:
		t.Error("the dropped connection's loops were not retired")
	}
	if got := h.connCount(); got < 2 {
		t.Errorf("expected a reconnect, got %d accepted connections", got)
	}
}

func TestWSClient_HeartbeatCadenceIsConfigurable(t *testing.T) {
	h := newWSHarness(t)
	opts := testWSOptions()
	opts.Heartbeat = 20 * time.Millisecond
	c := NewWSClient(0, h.url(), opts, slog.New(slog.DiscardHandler))

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Stop()

	if !waitFor(t, 2*time.Second, func() bool { return h.pingCount() >= 3 }) {
		t.Errorf("expected periodic pings at the configured cadence, got %d", h.pingCount())
	}
}

func TestWSClient_StopRetiresLoops(t *testing.T) {
	h := newWSHarness(t)
	c := NewWSClient(0, h.url(), testWSOptions(), slog.New(slog.DiscardHandler))

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c.mu.RLock()
	stop := c.connStop
	c.mu.RUnlock()

	if err := c.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-stop:
	case <-time.After(time.Second):
		t.Error("Stop must retire the connection's loops")
	}
	if c.IsConnected() {
		t.Error("client must report disconnected after Stop")
	}
	if err := c.Stop(); err != nil {
		t.Errorf("Stop must be idempotent, got %v", err)
	}
}
