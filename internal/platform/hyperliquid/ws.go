package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kevinmok/hypertracker/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// subscribePacing spaces subscribe frames so a large batch does not
	// trip the exchange rate limiter.
	subscribePacing = 10 * time.Millisecond
)

// FrameHandler receives every raw inbound frame together with the id of the
// client that read it.
type FrameHandler func(clientID int, raw []byte)

// DisconnectHandler is called once when a client exhausts its reconnect
// attempts and gives up.
type DisconnectHandler func(clientID int)

// WSOptions tunes the keepalive and reconnect behaviour of one client.
type WSOptions struct {
	// Heartbeat is the ping cadence; the pong deadline is twice this.
	Heartbeat time.Duration

	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	MaxAttempts   int
}

// DefaultWSOptions returns the production keepalive and reconnect settings.
func DefaultWSOptions() WSOptions {
	return WSOptions{
		Heartbeat:     30 * time.Second,
		ReconnectBase: 2 * time.Second,
		ReconnectMax:  60 * time.Second,
		MaxAttempts:   10,
	}
}

// WSClient is one WebSocket connection to the exchange. It carries a batch of
// per-user subscriptions plus any extra channel subscriptions, replays the
// whole batch after a reconnect, and hands every inbound frame to the
// registered FrameHandler.
type WSClient struct {
	id     int
	wsURL  string
	opts   WSOptions
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	// connStop retires the read and ping loops bound to the current
	// connection; every successful dial swaps in a fresh channel so loops
	// from a dropped connection never outlive it.
	connStop chan struct{}

	// users holds the per-user webData2/orderUpdates batch; extras holds
	// account-independent subscriptions such as allMids.
	users  map[string]struct{}
	extras []Subscription

	onFrame      FrameHandler
	onDisconnect DisconnectHandler

	done chan struct{}
}

// NewWSClient creates a client for one pool slot. The handlers may be nil.
func NewWSClient(id int, wsURL string, opts WSOptions, logger *slog.Logger) *WSClient {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultWSOptions().Heartbeat
	}
	return &WSClient{
		id:     id,
		wsURL:  wsURL,
		opts:   opts,
		logger: logger.With(slog.String("component", "ws"), slog.Int("client_id", id)),
		users:  make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

// ID returns the pool slot this client occupies.
func (w *WSClient) ID() int { return w.id }

// OnFrame registers the raw frame handler. Must be called before Start.
func (w *WSClient) OnFrame(h FrameHandler) { w.onFrame = h }

// OnDisconnect registers the terminal-disconnect handler. Must be called
// before Start.
func (w *WSClient) OnDisconnect(h DisconnectHandler) { w.onDisconnect = h }

// Start dials the exchange and replays the current subscription batch. The
// read and ping loops run until Stop or a terminal disconnect.
func (w *WSClient) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("hyperliquid/ws: client %d: %w", w.id, domain.ErrWSDisconnect)
	}

	if err := w.dialLocked(ctx); err != nil {
		return err
	}

	w.startLoopsLocked()
	return nil
}

// Stop shuts the connection down. Safe to call more than once.
func (w *WSClient) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)
	if w.connStop != nil {
		close(w.connStop)
		w.connStop = nil
	}

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	return nil
}

// IsConnected reports whether the client currently holds a live connection.
func (w *WSClient) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.conn != nil && !w.closed
}

// Users returns the addresses currently assigned to this client.
func (w *WSClient) Users() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.users))
	for u := range w.users {
		out = append(out, u)
	}
	return out
}

// SubscribeUser adds an address to the batch and, if connected, sends the
// webData2 and orderUpdates subscribe frames. The batch mutation sticks even
// when the sends fail; the reconnect replay covers it.
func (w *WSClient) SubscribeUser(user string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.users[user] = struct{}{}
	if w.conn == nil {
		return nil
	}
	return w.sendUserSubs(w.conn, "subscribe", user)
}

// UnsubscribeUser removes an address from the batch and, if connected, sends
// the unsubscribe frames.
func (w *WSClient) UnsubscribeUser(user string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.users, user)
	if w.conn == nil {
		return nil
	}
	return w.sendUserSubs(w.conn, "unsubscribe", user)
}

// SubscribeExtra adds an account-independent subscription (e.g. allMids) to
// the batch and sends it when connected.
func (w *WSClient) SubscribeExtra(sub Subscription) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.extras = append(w.extras, sub)
	if w.conn == nil {
		return nil
	}
	return w.sendRequest(w.conn, SubscribeRequest{Method: "subscribe", Subscription: sub})
}

// dialLocked connects and replays the batch. The new connection is installed
// only after the whole replay succeeds; a failed replay closes it. Caller
// must hold w.mu.
func (w *WSClient) dialLocked(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("hyperliquid/ws: client %d: connect: %w", w.id, err)
	}

	pongWait := 2 * w.opts.Heartbeat
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for _, sub := range w.extras {
		if err := w.sendRequest(conn, SubscribeRequest{Method: "subscribe", Subscription: sub}); err != nil {
			conn.Close()
			return fmt.Errorf("hyperliquid/ws: client %d: replay %s: %w", w.id, sub.Type, err)
		}
	}
	for user := range w.users {
		if err := w.sendUserSubs(conn, "subscribe", user); err != nil {
			conn.Close()
			return fmt.Errorf("hyperliquid/ws: client %d: replay user %s: %w", w.id, user, err)
		}
		time.Sleep(subscribePacing)
	}

	w.conn = conn
	return nil
}

// startLoopsLocked retires the previous connection's loops and starts fresh
// ones bound to the current connection. Caller must hold w.mu.
func (w *WSClient) startLoopsLocked() {
	if w.connStop != nil {
		close(w.connStop)
	}
	stop := make(chan struct{})
	w.connStop = stop
	go w.readLoop(w.conn, stop)
	go w.pingLoop(w.conn, stop)
}

// sendUserSubs sends the webData2 and orderUpdates frames for one address.
// Caller must hold w.mu.
func (w *WSClient) sendUserSubs(conn *websocket.Conn, method, user string) error {
	for _, typ := range []string{"webData2", "orderUpdates"} {
		req := SubscribeRequest{
			Method:       method,
			Subscription: Subscription{Type: typ, User: user},
		}
		if err := w.sendRequest(conn, req); err != nil {
			return fmt.Errorf("%s %s for %s: %w", method, typ, user, err)
		}
	}
	return nil
}

// sendRequest writes one JSON frame. Caller must hold w.mu.
func (w *WSClient) sendRequest(conn *websocket.Conn, req SubscribeRequest) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads frames from one connection until it drops, then hands off to
// reconnect. It runs in its own goroutine.
func (w *WSClient) readLoop(conn *websocket.Conn, stop chan struct{}) {
	for {
		select {
		case <-w.done:
			return
		case <-stop:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			case <-stop:
				return
			default:
			}

			w.logger.Warn("read failed", slog.String("error", err.Error()))
			w.reconnect(conn, stop)
			return
		}

		if w.onFrame != nil {
			w.onFrame(w.id, message)
		}
	}
}

// pingLoop sends periodic pings on one connection to keep it alive.
func (w *WSClient) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(w.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-stop:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reconnect retires the dropped connection, then retries with exponential
// backoff, capped at opts.ReconnectMax, for at most opts.MaxAttempts
// attempts. On success it starts loops for the new connection; on exhaustion
// it fires the disconnect handler so the pool can replace the slot.
func (w *WSClient) reconnect(conn *websocket.Conn, stop chan struct{}) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if w.connStop == stop {
		close(w.connStop)
		w.connStop = nil
	}
	if w.conn == conn {
		w.conn = nil
	}
	w.mu.Unlock()
	conn.Close()

	delay := w.opts.ReconnectBase

	for attempt := 1; attempt <= w.opts.MaxAttempts; attempt++ {
		select {
		case <-w.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			cancel()
			return
		}
		err := w.dialLocked(ctx)
		if err == nil {
			w.startLoopsLocked()
		}
		w.mu.Unlock()
		cancel()

		if err == nil {
			w.logger.Info("reconnected", slog.Int("attempt", attempt))
			return
		}

		w.logger.Warn("reconnect failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		delay *= 2
		if delay > w.opts.ReconnectMax {
			delay = w.opts.ReconnectMax
		}
	}

	w.logger.Error("reconnect attempts exhausted")
	if w.onDisconnect != nil {
		w.onDisconnect(w.id)
	}
}
