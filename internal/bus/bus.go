// Package bus implements the in-process event bus: topic-keyed
// publish/subscribe with wildcard matching and synchronous, registration-order
// delivery. Handlers for one event complete before the next handler begins, so
// per-subscriber ordering follows publication order; there is no internal
// queue, and slow handlers backpressure the publisher directly.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kevinmok/hypertracker/internal/domain"
)

// Handler consumes one event. Returned errors are logged and swallowed; no
// error or panic crosses the bus boundary.
type Handler func(ctx context.Context, ev domain.Event) error

type subscription struct {
	name    string
	pattern string
	handler Handler
}

// Bus is the single-process event bus. Safe for concurrent use; handlers may
// publish derived events from inside a delivery.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	closed bool
	logger *slog.Logger

	inflight sync.WaitGroup

	metricsMu sync.Mutex
	published map[string]int64
	delivered map[string]int64
}

// Metrics is a point-in-time snapshot of per-topic counters.
type Metrics struct {
	Published map[string]int64
	Delivered map[string]int64
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		logger:    logger.With(slog.String("component", "bus")),
		published: make(map[string]int64),
		delivered: make(map[string]int64),
	}
}

// Subscribe registers a handler for a topic pattern. "*" matches every topic;
// a trailing "*" matches by prefix (e.g. "trader_*"); anything else matches
// exactly. Handlers run in registration order.
func (b *Bus) Subscribe(name, pattern string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{name: name, pattern: pattern, handler: h})
}

// Publish delivers the event to every matching handler, sequentially, in
// registration order. It returns domain.ErrBusClosed after Close. The
// subscriber list is snapshotted under a short read lock and the handlers run
// outside it, so a handler republishing through the bus never nests a lock
// acquisition.
func (b *Bus) Publish(ctx context.Context, ev domain.Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus: publish %s: %w", ev.Topic, domain.ErrBusClosed)
	}
	matched := make([]subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if match(sub.pattern, ev.Topic) {
			matched = append(matched, sub)
		}
	}
	b.inflight.Add(1)
	b.mu.RUnlock()
	defer b.inflight.Done()

	b.count(b.published, ev.Topic, 1)
	for _, sub := range matched {
		b.invoke(ctx, sub, ev)
	}
	b.count(b.delivered, ev.Topic, int64(len(matched)))
	return nil
}

// PublishBulk publishes events in order. Semantics are identical to calling
// Publish once per event.
func (b *Bus) PublishBulk(ctx context.Context, evs []domain.Event) error {
	for _, ev := range evs {
		if err := b.Publish(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Close marks the bus closed and blocks until in-flight publishes drain;
// running handlers are never cancelled mid-call. Publishes that start after
// the close flag is set are rejected, including republishes from handlers
// still draining.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.inflight.Wait()
}

// Metrics returns a copy of the per-topic publish/delivery counters.
func (b *Bus) Metrics() Metrics {
	b.metricsMu.Lock()
	defer b.metricsMu.Unlock()

	out := Metrics{
		Published: make(map[string]int64, len(b.published)),
		Delivered: make(map[string]int64, len(b.delivered)),
	}
	for k, v := range b.published {
		out.Published[k] = v
	}
	for k, v := range b.delivered {
		out.Delivered[k] = v
	}
	return out
}

// Totals returns the summed publish and delivery counts across topics.
func (b *Bus) Totals() (published, delivered int64) {
	b.metricsMu.Lock()
	defer b.metricsMu.Unlock()
	for _, v := range b.published {
		published += v
	}
	for _, v := range b.delivered {
		delivered += v
	}
	return published, delivered
}

// invoke runs one handler inside a guard: a panic or error is logged and the
// remaining handlers still run.
func (b *Bus) invoke(ctx context.Context, sub subscription, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panic",
				slog.String("subscriber", sub.name),
				slog.String("topic", ev.Topic),
				slog.Any("panic", r),
			)
		}
	}()

	if err := sub.handler(ctx, ev); err != nil {
		b.logger.Warn("handler error",
			slog.String("subscriber", sub.name),
			slog.String("topic", ev.Topic),
			slog.String("error", err.Error()),
		)
	}
}

func (b *Bus) count(m map[string]int64, topic string, n int64) {
	if n == 0 {
		return
	}
	b.metricsMu.Lock()
	m[topic] += n
	b.metricsMu.Unlock()
}

// match reports whether a topic matches a subscription pattern.
func match(pattern, topic string) bool {
	if pattern == "*" || pattern == topic {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(topic, strings.TrimSuffix(pattern, "*"))
	}
	return false
}
