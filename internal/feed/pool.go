// Package feed manages the pool of exchange WebSocket connections and the
// assignment of tracked trader addresses across them.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kevinmok/hypertracker/internal/platform/hyperliquid"
)

// PoolOptions configures the connection pool.
type PoolOptions struct {
	URL        string
	NumClients int
	WS         hyperliquid.WSOptions

	// BatchSize caps how many addresses one client carries.
	BatchSize int

	// ReplacementCooldown is the pause between stopping a dead client and
	// dialing its replacement.
	ReplacementCooldown time.Duration

	// MaxRestarts bounds how many replacement clients one slot gets before
	// the pool leaves it empty.
	MaxRestarts int

	// RestartBackoff scales linearly with the restart attempt: attempt k
	// waits k*RestartBackoff before dialing.
	RestartBackoff time.Duration
}

// DefaultPoolOptions returns the production pool settings.
func DefaultPoolOptions(url string, numClients int) PoolOptions {
	return PoolOptions{
		URL:                 url,
		NumClients:          numClients,
		WS:                  hyperliquid.DefaultWSOptions(),
		BatchSize:           100,
		ReplacementCooldown: 5 * time.Second,
		MaxRestarts:         5,
		RestartBackoff:      10 * time.Second,
	}
}

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Clients    int
	Connected  int
	Tracked    int
	EmptySlots []int
}

// Pool spreads tracked addresses across a fixed number of WebSocket clients.
// Slot 0 additionally carries the allMids subscription so the pool always has
// a mark-price feed. When a client exhausts its own reconnect attempts the
// pool replaces the whole slot, re-subscribing the slot's share of the
// roster.
type Pool struct {
	opts    PoolOptions
	logger  *slog.Logger
	onFrame hyperliquid.FrameHandler

	mu         sync.Mutex
	clients    []*hyperliquid.WSClient // nil marks an abandoned slot
	assignment map[string]int          // address -> slot
	closed     bool

	wg sync.WaitGroup
}

// NewPool creates a pool; Start dials the clients.
func NewPool(opts PoolOptions, onFrame hyperliquid.FrameHandler, logger *slog.Logger) *Pool {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Pool{
		opts:       opts,
		logger:     logger.With(slog.String("component", "feed")),
		onFrame:    onFrame,
		clients:    make([]*hyperliquid.WSClient, opts.NumClients),
		assignment: make(map[string]int),
	}
}

// Start distributes the initial roster round-robin over the slots, dials
// every client, and replays the subscriptions. A roster past the pool's
// capacity (NumClients x BatchSize) is truncated.
func (p *Pool) Start(ctx context.Context, roster []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if capacity := p.opts.NumClients * p.opts.BatchSize; len(roster) > capacity {
		p.logger.Warn("roster truncated to pool capacity",
			slog.Int("roster", len(roster)),
			slog.Int("capacity", capacity),
		)
		roster = roster[:capacity]
	}

	for i, addr := range roster {
		p.assignment[addr] = i % p.opts.NumClients
	}

	for slot := 0; slot < p.opts.NumClients; slot++ {
		client := p.buildClientLocked(slot)
		if err := client.Start(ctx); err != nil {
			return fmt.Errorf("feed: start client %d: %w", slot, err)
		}
		p.clients[slot] = client
	}

	p.logger.Info("pool started",
		slog.Int("clients", p.opts.NumClients),
		slog.Int("traders", len(roster)),
	)
	return nil
}

// Stop shuts every client down and waits for in-flight replacements.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.closed = true
	clients := make([]*hyperliquid.WSClient, len(p.clients))
	copy(clients, p.clients)
	p.mu.Unlock()

	for _, c := range clients {
		if c != nil {
			_ = c.Stop()
		}
	}
	p.wg.Wait()
}

// Track adds an address to the roster, assigning it to the least-loaded live
// slot with spare batch capacity. Tracking an already-tracked address is a
// no-op.
func (p *Pool) Track(addr string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.assignment[addr]; ok {
		return nil
	}

	slot := p.leastLoadedLocked()
	if slot < 0 {
		return fmt.Errorf("feed: track %s: no client slot available", addr)
	}
	p.assignment[addr] = slot

	if c := p.clients[slot]; c != nil {
		if err := c.SubscribeUser(addr); err != nil {
			return fmt.Errorf("feed: track %s: %w", addr, err)
		}
	}
	return nil
}

// Untrack removes an address from the roster and unsubscribes it.
func (p *Pool) Untrack(addr string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, ok := p.assignment[addr]
	if !ok {
		return nil
	}
	delete(p.assignment, addr)

	if c := p.clients[slot]; c != nil {
		if err := c.UnsubscribeUser(addr); err != nil {
			return fmt.Errorf("feed: untrack %s: %w", addr, err)
		}
	}
	return nil
}

// Stats returns the current pool shape.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PoolStats{
		Clients: len(p.clients),
		Tracked: len(p.assignment),
	}
	for slot, c := range p.clients {
		switch {
		case c == nil:
			stats.EmptySlots = append(stats.EmptySlots, slot)
		case c.IsConnected():
			stats.Connected++
		}
	}
	return stats
}

// buildClientLocked constructs a fresh client for a slot, loading its share
// of the roster. Caller must hold p.mu.
func (p *Pool) buildClientLocked(slot int) *hyperliquid.WSClient {
	client := hyperliquid.NewWSClient(slot, p.opts.URL, p.opts.WS, p.logger)
	client.OnFrame(p.onFrame)
	client.OnDisconnect(p.handleDisconnect)

	for addr, s := range p.assignment {
		if s == slot {
			_ = client.SubscribeUser(addr) // offline: only mutates the batch
		}
	}
	if slot == 0 {
		_ = client.SubscribeExtra(hyperliquid.Subscription{Type: "allMids"})
	}
	return client
}

func (p *Pool) leastLoadedLocked() int {
	counts := make([]int, len(p.clients))
	for _, s := range p.assignment {
		counts[s]++
	}

	best, bestCount := -1, 0
	for slot, c := range p.clients {
		if c == nil || counts[slot] >= p.opts.BatchSize {
			continue
		}
		if best < 0 || counts[slot] < bestCount {
			best, bestCount = slot, counts[slot]
		}
	}
	return best
}

// handleDisconnect replaces a slot whose client gave up reconnecting. It
// stops the dead client, waits out the cooldown, and dials a replacement
// carrying the slot's current roster share. After MaxRestarts failed
// replacements the slot is left empty.
func (p *Pool) handleDisconnect(slot int) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	dead := p.clients[slot]
	p.clients[slot] = nil
	p.mu.Unlock()

	if dead != nil {
		_ = dead.Stop()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.replaceSlot(slot)
	}()
}

func (p *Pool) replaceSlot(slot int) {
	for attempt := 1; attempt <= p.opts.MaxRestarts; attempt++ {
		delay := p.opts.ReplacementCooldown
		if attempt > 1 {
			delay = time.Duration(attempt) * p.opts.RestartBackoff
		}
		time.Sleep(delay)

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		client := p.buildClientLocked(slot)
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := client.Start(ctx)
		cancel()

		if err == nil {
			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				_ = client.Stop()
				return
			}
			p.clients[slot] = client
			p.mu.Unlock()

			p.logger.Info("slot replaced",
				slog.Int("slot", slot),
				slog.Int("attempt", attempt),
			)
			return
		}

		p.logger.Warn("slot replacement failed",
			slog.Int("slot", slot),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}

	p.logger.Error("slot abandoned", slog.Int("slot", slot))
}
