package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kevinmok/hypertracker/internal/domain"
)

// SignalCache implements domain.SignalCache: the latest signal per symbol
// under a bounded TTL.
type SignalCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSignalCache creates a SignalCache. A zero ttl keeps entries forever.
func NewSignalCache(client *Client, ttl time.Duration) *SignalCache {
	return &SignalCache{rdb: client.RDB(), ttl: ttl}
}

func signalKey(symbol string) string {
	return "signal:latest:" + symbol
}

// SetLatest stores the signal as the symbol's latest.
func (c *SignalCache) SetLatest(ctx context.Context, sig domain.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("redis: marshal signal %s: %w", sig.Symbol, err)
	}
	if err := c.rdb.Set(ctx, signalKey(sig.Symbol), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set latest signal %s: %w", sig.Symbol, err)
	}
	return nil
}

// GetLatest returns the symbol's latest signal, or domain.ErrNotFound.
func (c *SignalCache) GetLatest(ctx context.Context, symbol string) (domain.Signal, error) {
	data, err := c.rdb.Get(ctx, signalKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Signal{}, domain.ErrNotFound
		}
		return domain.Signal{}, fmt.Errorf("redis: get latest signal %s: %w", symbol, err)
	}

	var sig domain.Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return domain.Signal{}, fmt.Errorf("redis: unmarshal signal %s: %w", symbol, err)
	}
	return sig, nil
}
