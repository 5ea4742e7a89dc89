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

// PriceCache implements domain.PriceCache: the latest mark price per symbol.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A zero ttl keeps entries forever.
func NewPriceCache(client *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: client.RDB(), ttl: ttl}
}

func priceKey(symbol string) string {
	return "price:" + symbol
}

// SetPrice stores the latest mark price for a symbol.
func (c *PriceCache) SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error {
	data, err := json.Marshal(domain.MarkPrice{Symbol: symbol, Price: price, Timestamp: ts})
	if err != nil {
		return fmt.Errorf("redis: marshal price %s: %w", symbol, err)
	}
	if err := c.rdb.Set(ctx, priceKey(symbol), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

// GetPrice returns the latest mark price for a symbol, or domain.ErrNotFound.
func (c *PriceCache) GetPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	data, err := c.rdb.Get(ctx, priceKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, time.Time{}, domain.ErrNotFound
		}
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}

	var mp domain.MarkPrice
	if err := json.Unmarshal(data, &mp); err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: unmarshal price %s: %w", symbol, err)
	}
	return mp.Price, mp.Timestamp, nil
}
