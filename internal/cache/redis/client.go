// Package redis implements the domain cache interfaces and the pub/sub
// egress on top of go-redis.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for Redis.
type ClientConfig struct {
	Addr     string
	Password string
	DB       int
}

// Client wraps a redis.Client.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// RDB returns the underlying go-redis client.
func (c *Client) RDB() *redis.Client {
	return c.rdb
}

// Close shuts the connection down.
func (c *Client) Close() error {
	return c.rdb.Close()
}
