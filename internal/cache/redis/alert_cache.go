package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kevinmok/hypertracker/internal/domain"
)

const alertSetKey = "alerts:active"

// AlertCache implements domain.AlertCache: a sorted set of alerts scored by
// expiry, so expired members can be trimmed with a range delete.
type AlertCache struct {
	rdb *redis.Client
}

// NewAlertCache creates an AlertCache.
func NewAlertCache(client *Client) *AlertCache {
	return &AlertCache{rdb: client.RDB()}
}

// Add stores one alert, scored by its expiry time.
func (c *AlertCache) Add(ctx context.Context, alert domain.WhaleAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("redis: marshal alert %s: %w", alert.ID, err)
	}

	err = c.rdb.ZAdd(ctx, alertSetKey, redis.Z{
		Score:  float64(alert.ExpiresAt.Unix()),
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: add alert %s: %w", alert.ID, err)
	}
	return nil
}

// Active trims expired members and returns the rest, soonest-to-expire last.
func (c *AlertCache) Active(ctx context.Context, now time.Time) ([]domain.WhaleAlert, error) {
	cutoff := strconv.FormatInt(now.Unix(), 10)

	if err := c.rdb.ZRemRangeByScore(ctx, alertSetKey, "-inf", cutoff).Err(); err != nil {
		return nil, fmt.Errorf("redis: trim expired alerts: %w", err)
	}

	members, err := c.rdb.ZRevRangeByScore(ctx, alertSetKey, &redis.ZRangeBy{
		Min: "(" + cutoff,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list active alerts: %w", err)
	}

	alerts := make([]domain.WhaleAlert, 0, len(members))
	for _, m := range members {
		var alert domain.WhaleAlert
		if err := json.Unmarshal([]byte(m), &alert); err != nil {
			return nil, fmt.Errorf("redis: unmarshal alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}
