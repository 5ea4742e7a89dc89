package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher implements domain.Publisher over Redis pub/sub. External
// consumers subscribe to the channels to receive signals and alerts without
// touching the stores.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher creates a Publisher.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{rdb: client.RDB()}
}

// Publish pushes one payload to a channel.
func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish to %s: %w", channel, err)
	}
	return nil
}
