package broker

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisBroker publishes lifecycle messages on a Redis pub/sub channel.
type RedisBroker struct {
	client  *redis.Client
	channel string
}

// NewRedisBroker creates a publisher sharing an existing client.
func NewRedisBroker(client *redis.Client, channel string) *RedisBroker {
	return &RedisBroker{client: client, channel: channel}
}

func (b *RedisBroker) Publish(ctx context.Context, message Message) error {
	if err := b.client.Publish(ctx, b.channel, message).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", b.channel, err)
	}
	return nil
}

func (b *RedisBroker) Type() string { return "redis" }

// Close is a no-op; the client is owned by the caller.
func (b *RedisBroker) Close() error { return nil }
