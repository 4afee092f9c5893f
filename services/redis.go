package services

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/danieljoseph18/flui-backend/config"
)

const (
	redisPingTimeout    = 5 * time.Second
	redisPingMaxRetries = 4
)

// NewRedisClient connects to Redis and pings it, retrying with exponential
// backoff while the server comes up.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, log *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Address,
		DB:          cfg.DB,
		Password:    cfg.Password,
		PoolSize:    cfg.PoolSize,
		PoolTimeout: cfg.PoolTimeout,
	})

	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		return client.Ping(pingCtx).Err()
	}

	strategy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), redisPingMaxRetries),
		ctx,
	)
	err := backoff.RetryNotify(ping, strategy, func(err error, d time.Duration) {
		log.Warnf("Redis at %s not ready: %v (next attempt in %s)", cfg.Address, err, d)
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return client, nil
}

func CloseRedisClient(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
