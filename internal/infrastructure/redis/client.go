package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/billingsync/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// keyPrefix namespaces every key this service writes.
const keyPrefix = "billingsync:"

// NewClient creates a Redis client, retrying the initial ping with linear
// backoff so the API and worker tolerate Redis starting after them.
func NewClient(ctx context.Context, cfg *config.RedisConfig, logger zerolog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		MinIdleConns: 5,
		MaxRetries:   3,
	})

	maxRetries := cfg.ConnectRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	retryDelay := cfg.ConnectRetryDelay
	if retryDelay <= 0 {
		retryDelay = 1 * time.Second
	}

	for i := 0; i < maxRetries; i++ {
		err := client.Ping(ctx).Err()
		if err == nil {
			return client, nil
		}
		if i == maxRetries-1 {
			client.Close()
			return nil, fmt.Errorf("failed to connect to Redis after %d retries: %w", maxRetries, err)
		}
		logger.Warn().Err(err).Int("attempt", i+1).Str("addr", cfg.RedisAddr()).Msg("Redis not ready, retrying")

		select {
		case <-ctx.Done():
			client.Close()
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * retryDelay):
		}
	}

	return client, nil
}
