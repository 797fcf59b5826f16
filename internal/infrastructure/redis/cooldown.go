package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownStore suppresses repeated alerts across all instances.
type CooldownStore struct {
	client redis.Cmdable
}

func NewCooldownStore(client redis.Cmdable) *CooldownStore {
	return &CooldownStore{client: client}
}

// TryEnter opens the cooldown for key. It returns false while an earlier
// cooldown for the same key is still running.
func (s *CooldownStore) TryEnter(ctx context.Context, key string, cooldown time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, cooldownKey(key), time.Now().Unix(), cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("alert cooldown %s: %w", key, err)
	}
	return ok, nil
}

// Leave clears the cooldown so the next TryEnter for key succeeds.
func (s *CooldownStore) Leave(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, cooldownKey(key)).Err(); err != nil {
		return fmt.Errorf("clear alert cooldown %s: %w", key, err)
	}
	return nil
}

func cooldownKey(key string) string {
	return keyPrefix + "alert:cooldown:" + key
}
