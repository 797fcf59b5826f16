package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// Lua script for safe lock release (only owner can release)
	releaseLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	// Lua script for lock extension
	extendLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// LockBackend stores lock ownership as SET NX PX keys. It satisfies
// lock.Backend.
type LockBackend struct {
	client redis.Cmdable
}

func NewLockBackend(client redis.Cmdable) *LockBackend {
	return &LockBackend{client: client}
}

func lockKey(key string) string {
	return keyPrefix + "lock:" + key
}

func (b *LockBackend) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, lockKey(key), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return ok, nil
}

func (b *LockBackend) Release(ctx context.Context, key, owner string) (bool, error) {
	n, err := releaseLockScript.Run(ctx, b.client, []string{lockKey(key)}, owner).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to release lock: %w", err)
	}
	return n == 1, nil
}

func (b *LockBackend) Extend(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	n, err := extendLockScript.Run(ctx, b.client, []string{lockKey(key)}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to extend lock: %w", err)
	}
	return n == 1, nil
}
