package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SlidingWindowLimiter counts requests per source in a sorted set scored by
// arrival time.
type SlidingWindowLimiter struct {
	client redis.Cmdable
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewSlidingWindowLimiter(client redis.Cmdable, limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{client: client, limit: limit, window: window, now: time.Now}
}

func rateKey(source string) string {
	return keyPrefix + "ratelimit:webhook:" + source
}

// Allow records one request from source and reports whether it is within the
// limit. Rejected requests are still counted.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, source string) (bool, error) {
	now := l.now()
	key := rateKey(source)
	floor := now.Add(-l.window).UnixMicro()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(floor, 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMicro()), Member: uuid.NewString()})
	count := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit %s: %w", source, err)
	}

	return count.Val() <= int64(l.limit), nil
}
