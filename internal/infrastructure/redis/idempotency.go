package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventStore remembers which gateway event ids have passed validation.
type EventStore struct {
	client redis.Cmdable
}

func NewEventStore(client redis.Cmdable) *EventStore {
	return &EventStore{client: client}
}

func seenKey(provider, eventID string) string {
	return keyPrefix + "webhook:seen:" + provider + ":" + eventID
}

// Seen reports whether the event id was marked within its TTL.
func (s *EventStore) Seen(ctx context.Context, provider, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, seenKey(provider, eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("check event %s: %w", eventID, err)
	}
	return n > 0, nil
}

// Mark records the event id once. It returns false when another delivery of
// the same id marked it first.
func (s *EventStore) Mark(ctx context.Context, provider, eventID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, seenKey(provider, eventID), time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark event %s: %w", eventID, err)
	}
	return ok, nil
}

// Forget removes the mark so a delivery that could not be accepted is
// processed again on redelivery.
func (s *EventStore) Forget(ctx context.Context, provider, eventID string) error {
	if err := s.client.Del(ctx, seenKey(provider, eventID)).Err(); err != nil {
		return fmt.Errorf("forget event %s: %w", eventID, err)
	}
	return nil
}
