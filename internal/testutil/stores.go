package testutil

import (
	"context"
	"sync"
	"time"
)

// --- Webhook Event Store Mock ---

// MemoryEventStore is an in-memory security.EventStore without expiry.
type MemoryEventStore struct {
	mu   sync.Mutex
	seen map[string]bool

	SeenFunc func(ctx context.Context, provider, eventID string) (bool, error)
	MarkFunc func(ctx context.Context, provider, eventID string, ttl time.Duration) (bool, error)
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{seen: make(map[string]bool)}
}

func (m *MemoryEventStore) Seen(ctx context.Context, provider, eventID string) (bool, error) {
	if m.SeenFunc != nil {
		return m.SeenFunc(ctx, provider, eventID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[provider+":"+eventID], nil
}

func (m *MemoryEventStore) Mark(ctx context.Context, provider, eventID string, ttl time.Duration) (bool, error) {
	if m.MarkFunc != nil {
		return m.MarkFunc(ctx, provider, eventID, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := provider + ":" + eventID
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *MemoryEventStore) Forget(_ context.Context, provider, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, provider+":"+eventID)
	return nil
}

// Count returns how many ids are marked.
func (m *MemoryEventStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

// --- Rate Limiter Mock ---

// CountingLimiter allows Limit requests per source and never resets.
type CountingLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	Limit  int

	AllowFunc func(ctx context.Context, source string) (bool, error)
}

func NewCountingLimiter(limit int) *CountingLimiter {
	return &CountingLimiter{counts: make(map[string]int), Limit: limit}
}

func (l *CountingLimiter) Allow(ctx context.Context, source string) (bool, error) {
	if l.AllowFunc != nil {
		return l.AllowFunc(ctx, source)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[source]++
	return l.counts[source] <= l.Limit, nil
}

// --- Alert Cooldown Mock ---

// MemoryCooldownStore is an in-memory alert cooldown with a settable clock.
type MemoryCooldownStore struct {
	mu    sync.Mutex
	until map[string]time.Time
	Now   func() time.Time

	TryEnterFunc func(ctx context.Context, key string, cooldown time.Duration) (bool, error)
}

func NewMemoryCooldownStore() *MemoryCooldownStore {
	return &MemoryCooldownStore{until: make(map[string]time.Time), Now: time.Now}
}

func (s *MemoryCooldownStore) TryEnter(ctx context.Context, key string, cooldown time.Duration) (bool, error) {
	if s.TryEnterFunc != nil {
		return s.TryEnterFunc(ctx, key, cooldown)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	if until, ok := s.until[key]; ok && now.Before(until) {
		return false, nil
	}
	s.until[key] = now.Add(cooldown)
	return true, nil
}

func (s *MemoryCooldownStore) Leave(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.until, key)
	return nil
}
