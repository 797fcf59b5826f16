package testutil

import (
	"context"
	"sync"
	"time"
)

// MemoryLockBackend is an in-process lock.Backend with TTL expiry.
type MemoryLockBackend struct {
	mu    sync.Mutex
	locks map[string]memoryLock
	now   func() time.Time

	TryAcquireFunc func(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseFunc    func(ctx context.Context, key, owner string) (bool, error)
	ExtendFunc     func(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
}

type memoryLock struct {
	owner     string
	expiresAt time.Time
}

func NewMemoryLockBackend() *MemoryLockBackend {
	return &MemoryLockBackend{
		locks: make(map[string]memoryLock),
		now:   time.Now,
	}
}

// SetClock overrides the time source used for expiry.
func (m *MemoryLockBackend) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryLockBackend) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if m.TryAcquireFunc != nil {
		return m.TryAcquireFunc(ctx, key, owner, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[key]; ok && m.now().Before(l.expiresAt) {
		return false, nil
	}
	m.locks[key] = memoryLock{owner: owner, expiresAt: m.now().Add(ttl)}
	return true, nil
}

func (m *MemoryLockBackend) Release(ctx context.Context, key, owner string) (bool, error) {
	if m.ReleaseFunc != nil {
		return m.ReleaseFunc(ctx, key, owner)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok || l.owner != owner || !m.now().Before(l.expiresAt) {
		return false, nil
	}
	delete(m.locks, key)
	return true, nil
}

func (m *MemoryLockBackend) Extend(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if m.ExtendFunc != nil {
		return m.ExtendFunc(ctx, key, owner, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok || l.owner != owner || !m.now().Before(l.expiresAt) {
		return false, nil
	}
	l.expiresAt = m.now().Add(ttl)
	m.locks[key] = l
	return true, nil
}

// Held reports whether key currently has a live holder.
func (m *MemoryLockBackend) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	return ok && m.now().Before(l.expiresAt)
}
