// Package lock provides TTL-bounded distributed mutual exclusion keyed by
// logical resource. Locks are not re-entrant: acquiring a key already held by
// the caller blocks until the wait budget runs out.
package lock

import (
	"context"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/infrastructure/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultTTL  = 45 * time.Second
	DefaultWait = 10 * time.Second

	minPoll     = 50 * time.Millisecond
	maxPoll     = 500 * time.Millisecond
	releaseWait = 3 * time.Second
)

// Backend is the shared store holding lock ownership.
type Backend interface {
	TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) (bool, error)
	Extend(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
}

// Manager hands out scoped locks from a Backend.
type Manager struct {
	backend Backend
	ttl     time.Duration
	wait    time.Duration
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewManager creates a lock manager. Zero ttl or wait fall back to defaults.
func NewManager(backend Backend, ttl, wait time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if wait <= 0 {
		wait = DefaultWait
	}
	return &Manager{
		backend: backend,
		ttl:     ttl,
		wait:    wait,
		logger:  logger.With().Str("component", "lock").Logger(),
		metrics: metrics,
	}
}

// Scoped is a held lock. Release is safe to call more than once.
type Scoped struct {
	m          *Manager
	key        string
	owner      string
	ttl        time.Duration
	acquiredAt time.Time
	released   bool
}

// Key returns the lock key.
func (s *Scoped) Key() string { return s.key }

// AcquiredAt returns when the lock was obtained.
func (s *Scoped) AcquiredAt() time.Time { return s.acquiredAt }

// Acquire blocks up to wait for key, polling with doubling backoff. It returns
// ErrLockTimeout when the wait budget is spent.
func (m *Manager) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (*Scoped, error) {
	if ttl <= 0 {
		ttl = m.ttl
	}
	if wait <= 0 {
		wait = m.wait
	}
	owner := uuid.NewString()
	start := time.Now()
	deadline := start.Add(wait)
	poll := minPoll

	for {
		ok, err := m.backend.TryAcquire(ctx, key, owner, ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			m.observeWait(start, "acquired")
			return &Scoped{m: m, key: key, owner: owner, ttl: ttl, acquiredAt: time.Now()}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			m.observeWait(start, "timeout")
			m.logger.Warn().Str("key", key).Dur("waited", time.Since(start)).Msg("Lock acquisition timed out")
			return nil, domainErrors.NewDomainError("lock_timeout", "lock "+key+" busy", domainErrors.ErrLockTimeout)
		}
		sleep := poll
		if sleep > remaining {
			sleep = remaining
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		poll *= 2
		if poll > maxPoll {
			poll = maxPoll
		}
	}
}

// WithLock runs fn while holding key. The lock is released on every exit
// path, including a panic in fn.
func (m *Manager) WithLock(ctx context.Context, key string, ttl, wait time.Duration, fn func(ctx context.Context) error) error {
	l, err := m.Acquire(ctx, key, ttl, wait)
	if err != nil {
		return err
	}
	defer l.Release(ctx)
	return fn(ctx)
}

// Release gives the lock back if this holder still owns it. Release uses a
// detached context so a cancelled request still frees the key.
func (s *Scoped) Release(ctx context.Context) {
	if s.released {
		return
	}
	s.released = true

	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseWait)
	defer cancel()

	held := time.Since(s.acquiredAt)
	ok, err := s.m.backend.Release(relCtx, s.key, s.owner)
	switch {
	case err != nil:
		s.m.logger.Error().Err(err).Str("key", s.key).Msg("Failed to release lock")
	case !ok:
		s.m.logger.Warn().Str("key", s.key).Dur("held", held).Dur("ttl", s.ttl).Msg("Lock expired before release")
	}
}

// Extend pushes the expiry out by ttl. It fails with ErrLockNotHeld once the
// lock has expired or been taken over.
func (s *Scoped) Extend(ctx context.Context, ttl time.Duration) error {
	if s.released {
		return domainErrors.ErrLockNotHeld
	}
	ok, err := s.m.backend.Extend(ctx, s.key, s.owner, ttl)
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", s.key, err)
	}
	if !ok {
		return domainErrors.ErrLockNotHeld
	}
	s.ttl = ttl
	return nil
}

func (m *Manager) observeWait(start time.Time, result string) {
	if m.metrics == nil {
		return
	}
	m.metrics.LockWaitDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}

// WebhookKey serialises processing of one gateway event.
func WebhookKey(eventID string) string {
	return "webhook:process:" + eventID
}

// CompanyCheckoutKey guards subscription creation for a company.
func CompanyCheckoutKey(companyID string) string {
	return "subscription:create:" + companyID
}

// SubscriptionKey guards mutations of one gateway subscription.
func SubscriptionKey(gatewaySubscriptionID string) string {
	return "subscription:" + gatewaySubscriptionID
}

// PaymentKey guards mutations of one payment and its retry record, keyed by the
// payment's gateway reference so webhook handlers can lock before the row exists.
func PaymentKey(gatewayRef string) string {
	return "payment:" + gatewayRef
}

// JobKey guards a scheduled job across worker instances.
func JobKey(name string) string {
	return "scheduler:" + name
}
