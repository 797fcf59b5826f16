package failedevent

import (
	"time"
)

const (
	DefaultInitialBackoff = 5 * time.Minute
	DefaultMaxBackoff     = 6 * time.Hour
	DefaultMaxRetries     = 5
)

// FailureUnsupportedKind marks events no handler exists for. They are kept
// for triage but are not pipeline failures.
const FailureUnsupportedKind = "unsupported_event_kind"

// Backoff computes webhook retry delays as min(initial * 2^n, max).
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff returns the standard webhook retry curve.
func DefaultBackoff() Backoff {
	return Backoff{Initial: DefaultInitialBackoff, Max: DefaultMaxBackoff}
}

// Delay returns the delay before retry number n (zero-based).
func (b Backoff) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := b.Initial
	for i := 0; i < n; i++ {
		if d >= b.Max/2 {
			return b.Max
		}
		d *= 2
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// FailedEvent is a webhook delivery whose handler failed and which is awaiting
// retry or operator triage.
type FailedEvent struct {
	EventID       string
	Kind          string
	Provider      string
	Payload       []byte
	LastError     string
	FailureKind   string
	RetryCount    int
	MaxRetries    int
	NextRetryAt   *time.Time
	FirstFailedAt time.Time
	LastFailedAt  time.Time
}

// Unsupported reports whether the event was stored only because its kind has
// no handler.
func (f *FailedEvent) Unsupported() bool {
	return f.FailureKind == FailureUnsupportedKind
}

// NewRetryable records the first retryable failure of an event.
func NewRetryable(eventID, kind, provider string, payload []byte, failureKind, lastErr string, maxRetries int, b Backoff, now time.Time) *FailedEvent {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	fe := &FailedEvent{
		EventID:       eventID,
		Kind:          kind,
		Provider:      provider,
		Payload:       payload,
		LastError:     lastErr,
		FailureKind:   failureKind,
		MaxRetries:    maxRetries,
		FirstFailedAt: now,
		LastFailedAt:  now,
	}
	fe.scheduleNext(b, now)
	return fe
}

// NewTerminal records a non-retryable failure, kept for triage only.
func NewTerminal(eventID, kind, provider string, payload []byte, failureKind, lastErr string, maxRetries int, now time.Time) *FailedEvent {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &FailedEvent{
		EventID:       eventID,
		Kind:          kind,
		Provider:      provider,
		Payload:       payload,
		LastError:     lastErr,
		FailureKind:   failureKind,
		RetryCount:    maxRetries,
		MaxRetries:    maxRetries,
		FirstFailedAt: now,
		LastFailedAt:  now,
	}
}

// RecordFailure applies a repeat failure: the count is incremented and the next
// attempt rescheduled, or cleared once retries are exhausted.
func (f *FailedEvent) RecordFailure(failureKind, lastErr string, retryable bool, b Backoff, now time.Time) {
	f.LastError = lastErr
	f.FailureKind = failureKind
	f.LastFailedAt = now
	if !retryable {
		f.RetryCount = f.MaxRetries
		f.NextRetryAt = nil
		return
	}
	f.scheduleNext(b, now)
}

func (f *FailedEvent) scheduleNext(b Backoff, now time.Time) {
	delay := b.Delay(f.RetryCount)
	f.RetryCount++
	if f.RetryCount >= f.MaxRetries {
		f.NextRetryAt = nil
		return
	}
	next := now.Add(delay)
	f.NextRetryAt = &next
}

// Exhausted reports whether no further automatic retry will happen.
func (f *FailedEvent) Exhausted() bool {
	return f.RetryCount >= f.MaxRetries
}

// Due reports whether the sweep should pick the record up at now.
func (f *FailedEvent) Due(now time.Time) bool {
	return !f.Exhausted() && f.NextRetryAt != nil && !f.NextRetryAt.After(now)
}

// Overdue reports whether a pending retry is later than grace past its schedule.
func (f *FailedEvent) Overdue(now time.Time, grace time.Duration) bool {
	return !f.Exhausted() && f.NextRetryAt != nil && now.Sub(*f.NextRetryAt) > grace
}
