package paymentretry

import (
	"time"

	"github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/google/uuid"
)

// Status of a payment retry record.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExhausted Status = "exhausted"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further attempts will be scheduled.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusExhausted || s == StatusCancelled
}

// Policy controls charge retry timing.
type Policy struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Window      time.Duration
	MaxAttempts int
}

// DefaultPolicy returns a 60m base doubling up to 24h, within 7 days, three attempts.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   60 * time.Minute,
		Multiplier:  2.0,
		MaxDelay:    24 * time.Hour,
		Window:      7 * 24 * time.Hour,
		MaxAttempts: 3,
	}
}

// Delay returns the wait before the next attempt after attempts already made.
func (p Policy) Delay(attempts int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < attempts; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Record tracks charge retries for one payment.
type Record struct {
	PaymentID        uuid.UUID
	Status           Status
	AttemptCount     int
	MaxAttempts      int
	LastErrorCode    string
	LastErrorMessage string
	NextRetryAt      *time.Time
	TaskID           *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewRecord opens an active retry record for a failed payment.
func NewRecord(paymentID uuid.UUID, policy Policy, now time.Time) *Record {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultPolicy().MaxAttempts
	}
	return &Record{
		PaymentID:   paymentID,
		Status:      StatusActive,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ScheduleNext records a retryable failure and computes the next attempt time.
// It returns false when the attempt budget or retry window is spent, in which
// case the record is exhausted.
func (r *Record) ScheduleNext(code, message string, policy Policy, now time.Time) bool {
	r.LastErrorCode = code
	r.LastErrorMessage = message
	r.UpdatedAt = now

	if r.AttemptCount >= r.MaxAttempts {
		r.exhaust()
		return false
	}

	next := now.Add(policy.Delay(r.AttemptCount))
	if policy.Window > 0 && next.After(r.CreatedAt.Add(policy.Window)) {
		r.exhaust()
		return false
	}
	r.NextRetryAt = &next
	return true
}

// BeginAttempt claims the next attempt. Terminal records refuse.
func (r *Record) BeginAttempt(now time.Time) error {
	if r.Status.IsTerminal() {
		return errors.NewDomainError("retry_terminal", "retry record is "+string(r.Status), errors.ErrRetryTerminal)
	}
	if r.NextRetryAt != nil && r.NextRetryAt.After(now) {
		return errors.ErrRetryNotDue
	}
	r.AttemptCount++
	r.UpdatedAt = now
	return nil
}

// Complete marks the payment recovered.
func (r *Record) Complete(now time.Time) error {
	if r.Status.IsTerminal() {
		return errors.ErrRetryTerminal
	}
	r.Status = StatusCompleted
	r.NextRetryAt = nil
	r.TaskID = nil
	r.UpdatedAt = now
	return nil
}

// Cancel stops any future attempt.
func (r *Record) Cancel(now time.Time) error {
	if r.Status.IsTerminal() {
		return errors.ErrRetryTerminal
	}
	r.Status = StatusCancelled
	r.NextRetryAt = nil
	r.UpdatedAt = now
	return nil
}

// Fail ends the record on a permanent decline.
func (r *Record) Fail(code, message string, now time.Time) {
	r.LastErrorCode = code
	r.LastErrorMessage = message
	r.UpdatedAt = now
	r.exhaust()
}

func (r *Record) exhaust() {
	r.Status = StatusExhausted
	r.NextRetryAt = nil
}

// Due reports whether the sweep should execute the record at now.
func (r *Record) Due(now time.Time) bool {
	return r.Status == StatusActive && r.NextRetryAt != nil && !r.NextRetryAt.After(now)
}
