package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Entry is a notification trigger written in the same transaction as the state
// change that caused it, and published later by the worker.
type Entry struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       map[string]any
	Status        Status
	RetryCount    int
	MaxRetries    int
	// NextAttemptAt holds a failed entry back from the relay.
	NextAttemptAt time.Time
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// Notification event types consumed by the email/Slack senders.
const (
	NotifyPaymentFailed         = "notification.payment_failed"
	NotifyRetriesExhausted      = "notification.retries_exhausted"
	NotifyPaymentRecovered      = "notification.payment_recovered"
	NotifyTrialConverted        = "notification.trial_converted"
	NotifyTrialEnding           = "notification.trial_ending"
	NotifySubscriptionActivated = "notification.subscription_activated"
	NotifySubscriptionCancelled = "notification.subscription_cancelled"
	NotifyDisputeOpened         = "notification.dispute_opened"
	NotifyOperatorAlert         = "notification.operator_alert"
)

// RetryBackoff is how long a relay waits before republishing an entry that
// has failed attempts times: 10s doubling, capped at 15m.
func RetryBackoff(attempts int) time.Duration {
	const (
		base     = 10 * time.Second
		maxDelay = 15 * time.Minute
	)
	if attempts <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return d
}

func NewEntry(aggregateType string, aggregateID string, eventType string, payload map[string]any) *Entry {
	now := time.Now().UTC()
	return &Entry{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		Status:        StatusPending,
		RetryCount:    0,
		MaxRetries:    5,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
}
