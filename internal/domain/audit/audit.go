package audit

import (
	"time"

	"github.com/google/uuid"
)

// Severity of an audit entry.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Actions recorded by the billing engine.
const (
	ActionSubscriptionCreated      = "subscription.created"
	ActionSubscriptionStatusChange = "subscription.status_changed"
	ActionSubscriptionTrialConvert = "subscription.trial_converted"
	ActionSubscriptionCancelled    = "subscription.cancelled"
	ActionSubscriptionTrialEnding  = "subscription.trial_ending"
	ActionSubscriptionDuplicate    = "subscription.duplicate_checkout"
	ActionInvalidTransition        = "subscription.invalid_transition"
	ActionPaymentSucceeded         = "payment.succeeded"
	ActionPaymentFailed            = "payment.failed"
	ActionPaymentDisputed          = "payment.disputed"
	ActionPaymentRetryScheduled    = "payment.retry_scheduled"
	ActionPaymentNotRetryable      = "payment.not_retryable"
	ActionPaymentRetryExhausted    = "payment.retry_exhausted"
	ActionPaymentRetryCancelled    = "payment.retry_cancelled"
	ActionPaymentRecovered         = "payment.recovered"
	ActionWebhookRejected          = "webhook.rejected"
	ActionWebhookFailed            = "webhook.failed"
	ActionWebhookUnsupported       = "webhook.unsupported_kind"
	ActionWebhookRetryExhausted    = "webhook.retry_exhausted"
)

// PIIKeys are metadata keys stripped by the redaction pass.
var PIIKeys = []string{"email", "customer_email", "name", "customer_name", "phone", "source_ip", "address"}

// Entry is an append-only audit record.
type Entry struct {
	ID         uuid.UUID
	Action     string
	Severity   Severity
	EntityRefs map[string]string
	Metadata   map[string]any
	CreatedAt  time.Time
	RedactedAt *time.Time
}

// NewEntry creates an audit entry stamped now.
func NewEntry(action string, severity Severity, refs map[string]string, metadata map[string]any) *Entry {
	if refs == nil {
		refs = map[string]string{}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Entry{
		ID:         uuid.New(),
		Action:     action,
		Severity:   severity,
		EntityRefs: refs,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}
}

// Redact strips PII keys from the metadata once. It reports whether anything
// changed.
func (e *Entry) Redact(now time.Time) bool {
	if e.RedactedAt != nil {
		return false
	}
	for _, k := range PIIKeys {
		if _, ok := e.Metadata[k]; ok {
			e.Metadata[k] = "[redacted]"
		}
	}
	e.RedactedAt = &now
	return true
}
