package controller

import (
	"time"

	"github.com/cassiomorais/billingsync/internal/domain/failedevent"
	"github.com/cassiomorais/billingsync/internal/domain/paymentretry"
)

// --- Request DTOs ---

// ConfirmCheckoutRequest is sent by the client after the gateway redirect.
type ConfirmCheckoutRequest struct {
	SessionID string `json:"session_id" validate:"required,max=255"`
}

// CancelRetryRequest stops a payment's charge retries.
type CancelRetryRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// --- Response DTOs ---

// WebhookResponse is what the gateway sees for every delivery.
type WebhookResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
	Outcome string `json:"outcome,omitempty"`
}

// ConfirmCheckoutResponse reports the subscription a checkout resolved to.
type ConfirmCheckoutResponse struct {
	SubscriptionID string `json:"subscription_id,omitempty"`
	Outcome        string `json:"outcome"`
	Message        string `json:"message,omitempty"`
}

// FailedEventResponse is one failed webhook event in a triage listing.
type FailedEventResponse struct {
	EventID       string     `json:"event_id"`
	Kind          string     `json:"kind"`
	Provider      string     `json:"provider"`
	FailureKind   string     `json:"failure_kind"`
	LastError     string     `json:"last_error"`
	RetryCount    int        `json:"retry_count"`
	MaxRetries    int        `json:"max_retries"`
	Exhausted     bool       `json:"exhausted"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	FirstFailedAt time.Time  `json:"first_failed_at"`
	LastFailedAt  time.Time  `json:"last_failed_at"`
}

// FailedEventListResponse wraps a page of failed events.
type FailedEventListResponse struct {
	Events []FailedEventResponse `json:"events"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

// PaymentRetryResponse is a payment's retry record.
type PaymentRetryResponse struct {
	PaymentID        string     `json:"payment_id"`
	Status           string     `json:"status"`
	AttemptCount     int        `json:"attempt_count"`
	MaxAttempts      int        `json:"max_attempts"`
	LastErrorCode    string     `json:"last_error_code,omitempty"`
	LastErrorMessage string     `json:"last_error_message,omitempty"`
	NextRetryAt      *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// --- Converters ---

func toFailedEventResponse(fe *failedevent.FailedEvent) FailedEventResponse {
	return FailedEventResponse{
		EventID:       fe.EventID,
		Kind:          fe.Kind,
		Provider:      fe.Provider,
		FailureKind:   fe.FailureKind,
		LastError:     fe.LastError,
		RetryCount:    fe.RetryCount,
		MaxRetries:    fe.MaxRetries,
		Exhausted:     fe.Exhausted(),
		NextRetryAt:   fe.NextRetryAt,
		FirstFailedAt: fe.FirstFailedAt,
		LastFailedAt:  fe.LastFailedAt,
	}
}

func toPaymentRetryResponse(r *paymentretry.Record) PaymentRetryResponse {
	return PaymentRetryResponse{
		PaymentID:        r.PaymentID.String(),
		Status:           string(r.Status),
		AttemptCount:     r.AttemptCount,
		MaxAttempts:      r.MaxAttempts,
		LastErrorCode:    r.LastErrorCode,
		LastErrorMessage: r.LastErrorMessage,
		NextRetryAt:      r.NextRetryAt,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}
