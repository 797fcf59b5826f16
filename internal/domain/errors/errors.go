package errors

import (
	"errors"
	"fmt"
)

var (
	// Subscription errors
	ErrSubscriptionNotFound     = errors.New("subscription not found")
	ErrActiveSubscriptionExists = errors.New("company already has an active subscription")
	ErrInvalidStateTransition   = errors.New("invalid state transition")

	// Payment errors
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrPaymentFinalized = errors.New("payment already finalized")

	// Retry errors
	ErrRetryNotFound       = errors.New("payment retry not found")
	ErrRetryTerminal       = errors.New("payment retry is in a terminal state")
	ErrRetryNotDue         = errors.New("payment retry is not due yet")
	ErrMaxRetriesExceeded  = errors.New("max retries exceeded")
	ErrFailedEventNotFound = errors.New("failed event not found")

	// Webhook errors
	ErrUnknownProvider      = errors.New("unknown webhook provider")
	ErrMalformedPayload     = errors.New("malformed event payload")
	ErrUnsupportedEventKind = errors.New("unsupported event kind")

	// Gateway errors
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("charge rejected by gateway")
	ErrGatewayTimeout     = errors.New("gateway request timeout")

	// Idempotency errors
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// Lock errors
	ErrLockTimeout = errors.New("timed out acquiring lock")
	ErrLockNotHeld = errors.New("lock not held")

	// Store errors
	ErrStoreUnavailable = errors.New("backing store unavailable")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// GatewayError carries the decline code reported by the payment gateway for a
// failed charge attempt.
type GatewayError struct {
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway declined charge (%s): %s", e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return ErrGatewayRejected
}
