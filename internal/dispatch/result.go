package dispatch

import (
	"context"
	"errors"

	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/domain/failedevent"
)

// FailureKind classifies why an event could not be applied.
type FailureKind string

const (
	FailureNone              FailureKind = ""
	FailureSignatureInvalid  FailureKind = "signature_invalid"
	FailureRateLimited       FailureKind = "rate_limited"
	FailureUnsupportedKind   FailureKind = failedevent.FailureUnsupportedKind
	FailureLockTimeout       FailureKind = "lock_timeout"
	FailureTransient         FailureKind = "transient_handler_failure"
	FailureInvalidTransition FailureKind = "invalid_state_transition"
	FailureMalformedPayload  FailureKind = "malformed_payload"
)

// Retryable reports whether replaying the event later can succeed.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureLockTimeout, FailureTransient:
		return true
	}
	return false
}

// Outcome of a dispatch.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeWarning   Outcome = "warning"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
)

// Result is what a handler returns instead of panicking or leaking errors.
type Result struct {
	Outcome Outcome
	Failure FailureKind
	Message string
	Err     error
	// Ref identifies the entity the event was applied to, when there is one.
	Ref string
}

// OK reports whether the event needs no retry bookkeeping.
func (r Result) OK() bool {
	return r.Outcome != OutcomeFailed
}

func Processed(msg string) Result {
	return Result{Outcome: OutcomeProcessed, Message: msg}
}

// Warning is a success that deserves operator attention, such as a duplicate
// checkout.
func Warning(msg string) Result {
	return Result{Outcome: OutcomeWarning, Message: msg}
}

func Ignored(msg string) Result {
	return Result{Outcome: OutcomeIgnored, Message: msg}
}

func Failed(kind FailureKind, err error) Result {
	msg := string(kind)
	if err != nil {
		msg = err.Error()
	}
	return Result{Outcome: OutcomeFailed, Failure: kind, Message: msg, Err: err}
}

// FailedFrom classifies err into a failed result.
func FailedFrom(err error) Result {
	return Failed(Classify(err), err)
}

// Classify maps an error from a handler body onto the failure taxonomy.
// Anything unrecognised is assumed transient.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, domainErrors.ErrLockTimeout):
		return FailureLockTimeout
	case errors.Is(err, domainErrors.ErrInvalidStateTransition):
		return FailureInvalidTransition
	case errors.Is(err, domainErrors.ErrMalformedPayload):
		return FailureMalformedPayload
	case errors.Is(err, domainErrors.ErrUnsupportedEventKind):
		return FailureUnsupportedKind
	case errors.Is(err, context.Canceled):
		return FailureTransient
	}
	var ve *domainErrors.ValidationError
	if errors.As(err, &ve) {
		return FailureMalformedPayload
	}
	return FailureTransient
}
