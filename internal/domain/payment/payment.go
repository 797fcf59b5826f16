package payment

import (
	"fmt"
	"time"

	"github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/google/uuid"
)

// Status represents the payment status in the state machine
type Status string

const (
	StatusPending        Status = "pending"
	StatusSucceeded      Status = "succeeded"
	StatusRetryScheduled Status = "retry_scheduled"
	StatusFailed         Status = "failed"
	StatusRefunded       Status = "refunded"
	StatusDisputed       Status = "disputed"
)

// Payment is a single charge against a company, keyed by the gateway
// reference (invoice or checkout session).
type Payment struct {
	ID             uuid.UUID
	CompanyID      string
	SubscriptionID *uuid.UUID
	GatewayRef     string
	Amount         Amount
	Status         Status
	FailureCode    *string
	FailureMessage *string
	Metadata       map[string]any
	PaidAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Amount represents a monetary amount in the smallest currency unit (e.g. cents).
type Amount struct {
	ValueCents int64
	Currency   string
}

// String returns a human-readable representation of the amount.
func (a Amount) String() string {
	whole := a.ValueCents / 100
	frac := a.ValueCents % 100
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%02d %s", whole, frac, a.Currency)
}

// Validate checks that the amount is valid.
func (a Amount) Validate() error {
	if a.ValueCents < 0 {
		return errors.NewValidationError("amount", "cannot be negative")
	}
	if len(a.Currency) != 3 {
		return errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	return nil
}

// New creates a pending payment for a gateway reference.
func New(companyID, gatewayRef string, amount Amount) (*Payment, error) {
	if err := amount.Validate(); err != nil {
		return nil, err
	}
	if gatewayRef == "" {
		return nil, errors.NewValidationError("gateway_ref", "cannot be empty")
	}
	if companyID == "" {
		return nil, errors.NewValidationError("company_id", "cannot be empty")
	}

	now := time.Now().UTC()
	return &Payment{
		ID:         uuid.New(),
		CompanyID:  companyID,
		GatewayRef: gatewayRef,
		Amount:     amount,
		Status:     StatusPending,
		Metadata:   make(map[string]any),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

var transitions = map[Status][]Status{
	StatusPending:        {StatusSucceeded, StatusFailed, StatusRetryScheduled},
	StatusRetryScheduled: {StatusSucceeded, StatusFailed},
	StatusFailed:         {StatusRetryScheduled, StatusSucceeded},
	StatusSucceeded:      {StatusRefunded, StatusDisputed},
	StatusDisputed:       {StatusSucceeded, StatusRefunded},
	StatusRefunded:       {}, // Terminal state
}

// CanTransitionTo checks if the payment can transition to the given status
func (p *Payment) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[p.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionTo transitions the payment to a new status
func (p *Payment) TransitionTo(next Status) error {
	if p.Status == next {
		return nil
	}
	if !p.CanTransitionTo(next) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition payment from "+string(p.Status)+" to "+string(next),
			errors.ErrInvalidStateTransition,
		)
	}

	p.Status = next
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkSucceeded records a successful charge and clears any failure details.
func (p *Payment) MarkSucceeded(paidAt time.Time) error {
	if err := p.TransitionTo(StatusSucceeded); err != nil {
		return err
	}
	p.PaidAt = &paidAt
	p.FailureCode = nil
	p.FailureMessage = nil
	return nil
}

// MarkFailed records a permanent failure with the gateway decline details.
func (p *Payment) MarkFailed(code, message string) error {
	if err := p.TransitionTo(StatusFailed); err != nil {
		return err
	}
	p.setFailure(code, message)
	return nil
}

// MarkRetryScheduled records a retryable failure awaiting a scheduled retry.
func (p *Payment) MarkRetryScheduled(code, message string) error {
	if err := p.TransitionTo(StatusRetryScheduled); err != nil {
		return err
	}
	p.setFailure(code, message)
	return nil
}

func (p *Payment) setFailure(code, message string) {
	p.FailureCode = &code
	p.FailureMessage = &message
}

// MetaChargeID is the metadata key holding the gateway charge id.
const MetaChargeID = "charge_id"

// ChargeID returns the gateway charge recorded for this payment, if any.
func (p *Payment) ChargeID() string {
	v, _ := p.Metadata[MetaChargeID].(string)
	return v
}

// IsSettled reports whether the payment no longer needs collection.
func (p *Payment) IsSettled() bool {
	return p.Status == StatusSucceeded ||
		p.Status == StatusRefunded ||
		p.Status == StatusDisputed
}
