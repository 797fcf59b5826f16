package subscription

import (
	"time"

	"github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/google/uuid"
)

// Status represents the subscription status in the state machine
type Status string

const (
	StatusTrial     Status = "trial"
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

var transitions = map[Status][]Status{
	StatusTrial:     {StatusActive, StatusCancelled, StatusExpired},
	StatusActive:    {StatusCancelled, StatusPastDue, StatusExpired},
	StatusPastDue:   {StatusActive, StatusCancelled, StatusExpired},
	StatusCancelled: {StatusExpired},
	StatusExpired:   {}, // Terminal state
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether s has no outbound transitions.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0 && s.Valid()
}

// IsLive reports whether the subscription grants access (trial, active or past due).
func (s Status) IsLive() bool {
	return s == StatusTrial || s == StatusActive || s == StatusPastDue
}

// FromGateway maps a gateway subscription status onto the local state machine.
func FromGateway(gatewayStatus string) (Status, bool) {
	switch gatewayStatus {
	case "trialing":
		return StatusTrial, true
	case "active":
		return StatusActive, true
	case "past_due", "unpaid":
		return StatusPastDue, true
	case "canceled", "cancelled":
		return StatusCancelled, true
	case "incomplete_expired", "expired":
		return StatusExpired, true
	}
	return "", false
}

// Subscription is a company's billing subscription mirrored from the gateway.
type Subscription struct {
	ID                    uuid.UUID
	CompanyID             string
	PlanID                string
	GatewaySubscriptionID string
	GatewayCustomerID     string
	CheckoutSessionID     *string
	Status                Status
	TrialEndsAt           *time.Time
	CurrentPeriodEnd      *time.Time
	CancelledAt           *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// New creates a subscription in the given initial status.
func New(companyID, planID, gatewaySubscriptionID, gatewayCustomerID string, status Status) (*Subscription, error) {
	if companyID == "" {
		return nil, errors.NewValidationError("company_id", "cannot be empty")
	}
	if planID == "" {
		return nil, errors.NewValidationError("plan_id", "cannot be empty")
	}
	if !status.Valid() || status.IsTerminal() {
		return nil, errors.NewValidationError("status", "must be a live initial status")
	}

	now := time.Now().UTC()
	return &Subscription{
		ID:                    uuid.New(),
		CompanyID:             companyID,
		PlanID:                planID,
		GatewaySubscriptionID: gatewaySubscriptionID,
		GatewayCustomerID:     gatewayCustomerID,
		Status:                status,
		CreatedAt:             now,
		UpdatedAt:             now,
	}, nil
}

// CanTransitionTo checks if the subscription can move to the given status
func (s *Subscription) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionTo moves the subscription to next. A transition to the current
// status is a no-op and reports changed=false.
func (s *Subscription) TransitionTo(next Status) (changed bool, err error) {
	if s.Status == next {
		return false, nil
	}
	if !s.CanTransitionTo(next) {
		return false, errors.NewDomainError(
			"invalid_transition",
			"cannot transition subscription from "+string(s.Status)+" to "+string(next),
			errors.ErrInvalidStateTransition,
		)
	}

	now := time.Now().UTC()
	s.Status = next
	s.UpdatedAt = now
	if next == StatusCancelled && s.CancelledAt == nil {
		s.CancelledAt = &now
	}
	return true, nil
}

// IsTrialConversion reports whether moving from prev to next converts a trial
// into a paying subscription.
func IsTrialConversion(prev, next Status) bool {
	return prev == StatusTrial && next == StatusActive
}
