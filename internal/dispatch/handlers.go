package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/cassiomorais/billingsync/internal/domain/audit"
	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/domain/outbox"
	"github.com/cassiomorais/billingsync/internal/domain/payment"
	"github.com/cassiomorais/billingsync/internal/domain/subscription"
	"github.com/cassiomorais/billingsync/internal/lock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TxManager runs fn in one database transaction.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// PaymentRetries is the payment-retry scheduler as seen by the invoice
// handlers. Both calls run inside the caller's transaction and lock.
type PaymentRetries interface {
	HandleFailure(ctx context.Context, paymentID uuid.UUID, code, message string) error
	Resolve(ctx context.Context, paymentID uuid.UUID) error
}

// Deps are the collaborators shared by all handlers.
type Deps struct {
	Tx            TxManager
	Subscriptions subscription.Repository
	Payments      payment.Repository
	Audit         audit.Repository
	Outbox        outbox.Repository
	Locks         *lock.Manager
	Retries       PaymentRetries
	Logger        zerolog.Logger
}

// NewHandlers returns one handler per supported event kind, ready for
// NewRegistry.
func NewHandlers(d Deps) []Handler {
	b := &base{Deps: d, logger: d.Logger.With().Str("component", "dispatch").Logger()}
	checkout := &Checkout{base: b}
	return []Handler{
		&checkoutHandler{checkout: checkout},
		&subscriptionCreatedHandler{base: b},
		&subscriptionUpdatedHandler{base: b},
		&subscriptionDeletedHandler{base: b},
		&trialWillEndHandler{base: b},
		&invoiceSucceededHandler{base: b},
		&invoiceFailedHandler{base: b},
		&disputeCreatedHandler{base: b},
	}
}

type base struct {
	Deps
	logger zerolog.Logger
}

// run acquires keys in order, then applies fn inside one transaction. An
// error from fn rolls everything back and is classified; a Result returned
// with a nil error commits, which is how anomaly audits survive a rejected
// transition.
func (b *base) run(ctx context.Context, keys []string, fn func(ctx context.Context) (Result, error)) Result {
	var res Result
	err := b.withLocks(ctx, keys, func(ctx context.Context) error {
		return b.Tx.WithTransaction(ctx, func(ctx context.Context) error {
			r, err := fn(ctx)
			if err != nil {
				return err
			}
			res = r
			return nil
		})
	})
	if err != nil {
		return FailedFrom(err)
	}
	return res
}

func (b *base) withLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if len(keys) == 0 {
		return fn(ctx)
	}
	return b.Locks.WithLock(ctx, keys[0], 0, 0, func(ctx context.Context) error {
		return b.withLocks(ctx, keys[1:], fn)
	})
}

func (b *base) record(ctx context.Context, action string, sev audit.Severity, refs map[string]string, meta map[string]any) error {
	return b.Audit.Append(ctx, audit.NewEntry(action, sev, refs, meta))
}

func (b *base) notify(ctx context.Context, aggregateType, aggregateID, eventType string, payload map[string]any) error {
	return b.Outbox.Insert(ctx, outbox.NewEntry(aggregateType, aggregateID, eventType, payload))
}

// rejectTransition writes the anomaly audit and returns a non-retryable
// failure without touching the entity.
func (b *base) rejectTransition(ctx context.Context, eventID string, sub *subscription.Subscription, next subscription.Status, cause error) (Result, error) {
	b.logger.Warn().
		Str("event_id", eventID).
		Str("subscription_id", sub.ID.String()).
		Str("from", string(sub.Status)).
		Str("to", string(next)).
		Msg("Rejected subscription transition")

	if err := b.record(ctx, audit.ActionInvalidTransition, audit.SeverityWarning,
		map[string]string{"subscription_id": sub.ID.String(), "event_id": eventID},
		map[string]any{"from": string(sub.Status), "to": string(next)},
	); err != nil {
		return Result{}, err
	}
	return Failed(FailureInvalidTransition, cause), nil
}

// applyStatus moves sub to next and records the matching audit entry and
// notification. It returns changed=false for same-status updates.
func (b *base) applyStatus(ctx context.Context, eventID string, sub *subscription.Subscription, next subscription.Status) (changed bool, res Result, err error) {
	prev := sub.Status
	changed, terr := sub.TransitionTo(next)
	if terr != nil {
		res, err = b.rejectTransition(ctx, eventID, sub, next, terr)
		return false, res, err
	}
	if !changed {
		return false, Result{}, nil
	}

	refs := map[string]string{
		"subscription_id": sub.ID.String(),
		"company_id":      sub.CompanyID,
		"event_id":        eventID,
	}
	meta := map[string]any{"from": string(prev), "to": string(next)}

	action, notification := audit.ActionSubscriptionStatusChange, ""
	switch {
	case subscription.IsTrialConversion(prev, next):
		action, notification = audit.ActionSubscriptionTrialConvert, outbox.NotifyTrialConverted
	case next == subscription.StatusCancelled:
		action, notification = audit.ActionSubscriptionCancelled, outbox.NotifySubscriptionCancelled
	}

	if err := b.record(ctx, action, audit.SeverityInfo, refs, meta); err != nil {
		return false, Result{}, err
	}
	if notification != "" {
		if err := b.notify(ctx, "subscription", sub.ID.String(), notification, map[string]any{
			"subscription_id": sub.ID.String(),
			"company_id":      sub.CompanyID,
			"plan_id":         sub.PlanID,
		}); err != nil {
			return false, Result{}, err
		}
	}
	return true, Result{}, nil
}

// findPayment returns the payment for ref, or nil when none exists yet.
func (b *base) findPayment(ctx context.Context, ref string) (*payment.Payment, error) {
	p, err := b.Payments.GetByGatewayRef(ctx, ref)
	if errors.Is(err, domainErrors.ErrPaymentNotFound) {
		return nil, nil
	}
	return p, err
}

// findSubscription returns the subscription for a gateway id, or nil.
func (b *base) findSubscription(ctx context.Context, gatewayID string) (*subscription.Subscription, error) {
	if gatewayID == "" {
		return nil, nil
	}
	sub, err := b.Subscriptions.GetByGatewayID(ctx, gatewayID)
	if errors.Is(err, domainErrors.ErrSubscriptionNotFound) {
		return nil, nil
	}
	return sub, err
}

func malformed(msg string) error {
	return domainErrors.NewDomainError("malformed_payload", msg, domainErrors.ErrMalformedPayload)
}

func now() time.Time {
	return time.Now().UTC()
}
