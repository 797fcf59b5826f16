package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cassiomorais/billingsync/internal/domain/audit"
	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/domain/event"
	"github.com/cassiomorais/billingsync/internal/domain/outbox"
	"github.com/cassiomorais/billingsync/internal/domain/payment"
	"github.com/cassiomorais/billingsync/internal/domain/subscription"
	"github.com/cassiomorais/billingsync/internal/lock"
)

// CheckoutInput is a completed checkout, from either the webhook or the
// client-side confirmation.
type CheckoutInput struct {
	SessionID             string
	CompanyID             string
	PlanID                string
	GatewaySubscriptionID string
	GatewayCustomerID     string
	CustomerEmail         string
	AmountCents           int64
	Currency              string
	Paid                  bool
	TrialEndsAt           *time.Time
	EventID               string
	Source                string
}

func (in CheckoutInput) validate() error {
	switch {
	case in.SessionID == "":
		return malformed("checkout session id missing")
	case in.CompanyID == "":
		return malformed("checkout company id missing")
	case in.PlanID == "":
		return malformed("checkout plan id missing")
	}
	return nil
}

// Checkout creates the company's subscription from a completed checkout. It
// holds the company lock across the existence check and the insert, so the
// webhook and the confirmation endpoint cannot both create one.
type Checkout struct {
	*base
}

// NewCheckout exposes the checkout path to the confirmation endpoint.
func NewCheckout(d Deps) *Checkout {
	return &Checkout{base: &base{Deps: d, logger: d.Logger.With().Str("component", "checkout").Logger()}}
}

// Complete applies the checkout. A second completion for a company that
// already has a live subscription is a Warning, not a failure.
func (c *Checkout) Complete(ctx context.Context, in CheckoutInput) Result {
	if err := in.validate(); err != nil {
		return FailedFrom(err)
	}

	return c.run(ctx, []string{lock.CompanyCheckoutKey(in.CompanyID)}, func(ctx context.Context) (Result, error) {
		existing, err := c.Subscriptions.GetLiveByCompany(ctx, in.CompanyID)
		if err != nil && !errors.Is(err, domainErrors.ErrSubscriptionNotFound) {
			return Result{}, err
		}

		if existing != nil {
			return c.completeExisting(ctx, in, existing)
		}

		status := subscription.StatusActive
		if in.TrialEndsAt != nil && in.TrialEndsAt.After(now()) {
			status = subscription.StatusTrial
		}
		sub, err := subscription.New(in.CompanyID, in.PlanID, in.GatewaySubscriptionID, in.GatewayCustomerID, status)
		if err != nil {
			return Result{}, err
		}
		sub.CheckoutSessionID = &in.SessionID
		sub.TrialEndsAt = in.TrialEndsAt
		if err := c.Subscriptions.Create(ctx, sub); err != nil {
			return Result{}, err
		}

		if err := c.recordPayment(ctx, in, sub); err != nil {
			return Result{}, err
		}

		if err := c.record(ctx, audit.ActionSubscriptionCreated, audit.SeverityInfo,
			map[string]string{"subscription_id": sub.ID.String(), "company_id": in.CompanyID, "checkout_session_id": in.SessionID},
			map[string]any{"plan_id": in.PlanID, "status": string(sub.Status), "source": in.Source, "customer_email": in.CustomerEmail},
		); err != nil {
			return Result{}, err
		}
		if err := c.notify(ctx, "subscription", sub.ID.String(), outbox.NotifySubscriptionActivated, map[string]any{
			"subscription_id": sub.ID.String(),
			"company_id":      in.CompanyID,
			"plan_id":         in.PlanID,
			"status":          string(sub.Status),
		}); err != nil {
			return Result{}, err
		}

		res := Processed("subscription created")
		res.Ref = sub.ID.String()
		return res, nil
	})
}

func (c *Checkout) completeExisting(ctx context.Context, in CheckoutInput, existing *subscription.Subscription) (Result, error) {
	// The subscription.created webhook got here first for the same gateway
	// subscription: attach the session and its payment.
	if existing.CheckoutSessionID == nil && in.GatewaySubscriptionID != "" &&
		existing.GatewaySubscriptionID == in.GatewaySubscriptionID {
		existing.CheckoutSessionID = &in.SessionID
		existing.UpdatedAt = now()
		if err := c.Subscriptions.Update(ctx, existing); err != nil {
			return Result{}, err
		}
		if err := c.recordPayment(ctx, in, existing); err != nil {
			return Result{}, err
		}
		res := Processed("checkout attached to existing subscription")
		res.Ref = existing.ID.String()
		return res, nil
	}

	if existing.CheckoutSessionID != nil && *existing.CheckoutSessionID == in.SessionID {
		res := Warning("checkout already applied")
		res.Ref = existing.ID.String()
		return res, nil
	}

	c.logger.Warn().
		Str("company_id", in.CompanyID).
		Str("existing_subscription_id", existing.ID.String()).
		Str("checkout_session_id", in.SessionID).
		Msg("Checkout completed for company with a live subscription")

	if err := c.record(ctx, audit.ActionSubscriptionDuplicate, audit.SeverityWarning,
		map[string]string{"subscription_id": existing.ID.String(), "company_id": in.CompanyID, "checkout_session_id": in.SessionID},
		map[string]any{"plan_id": in.PlanID, "existing_plan_id": existing.PlanID, "source": in.Source},
	); err != nil {
		return Result{}, err
	}
	res := Warning("company already has a live subscription")
	res.Ref = existing.ID.String()
	return res, nil
}

func (c *Checkout) recordPayment(ctx context.Context, in CheckoutInput, sub *subscription.Subscription) error {
	if in.AmountCents <= 0 {
		return nil
	}
	existing, err := c.findPayment(ctx, in.SessionID)
	if err != nil || existing != nil {
		return err
	}

	p, err := payment.New(in.CompanyID, in.SessionID, payment.Amount{
		ValueCents: in.AmountCents,
		Currency:   strings.ToUpper(in.Currency),
	})
	if err != nil {
		return err
	}
	p.SubscriptionID = &sub.ID
	if in.Paid {
		if err := p.MarkSucceeded(now()); err != nil {
			return err
		}
	}
	return c.Payments.Create(ctx, p)
}

type checkoutHandler struct {
	checkout *Checkout
}

func (h *checkoutHandler) Kind() event.Kind { return event.KindCheckoutSessionCompleted }

func (h *checkoutHandler) Handle(ctx context.Context, evt *event.Inbound) Result {
	obj := evt.Object
	meta := obj.Metadata()

	companyID := meta["company_id"]
	if companyID == "" {
		companyID = obj.String("client_reference_id")
	}

	return h.checkout.Complete(ctx, CheckoutInput{
		SessionID:             obj.String("id"),
		CompanyID:             companyID,
		PlanID:                meta["plan_id"],
		GatewaySubscriptionID: obj.String("subscription"),
		GatewayCustomerID:     obj.String("customer"),
		CustomerEmail:         obj.Map("customer_details").String("email"),
		AmountCents:           obj.Int64("amount_total"),
		Currency:              obj.String("currency"),
		Paid:                  obj.String("payment_status") == "paid",
		EventID:               evt.ID,
		Source:                "webhook",
	})
}
