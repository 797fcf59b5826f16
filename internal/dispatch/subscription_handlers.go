package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/cassiomorais/billingsync/internal/domain/audit"
	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/domain/event"
	"github.com/cassiomorais/billingsync/internal/domain/outbox"
	"github.com/cassiomorais/billingsync/internal/domain/subscription"
	"github.com/cassiomorais/billingsync/internal/lock"
)

// subscriptionFields are the parts of a gateway subscription object the
// handlers read.
type subscriptionFields struct {
	gatewayID     string
	customerID    string
	companyID     string
	planID        string
	gatewayStatus string
	obj           event.Object
}

func readSubscription(obj event.Object) subscriptionFields {
	meta := obj.Metadata()
	planID := meta["plan_id"]
	if planID == "" {
		planID = obj.Map("plan").String("id")
	}
	return subscriptionFields{
		gatewayID:     obj.String("id"),
		customerID:    obj.String("customer"),
		companyID:     meta["company_id"],
		planID:        planID,
		gatewayStatus: obj.String("status"),
		obj:           obj,
	}
}

// syncPeriod copies trial and period dates and reports whether any changed.
func (f subscriptionFields) syncPeriod(sub *subscription.Subscription) bool {
	changed := false
	if t := f.obj.Time("trial_end"); t != nil && (sub.TrialEndsAt == nil || !sub.TrialEndsAt.Equal(*t)) {
		sub.TrialEndsAt = t
		changed = true
	}
	if t := f.obj.Time("current_period_end"); t != nil && (sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(*t)) {
		sub.CurrentPeriodEnd = t
		changed = true
	}
	return changed
}

func errSubscriptionPending(gatewayID string) error {
	return domainErrors.NewDomainError("subscription_not_found",
		"subscription "+gatewayID+" not mirrored yet", domainErrors.ErrSubscriptionNotFound)
}

type subscriptionCreatedHandler struct {
	*base
}

func (h *subscriptionCreatedHandler) Kind() event.Kind { return event.KindSubscriptionCreated }

func (h *subscriptionCreatedHandler) Handle(ctx context.Context, evt *event.Inbound) Result {
	f := readSubscription(evt.Object)
	if f.gatewayID == "" {
		return FailedFrom(malformed("subscription id missing"))
	}
	status, ok := subscription.FromGateway(f.gatewayStatus)
	if !ok {
		return Ignored("gateway status " + f.gatewayStatus + " is not mirrored")
	}

	var keys []string
	if f.companyID != "" {
		keys = append(keys, lock.CompanyCheckoutKey(f.companyID))
	}
	keys = append(keys, lock.SubscriptionKey(f.gatewayID))

	return h.run(ctx, keys, func(ctx context.Context) (Result, error) {
		existing, err := h.findSubscription(ctx, f.gatewayID)
		if err != nil {
			return Result{}, err
		}
		if existing != nil {
			return h.reconcile(ctx, evt.ID, f, existing, status)
		}

		if f.companyID == "" {
			return Result{}, malformed("subscription company id missing")
		}
		if !status.IsLive() {
			return Ignored("ended subscription is not mirrored"), nil
		}

		live, err := h.Subscriptions.GetLiveByCompany(ctx, f.companyID)
		if err != nil && !errors.Is(err, domainErrors.ErrSubscriptionNotFound) {
			return Result{}, err
		}
		if live != nil {
			if live.GatewaySubscriptionID == "" {
				live.GatewaySubscriptionID = f.gatewayID
				live.GatewayCustomerID = f.customerID
				f.syncPeriod(live)
				live.UpdatedAt = now()
				if err := h.Subscriptions.Update(ctx, live); err != nil {
					return Result{}, err
				}
				return Result{Outcome: OutcomeProcessed, Message: "gateway id attached", Ref: live.ID.String()}, nil
			}
			if err := h.record(ctx, audit.ActionSubscriptionDuplicate, audit.SeverityWarning,
				map[string]string{"subscription_id": live.ID.String(), "company_id": f.companyID, "event_id": evt.ID},
				map[string]any{"gateway_subscription_id": f.gatewayID, "existing_gateway_subscription_id": live.GatewaySubscriptionID},
			); err != nil {
				return Result{}, err
			}
			return Warning("company already has a live subscription"), nil
		}

		sub, err := subscription.New(f.companyID, f.planID, f.gatewayID, f.customerID, status)
		if err != nil {
			return Result{}, err
		}
		f.syncPeriod(sub)
		if err := h.Subscriptions.Create(ctx, sub); err != nil {
			return Result{}, err
		}
		if err := h.record(ctx, audit.ActionSubscriptionCreated, audit.SeverityInfo,
			map[string]string{"subscription_id": sub.ID.String(), "company_id": f.companyID, "event_id": evt.ID},
			map[string]any{"plan_id": f.planID, "status": string(status), "source": "webhook"},
		); err != nil {
			return Result{}, err
		}
		if err := h.notify(ctx, "subscription", sub.ID.String(), outbox.NotifySubscriptionActivated, map[string]any{
			"subscription_id": sub.ID.String(),
			"company_id":      f.companyID,
			"plan_id":         f.planID,
			"status":          string(status),
		}); err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeProcessed, Message: "subscription created", Ref: sub.ID.String()}, nil
	})
}

// reconcile applies a gateway snapshot to a subscription that already exists.
func (b *base) reconcile(ctx context.Context, eventID string, f subscriptionFields, sub *subscription.Subscription, status subscription.Status) (Result, error) {
	changed, res, err := b.applyStatus(ctx, eventID, sub, status)
	if err != nil || res.Outcome == OutcomeFailed {
		return res, err
	}
	periodChanged := f.syncPeriod(sub)
	if !changed && !periodChanged {
		return Result{Outcome: OutcomeIgnored, Message: "no change", Ref: sub.ID.String()}, nil
	}
	if periodChanged {
		sub.UpdatedAt = now()
	}
	if err := b.Subscriptions.Update(ctx, sub); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeProcessed, Message: "subscription updated", Ref: sub.ID.String()}, nil
}

type subscriptionUpdatedHandler struct {
	*base
}

func (h *subscriptionUpdatedHandler) Kind() event.Kind { return event.KindSubscriptionUpdated }

func (h *subscriptionUpdatedHandler) Handle(ctx context.Context, evt *event.Inbound) Result {
	f := readSubscription(evt.Object)
	if f.gatewayID == "" {
		return FailedFrom(malformed("subscription id missing"))
	}
	status, ok := subscription.FromGateway(f.gatewayStatus)
	if !ok {
		return Ignored("gateway status " + f.gatewayStatus + " is not mirrored")
	}

	return h.run(ctx, []string{lock.SubscriptionKey(f.gatewayID)}, func(ctx context.Context) (Result, error) {
		sub, err := h.findSubscription(ctx, f.gatewayID)
		if err != nil {
			return Result{}, err
		}
		if sub == nil {
			return Result{}, errSubscriptionPending(f.gatewayID)
		}
		return h.reconcile(ctx, evt.ID, f, sub, status)
	})
}

type subscriptionDeletedHandler struct {
	*base
}

func (h *subscriptionDeletedHandler) Kind() event.Kind { return event.KindSubscriptionDeleted }

func (h *subscriptionDeletedHandler) Handle(ctx context.Context, evt *event.Inbound) Result {
	f := readSubscription(evt.Object)
	if f.gatewayID == "" {
		return FailedFrom(malformed("subscription id missing"))
	}

	return h.run(ctx, []string{lock.SubscriptionKey(f.gatewayID)}, func(ctx context.Context) (Result, error) {
		sub, err := h.findSubscription(ctx, f.gatewayID)
		if err != nil {
			return Result{}, err
		}
		if sub == nil {
			return Result{}, errSubscriptionPending(f.gatewayID)
		}
		if !sub.Status.IsLive() {
			return Result{Outcome: OutcomeIgnored, Message: "subscription already ended", Ref: sub.ID.String()}, nil
		}

		_, res, err := h.applyStatus(ctx, evt.ID, sub, subscription.StatusCancelled)
		if err != nil || res.Outcome == OutcomeFailed {
			return res, err
		}
		if err := h.Subscriptions.Update(ctx, sub); err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeProcessed, Message: "subscription cancelled", Ref: sub.ID.String()}, nil
	})
}

type trialWillEndHandler struct {
	*base
}

func (h *trialWillEndHandler) Kind() event.Kind { return event.KindSubscriptionTrialWillEnd }

func (h *trialWillEndHandler) Handle(ctx context.Context, evt *event.Inbound) Result {
	f := readSubscription(evt.Object)
	if f.gatewayID == "" {
		return FailedFrom(malformed("subscription id missing"))
	}

	return h.run(ctx, []string{lock.SubscriptionKey(f.gatewayID)}, func(ctx context.Context) (Result, error) {
		sub, err := h.findSubscription(ctx, f.gatewayID)
		if err != nil {
			return Result{}, err
		}
		if sub == nil {
			return Result{}, errSubscriptionPending(f.gatewayID)
		}
		if sub.Status != subscription.StatusTrial {
			return Result{Outcome: OutcomeIgnored, Message: "subscription is not trialing", Ref: sub.ID.String()}, nil
		}

		if f.syncPeriod(sub) {
			sub.UpdatedAt = now()
			if err := h.Subscriptions.Update(ctx, sub); err != nil {
				return Result{}, err
			}
		}

		payload := map[string]any{
			"subscription_id": sub.ID.String(),
			"company_id":      sub.CompanyID,
			"plan_id":         sub.PlanID,
		}
		if sub.TrialEndsAt != nil {
			payload["trial_ends_at"] = sub.TrialEndsAt.Format(time.RFC3339)
		}
		if err := h.record(ctx, audit.ActionSubscriptionTrialEnding, audit.SeverityInfo,
			map[string]string{"subscription_id": sub.ID.String(), "company_id": sub.CompanyID, "event_id": evt.ID},
			payload,
		); err != nil {
			return Result{}, err
		}
		if err := h.notify(ctx, "subscription", sub.ID.String(), outbox.NotifyTrialEnding, payload); err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeProcessed, Message: "trial ending notice queued", Ref: sub.ID.String()}, nil
	})
}
