package dispatch

import (
	"context"
	"errors"

	"github.com/cassiomorais/billingsync/internal/domain/audit"
	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/domain/event"
	"github.com/cassiomorais/billingsync/internal/domain/outbox"
	"github.com/cassiomorais/billingsync/internal/domain/payment"
	"github.com/cassiomorais/billingsync/internal/lock"
)

type disputeCreatedHandler struct {
	*base
}

func (h *disputeCreatedHandler) Kind() event.Kind { return event.KindChargeDisputeCreated }

func (h *disputeCreatedHandler) Handle(ctx context.Context, evt *event.Inbound) Result {
	obj := evt.Object
	disputeID := obj.String("id")
	chargeID := obj.String("charge")
	if chargeID == "" {
		return FailedFrom(malformed("dispute charge missing"))
	}

	// The payment lock is keyed by gateway ref, which is only known after
	// resolving the charge.
	found, err := h.Payments.GetByChargeRef(ctx, chargeID)
	if err != nil {
		if errors.Is(err, domainErrors.ErrPaymentNotFound) {
			err = domainErrors.NewDomainError("payment_not_found",
				"no payment for charge "+chargeID, domainErrors.ErrPaymentNotFound)
		}
		return FailedFrom(err)
	}

	return h.run(ctx, []string{lock.PaymentKey(found.GatewayRef)}, func(ctx context.Context) (Result, error) {
		p, err := h.Payments.GetByGatewayRef(ctx, found.GatewayRef)
		if err != nil {
			return Result{}, err
		}
		if p.Status == payment.StatusDisputed {
			return Result{Outcome: OutcomeIgnored, Message: "dispute already recorded", Ref: p.ID.String()}, nil
		}
		if err := p.TransitionTo(payment.StatusDisputed); err != nil {
			return Result{}, err
		}
		if p.Metadata == nil {
			p.Metadata = map[string]any{}
		}
		p.Metadata["dispute_id"] = disputeID
		p.Metadata["dispute_reason"] = obj.String("reason")
		if err := h.Payments.Update(ctx, p); err != nil {
			return Result{}, err
		}

		refs := map[string]string{"payment_id": p.ID.String(), "company_id": p.CompanyID, "event_id": evt.ID}
		meta := map[string]any{
			"dispute_id": disputeID,
			"charge_id":  chargeID,
			"reason":     obj.String("reason"),
			"amount":     obj.Int64("amount"),
		}
		if err := h.record(ctx, audit.ActionPaymentDisputed, audit.SeverityCritical, refs, meta); err != nil {
			return Result{}, err
		}
		if err := h.notify(ctx, "payment", p.ID.String(), outbox.NotifyDisputeOpened, map[string]any{
			"payment_id": p.ID.String(),
			"company_id": p.CompanyID,
			"dispute_id": disputeID,
			"reason":     obj.String("reason"),
		}); err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeProcessed, Message: "dispute recorded", Ref: p.ID.String()}, nil
	})
}
