package dispatch

import (
	"context"
	"strings"

	"github.com/cassiomorais/billingsync/internal/domain/audit"
	"github.com/cassiomorais/billingsync/internal/domain/event"
	"github.com/cassiomorais/billingsync/internal/domain/payment"
	"github.com/cassiomorais/billingsync/internal/domain/subscription"
	"github.com/cassiomorais/billingsync/internal/lock"
)

// DefaultDeclineCode is recorded when a failed invoice carries no decline code.
const DefaultDeclineCode = "generic_decline"

type invoiceFields struct {
	invoiceID      string
	subscriptionID string
	companyID      string
	chargeID       string
	currency       string
	obj            event.Object
}

func readInvoice(obj event.Object) invoiceFields {
	companyID := obj.Metadata()["company_id"]
	if companyID == "" {
		companyID = obj.Map("subscription_details").Metadata()["company_id"]
	}
	return invoiceFields{
		invoiceID:      obj.String("id"),
		subscriptionID: obj.String("subscription"),
		companyID:      companyID,
		chargeID:       obj.String("charge"),
		currency:       strings.ToUpper(obj.String("currency")),
		obj:            obj,
	}
}

func (f invoiceFields) keys() []string {
	var keys []string
	if f.subscriptionID != "" {
		keys = append(keys, lock.SubscriptionKey(f.subscriptionID))
	}
	return append(keys, lock.PaymentKey(f.invoiceID))
}

// declineCode reads the decline code from the expanded payment error, falling
// back to DefaultDeclineCode.
func (f invoiceFields) declineCode() (code, message string) {
	for _, e := range []event.Object{
		f.obj.Map("last_payment_error"),
		f.obj.Map("payment_intent").Map("last_payment_error"),
	} {
		if c := e.String("decline_code"); c != "" {
			return c, e.String("message")
		}
		if c := e.String("code"); c != "" {
			return c, e.String("message")
		}
	}
	if c := f.obj.Metadata()["failure_code"]; c != "" {
		return c, f.obj.Metadata()["failure_message"]
	}
	return DefaultDeclineCode, ""
}

// loadInvoice resolves the subscription and the payment for an invoice. The
// payment is built, not persisted, when it is seen for the first time.
func (b *base) loadInvoice(ctx context.Context, f invoiceFields, amountCents int64) (*subscription.Subscription, *payment.Payment, bool, error) {
	sub, err := b.findSubscription(ctx, f.subscriptionID)
	if err != nil {
		return nil, nil, false, err
	}
	if f.subscriptionID != "" && sub == nil {
		return nil, nil, false, errSubscriptionPending(f.subscriptionID)
	}

	p, err := b.findPayment(ctx, f.invoiceID)
	if err != nil {
		return nil, nil, false, err
	}
	if p != nil {
		return sub, p, false, nil
	}

	companyID := f.companyID
	if sub != nil {
		companyID = sub.CompanyID
	}
	if companyID == "" {
		return nil, nil, false, malformed("invoice company id missing")
	}
	p, err = payment.New(companyID, f.invoiceID, payment.Amount{ValueCents: amountCents, Currency: f.currency})
	if err != nil {
		return nil, nil, false, err
	}
	if sub != nil {
		p.SubscriptionID = &sub.ID
	}
	return sub, p, true, nil
}

func (b *base) savePayment(ctx context.Context, p *payment.Payment, isNew bool) error {
	if isNew {
		return b.Payments.Create(ctx, p)
	}
	return b.Payments.Update(ctx, p)
}

type invoiceSucceededHandler struct {
	*base
}

func (h *invoiceSucceededHandler) Kind() event.Kind { return event.KindInvoicePaymentSucceeded }

func (h *invoiceSucceededHandler) Handle(ctx context.Context, evt *event.Inbound) Result {
	f := readInvoice(evt.Object)
	if f.invoiceID == "" {
		return FailedFrom(malformed("invoice id missing"))
	}

	return h.run(ctx, f.keys(), func(ctx context.Context) (Result, error) {
		sub, p, isNew, err := h.loadInvoice(ctx, f, f.obj.Int64("amount_paid"))
		if err != nil {
			return Result{}, err
		}
		if p.IsSettled() {
			return Result{Outcome: OutcomeIgnored, Message: "payment already settled", Ref: p.ID.String()}, nil
		}

		recovering := p.Status == payment.StatusFailed || p.Status == payment.StatusRetryScheduled
		if err := p.MarkSucceeded(now()); err != nil {
			return Result{}, err
		}
		if f.chargeID != "" {
			if p.Metadata == nil {
				p.Metadata = map[string]any{}
			}
			p.Metadata[payment.MetaChargeID] = f.chargeID
		}
		if err := h.savePayment(ctx, p, isNew); err != nil {
			return Result{}, err
		}
		if recovering {
			if err := h.Retries.Resolve(ctx, p.ID); err != nil {
				return Result{}, err
			}
		}

		if err := h.record(ctx, audit.ActionPaymentSucceeded, audit.SeverityInfo,
			map[string]string{"payment_id": p.ID.String(), "company_id": p.CompanyID, "event_id": evt.ID},
			map[string]any{"invoice_id": f.invoiceID, "amount": p.Amount.String(), "charge_id": f.chargeID},
		); err != nil {
			return Result{}, err
		}

		if sub != nil && sub.Status == subscription.StatusPastDue {
			changed, res, err := h.applyStatus(ctx, evt.ID, sub, subscription.StatusActive)
			if err != nil || res.Outcome == OutcomeFailed {
				return res, err
			}
			if changed {
				if err := h.Subscriptions.Update(ctx, sub); err != nil {
					return Result{}, err
				}
			}
		}
		return Result{Outcome: OutcomeProcessed, Message: "payment succeeded", Ref: p.ID.String()}, nil
	})
}

type invoiceFailedHandler struct {
	*base
}

func (h *invoiceFailedHandler) Kind() event.Kind { return event.KindInvoicePaymentFailed }

func (h *invoiceFailedHandler) Handle(ctx context.Context, evt *event.Inbound) Result {
	f := readInvoice(evt.Object)
	if f.invoiceID == "" {
		return FailedFrom(malformed("invoice id missing"))
	}
	code, message := f.declineCode()
	if message == "" {
		message = "invoice payment failed"
	}

	return h.run(ctx, f.keys(), func(ctx context.Context) (Result, error) {
		sub, p, isNew, err := h.loadInvoice(ctx, f, f.obj.Int64("amount_due"))
		if err != nil {
			return Result{}, err
		}
		if p.IsSettled() {
			return Result{Outcome: OutcomeIgnored, Message: "payment already settled", Ref: p.ID.String()}, nil
		}

		if sub != nil && sub.CanTransitionTo(subscription.StatusPastDue) {
			changed, res, err := h.applyStatus(ctx, evt.ID, sub, subscription.StatusPastDue)
			if err != nil || res.Outcome == OutcomeFailed {
				return res, err
			}
			if changed {
				if err := h.Subscriptions.Update(ctx, sub); err != nil {
					return Result{}, err
				}
			}
		}

		if err := h.savePayment(ctx, p, isNew); err != nil {
			return Result{}, err
		}
		if err := h.record(ctx, audit.ActionPaymentFailed, audit.SeverityWarning,
			map[string]string{"payment_id": p.ID.String(), "company_id": p.CompanyID, "event_id": evt.ID},
			map[string]any{"invoice_id": f.invoiceID, "failure_code": code, "amount": p.Amount.String()},
		); err != nil {
			return Result{}, err
		}
		if err := h.Retries.HandleFailure(ctx, p.ID, code, message); err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeProcessed, Message: "payment failure recorded", Ref: p.ID.String()}, nil
	})
}
