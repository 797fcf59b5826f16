// Package gateway is the outbound client for the payment gateway, used to
// re-attempt failed charges and to read checkout sessions back.
package gateway

import (
	"context"
)

type ChargeRequest struct {
	PaymentID      string
	InvoiceID      string
	AmountCents    int64
	Currency       string
	IdempotencyKey string
}

type ChargeResult struct {
	ChargeID string
	Status   string // "paid", "open"
}

type RefundRequest struct {
	ChargeID    string
	AmountCents int64
	Reason      string
}

// CheckoutSession is the part of a gateway checkout session the confirmation
// endpoint needs.
type CheckoutSession struct {
	ID             string
	CompanyID      string
	PlanID         string
	SubscriptionID string
	CustomerID     string
	CustomerEmail  string
	AmountTotal    int64
	Currency       string
	Paid           bool
	Complete       bool
}

// Client talks to the gateway. A declined charge returns a
// *errors.GatewayError carrying the decline code; transport failures wrap
// errors.ErrGatewayUnavailable or errors.ErrGatewayTimeout.
type Client interface {
	// Name returns the gateway name.
	Name() string
	// Charge re-attempts collection of an open invoice.
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	// Refund returns money for a charge.
	Refund(ctx context.Context, req RefundRequest) (*ChargeResult, error)
	// RetrieveCheckoutSession reads a checkout session by id.
	RetrieveCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
}
