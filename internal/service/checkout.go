package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/cassiomorais/billingsync/internal/dispatch"
	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/gateway"
	"github.com/rs/zerolog"
)

// CheckoutCompleter applies a completed checkout.
type CheckoutCompleter interface {
	Complete(ctx context.Context, in dispatch.CheckoutInput) dispatch.Result
}

// CheckoutService confirms a checkout from the client redirect, without
// waiting for the webhook.
type CheckoutService struct {
	gateway   gateway.Client
	completer CheckoutCompleter
	logger    zerolog.Logger
}

func NewCheckoutService(gw gateway.Client, completer CheckoutCompleter, logger zerolog.Logger) *CheckoutService {
	return &CheckoutService{
		gateway:   gw,
		completer: completer,
		logger:    logger.With().Str("component", "checkout_confirm").Logger(),
	}
}

// ConfirmResult reports the subscription the checkout resolved to.
type ConfirmResult struct {
	SubscriptionID string
	Outcome        dispatch.Outcome
	Message        string
}

// Confirm reads the session back from the gateway and applies it through the
// same path as checkout.session.completed.
func (s *CheckoutService) Confirm(ctx context.Context, companyID, sessionID string) (*ConfirmResult, error) {
	// 1. Read the session from the gateway
	session, err := s.gateway.RetrieveCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session: %w", err)
	}

	// 2. Check it is complete and belongs to the caller
	if !session.Complete {
		return nil, domainErrors.NewValidationError("session_id", "checkout session is not complete")
	}
	if session.CompanyID != companyID {
		return nil, domainErrors.NewDomainError("checkout_company_mismatch", "checkout session belongs to another company", domainErrors.ErrUnauthorized)
	}

	// 3. Apply it under the company lock
	res := s.completer.Complete(ctx, dispatch.CheckoutInput{
		SessionID:             session.ID,
		CompanyID:             session.CompanyID,
		PlanID:                session.PlanID,
		GatewaySubscriptionID: session.SubscriptionID,
		GatewayCustomerID:     session.CustomerID,
		CustomerEmail:         session.CustomerEmail,
		AmountCents:           session.AmountTotal,
		Currency:              strings.ToUpper(session.Currency),
		Paid:                  session.Paid,
		Source:                "confirmation",
	})
	if !res.OK() {
		s.logger.Warn().
			Err(res.Err).
			Str("session_id", sessionID).
			Str("failure_kind", string(res.Failure)).
			Msg("Checkout confirmation failed")
		return nil, res.Err
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Str("company_id", companyID).
		Str("outcome", string(res.Outcome)).
		Msg("Checkout confirmed")
	return &ConfirmResult{SubscriptionID: res.Ref, Outcome: res.Outcome, Message: res.Message}, nil
}
