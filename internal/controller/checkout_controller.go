package controller

import (
	"context"
	"net/http"

	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	customMW "github.com/cassiomorais/billingsync/internal/middleware"
	"github.com/cassiomorais/billingsync/internal/service"
)

// CheckoutConfirmer applies a completed checkout on the client's behalf.
type CheckoutConfirmer interface {
	Confirm(ctx context.Context, companyID, sessionID string) (*service.ConfirmResult, error)
}

type CheckoutController struct {
	checkout CheckoutConfirmer
}

func NewCheckoutController(checkout CheckoutConfirmer) *CheckoutController {
	return &CheckoutController{checkout: checkout}
}

// Confirm applies the checkout session for the caller's company.
func (h *CheckoutController) Confirm(w http.ResponseWriter, r *http.Request) {
	companyID, ok := customMW.GetCompanyID(r.Context())
	if !ok {
		writeError(w, domainErrors.NewDomainError("company_required", "token carries no company", domainErrors.ErrUnauthorized))
		return
	}

	var req ConfirmCheckoutRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.checkout.Confirm(r.Context(), companyID, req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ConfirmCheckoutResponse{
		SubscriptionID: res.SubscriptionID,
		Outcome:        string(res.Outcome),
		Message:        res.Message,
	})
}
