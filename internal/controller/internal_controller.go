package controller

import (
	"context"
	"net/http"
	"strconv"

	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/domain/failedevent"
	"github.com/cassiomorais/billingsync/internal/domain/paymentretry"
	"github.com/cassiomorais/billingsync/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// HealthEvaluator builds the webhook health report.
type HealthEvaluator interface {
	Evaluate(ctx context.Context) (*service.HealthReport, error)
}

// FailedEventLister lists failed webhook events for triage.
type FailedEventLister interface {
	List(ctx context.Context, filter failedevent.ListFilter) ([]*failedevent.FailedEvent, error)
}

// PaymentRetryManager reads and cancels payment retry records.
type PaymentRetryManager interface {
	Get(ctx context.Context, paymentID uuid.UUID) (*paymentretry.Record, error)
	Cancel(ctx context.Context, paymentID uuid.UUID, reason string) (*paymentretry.Record, error)
}

// InternalController serves the operator endpoints under /internal.
type InternalController struct {
	health  HealthEvaluator
	events  FailedEventLister
	retries PaymentRetryManager
}

func NewInternalController(health HealthEvaluator, events FailedEventLister, retries PaymentRetryManager) *InternalController {
	return &InternalController{health: health, events: events, retries: retries}
}

// WebhookHealth answers 200 for healthy and degraded, 503 for unhealthy.
func (h *InternalController) WebhookHealth(w http.ResponseWriter, r *http.Request) {
	report, err := h.health.Evaluate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if report.Status == service.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (h *InternalController) ListFailedEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := failedevent.ListFilter{Kind: q.Get("kind")}

	if v := q.Get("exhausted"); v != "" {
		exhausted, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, domainErrors.NewValidationError("exhausted", "must be a boolean"))
			return
		}
		filter.ExhaustedOnly = exhausted
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, domainErrors.NewValidationError("limit", "must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			writeError(w, domainErrors.NewValidationError("offset", "must be a non-negative integer"))
			return
		}
		filter.Offset = offset
	}

	events, err := h.events.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := FailedEventListResponse{
		Events: make([]FailedEventResponse, 0, len(events)),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	for _, fe := range events {
		resp.Events = append(resp.Events, toFailedEventResponse(fe))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *InternalController) GetPaymentRetry(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentId"))
	if err != nil {
		writeError(w, domainErrors.NewValidationError("paymentId", "invalid UUID"))
		return
	}

	rec, err := h.retries.Get(r.Context(), paymentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentRetryResponse(rec))
}

func (h *InternalController) CancelPaymentRetry(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentId"))
	if err != nil {
		writeError(w, domainErrors.NewValidationError("paymentId", "invalid UUID"))
		return
	}

	var req CancelRetryRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.retries.Cancel(r.Context(), paymentID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentRetryResponse(rec))
}
