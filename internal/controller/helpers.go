package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var validate = validator.New()

type errorMapping struct {
	err    error
	status int
	code   string
	// retryAfter, when set, is sent as Retry-After in seconds.
	retryAfter int
}

var errorMappings = []errorMapping{
	{domainErrors.ErrPaymentNotFound, http.StatusNotFound, "not_found", 0},
	{domainErrors.ErrSubscriptionNotFound, http.StatusNotFound, "not_found", 0},
	{domainErrors.ErrRetryNotFound, http.StatusNotFound, "not_found", 0},
	{domainErrors.ErrFailedEventNotFound, http.StatusNotFound, "not_found", 0},
	{domainErrors.ErrUnknownProvider, http.StatusNotFound, "unknown_provider", 0},
	{domainErrors.ErrRetryTerminal, http.StatusConflict, "retry_terminal", 0},
	{domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition", 0},
	{domainErrors.ErrActiveSubscriptionExists, http.StatusConflict, "active_subscription_exists", 0},
	{domainErrors.ErrDuplicateIdempotencyKey, http.StatusConflict, "duplicate_request", 0},
	{domainErrors.ErrLockTimeout, http.StatusConflict, "busy", 1},
	{domainErrors.ErrUnauthorized, http.StatusForbidden, "forbidden", 0},
	{domainErrors.ErrGatewayUnavailable, http.StatusServiceUnavailable, "gateway_unavailable", 30},
	{domainErrors.ErrGatewayTimeout, http.StatusServiceUnavailable, "gateway_unavailable", 30},
	{domainErrors.ErrStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable", 5},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}

	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		resp.Code = "validation_error"
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			resp.Code = m.code
			if m.retryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(m.retryAfter))
			}
			if m.err == domainErrors.ErrLockTimeout {
				resp.Error = "resource is busy, please retry"
			}
			writeJSON(w, m.status, resp)
			return
		}
	}

	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		resp.Code = domainErr.Code
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	log.Error().Err(err).Msg("unhandled error in handler")
	resp.Code = "internal_error"
	resp.Error = "internal server error"
	writeJSON(w, http.StatusInternalServerError, resp)
}

func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			return domainErrors.NewValidationError(ve[0].Field(), ve[0].Tag()+" validation failed")
		}
		return domainErrors.NewValidationError("body", err.Error())
	}
	return nil
}
