package controller

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload any
		want    string
	}{
		{"webhook ack", http.StatusOK, WebhookResponse{Status: "processed", EventID: "evt_1"}, `{"status":"processed","event_id":"evt_1"}`},
		{"checkout", http.StatusOK, ConfirmCheckoutResponse{Outcome: "warning", Message: "already active"}, `{"outcome":"warning","message":"already active"}`},
		{"error", http.StatusBadRequest, ErrorResponse{Error: "bad request", Code: "validation_error"}, `{"error":"bad request","code":"validation_error"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeJSON(w, tt.status, tt.payload)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.want, w.Body.String())
		})
	}
}

func TestWriteError_ValidationError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, domainErrors.NewValidationError("limit", "must be between 1 and 200"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "validation_error", response.Code)
	assert.Contains(t, response.Error, "limit")
}

func TestWriteError_DomainErrors(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{"payment not found", domainErrors.ErrPaymentNotFound, http.StatusNotFound, "not_found"},
		{"retry not found", domainErrors.ErrRetryNotFound, http.StatusNotFound, "not_found"},
		{"wrapped not found", fmt.Errorf("get retry: %w", domainErrors.ErrRetryNotFound), http.StatusNotFound, "not_found"},
		{"retry terminal", domainErrors.ErrRetryTerminal, http.StatusConflict, "retry_terminal"},
		{"invalid state transition", domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
		{"active subscription", domainErrors.ErrActiveSubscriptionExists, http.StatusConflict, "active_subscription_exists"},
		{"lock timeout", domainErrors.ErrLockTimeout, http.StatusConflict, "busy"},
		{"gateway unavailable", domainErrors.ErrGatewayUnavailable, http.StatusServiceUnavailable, "gateway_unavailable"},
		{"gateway timeout", domainErrors.ErrGatewayTimeout, http.StatusServiceUnavailable, "gateway_unavailable"},
		{
			"company mismatch",
			domainErrors.NewDomainError("checkout_company_mismatch", "belongs to another company", domainErrors.ErrUnauthorized),
			http.StatusForbidden,
			"forbidden",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, tt.err)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var response ErrorResponse
			err := json.NewDecoder(w.Body).Decode(&response)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedCode, response.Code)
		})
	}
}

func TestWriteError_LockTimeout_CustomMessage(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, domainErrors.ErrLockTimeout)

	var response ErrorResponse
	json.NewDecoder(w.Body).Decode(&response)
	assert.Equal(t, "resource is busy, please retry", response.Error)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestWriteError_RetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, fmt.Errorf("charge: %w", domainErrors.ErrGatewayUnavailable))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))

	w = httptest.NewRecorder()
	writeError(w, domainErrors.ErrPaymentNotFound)
	assert.Empty(t, w.Header().Get("Retry-After"))
}

func TestWriteError_GenericDomainError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, domainErrors.NewDomainError("plan_mismatch", "checkout plan does not match subscription", nil))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "plan_mismatch", response.Code)
	assert.Equal(t, "checkout plan does not match subscription", response.Error)
}

func TestWriteError_RawErrorsAreHidden(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, errors.New(`pq: relation "payments" does not exist`))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "relation")
	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "internal_error", response.Code)
}

func TestDecodeAndValidate_ConfirmCheckout(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/confirm", strings.NewReader(`{"session_id":"cs_test_123"}`))

	var body ConfirmCheckoutRequest
	require.NoError(t, decodeAndValidate(req, &body))
	assert.Equal(t, "cs_test_123", body.SessionID)
}

func TestDecodeAndValidate_Failures(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		dst       any
		wantField string
		wantMsg   string
	}{
		{"malformed json", `{session_id}`, &ConfirmCheckoutRequest{}, "body", "invalid JSON"},
		{"empty body", ``, &ConfirmCheckoutRequest{}, "body", "invalid JSON"},
		{"missing session", `{"session_id":""}`, &ConfirmCheckoutRequest{}, "SessionID", "required validation failed"},
		{"missing reason", `{}`, &CancelRetryRequest{}, "Reason", "required validation failed"},
		{"reason too long", `{"reason":"` + strings.Repeat("x", 501) + `"}`, &CancelRetryRequest{}, "Reason", "max validation failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(tt.body))

			err := decodeAndValidate(req, tt.dst)

			var validationErr *domainErrors.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.wantField, validationErr.Field)
			assert.Contains(t, validationErr.Message, tt.wantMsg)
		})
	}
}
