package controller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/cassiomorais/billingsync/internal/dispatch"
	"github.com/cassiomorais/billingsync/internal/domain/audit"
	"github.com/cassiomorais/billingsync/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/billingsync/internal/middleware"
	"github.com/cassiomorais/billingsync/internal/repository/postgres"
	"github.com/cassiomorais/billingsync/internal/security"
	"github.com/cassiomorais/billingsync/internal/service"
	"github.com/cassiomorais/billingsync/internal/testutil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const routerSecret = "router-test-secret-with-32-bytes!!"

type nopResponseStore struct{}

func (nopResponseStore) Get(context.Context, string) (*postgres.StoredResponse, error) { return nil, nil }
func (nopResponseStore) Save(context.Context, *postgres.StoredResponse) error { return nil }

func newTestRouter(secret string, db Pinger) http.Handler {
	ok := PingFunc(func(context.Context) error { return nil })
	if db == nil {
		db = ok
	}
	return NewRouter(RouterDeps{
		DB:               db,
		Redis:            ok,
		Ingestor:         &fakeIngestor{result: service.IngestResult{StatusCode: http.StatusOK, Status: "processed"}},
		Health:           &fakeHealth{report: &service.HealthReport{Status: service.HealthHealthy}},
		FailedEvents:     &fakeLister{},
		PaymentRetries:   &fakeRetries{},
		Checkout:         &fakeCheckout{result: &service.ConfirmResult{Outcome: dispatch.OutcomeProcessed}},
		IdempotencyStore: nopResponseStore{},
		Metrics:          observability.NewMetrics("test", prometheus.NewRegistry()),
		ExposeMetrics:    true,
		JWTSecret:        secret,
	})
}

func bearer(t *testing.T, role, company string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, customMW.Claims{
		CompanyID: company,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := token.SignedString([]byte(routerSecret))
	require.NoError(t, err)
	return "Bearer " + s
}

func TestRouter_WebhookIsPublic(t *testing.T) {
	r := newTestRouter(routerSecret, nil)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRouter_WebhookSourceComesFromTrustedProxiesOnly(t *testing.T) {
	verifier, err := security.NewVerifier("stripe", "whsec_router_test", 5*time.Minute)
	require.NoError(t, err)
	validator, err := security.NewValidator(security.Options{
		AllowedCIDRs:    []string{"3.18.12.63/32"},
		PastTolerance:   300 * time.Second,
		FutureTolerance: 60 * time.Second,
		IdempotencyTTL:  24 * time.Hour,
		Verifiers:       map[string]security.Verifier{"stripe": verifier},
	}, testutil.NewCountingLimiter(100), testutil.NewMemoryEventStore(), zerolog.Nop(), nil)
	require.NoError(t, err)
	auditRepo := testutil.NewMockAuditRepository()

	r := NewRouter(RouterDeps{
		DB:               PingFunc(func(context.Context) error { return nil }),
		Redis:            PingFunc(func(context.Context) error { return nil }),
		Ingestor:         service.NewIngestor(validator, nil, auditRepo, nil, zerolog.Nop(), nil),
		Health:           &fakeHealth{report: &service.HealthReport{Status: service.HealthHealthy}},
		FailedEvents:     &fakeLister{},
		PaymentRetries:   &fakeRetries{},
		Checkout:         &fakeCheckout{},
		IdempotencyStore: nopResponseStore{},
		Metrics:          observability.NewMetrics("test", prometheus.NewRegistry()),
		TrustedProxies:   []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")},
	})

	tests := []struct {
		name     string
		remote   string
		wantCode int
	}{
		// The header names an allowed address but the peer is not a proxy.
		{"spoofed header from direct caller", "203.0.113.66:4444", http.StatusForbidden},
		// Through a trusted proxy the header is honoured; the unsigned body
		// then fails the signature check instead of the source check.
		{"forwarded by trusted proxy", "10.1.2.3:5000", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
			req.RemoteAddr = tt.remote
			req.Header.Set("X-Real-IP", "3.18.12.63")
			req.Header.Set("X-Forwarded-For", "3.18.12.63")
			rec := httptest.NewRecorder()

			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}

	rejected := auditRepo.ByAction(audit.ActionWebhookRejected)
	require.Len(t, rejected, 2)
	assert.Equal(t, "203.0.113.66", rejected[0].Metadata["source_ip"])
	assert.Equal(t, "3.18.12.63", rejected[1].Metadata["source_ip"])
}

func TestRouter_InternalRequiresOperator(t *testing.T) {
	r := newTestRouter(routerSecret, nil)

	tests := []struct {
		name     string
		auth     string
		wantCode int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"customer token", bearer(t, "customer", "c1"), http.StatusForbidden},
		{"operator token", bearer(t, customMW.RoleOperator, ""), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/internal/webhook-health", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestRouter_InternalOpenWithoutSecret(t *testing.T) {
	r := newTestRouter("", nil)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/failed-events", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_CheckoutConfirmRequiresToken(t *testing.T) {
	r := newTestRouter(routerSecret, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/checkout/confirm", strings.NewReader(`{"session_id":"cs_1"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/confirm", strings.NewReader(`{"session_id":"cs_1"}`))
	req.Header.Set("Authorization", bearer(t, "customer", "c1"))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(routerSecret, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Readiness(t *testing.T) {
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	newTestRouter(routerSecret, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	newTestRouter(routerSecret, down).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"not ready","checks":{"database":"unavailable","redis":"ok"}}`, rec.Body.String())
}
