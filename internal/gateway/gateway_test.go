package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/infrastructure/config"
	"github.com/cassiomorais/billingsync/internal/infrastructure/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *HTTPClient {
	return NewHTTPClient(config.GatewayConfig{
		BaseURL:    url,
		APIKey:     "sk_test",
		Timeout:    time.Second,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	}, zerolog.Nop())
}

func TestHTTPClient_ChargeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/invoices/in_1/pay", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "retry-pay-1", r.Header.Get("Idempotency-Key"))
		w.Write([]byte(`{"id":"in_1","status":"paid","charge":"ch_9"}`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Charge(context.Background(), ChargeRequest{InvoiceID: "in_1", IdempotencyKey: "retry-pay-1"})
	require.NoError(t, err)
	assert.Equal(t, "ch_9", res.ChargeID)
	assert.Equal(t, "paid", res.Status)
}

func TestHTTPClient_DeclineCarriesCode(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"Your card has insufficient funds."}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Charge(context.Background(), ChargeRequest{InvoiceID: "in_1"})

	var gwErr *domainErrors.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "insufficient_funds", gwErr.Code)
	assert.ErrorIs(t, err, domainErrors.ErrGatewayRejected)
	assert.Equal(t, int32(1), calls.Load(), "declines are not retried")
}

func TestHTTPClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"id":"in_1","status":"paid","charge":"ch_1"}`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Charge(context.Background(), ChargeRequest{InvoiceID: "in_1"})
	require.NoError(t, err)
	assert.Equal(t, "ch_1", res.ChargeID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_PersistentOutageIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Charge(context.Background(), ChargeRequest{InvoiceID: "in_1"})
	assert.ErrorIs(t, err, domainErrors.ErrGatewayUnavailable)
}

func TestHTTPClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such invoice"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Charge(context.Background(), ChargeRequest{InvoiceID: "in_missing"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, domainErrors.ErrGatewayUnavailable))
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPClient_RetrieveCheckoutSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions/cs_1", r.URL.Path)
		w.Write([]byte(`{"id":"cs_1","client_reference_id":"C1","subscription":"sub_1","customer":"cus_1",
			"amount_total":4900,"currency":"usd","status":"complete","payment_status":"paid",
			"metadata":{"plan_id":"P1"},"customer_details":{"email":"a@b.co"}}`))
	}))
	defer srv.Close()

	s, err := newTestClient(srv.URL).RetrieveCheckoutSession(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "C1", s.CompanyID)
	assert.Equal(t, "P1", s.PlanID)
	assert.Equal(t, "sub_1", s.SubscriptionID)
	assert.True(t, s.Paid)
	assert.True(t, s.Complete)
	assert.Equal(t, "a@b.co", s.CustomerEmail)
}

func TestBreaker_OpensOnConsecutiveOutages(t *testing.T) {
	outage := errors.New("dial tcp")
	mock := NewMockClient("stripe", WithLatency(0), WithScript(
		wrapUnavailable(outage), wrapUnavailable(outage), wrapUnavailable(outage),
	))
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	b := NewBreaker(mock, BreakerSettings{ConsecutiveFailures: 3, OpenTimeout: time.Minute}, zerolog.Nop(), metrics)

	for i := 0; i < 3; i++ {
		_, err := b.Charge(context.Background(), ChargeRequest{InvoiceID: "in_1"})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Charge(context.Background(), ChargeRequest{InvoiceID: "in_1"})
	assert.ErrorIs(t, err, domainErrors.ErrGatewayUnavailable)
	assert.Len(t, mock.Charges(), 3, "open breaker short-circuits")
}

func TestBreaker_DeclinesDoNotTrip(t *testing.T) {
	decline := &domainErrors.GatewayError{Code: "card_declined"}
	mock := NewMockClient("stripe", WithLatency(0), WithScript(decline, decline, decline, decline))
	b := NewBreaker(mock, BreakerSettings{ConsecutiveFailures: 2}, zerolog.Nop(), nil)

	for i := 0; i < 4; i++ {
		_, err := b.Charge(context.Background(), ChargeRequest{InvoiceID: "in_1"})
		var gwErr *domainErrors.GatewayError
		require.ErrorAs(t, err, &gwErr)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func wrapUnavailable(err error) error {
	return errors.Join(err, domainErrors.ErrGatewayUnavailable)
}

func TestMockClient_ScriptThenRandom(t *testing.T) {
	decline := &domainErrors.GatewayError{Code: "insufficient_funds"}
	mock := NewMockClient("stripe", WithLatency(0), WithFailureRate(0), WithScript(decline, nil))

	_, err := mock.Charge(context.Background(), ChargeRequest{})
	assert.ErrorAs(t, err, &decline)

	res, err := mock.Charge(context.Background(), ChargeRequest{})
	require.NoError(t, err)
	assert.Equal(t, "paid", res.Status)

	res, err = mock.Charge(context.Background(), ChargeRequest{})
	require.NoError(t, err)
	assert.Contains(t, res.ChargeID, "ch_stripe_")
}

func TestMockClient_AlwaysDeclines(t *testing.T) {
	mock := NewMockClient("stripe", WithLatency(0), WithFailureRate(1.0), WithDeclineCode("expired_card"))

	_, err := mock.Charge(context.Background(), ChargeRequest{InvoiceID: "in_1"})
	var gwErr *domainErrors.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "expired_card", gwErr.Code)
}

func TestMockClient_RetrieveCheckoutSession(t *testing.T) {
	s, err := NewMockClient("stripe", WithLatency(0)).RetrieveCheckoutSession(context.Background(), "cs_acme_pro")
	require.NoError(t, err)
	assert.Equal(t, "acme", s.CompanyID)
	assert.Equal(t, "pro", s.PlanID)
}

func TestMockClient_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMockClient("stripe", WithLatency(time.Second)).Charge(ctx, ChargeRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}
