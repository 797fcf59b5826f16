package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/cassiomorais/billingsync/internal/dispatch"
	"github.com/cassiomorais/billingsync/internal/domain/audit"
	"github.com/cassiomorais/billingsync/internal/domain/event"
	"github.com/cassiomorais/billingsync/internal/domain/failedevent"
	"github.com/cassiomorais/billingsync/internal/domain/outbox"
	"github.com/cassiomorais/billingsync/internal/domain/payment"
	"github.com/cassiomorais/billingsync/internal/security"
	"github.com/cassiomorais/billingsync/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubValidator answers every delivery with decision and records releases.
type stubValidator struct {
	mu       sync.Mutex
	decision security.Decision
	requests []security.Request
	released []string
}

func (v *stubValidator) HasProvider(provider string) bool { return provider == "stripe" }

func (v *stubValidator) Validate(ctx context.Context, req security.Request) security.Decision {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.requests = append(v.requests, req)
	return v.decision
}

func (v *stubValidator) Release(ctx context.Context, provider, eventID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.released = append(v.released, eventID)
	return nil
}

func (e *env) ingestor(v DeliveryValidator) *Ingestor {
	i := NewIngestor(v, e.processor, e.audit, e.alerter, zerolog.Nop(), nil)
	i.now = e.clock.Now
	return i
}

func delivery(id string, kind event.Kind, object map[string]any) WebhookDelivery {
	return WebhookDelivery{
		Provider:        "stripe",
		SourceIP:        "3.18.12.63",
		SignatureHeader: "t=1,v1=abc",
		Body:            testutil.EventPayload(id, kind, time.Now(), object),
	}
}

func TestIngest_Processed(t *testing.T) {
	e := newEnv(t)
	v := &stubValidator{decision: security.Decision{Valid: true}}

	res := e.ingestor(v).Ingest(context.Background(), delivery("evt_1", event.KindInvoicePaymentSucceeded, invoiceObject("in_1")))

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "processed", res.Status)
	assert.Equal(t, "evt_1", res.EventID)
	assert.Equal(t, dispatch.OutcomeProcessed, res.Outcome)
	require.Len(t, v.requests, 1)
	assert.Equal(t, "evt_1", v.requests[0].EventID)
	assert.False(t, v.requests[0].EventTimestamp.IsZero())
}

func TestIngest_UnknownProvider(t *testing.T) {
	e := newEnv(t)
	v := &stubValidator{decision: security.Decision{Valid: true}}
	d := delivery("evt_1", event.KindInvoicePaymentSucceeded, invoiceObject("in_1"))
	d.Provider = "paypal"

	res := e.ingestor(v).Ingest(context.Background(), d)

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Empty(t, v.requests)
}

func TestIngest_Rejections(t *testing.T) {
	tests := []struct {
		reason  security.Reason
		status  int
		audited bool
		alerted bool
	}{
		{security.ReasonInvalidSignature, http.StatusBadRequest, true, true},
		{security.ReasonStaleTimestamp, http.StatusBadRequest, true, true},
		{security.ReasonSourceNotAllowed, http.StatusForbidden, true, true},
		{security.ReasonRateLimited, http.StatusTooManyRequests, false, false},
		{security.ReasonMalformed, http.StatusBadRequest, false, false},
		{security.ReasonUnavailable, http.StatusServiceUnavailable, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			e := newEnv(t)
			v := &stubValidator{decision: security.Decision{Reason: tt.reason}}

			res := e.ingestor(v).Ingest(context.Background(), delivery("evt_1", event.KindInvoicePaymentSucceeded, invoiceObject("in_1")))

			assert.Equal(t, tt.status, res.StatusCode)
			assert.Equal(t, string(tt.reason), res.Status)
			assert.Equal(t, 0, e.failedRepo.Len())
			assert.Empty(t, e.payments.All())

			rejected := e.audit.ByAction(audit.ActionWebhookRejected)
			if tt.audited {
				require.Len(t, rejected, 1)
				assert.Equal(t, audit.SeverityCritical, rejected[0].Severity)
			} else {
				assert.Empty(t, rejected)
			}
			assert.Equal(t, tt.alerted, len(e.outbox.ByType(outbox.NotifyOperatorAlert)) == 1)
		})
	}
}

func TestIngest_UnparseableBodyStillValidated(t *testing.T) {
	e := newEnv(t)
	v := &stubValidator{decision: security.Decision{Reason: security.ReasonInvalidSignature}}
	d := WebhookDelivery{Provider: "stripe", SourceIP: "3.18.12.63", Body: []byte("not json")}

	res := e.ingestor(v).Ingest(context.Background(), d)

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Len(t, v.requests, 1)
	assert.Empty(t, v.requests[0].EventID)
}

func TestIngest_Duplicate(t *testing.T) {
	e := newEnv(t)
	v := &stubValidator{decision: security.Decision{Valid: true, Duplicate: true}}

	res := e.ingestor(v).Ingest(context.Background(), delivery("evt_1", event.KindInvoicePaymentSucceeded, invoiceObject("in_1")))

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "duplicate", res.Status)
	assert.Empty(t, e.payments.All())
}

func TestIngest_HandlerFailureAcknowledged(t *testing.T) {
	e := newEnv(t)
	v := &stubValidator{decision: security.Decision{Valid: true}}
	e.payments.CreateFunc = func(ctx context.Context, p *payment.Payment) error {
		return errors.New("connection reset by peer")
	}
	ing := e.ingestor(v)

	res := ing.Ingest(context.Background(), delivery("evt_1", event.KindInvoicePaymentSucceeded, invoiceObject("in_1")))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "accepted_for_retry", res.Status)

	res = ing.Ingest(context.Background(), delivery("evt_2", "invoice.created", map[string]any{"id": "in_2"}))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "recorded", res.Status)

	assert.Equal(t, 2, e.failedRepo.Len())
	assert.Empty(t, v.released)
}

func TestIngest_UnpersistedFailureReleasesMark(t *testing.T) {
	e := newEnv(t)
	v := &stubValidator{decision: security.Decision{Valid: true}}
	e.failedRepo.UpsertFunc = func(ctx context.Context, fe *failedevent.FailedEvent) error {
		return errors.New("database is down")
	}

	res := e.ingestor(v).Ingest(context.Background(), delivery("evt_1", "invoice.created", map[string]any{}))

	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, []string{"evt_1"}, v.released)
}
