package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cassiomorais/billingsync/internal/dispatch"
	"github.com/cassiomorais/billingsync/internal/domain/audit"
	"github.com/cassiomorais/billingsync/internal/domain/event"
	"github.com/cassiomorais/billingsync/internal/domain/failedevent"
	"github.com/cassiomorais/billingsync/internal/domain/outbox"
	"github.com/cassiomorais/billingsync/internal/domain/payment"
	"github.com/cassiomorais/billingsync/internal/domain/paymentretry"
	"github.com/cassiomorais/billingsync/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invoiceObject(invoiceID string) map[string]any {
	return map[string]any{
		"id":          invoiceID,
		"customer":    "cus_C1",
		"amount_due":  4900,
		"amount_paid": 4900,
		"currency":    "usd",
		"metadata":    map[string]any{"company_id": "C1"},
	}
}

func failedInvoiceObject(invoiceID, code string) map[string]any {
	obj := invoiceObject(invoiceID)
	obj["last_payment_error"] = map[string]any{"decline_code": code, "message": "Your card was declined."}
	return obj
}

func (e *env) process(t *testing.T, id string, kind event.Kind, object map[string]any) dispatch.Result {
	t.Helper()
	res, err := e.processor.Process(context.Background(), testutil.NewInbound(id, kind, object))
	require.NoError(t, err)
	return res
}

func (e *env) paymentByInvoice(t *testing.T, invoiceID string) *payment.Payment {
	t.Helper()
	p, err := e.payments.GetByGatewayRef(context.Background(), invoiceID)
	require.NoError(t, err)
	return p
}

func TestProcess_SuccessRecordsDelivery(t *testing.T) {
	e := newEnv(t)

	res := e.process(t, "evt_1", event.KindInvoicePaymentSucceeded, invoiceObject("in_1"))

	require.Equal(t, dispatch.OutcomeProcessed, res.Outcome, res.Message)
	d, ok := e.deliveries.Get("evt_1")
	require.True(t, ok)
	assert.Equal(t, "processed", d.Outcome)
	assert.Equal(t, string(event.KindInvoicePaymentSucceeded), d.Kind)
	assert.Equal(t, 0, e.failedRepo.Len())
}

func TestProcess_TransientFailureStoredForRetry(t *testing.T) {
	e := newEnv(t)
	e.payments.CreateFunc = func(ctx context.Context, p *payment.Payment) error {
		return errors.New("connection reset by peer")
	}

	res := e.process(t, "evt_1", event.KindInvoicePaymentSucceeded, invoiceObject("in_1"))

	assert.Equal(t, dispatch.FailureTransient, res.Failure)
	fe, err := e.failedRepo.Get(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.Equal(t, 1, fe.RetryCount)
	require.NotNil(t, fe.NextRetryAt)
	assert.Equal(t, e.clock.Now().Add(failedevent.DefaultInitialBackoff), *fe.NextRetryAt)
	assert.Equal(t, string(dispatch.FailureTransient), fe.FailureKind)
	assert.Len(t, e.audit.ByAction(audit.ActionWebhookFailed), 1)

	d, ok := e.deliveries.Get("evt_1")
	require.True(t, ok)
	assert.True(t, d.Failed())
}

func TestProcess_UnsupportedKinds(t *testing.T) {
	tests := []struct {
		name     string
		kind     event.Kind
		severity audit.Severity
	}{
		{"known unhandled", "invoice.created", audit.SeverityInfo},
		{"unknown", "radar.early_fraud_warning.created", audit.SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)

			res := e.process(t, "evt_1", tt.kind, map[string]any{"id": "obj_1"})

			assert.Equal(t, dispatch.FailureUnsupportedKind, res.Failure)
			fe, err := e.failedRepo.Get(context.Background(), "evt_1")
			require.NoError(t, err)
			assert.True(t, fe.Exhausted())
			assert.Nil(t, fe.NextRetryAt)

			entries := e.audit.ByAction(audit.ActionWebhookUnsupported)
			require.Len(t, entries, 1)
			assert.Equal(t, tt.severity, entries[0].Severity)
			assert.Empty(t, e.audit.ByAction(audit.ActionWebhookRetryExhausted))
		})
	}
}

func TestProcess_PersistFailureIsReturned(t *testing.T) {
	e := newEnv(t)
	e.failedRepo.UpsertFunc = func(ctx context.Context, fe *failedevent.FailedEvent) error {
		return errors.New("database is down")
	}

	_, err := e.processor.Process(context.Background(), testutil.NewInbound("evt_1", "invoice.created", map[string]any{}))

	assert.Error(t, err)
}

func TestProcess_SettleLogsCarryEventFields(t *testing.T) {
	e := newEnv(t)
	var buf bytes.Buffer
	e.processor.logger = zerolog.New(&buf)
	e.failedRepo.UpsertFunc = func(ctx context.Context, fe *failedevent.FailedEvent) error {
		return errors.New("database is down")
	}
	e.deliveries.RecordFunc = func(ctx context.Context, d *event.Delivery) error {
		return errors.New("ledger unavailable")
	}

	_, err := e.processor.Process(context.Background(), testutil.NewInbound("evt_9", "invoice.created", map[string]any{}))
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, `"message":"Failed to record delivery"`)
	assert.Contains(t, out, `"message":"Failed to persist webhook failure"`)
	assert.Contains(t, out, `"event_id":"evt_9"`)
	assert.Contains(t, out, `"event_kind":"invoice.created"`)
}

func TestProcess_SuccessClearsEarlierFailure(t *testing.T) {
	e := newEnv(t)
	e.payments.CreateFunc = func(ctx context.Context, p *payment.Payment) error {
		return errors.New("connection reset by peer")
	}
	e.process(t, "evt_1", event.KindInvoicePaymentSucceeded, invoiceObject("in_1"))
	require.Equal(t, 1, e.failedRepo.Len())

	e.payments.CreateFunc = nil
	res := e.process(t, "evt_1", event.KindInvoicePaymentSucceeded, invoiceObject("in_1"))

	assert.True(t, res.OK())
	assert.Equal(t, 0, e.failedRepo.Len())
}

func TestProcess_FailureBurstAlertsOnce(t *testing.T) {
	e := newEnv(t)
	e.payments.CreateFunc = func(ctx context.Context, p *payment.Payment) error {
		return errors.New("connection reset by peer")
	}

	for _, id := range []string{"evt_1", "evt_2", "evt_3", "evt_4"} {
		e.process(t, id, event.KindInvoicePaymentSucceeded, invoiceObject("in_"+id))
	}
	assert.Empty(t, e.outbox.ByType(outbox.NotifyOperatorAlert))

	e.process(t, "evt_5", event.KindInvoicePaymentSucceeded, invoiceObject("in_5"))
	e.process(t, "evt_6", event.KindInvoicePaymentSucceeded, invoiceObject("in_6"))

	alerts := e.outbox.ByType(outbox.NotifyOperatorAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, "webhook_failure_burst:"+string(event.KindInvoicePaymentSucceeded), alerts[0].Payload["alert"])
}

// --- Invoice failure through the webhook path ---

func TestWebhook_DeclineRetriedUntilExhausted(t *testing.T) {
	e := newEnv(t, declined("card_declined"), declined("card_declined"), declined("card_declined"))
	ctx := context.Background()

	res := e.process(t, "evt_1", event.KindInvoicePaymentFailed, failedInvoiceObject("in_1", "card_declined"))
	require.Equal(t, dispatch.OutcomeProcessed, res.Outcome, res.Message)

	p := e.paymentByInvoice(t, "in_1")
	assert.Equal(t, payment.StatusRetryScheduled, p.Status)

	for i := 0; i < 3; i++ {
		e.clock.Advance(25 * time.Hour)
		n, err := e.retries.SweepDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}

	assert.Len(t, e.gateway.Charges(), 3)
	assert.Equal(t, payment.StatusFailed, e.paymentByInvoice(t, "in_1").Status)
	rec, err := e.retriesRepo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentretry.StatusExhausted, rec.Status)
	assert.Len(t, e.outbox.ByType(outbox.NotifyRetriesExhausted), 1)

	// The gateway's own final failure notice changes nothing.
	res = e.process(t, "evt_2", event.KindInvoicePaymentFailed, failedInvoiceObject("in_1", "card_declined"))
	assert.True(t, res.OK())
	assert.Len(t, e.outbox.ByType(outbox.NotifyRetriesExhausted), 1)
}

func TestWebhook_PermanentDeclineFailsImmediately(t *testing.T) {
	e := newEnv(t)

	res := e.process(t, "evt_1", event.KindInvoicePaymentFailed, failedInvoiceObject("in_1", "expired_card"))
	require.Equal(t, dispatch.OutcomeProcessed, res.Outcome, res.Message)

	p := e.paymentByInvoice(t, "in_1")
	assert.Equal(t, payment.StatusFailed, p.Status)
	_, err := e.retriesRepo.Get(context.Background(), p.ID)
	assert.Error(t, err)

	notes := e.outbox.ByType(outbox.NotifyPaymentFailed)
	require.Len(t, notes, 1)
	assert.Equal(t, false, notes[0].Payload["retry_available"])
}

func TestWebhook_PaymentSucceededClosesRetry(t *testing.T) {
	e := newEnv(t)

	e.process(t, "evt_1", event.KindInvoicePaymentFailed, failedInvoiceObject("in_1", "insufficient_funds"))
	res := e.process(t, "evt_2", event.KindInvoicePaymentSucceeded, invoiceObject("in_1"))
	require.Equal(t, dispatch.OutcomeProcessed, res.Outcome, res.Message)

	p := e.paymentByInvoice(t, "in_1")
	assert.Equal(t, payment.StatusSucceeded, p.Status)
	rec, err := e.retriesRepo.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentretry.StatusCompleted, rec.Status)
	assert.Len(t, e.outbox.ByType(outbox.NotifyPaymentRecovered), 1)
}
