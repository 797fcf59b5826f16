package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cassiomorais/billingsync/internal/domain/audit"
	"github.com/cassiomorais/billingsync/internal/domain/event"
	"github.com/cassiomorais/billingsync/internal/domain/failedevent"
	"github.com/cassiomorais/billingsync/internal/domain/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *env) failPaymentWrites() {
	e.payments.CreateFunc = func(ctx context.Context, p *payment.Payment) error {
		return errors.New("connection reset by peer")
	}
}

func TestSweep_RecoversAfterTransientFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.failPaymentWrites()
	e.process(t, "evt_1", event.KindInvoicePaymentSucceeded, invoiceObject("in_1"))

	// Not due yet.
	report, err := e.webhookSweep.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, report)

	e.payments.CreateFunc = nil
	e.clock.Advance(failedevent.DefaultInitialBackoff)
	report, err = e.webhookSweep.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Due: 1, Recovered: 1}, report)

	assert.Equal(t, 0, e.failedRepo.Len())
	assert.Equal(t, payment.StatusSucceeded, e.paymentByInvoice(t, "in_1").Status)
	d, ok := e.deliveries.Get("evt_1")
	require.True(t, ok)
	assert.False(t, d.Failed())
}

func TestSweep_BacksOffAndExhausts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.failPaymentWrites()
	e.process(t, "evt_1", event.KindInvoicePaymentSucceeded, invoiceObject("in_1"))

	var last *failedevent.FailedEvent
	for i := 0; i < failedevent.DefaultMaxRetries-1; i++ {
		e.clock.Advance(failedevent.DefaultMaxBackoff)
		report, err := e.webhookSweep.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Failed)

		fe, err := e.failedRepo.Get(ctx, "evt_1")
		require.NoError(t, err)
		if last != nil && fe.NextRetryAt != nil {
			assert.True(t, fe.NextRetryAt.Sub(fe.LastFailedAt) >= last.NextRetryAt.Sub(last.LastFailedAt))
		}
		last = fe
	}

	assert.True(t, last.Exhausted())
	assert.Equal(t, failedevent.DefaultMaxRetries, last.RetryCount)
	assert.Len(t, e.audit.ByAction(audit.ActionWebhookRetryExhausted), 1)

	e.clock.Advance(failedevent.DefaultMaxBackoff)
	report, err := e.webhookSweep.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Due)
}

func TestSweep_SkipsRecordSettledMeanwhile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.failPaymentWrites()
	e.process(t, "evt_1", event.KindInvoicePaymentSucceeded, invoiceObject("in_1"))
	e.clock.Advance(failedevent.DefaultInitialBackoff)

	due, err := e.failedRepo.ListDue(ctx, e.clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	// A redelivery already applied the event.
	e.payments.CreateFunc = nil
	e.process(t, "evt_1", event.KindInvoicePaymentSucceeded, invoiceObject("in_1"))

	_, ran, err := e.processor.Replay(ctx, due[0])
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestCleanup_RemovesOldExhausted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.process(t, "evt_old", "invoice.created", map[string]any{})
	e.clock.Advance(31 * 24 * time.Hour)
	e.process(t, "evt_new", "invoice.created", map[string]any{})

	n, err := e.webhookSweep.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = e.failedRepo.Get(ctx, "evt_new")
	assert.NoError(t, err)
}

func TestList_ClampsLimit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for _, id := range []string{"evt_1", "evt_2", "evt_3"} {
		e.process(t, id, "invoice.created", map[string]any{})
		e.clock.Advance(time.Minute)
	}

	out, err := e.webhookSweep.List(ctx, failedevent.ListFilter{Limit: 1000})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "evt_3", out[0].EventID)

	out, err = e.webhookSweep.List(ctx, failedevent.ListFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "evt_1", out[0].EventID)
}
