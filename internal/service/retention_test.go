package service

import (
	"context"
	"testing"
	"time"

	"github.com/cassiomorais/billingsync/internal/domain/audit"
	"github.com/cassiomorais/billingsync/internal/domain/event"
	"github.com/cassiomorais/billingsync/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetention_RedactAndPurge(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	auditRepo := testutil.NewMockAuditRepository()
	deliveries := testutil.NewMockDeliveryRepository()

	old := audit.NewEntry(audit.ActionSubscriptionCreated, audit.SeverityInfo,
		map[string]string{"company_id": "C1"},
		map[string]any{"customer_email": "owner@example.com", "plan_id": "P1"})
	old.CreatedAt = c.Now().Add(-100 * 24 * time.Hour)
	ancient := audit.NewEntry(audit.ActionPaymentSucceeded, audit.SeverityInfo, nil, nil)
	ancient.CreatedAt = c.Now().Add(-8 * 365 * 24 * time.Hour)
	fresh := audit.NewEntry(audit.ActionSubscriptionCreated, audit.SeverityInfo, nil,
		map[string]any{"customer_email": "new@example.com"})
	fresh.CreatedAt = c.Now()
	for _, e := range []*audit.Entry{old, ancient, fresh} {
		require.NoError(t, auditRepo.Append(ctx, e))
	}
	require.NoError(t, deliveries.Record(ctx, &event.Delivery{EventID: "evt_old", Kind: "invoice.paid", ProcessedAt: c.Now().Add(-9 * 24 * time.Hour)}))
	require.NoError(t, deliveries.Record(ctx, &event.Delivery{EventID: "evt_new", Kind: "invoice.paid", ProcessedAt: c.Now()}))

	svc := NewRetentionService(auditRepo, deliveries, 0, 0, zerolog.Nop())
	svc.now = c.Now

	redacted, err := svc.Redact(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), redacted)

	purged, err := svc.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	created := auditRepo.ByAction(audit.ActionSubscriptionCreated)
	require.Len(t, created, 2)
	for _, e := range created {
		if e.ID == fresh.ID {
			assert.Equal(t, "new@example.com", e.Metadata["customer_email"])
			assert.Nil(t, e.RedactedAt)
		} else {
			assert.Equal(t, "[redacted]", e.Metadata["customer_email"])
			assert.Equal(t, "P1", e.Metadata["plan_id"])
			assert.NotNil(t, e.RedactedAt)
		}
	}
	_, ok := deliveries.Get("evt_old")
	assert.False(t, ok)
	_, ok = deliveries.Get("evt_new")
	assert.True(t, ok)
}
