package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cassiomorais/billingsync/internal/domain/audit"
	"github.com/cassiomorais/billingsync/internal/domain/outbox"
	"github.com/cassiomorais/billingsync/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRaise_CooldownPerKey(t *testing.T) {
	c := newClock()
	cooldowns := testutil.NewMemoryCooldownStore()
	cooldowns.Now = c.Now
	outboxRepo := testutil.NewMockOutboxRepository()
	a := NewAlerter(cooldowns, outboxRepo, 30*time.Minute, zerolog.Nop(), nil)
	ctx := context.Background()

	alert := Alert{Key: "webhook_health:high_failure_rate", Title: "Failure rate 12%", Severity: audit.SeverityCritical,
		Details: map[string]any{"failure_rate": 0.12}}

	sent, err := a.Raise(ctx, alert)
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = a.Raise(ctx, alert)
	require.NoError(t, err)
	assert.False(t, sent)

	other, err := a.Raise(ctx, Alert{Key: "webhook_health:retries_exhausted", Severity: audit.SeverityWarning})
	require.NoError(t, err)
	assert.True(t, other)

	c.Advance(31 * time.Minute)
	sent, err = a.Raise(ctx, alert)
	require.NoError(t, err)
	assert.True(t, sent)

	entries := outboxRepo.ByType(outbox.NotifyOperatorAlert)
	require.Len(t, entries, 3)
	assert.Equal(t, "webhook_health:high_failure_rate", entries[0].Payload["alert"])
	assert.Equal(t, "critical", entries[0].Payload["severity"])
	assert.Equal(t, 0.12, entries[0].Payload["failure_rate"])
}

func TestRaise_CooldownOutageStillSends(t *testing.T) {
	cooldowns := testutil.NewMemoryCooldownStore()
	cooldowns.TryEnterFunc = func(ctx context.Context, key string, cooldown time.Duration) (bool, error) {
		return false, errors.New("redis: connection refused")
	}
	outboxRepo := testutil.NewMockOutboxRepository()
	a := NewAlerter(cooldowns, outboxRepo, 0, zerolog.Nop(), nil)

	sent, err := a.Raise(context.Background(), Alert{Key: "webhook_security:invalid_signature"})

	require.NoError(t, err)
	assert.True(t, sent)
	assert.Len(t, outboxRepo.ByType(outbox.NotifyOperatorAlert), 1)
}

func TestRaise_OutboxError(t *testing.T) {
	outboxRepo := testutil.NewMockOutboxRepository()
	outboxRepo.InsertFunc = func(ctx context.Context, entry *outbox.Entry) error {
		return errors.New("insert failed")
	}
	a := NewAlerter(testutil.NewMemoryCooldownStore(), outboxRepo, 0, zerolog.Nop(), nil)

	sent, err := a.Raise(context.Background(), Alert{Key: "k"})

	assert.Error(t, err)
	assert.False(t, sent)
}

func TestRaise_FailedInsertDoesNotStartCooldown(t *testing.T) {
	outboxRepo := testutil.NewMockOutboxRepository()
	outboxRepo.InsertFunc = func(ctx context.Context, entry *outbox.Entry) error {
		return errors.New("insert failed")
	}
	a := NewAlerter(testutil.NewMemoryCooldownStore(), outboxRepo, 30*time.Minute, zerolog.Nop(), nil)
	ctx := context.Background()
	alert := Alert{Key: "webhook_health:high_failure_rate", Severity: audit.SeverityCritical}

	_, err := a.Raise(ctx, alert)
	require.Error(t, err)

	outboxRepo.InsertFunc = nil
	sent, err := a.Raise(ctx, alert)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Len(t, outboxRepo.ByType(outbox.NotifyOperatorAlert), 1)
}

func TestAlertFamily(t *testing.T) {
	assert.Equal(t, "webhook_failure_burst", alertFamily("webhook_failure_burst:invoice.payment_failed"))
	assert.Equal(t, "plain", alertFamily("plain"))
}
