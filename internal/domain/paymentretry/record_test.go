package paymentretry_test

import (
	"testing"
	"time"

	"github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/domain/paymentretry"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"card_declined", true},
		{"insufficient_funds", true},
		{"processing_error", true},
		{"authentication_required", true},
		{"generic_decline", true},
		{" CARD_DECLINED ", true},
		{"expired_card", false},
		{"stolen_card", false},
		{"invalid_cvc", false},
		{"security_violation", false},
		{"something_new", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, paymentretry.IsRetryable(tt.code))
		})
	}
}

func TestIsKnownCode(t *testing.T) {
	assert.True(t, paymentretry.IsKnownCode("stolen_card"))
	assert.True(t, paymentretry.IsKnownCode("card_declined"))
	assert.False(t, paymentretry.IsKnownCode("something_new"))
}

func TestPolicy_Delay(t *testing.T) {
	p := paymentretry.DefaultPolicy()

	assert.Equal(t, 60*time.Minute, p.Delay(0))
	assert.Equal(t, 120*time.Minute, p.Delay(1))
	assert.Equal(t, 240*time.Minute, p.Delay(2))
	assert.Equal(t, 24*time.Hour, p.Delay(10))

	prev := time.Duration(0)
	for n := 0; n < 40; n++ {
		d := p.Delay(n)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, p.MaxDelay)
		prev = d
	}
}

func TestRecord_AttemptsUntilExhausted(t *testing.T) {
	now := time.Now().UTC()
	p := paymentretry.DefaultPolicy()
	r := paymentretry.NewRecord(uuid.New(), p, now)

	require.True(t, r.ScheduleNext("card_declined", "declined", p, now))
	require.NotNil(t, r.NextRetryAt)
	assert.Equal(t, now.Add(time.Hour), *r.NextRetryAt)

	for attempt := 1; attempt <= 3; attempt++ {
		at := *r.NextRetryAt
		require.NoError(t, r.BeginAttempt(at))
		assert.Equal(t, attempt, r.AttemptCount)
		scheduled := r.ScheduleNext("card_declined", "declined", p, at)
		if attempt < 3 {
			assert.True(t, scheduled)
		} else {
			assert.False(t, scheduled)
		}
	}

	assert.Equal(t, paymentretry.StatusExhausted, r.Status)
	assert.Nil(t, r.NextRetryAt)
	assert.ErrorIs(t, r.BeginAttempt(now.Add(48*time.Hour)), errors.ErrRetryTerminal)
}

func TestRecord_WindowExhausts(t *testing.T) {
	created := time.Now().UTC()
	p := paymentretry.DefaultPolicy()
	p.MaxAttempts = 100
	r := paymentretry.NewRecord(uuid.New(), p, created)

	scheduled := r.ScheduleNext("card_declined", "declined", p, created.Add(6*24*time.Hour+23*time.Hour+30*time.Minute))
	assert.False(t, scheduled)
	assert.Equal(t, paymentretry.StatusExhausted, r.Status)
}

func TestRecord_BeginAttemptNotDue(t *testing.T) {
	now := time.Now().UTC()
	p := paymentretry.DefaultPolicy()
	r := paymentretry.NewRecord(uuid.New(), p, now)
	require.True(t, r.ScheduleNext("card_declined", "declined", p, now))

	assert.ErrorIs(t, r.BeginAttempt(now.Add(time.Minute)), errors.ErrRetryNotDue)
	assert.Equal(t, 0, r.AttemptCount)
}

func TestRecord_TerminalStatesAreSinks(t *testing.T) {
	now := time.Now().UTC()
	p := paymentretry.DefaultPolicy()

	completed := paymentretry.NewRecord(uuid.New(), p, now)
	require.NoError(t, completed.Complete(now))

	cancelled := paymentretry.NewRecord(uuid.New(), p, now)
	require.NoError(t, cancelled.Cancel(now))

	exhausted := paymentretry.NewRecord(uuid.New(), p, now)
	exhausted.Fail("stolen_card", "stolen", now)

	for _, r := range []*paymentretry.Record{completed, cancelled, exhausted} {
		status := r.Status
		assert.True(t, status.IsTerminal())
		assert.ErrorIs(t, r.BeginAttempt(now), errors.ErrRetryTerminal)
		assert.ErrorIs(t, r.Cancel(now), errors.ErrRetryTerminal)
		assert.ErrorIs(t, r.Complete(now), errors.ErrRetryTerminal)
		assert.False(t, r.Due(now.Add(30*24*time.Hour)))
		assert.Equal(t, status, r.Status)
	}
}
