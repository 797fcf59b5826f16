package payment_test

import (
	"testing"
	"time"

	"github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/domain/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingPayment(t *testing.T) *payment.Payment {
	t.Helper()
	p, err := payment.New("company-1", "in_123", payment.Amount{ValueCents: 4900, Currency: "USD"})
	require.NoError(t, err)
	return p
}

func TestNew_Valid(t *testing.T) {
	p := newPendingPayment(t)
	assert.Equal(t, payment.StatusPending, p.Status)
	assert.Equal(t, "in_123", p.GatewayRef)
	assert.Equal(t, int64(4900), p.Amount.ValueCents)
	assert.NotNil(t, p.Metadata)
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		company string
		ref     string
		amount  payment.Amount
	}{
		{"negative amount", "c1", "in_1", payment.Amount{ValueCents: -1, Currency: "USD"}},
		{"bad currency", "c1", "in_1", payment.Amount{ValueCents: 100, Currency: "US"}},
		{"missing ref", "c1", "", payment.Amount{ValueCents: 100, Currency: "USD"}},
		{"missing company", "", "in_1", payment.Amount{ValueCents: 100, Currency: "USD"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := payment.New(tt.company, tt.ref, tt.amount)
			var ve *errors.ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
}

func TestAmount_String(t *testing.T) {
	assert.Equal(t, "100.50 USD", payment.Amount{ValueCents: 10050, Currency: "USD"}.String())
	assert.Equal(t, "0.00 EUR", payment.Amount{ValueCents: 0, Currency: "EUR"}.String())
}

func TestMarkSucceeded_ClearsFailure(t *testing.T) {
	p := newPendingPayment(t)
	require.NoError(t, p.MarkRetryScheduled("card_declined", "declined"))
	require.NotNil(t, p.FailureCode)

	paidAt := time.Now().UTC()
	require.NoError(t, p.MarkSucceeded(paidAt))
	assert.Equal(t, payment.StatusSucceeded, p.Status)
	assert.Nil(t, p.FailureCode)
	assert.Nil(t, p.FailureMessage)
	assert.Equal(t, &paidAt, p.PaidAt)
}

func TestMarkFailed_RecordsCode(t *testing.T) {
	p := newPendingPayment(t)
	require.NoError(t, p.MarkFailed("stolen_card", "card reported stolen"))
	assert.Equal(t, payment.StatusFailed, p.Status)
	assert.Equal(t, "stolen_card", *p.FailureCode)
}

func TestRefunded_IsTerminal(t *testing.T) {
	p := newPendingPayment(t)
	require.NoError(t, p.MarkSucceeded(time.Now()))
	require.NoError(t, p.TransitionTo(payment.StatusRefunded))

	err := p.TransitionTo(payment.StatusSucceeded)
	assert.ErrorIs(t, err, errors.ErrInvalidStateTransition)
	assert.Equal(t, payment.StatusRefunded, p.Status)
}

func TestTransitionTo_SameStatus(t *testing.T) {
	p := newPendingPayment(t)
	assert.NoError(t, p.TransitionTo(payment.StatusPending))
}

func TestIsSettled(t *testing.T) {
	p := newPendingPayment(t)
	assert.False(t, p.IsSettled())
	require.NoError(t, p.MarkSucceeded(time.Now()))
	assert.True(t, p.IsSettled())
	require.NoError(t, p.TransitionTo(payment.StatusDisputed))
	assert.True(t, p.IsSettled())
}
