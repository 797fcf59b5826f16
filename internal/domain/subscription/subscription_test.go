package subscription_test

import (
	"testing"

	"github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/domain/subscription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSub(t *testing.T, status subscription.Status) *subscription.Subscription {
	t.Helper()
	s, err := subscription.New("company-1", "plan-pro", "sub_123", "cus_123", subscription.StatusActive)
	require.NoError(t, err)
	s.Status = status
	return s
}

func TestNew_Valid(t *testing.T) {
	s, err := subscription.New("company-1", "plan-pro", "sub_123", "cus_123", subscription.StatusTrial)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusTrial, s.Status)
	assert.Equal(t, "company-1", s.CompanyID)
	assert.False(t, s.CreatedAt.IsZero())
}

func TestNew_RejectsTerminalStatus(t *testing.T) {
	_, err := subscription.New("company-1", "plan-pro", "sub_123", "cus_123", subscription.StatusExpired)
	assert.Error(t, err)
}

func TestNew_RequiresCompany(t *testing.T) {
	_, err := subscription.New("", "plan-pro", "sub_123", "cus_123", subscription.StatusActive)
	var ve *errors.ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Equal(t, "company_id", ve.Field)
}

func TestTransitions(t *testing.T) {
	all := []subscription.Status{
		subscription.StatusTrial,
		subscription.StatusActive,
		subscription.StatusPastDue,
		subscription.StatusCancelled,
		subscription.StatusExpired,
	}
	allowed := map[subscription.Status][]subscription.Status{
		subscription.StatusTrial:     {subscription.StatusActive, subscription.StatusCancelled, subscription.StatusExpired},
		subscription.StatusActive:    {subscription.StatusCancelled, subscription.StatusPastDue, subscription.StatusExpired},
		subscription.StatusPastDue:   {subscription.StatusActive, subscription.StatusCancelled, subscription.StatusExpired},
		subscription.StatusCancelled: {subscription.StatusExpired},
		subscription.StatusExpired:   {},
	}

	for _, from := range all {
		for _, to := range all {
			if from == to {
				continue
			}
			s := newSub(t, from)
			want := contains(allowed[from], to)
			assert.Equal(t, want, s.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func contains(list []subscription.Status, s subscription.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestTransitionTo_ExpiredIsSink(t *testing.T) {
	s := newSub(t, subscription.StatusExpired)

	for _, next := range []subscription.Status{subscription.StatusActive, subscription.StatusTrial, subscription.StatusPastDue, subscription.StatusCancelled} {
		changed, err := s.TransitionTo(next)
		assert.False(t, changed)
		assert.ErrorIs(t, err, errors.ErrInvalidStateTransition)
		assert.Equal(t, subscription.StatusExpired, s.Status)
	}
}

func TestTransitionTo_SameStatusIsNoop(t *testing.T) {
	s := newSub(t, subscription.StatusActive)
	before := s.UpdatedAt

	changed, err := s.TransitionTo(subscription.StatusActive)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, before, s.UpdatedAt)
}

func TestTransitionTo_CancelledSetsTimestamp(t *testing.T) {
	s := newSub(t, subscription.StatusActive)

	changed, err := s.TransitionTo(subscription.StatusCancelled)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, s.CancelledAt)
}

func TestIsTrialConversion(t *testing.T) {
	assert.True(t, subscription.IsTrialConversion(subscription.StatusTrial, subscription.StatusActive))
	assert.False(t, subscription.IsTrialConversion(subscription.StatusPastDue, subscription.StatusActive))
	assert.False(t, subscription.IsTrialConversion(subscription.StatusTrial, subscription.StatusCancelled))
}

func TestFromGateway(t *testing.T) {
	tests := []struct {
		in   string
		want subscription.Status
		ok   bool
	}{
		{"trialing", subscription.StatusTrial, true},
		{"active", subscription.StatusActive, true},
		{"past_due", subscription.StatusPastDue, true},
		{"unpaid", subscription.StatusPastDue, true},
		{"canceled", subscription.StatusCancelled, true},
		{"incomplete_expired", subscription.StatusExpired, true},
		{"incomplete", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := subscription.FromGateway(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.True(t, subscription.StatusExpired.IsTerminal())
	assert.False(t, subscription.StatusCancelled.IsTerminal())
	assert.False(t, subscription.Status("bogus").IsTerminal())
}
