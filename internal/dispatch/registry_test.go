package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cassiomorais/billingsync/internal/dispatch"
	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/domain/event"
	"github.com/cassiomorais/billingsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubHandlers(skip event.Kind) []dispatch.Handler {
	var hs []dispatch.Handler
	for _, k := range event.SupportedKinds() {
		if k == skip {
			continue
		}
		hs = append(hs, dispatch.HandlerFunc{EventKind: k, Fn: func(ctx context.Context, evt *event.Inbound) dispatch.Result {
			return dispatch.Processed(string(evt.Kind))
		}})
	}
	return hs
}

func TestNewRegistry_RequiresEverySupportedKind(t *testing.T) {
	_, err := dispatch.NewRegistry(stubHandlers(event.KindChargeDisputeCreated)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(event.KindChargeDisputeCreated))
}

func TestNewRegistry_RejectsDuplicate(t *testing.T) {
	hs := append(stubHandlers(""), dispatch.HandlerFunc{EventKind: event.KindInvoicePaymentFailed})
	_, err := dispatch.NewRegistry(hs...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestNewRegistry_RejectsUnsupportedKind(t *testing.T) {
	hs := append(stubHandlers(""), dispatch.HandlerFunc{EventKind: "invoice.created"})
	_, err := dispatch.NewRegistry(hs...)
	assert.Error(t, err)
}

func TestNewHandlers_CoverSupportedKinds(t *testing.T) {
	h := newHarness(t)
	assert.ElementsMatch(t, event.SupportedKinds(), h.registry.Kinds())
}

func TestDispatch_RoutesByKind(t *testing.T) {
	reg, err := dispatch.NewRegistry(stubHandlers("")...)
	require.NoError(t, err)

	res := reg.Dispatch(context.Background(), testutil.NewInbound("evt_1", event.KindSubscriptionDeleted, map[string]any{}))
	assert.Equal(t, dispatch.OutcomeProcessed, res.Outcome)
	assert.Equal(t, string(event.KindSubscriptionDeleted), res.Message)
}

func TestDispatch_UnmappedKindIsNotRetryable(t *testing.T) {
	reg, err := dispatch.NewRegistry(stubHandlers("")...)
	require.NoError(t, err)

	res := reg.Dispatch(context.Background(), testutil.NewInbound("evt_1", "customer.created", map[string]any{}))
	assert.Equal(t, dispatch.OutcomeFailed, res.Outcome)
	assert.Equal(t, dispatch.FailureUnsupportedKind, res.Failure)
	assert.False(t, res.Failure.Retryable())
	assert.ErrorIs(t, res.Err, domainErrors.ErrUnsupportedEventKind)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want dispatch.FailureKind
	}{
		{nil, dispatch.FailureNone},
		{fmt.Errorf("acquire: %w", domainErrors.ErrLockTimeout), dispatch.FailureLockTimeout},
		{domainErrors.NewDomainError("invalid_transition", "x", domainErrors.ErrInvalidStateTransition), dispatch.FailureInvalidTransition},
		{domainErrors.ErrMalformedPayload, dispatch.FailureMalformedPayload},
		{domainErrors.NewValidationError("currency", "bad"), dispatch.FailureMalformedPayload},
		{domainErrors.ErrUnsupportedEventKind, dispatch.FailureUnsupportedKind},
		{context.Canceled, dispatch.FailureTransient},
		{errors.New("connection reset by peer"), dispatch.FailureTransient},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, dispatch.Classify(tt.err))
		})
	}
}

func TestFailureKind_Retryable(t *testing.T) {
	retryable := map[dispatch.FailureKind]bool{
		dispatch.FailureSignatureInvalid:  false,
		dispatch.FailureRateLimited:       false,
		dispatch.FailureUnsupportedKind:   false,
		dispatch.FailureLockTimeout:       true,
		dispatch.FailureTransient:         true,
		dispatch.FailureInvalidTransition: false,
		dispatch.FailureMalformedPayload:  false,
	}
	for k, want := range retryable {
		assert.Equal(t, want, k.Retryable(), string(k))
	}
}

func TestResult_OK(t *testing.T) {
	assert.True(t, dispatch.Processed("").OK())
	assert.True(t, dispatch.Warning("").OK())
	assert.True(t, dispatch.Ignored("").OK())
	assert.False(t, dispatch.Failed(dispatch.FailureTransient, nil).OK())
}
