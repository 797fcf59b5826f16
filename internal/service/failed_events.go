package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cassiomorais/billingsync/internal/dispatch"
	"github.com/cassiomorais/billingsync/internal/domain/audit"
	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/domain/event"
	"github.com/cassiomorais/billingsync/internal/domain/failedevent"
	"github.com/cassiomorais/billingsync/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// FailedEventPolicy configures the failed-event store.
type FailedEventPolicy struct {
	Backoff        failedevent.Backoff
	MaxRetries     int
	BurstThreshold int
	BurstWindow    time.Duration
}

// DefaultFailedEventPolicy returns 5m doubling to 6h, five attempts, and a
// burst alert at five failures of one kind within an hour.
func DefaultFailedEventPolicy() FailedEventPolicy {
	return FailedEventPolicy{
		Backoff:        failedevent.DefaultBackoff(),
		MaxRetries:     failedevent.DefaultMaxRetries,
		BurstThreshold: 5,
		BurstWindow:    time.Hour,
	}
}

// FailedEventStore persists handler failures so the sweep can replay them.
type FailedEventStore struct {
	repo    failedevent.Repository
	audit   audit.Repository
	alerter *Alerter
	policy  FailedEventPolicy
	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewFailedEventStore(
	repo failedevent.Repository,
	auditRepo audit.Repository,
	alerter *Alerter,
	policy FailedEventPolicy,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *FailedEventStore {
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = failedevent.DefaultMaxRetries
	}
	if policy.Backoff.Initial <= 0 || policy.Backoff.Max <= 0 {
		policy.Backoff = failedevent.DefaultBackoff()
	}
	return &FailedEventStore{
		repo:    repo,
		audit:   auditRepo,
		alerter: alerter,
		policy:  policy,
		logger:  logger.With().Str("component", "failed_events").Logger(),
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RecordFailure upserts the failure for evt. A first retryable failure is
// scheduled after the initial backoff; a repeat increments the count. Non
// retryable failures are stored terminal for triage.
func (s *FailedEventStore) RecordFailure(ctx context.Context, evt *event.Inbound, res dispatch.Result) (*failedevent.FailedEvent, error) {
	now := s.now()
	retryable := res.Failure.Retryable()

	fe, err := s.repo.Get(ctx, evt.ID)
	switch {
	case errors.Is(err, domainErrors.ErrFailedEventNotFound):
		if retryable {
			fe = failedevent.NewRetryable(evt.ID, string(evt.Kind), evt.Provider, evt.Payload,
				string(res.Failure), res.Message, s.policy.MaxRetries, s.policy.Backoff, now)
		} else {
			fe = failedevent.NewTerminal(evt.ID, string(evt.Kind), evt.Provider, evt.Payload,
				string(res.Failure), res.Message, s.policy.MaxRetries, now)
		}
	case err != nil:
		return nil, fmt.Errorf("load failed event %s: %w", evt.ID, err)
	default:
		fe.RecordFailure(string(res.Failure), res.Message, retryable, s.policy.Backoff, now)
	}

	if err := s.repo.Upsert(ctx, fe); err != nil {
		return nil, fmt.Errorf("record failed event %s: %w", evt.ID, err)
	}
	if s.metrics != nil {
		s.metrics.FailedEventsRecorded.WithLabelValues(string(evt.Kind), string(res.Failure)).Inc()
	}

	logEvt := s.logger.Warn()
	if fe.Exhausted() {
		logEvt = s.logger.Error()
	}
	logEvt.Str("event_id", evt.ID).
		Str("kind", string(evt.Kind)).
		Str("failure_kind", string(res.Failure)).
		Int("retry_count", fe.RetryCount).
		Bool("exhausted", fe.Exhausted()).
		Msg("Webhook event failed")

	if fe.Exhausted() && retryable {
		s.appendAudit(ctx, audit.NewEntry(audit.ActionWebhookRetryExhausted, audit.SeverityWarning,
			map[string]string{"event_id": evt.ID},
			map[string]any{"kind": string(evt.Kind), "retry_count": fe.RetryCount, "last_error": fe.LastError}))
	}

	if !fe.Unsupported() {
		s.checkBurst(ctx, string(evt.Kind), now)
	}
	return fe, nil
}

// Resolve drops the record after a successful replay.
func (s *FailedEventStore) Resolve(ctx context.Context, eventID string) error {
	if err := s.repo.Delete(ctx, eventID); err != nil && !errors.Is(err, domainErrors.ErrFailedEventNotFound) {
		return fmt.Errorf("resolve failed event %s: %w", eventID, err)
	}
	return nil
}

// checkBurst raises a pattern alert when one kind keeps failing.
func (s *FailedEventStore) checkBurst(ctx context.Context, kind string, now time.Time) {
	if s.alerter == nil || s.policy.BurstThreshold <= 0 {
		return
	}
	counts, err := s.repo.CountByKindSince(ctx, now.Add(-s.policy.BurstWindow))
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to count recent failures")
		return
	}
	n := counts[kind]
	if n < s.policy.BurstThreshold {
		return
	}
	_, err = s.alerter.Raise(ctx, Alert{
		Key:      "webhook_failure_burst:" + kind,
		Title:    fmt.Sprintf("%d %s events failed in the last %s", n, kind, s.policy.BurstWindow),
		Severity: audit.SeverityWarning,
		Details:  map[string]any{"kind": kind, "failures": n},
	})
	if err != nil {
		s.logger.Error().Err(err).Str("kind", kind).Msg("Failed to raise burst alert")
	}
}

func (s *FailedEventStore) appendAudit(ctx context.Context, e *audit.Entry) {
	if err := s.audit.Append(ctx, e); err != nil {
		s.logger.Error().Err(err).Str("action", e.Action).Msg("Failed to write audit entry")
	}
}
