package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/billingsync/internal/domain/failedevent"
	"github.com/cassiomorais/billingsync/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// SweepReport summarises one sweep pass.
type SweepReport struct {
	Due       int
	Recovered int
	Failed    int
	Skipped   int
}

// WebhookRetryScheduler replays due failed events and cleans up old
// exhausted ones.
type WebhookRetryScheduler struct {
	repo         failedevent.Repository
	processor    *Processor
	batch        int
	cleanupAfter time.Duration
	logger       zerolog.Logger
	metrics      *observability.Metrics
	now          func() time.Time
}

func NewWebhookRetryScheduler(
	repo failedevent.Repository,
	processor *Processor,
	batch int,
	cleanupAfter time.Duration,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *WebhookRetryScheduler {
	if batch <= 0 {
		batch = 100
	}
	if cleanupAfter <= 0 {
		cleanupAfter = 30 * 24 * time.Hour
	}
	return &WebhookRetryScheduler{
		repo:         repo,
		processor:    processor,
		batch:        batch,
		cleanupAfter: cleanupAfter,
		logger:       logger.With().Str("component", "webhook_retry").Logger(),
		metrics:      metrics,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Sweep replays every record due at now. Records not yet due are untouched.
func (s *WebhookRetryScheduler) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	due, err := s.repo.ListDue(ctx, s.now(), s.batch)
	if err != nil {
		return report, fmt.Errorf("list due failed events: %w", err)
	}
	report.Due = len(due)

	for _, fe := range due {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		res, ran, err := s.processor.Replay(ctx, fe)
		switch {
		case err != nil:
			s.logger.Error().Err(err).Str("event_id", fe.EventID).Msg("Failed event replay errored")
			report.Failed++
			s.count("error")
		case !ran:
			report.Skipped++
			s.count("skipped")
		case res.OK():
			report.Recovered++
			s.count("recovered")
		default:
			report.Failed++
			s.count("failed")
		}
	}

	if report.Due > 0 {
		s.logger.Info().
			Int("due", report.Due).
			Int("recovered", report.Recovered).
			Int("failed", report.Failed).
			Int("skipped", report.Skipped).
			Msg("Failed event sweep finished")
	}
	return report, nil
}

// Cleanup removes exhausted records whose last failure is older than the
// retention period.
func (s *WebhookRetryScheduler) Cleanup(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExhaustedBefore(ctx, s.now().Add(-s.cleanupAfter))
	if err != nil {
		return 0, fmt.Errorf("clean up failed events: %w", err)
	}
	if n > 0 {
		s.logger.Info().Int64("deleted", n).Msg("Removed exhausted failed events")
	}
	return n, nil
}

// List returns failed events for triage.
func (s *WebhookRetryScheduler) List(ctx context.Context, filter failedevent.ListFilter) ([]*failedevent.FailedEvent, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repo.List(ctx, filter)
}

func (s *WebhookRetryScheduler) count(result string) {
	if s.metrics != nil {
		s.metrics.WebhookRetries.WithLabelValues(result).Inc()
	}
}
