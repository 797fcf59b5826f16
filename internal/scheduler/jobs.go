package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/billingsync/internal/domain/outbox"
	"github.com/cassiomorais/billingsync/internal/service"
	"github.com/rs/zerolog"
)

// Job names double as lock keys and metric labels.
const (
	JobWebhookSweep       = "webhook-retry-sweep"
	JobPaymentSweep       = "payment-retry-sweep"
	JobHealthCheck        = "health-check"
	JobFailedEventCleanup = "failed-event-cleanup"
	JobAuditRedact        = "audit-redact"
	JobAuditPurge         = "audit-purge"
	JobTaskPromote        = "task-promote"
	JobOutboxRelay        = "outbox-relay"
	JobOutboxRetention    = "outbox-retention"
	JobIdempotencyCleanup = "idempotency-cleanup"
)

type webhookSweeper interface {
	Sweep(ctx context.Context) (service.SweepReport, error)
	Cleanup(ctx context.Context) (int64, error)
}

// WebhookSweepJob replays due failed webhook events.
func WebhookSweepJob(s webhookSweeper) Job {
	return NewJobFunc(JobWebhookSweep, func(ctx context.Context) error {
		_, err := s.Sweep(ctx)
		return err
	})
}

// FailedEventCleanupJob drops exhausted failed events past retention.
func FailedEventCleanupJob(s webhookSweeper) Job {
	return NewJobFunc(JobFailedEventCleanup, func(ctx context.Context) error {
		_, err := s.Cleanup(ctx)
		return err
	})
}

type paymentSweeper interface {
	SweepDue(ctx context.Context) (int, error)
}

// PaymentSweepJob executes due charge retries whose queued task was lost.
func PaymentSweepJob(s paymentSweeper) Job {
	return NewJobFunc(JobPaymentSweep, func(ctx context.Context) error {
		_, err := s.SweepDue(ctx)
		return err
	})
}

type healthChecker interface {
	CheckAndAlert(ctx context.Context) (*service.HealthReport, error)
}

// HealthCheckJob evaluates webhook health and raises alerts.
func HealthCheckJob(h healthChecker) Job {
	return NewJobFunc(JobHealthCheck, func(ctx context.Context) error {
		_, err := h.CheckAndAlert(ctx)
		return err
	})
}

type retention interface {
	Redact(ctx context.Context) (int64, error)
	Purge(ctx context.Context) (int64, error)
}

// AuditRedactJob strips PII from aged audit entries.
func AuditRedactJob(r retention) Job {
	return NewJobFunc(JobAuditRedact, func(ctx context.Context) error {
		_, err := r.Redact(ctx)
		return err
	})
}

// AuditPurgeJob deletes audit entries and deliveries past retention.
func AuditPurgeJob(r retention) Job {
	return NewJobFunc(JobAuditPurge, func(ctx context.Context) error {
		_, err := r.Purge(ctx)
		return err
	})
}

type taskPromoter interface {
	PromoteDue(ctx context.Context, now time.Time, limit int64) (int, error)
}

// TaskPromoteJob moves due delayed tasks into the ready stream.
func TaskPromoteJob(q taskPromoter, batch int64, logger zerolog.Logger) Job {
	if batch <= 0 {
		batch = 100
	}
	return NewJobFunc(JobTaskPromote, func(ctx context.Context) error {
		n, err := q.PromoteDue(ctx, time.Now().UTC(), batch)
		if n > 0 {
			logger.Debug().Int("promoted", n).Msg("Promoted due tasks")
		}
		return err
	})
}

type idempotencyCleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// IdempotencyCleanupJob deletes expired stored API responses.
func IdempotencyCleanupJob(c idempotencyCleaner) Job {
	return NewJobFunc(JobIdempotencyCleanup, func(ctx context.Context) error {
		_, err := c.Cleanup(ctx)
		return err
	})
}

type outboxPurger interface {
	PurgePublished(ctx context.Context, cutoff time.Time) (int64, error)
}

// OutboxRetentionJob deletes published notifications older than keep.
func OutboxRetentionJob(p outboxPurger, keep time.Duration, logger zerolog.Logger) Job {
	if keep <= 0 {
		keep = 30 * 24 * time.Hour
	}
	return NewJobFunc(JobOutboxRetention, func(ctx context.Context) error {
		n, err := p.PurgePublished(ctx, time.Now().UTC().Add(-keep))
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info().Int64("deleted", n).Msg("Purged published outbox entries")
		}
		return nil
	})
}

// Publisher delivers one outbox entry downstream.
type Publisher interface {
	Publish(ctx context.Context, entry *outbox.Entry) error
}

// OutboxRelay publishes pending outbox entries. Entries are claimed inside a
// transaction so concurrent relays never publish the same row twice.
type OutboxRelay struct {
	tx        service.TransactionManager
	repo      outbox.Repository
	publisher Publisher
	batch     int
	logger    zerolog.Logger
}

func NewOutboxRelay(tx service.TransactionManager, repo outbox.Repository, publisher Publisher, batch int, logger zerolog.Logger) *OutboxRelay {
	if batch <= 0 {
		batch = 50
	}
	return &OutboxRelay{
		tx:        tx,
		repo:      repo,
		publisher: publisher,
		batch:     batch,
		logger:    logger.With().Str("component", "outbox_relay").Logger(),
	}
}

func (r *OutboxRelay) Name() string { return JobOutboxRelay }

// Run publishes one batch. A publish failure counts against the entry and
// does not stop the batch.
func (r *OutboxRelay) Run(ctx context.Context) error {
	var published, failed int
	err := r.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		entries, err := r.repo.GetPending(txCtx, r.batch)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := r.publisher.Publish(ctx, entry); err != nil {
				r.logger.Error().Err(err).
					Str("outbox_id", entry.ID.String()).
					Str("event_type", entry.EventType).
					Msg("Failed to publish outbox entry")
				if err := r.repo.MarkFailed(txCtx, entry.ID); err != nil {
					return err
				}
				failed++
				continue
			}
			if err := r.repo.MarkPublished(txCtx, entry.ID); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("relay outbox: %w", err)
	}
	if published+failed > 0 {
		r.logger.Debug().Int("published", published).Int("failed", failed).Msg("Outbox batch relayed")
	}
	return nil
}
