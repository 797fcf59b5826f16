package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/billingsync/internal/domain/audit"
	"github.com/cassiomorais/billingsync/internal/domain/event"
	"github.com/rs/zerolog"
)

const (
	DefaultRedactAfter = 90 * 24 * time.Hour
	DefaultRetainFor   = 7 * 365 * 24 * time.Hour
	deliveryRetention  = 8 * 24 * time.Hour
)

// RetentionService enforces audit PII redaction and retention.
type RetentionService struct {
	audit       audit.Repository
	deliveries  event.DeliveryRepository
	redactAfter time.Duration
	retainFor   time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

func NewRetentionService(auditRepo audit.Repository, deliveries event.DeliveryRepository, redactAfter, retainFor time.Duration, logger zerolog.Logger) *RetentionService {
	if redactAfter <= 0 {
		redactAfter = DefaultRedactAfter
	}
	if retainFor <= 0 {
		retainFor = DefaultRetainFor
	}
	return &RetentionService{
		audit:       auditRepo,
		deliveries:  deliveries,
		redactAfter: redactAfter,
		retainFor:   retainFor,
		logger:      logger.With().Str("component", "retention").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Redact strips PII from audit entries older than the redaction age. Entries
// are redacted once.
func (s *RetentionService) Redact(ctx context.Context) (int64, error) {
	n, err := s.audit.RedactBefore(ctx, s.now().Add(-s.redactAfter), audit.PIIKeys)
	if err != nil {
		return 0, fmt.Errorf("redact audit entries: %w", err)
	}
	if n > 0 {
		s.logger.Info().Int64("redacted", n).Msg("Redacted audit entries")
	}
	return n, nil
}

// Purge deletes audit entries past retention and delivery ledger rows no
// health window reads any more.
func (s *RetentionService) Purge(ctx context.Context) (int64, error) {
	now := s.now()
	n, err := s.audit.PurgeBefore(ctx, now.Add(-s.retainFor))
	if err != nil {
		return 0, fmt.Errorf("purge audit entries: %w", err)
	}
	if s.deliveries != nil {
		d, err := s.deliveries.PurgeBefore(ctx, now.Add(-deliveryRetention))
		if err != nil {
			return n, fmt.Errorf("purge deliveries: %w", err)
		}
		n += d
	}
	if n > 0 {
		s.logger.Info().Int64("purged", n).Msg("Purged expired records")
	}
	return n, nil
}
