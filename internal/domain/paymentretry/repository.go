package paymentretry

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for payment retry persistence
type Repository interface {
	// Get returns the record for a payment, or errors.ErrRetryNotFound
	Get(ctx context.Context, paymentID uuid.UUID) (*Record, error)

	// Upsert inserts or replaces the record keyed by payment ID
	Upsert(ctx context.Context, r *Record) error

	// ListDue returns active records whose next_retry_at <= now
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Record, error)

	// CountByStatus returns record counts keyed by status
	CountByStatus(ctx context.Context) (map[Status]int, error)

	// CountOverdue counts active records more than grace past their schedule
	CountOverdue(ctx context.Context, now time.Time, grace time.Duration) (int, error)
}
