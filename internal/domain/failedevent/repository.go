package failedevent

import (
	"context"
	"time"
)

// Repository defines the interface for failed-event persistence
type Repository interface {
	// Get returns the record for eventID, or errors.ErrFailedEventNotFound
	Get(ctx context.Context, eventID string) (*FailedEvent, error)

	// Upsert inserts or replaces the record keyed by event ID
	Upsert(ctx context.Context, fe *FailedEvent) error

	// Delete removes the record after a successful reprocess
	Delete(ctx context.Context, eventID string) error

	// ListDue returns records with next_retry_at <= now and retry_count < max_retries
	ListDue(ctx context.Context, now time.Time, limit int) ([]*FailedEvent, error)

	// List returns records for triage, newest failure first
	List(ctx context.Context, filter ListFilter) ([]*FailedEvent, error)

	// DeleteExhaustedBefore removes exhausted records whose last failure is older than cutoff
	DeleteExhaustedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Stats summarises the store at now, ignoring unsupported-kind records
	Stats(ctx context.Context, now time.Time, overdueGrace time.Duration) (Stats, error)

	// CountByKindSince groups failures recorded at or after since by event
	// kind, ignoring unsupported-kind records
	CountByKindSince(ctx context.Context, since time.Time) (map[string]int, error)
}

// ListFilter narrows a triage listing
type ListFilter struct {
	Kind          string
	ExhaustedOnly bool
	Limit         int
	Offset        int
}

// Stats is a point-in-time summary of the failed-event store.
type Stats struct {
	Total     int
	Pending   int
	Overdue   int
	Exhausted int
}
