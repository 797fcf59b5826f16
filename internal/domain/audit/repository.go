package audit

import (
	"context"
	"time"
)

// Repository defines the interface for audit persistence
type Repository interface {
	// Append writes a new entry (typically inside the handler transaction)
	Append(ctx context.Context, entry *Entry) error

	// CountByAction counts entries for action at or after since
	CountByAction(ctx context.Context, action string, since time.Time) (int, error)

	// RedactBefore strips PII from unredacted entries older than cutoff
	RedactBefore(ctx context.Context, cutoff time.Time, keys []string) (int64, error)

	// PurgeBefore deletes entries older than the retention cutoff
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
