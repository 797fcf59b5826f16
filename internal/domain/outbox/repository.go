package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository stores notification triggers. Insert joins the caller's
// transaction; GetPending claims rows with SKIP LOCKED and must run inside
// one so concurrent relays never see the same entry.
type Repository interface {
	Insert(ctx context.Context, entry *Entry) error
	GetPending(ctx context.Context, limit int) ([]*Entry, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	// MarkFailed bumps the retry count. Entries that reach MaxRetries stop
	// being returned by GetPending.
	MarkFailed(ctx context.Context, id uuid.UUID) error
	PurgePublished(ctx context.Context, cutoff time.Time) (int64, error)
}
