package event

import (
	"context"
	"time"
)

// Delivery is the latest dispatch outcome of one event. A later retry that
// succeeds overwrites an earlier failure.
type Delivery struct {
	EventID     string
	Kind        string
	Provider    string
	Outcome     string
	FailureKind string
	ProcessedAt time.Time
}

// Failed reports whether the latest attempt failed.
func (d *Delivery) Failed() bool {
	return d.Outcome == "failed"
}

// KindCounts tallies deliveries for one kind.
type KindCounts struct {
	Succeeded   int
	Failed      int
	Unsupported int
}

// UnsupportedFailure is the failure kind of deliveries no handler accepts.
const UnsupportedFailure = "unsupported_event_kind"

// Add counts d into c.
func (c *KindCounts) Add(d *Delivery) {
	switch {
	case !d.Failed():
		c.Succeeded++
	case d.FailureKind == UnsupportedFailure:
		c.Unsupported++
	default:
		c.Failed++
	}
}

// Total is every delivery that reached a handler decision.
func (c KindCounts) Total() int {
	return c.Succeeded + c.Failed + c.Unsupported
}

// FailureRate is failed over succeeded plus failed. Unsupported kinds are
// left out since no handler change can fix them.
func (c KindCounts) FailureRate() float64 {
	n := c.Succeeded + c.Failed
	if n == 0 {
		return 0
	}
	return float64(c.Failed) / float64(n)
}

// DeliveryRepository defines the interface for the delivery ledger
type DeliveryRepository interface {
	// Record upserts the delivery keyed by event ID
	Record(ctx context.Context, d *Delivery) error

	// CountByKindSince tallies deliveries processed at or after since
	CountByKindSince(ctx context.Context, since time.Time) (map[string]KindCounts, error)

	// PurgeBefore deletes deliveries processed before cutoff
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
