package service

import (
	"context"
	"time"
)

// TaskQueue schedules delayed work for the worker process.
type TaskQueue interface {
	// Schedule enqueues a named task to run at runAt and returns its id.
	Schedule(ctx context.Context, name string, payload map[string]string, runAt time.Time) (string, error)
	// Cancel removes a scheduled task. Unknown ids are not an error.
	Cancel(ctx context.Context, taskID string) error
}

// CooldownStore gates repeated alerts across instances.
type CooldownStore interface {
	// TryEnter reports whether key was free and claims it for cooldown.
	TryEnter(ctx context.Context, key string, cooldown time.Duration) (bool, error)
	// Leave ends the cooldown for key early.
	Leave(ctx context.Context, key string) error
}

// TaskPaymentRetry is the task name carrying a payment_id to ExecuteRetry.
const TaskPaymentRetry = "payment.retry"
