package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for subscription persistence
type Repository interface {
	// Create inserts a new subscription
	Create(ctx context.Context, sub *Subscription) error

	// GetByID retrieves a subscription by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// GetByGatewayID retrieves a subscription by the gateway subscription ID
	GetByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*Subscription, error)

	// GetLiveByCompany returns the company's trial, active or past-due subscription, if any
	GetLiveByCompany(ctx context.Context, companyID string) (*Subscription, error)

	// Update persists status and period changes
	Update(ctx context.Context, sub *Subscription) error

	// CountByStatusChangedSince counts subscriptions that entered status at or after since
	CountByStatusChangedSince(ctx context.Context, status Status, since time.Time) (int, error)

	// CountLive returns the number of trial, active or past-due subscriptions
	CountLive(ctx context.Context) (int, error)
}
