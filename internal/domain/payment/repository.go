package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for payment persistence
type Repository interface {
	// Create creates a new payment
	Create(ctx context.Context, payment *Payment) error

	// GetByID retrieves a payment by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)

	// GetByGatewayRef retrieves a payment by invoice or checkout-session reference
	GetByGatewayRef(ctx context.Context, ref string) (*Payment, error)

	// GetByChargeRef retrieves a payment by the gateway charge recorded on success
	GetByChargeRef(ctx context.Context, chargeID string) (*Payment, error)

	// Update updates an existing payment
	Update(ctx context.Context, payment *Payment) error

	// CountByStatusSince counts payments in status updated at or after since
	CountByStatusSince(ctx context.Context, status Status, since time.Time) (int, error)
}
