package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/domain/subscription"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const subscriptionColumns = `id, company_id, plan_id, gateway_subscription_id, gateway_customer_id,
	checkout_session_id, status, trial_ends_at, current_period_end, cancelled_at, created_at, updated_at`

// SubscriptionRepository implements subscription.Repository using PostgreSQL.
type SubscriptionRepository struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepository(pool *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool}
}

func (r *SubscriptionRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Create inserts a subscription. The partial unique index on live company
// subscriptions turns a concurrent second checkout into ErrActiveSubscriptionExists.
func (r *SubscriptionRepository) Create(ctx context.Context, s *subscription.Subscription) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		s.ID, s.CompanyID, s.PlanID, s.GatewaySubscriptionID, s.GatewayCustomerID,
		s.CheckoutSessionID, string(s.Status), s.TrialEndsAt, s.CurrentPeriodEnd, s.CancelledAt,
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domainErrors.ErrActiveSubscriptionExists
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	return scanSubscription(r.db(ctx).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
}

func (r *SubscriptionRepository) GetByGatewayID(ctx context.Context, gatewayID string) (*subscription.Subscription, error) {
	if gatewayID == "" {
		return nil, domainErrors.ErrSubscriptionNotFound
	}
	return scanSubscription(r.db(ctx).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE gateway_subscription_id = $1`, gatewayID))
}

// GetLiveByCompany returns the company's live subscription. Inside a
// transaction the row is locked until commit.
func (r *SubscriptionRepository) GetLiveByCompany(ctx context.Context, companyID string) (*subscription.Subscription, error) {
	return scanSubscription(r.db(ctx).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE company_id = $1 AND status IN ('trial', 'active', 'past_due')
		 ORDER BY created_at DESC LIMIT 1 FOR UPDATE`, companyID))
}

func (r *SubscriptionRepository) Update(ctx context.Context, s *subscription.Subscription) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE subscriptions SET
		  plan_id=$1, gateway_subscription_id=$2, gateway_customer_id=$3, checkout_session_id=$4,
		  status=$5, trial_ends_at=$6, current_period_end=$7, cancelled_at=$8, updated_at=$9
		 WHERE id=$10`,
		s.PlanID, s.GatewaySubscriptionID, s.GatewayCustomerID, s.CheckoutSessionID,
		string(s.Status), s.TrialEndsAt, s.CurrentPeriodEnd, s.CancelledAt, s.UpdatedAt, s.ID,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrSubscriptionNotFound
	}
	return nil
}

func (r *SubscriptionRepository) CountByStatusChangedSince(ctx context.Context, status subscription.Status, since time.Time) (int, error) {
	var n int
	err := r.db(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE status = $1 AND updated_at >= $2`,
		string(status), since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count subscriptions: %w", err)
	}
	return n, nil
}

func (r *SubscriptionRepository) CountLive(ctx context.Context) (int, error) {
	var n int
	err := r.db(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE status IN ('trial', 'active', 'past_due')`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count live subscriptions: %w", err)
	}
	return n, nil
}

func scanSubscription(s scanner) (*subscription.Subscription, error) {
	sub := &subscription.Subscription{}
	var status string
	err := s.Scan(
		&sub.ID, &sub.CompanyID, &sub.PlanID, &sub.GatewaySubscriptionID, &sub.GatewayCustomerID,
		&sub.CheckoutSessionID, &status, &sub.TrialEndsAt, &sub.CurrentPeriodEnd, &sub.CancelledAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.Status = subscription.Status(status)
	return sub, nil
}
