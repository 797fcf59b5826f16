package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const paymentColumns = `id, company_id, subscription_id, gateway_ref, amount::text, currency, status,
	failure_code, failure_message, metadata, paid_at, created_at, updated_at`

// PaymentRepository implements payment.Repository using PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository creates a new PaymentRepository.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Create inserts a new payment. A second payment for the same gateway
// reference is rejected with ErrDuplicateIdempotencyKey.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO payments
		 (id, company_id, subscription_id, gateway_ref, amount, currency, status,
		  failure_code, failure_message, metadata, paid_at, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		p.ID, p.CompanyID, p.SubscriptionID, p.GatewayRef, centsToNumericString(p.Amount.ValueCents), p.Amount.Currency,
		string(p.Status), p.FailureCode, p.FailureMessage, metadata, p.PaidAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domainErrors.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID retrieves a payment by its ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return scanPayment(r.db(ctx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

// GetByGatewayRef retrieves a payment by invoice or checkout-session reference.
func (r *PaymentRepository) GetByGatewayRef(ctx context.Context, ref string) (*payment.Payment, error) {
	return scanPayment(r.db(ctx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE gateway_ref = $1`, ref))
}

// GetByChargeRef retrieves a payment by the charge id stored in its metadata.
func (r *PaymentRepository) GetByChargeRef(ctx context.Context, chargeID string) (*payment.Payment, error) {
	return scanPayment(r.db(ctx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE metadata->>'charge_id' = $1
		 ORDER BY created_at DESC LIMIT 1`, chargeID))
}

// Update updates an existing payment.
func (r *PaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payments SET
		  subscription_id=$1, status=$2, failure_code=$3, failure_message=$4,
		  metadata=$5, paid_at=$6, updated_at=$7
		 WHERE id=$8`,
		p.SubscriptionID, string(p.Status), p.FailureCode, p.FailureMessage,
		metadata, p.PaidAt, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrPaymentNotFound
	}
	return nil
}

// CountByStatusSince counts payments in status updated at or after since.
func (r *PaymentRepository) CountByStatusSince(ctx context.Context, status payment.Status, since time.Time) (int, error) {
	var n int
	err := r.db(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM payments WHERE status = $1 AND updated_at >= $2`,
		string(status), since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count payments: %w", err)
	}
	return n, nil
}

func scanPayment(s scanner) (*payment.Payment, error) {
	p := &payment.Payment{Metadata: make(map[string]any)}
	var (
		amountStr string
		status    string
		metadata  []byte
	)
	err := s.Scan(
		&p.ID, &p.CompanyID, &p.SubscriptionID, &p.GatewayRef, &amountStr, &p.Amount.Currency, &status,
		&p.FailureCode, &p.FailureMessage, &metadata, &p.PaidAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}

	cents, err := numericStringToCents(amountStr)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	p.Amount.ValueCents = cents
	p.Status = payment.Status(status)

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal payment metadata: %w", err)
		}
	}
	return p, nil
}
