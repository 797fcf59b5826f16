package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/domain/paymentretry"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const retryColumns = `payment_id, status, attempt_count, max_attempts, last_error_code, last_error_message,
	next_retry_at, task_id, created_at, updated_at`

// PaymentRetryRepository implements paymentretry.Repository using PostgreSQL.
type PaymentRetryRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRetryRepository(pool *pgxpool.Pool) *PaymentRetryRepository {
	return &PaymentRetryRepository{pool: pool}
}

func (r *PaymentRetryRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Get locks the record for the rest of the surrounding transaction.
func (r *PaymentRetryRepository) Get(ctx context.Context, paymentID uuid.UUID) (*paymentretry.Record, error) {
	return scanRetry(r.db(ctx).QueryRow(ctx,
		`SELECT `+retryColumns+` FROM payment_retries WHERE payment_id = $1 FOR UPDATE`, paymentID))
}

func (r *PaymentRetryRepository) Upsert(ctx context.Context, rec *paymentretry.Record) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO payment_retries (`+retryColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT (payment_id) DO UPDATE SET
		   status = EXCLUDED.status,
		   attempt_count = EXCLUDED.attempt_count,
		   max_attempts = EXCLUDED.max_attempts,
		   last_error_code = EXCLUDED.last_error_code,
		   last_error_message = EXCLUDED.last_error_message,
		   next_retry_at = EXCLUDED.next_retry_at,
		   task_id = EXCLUDED.task_id,
		   updated_at = EXCLUDED.updated_at`,
		rec.PaymentID, string(rec.Status), rec.AttemptCount, rec.MaxAttempts, rec.LastErrorCode,
		rec.LastErrorMessage, rec.NextRetryAt, rec.TaskID, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert payment retry %s: %w", rec.PaymentID, err)
	}
	return nil
}

func (r *PaymentRetryRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*paymentretry.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+retryColumns+` FROM payment_retries
		 WHERE status = 'active' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
		 ORDER BY next_retry_at ASC
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due payment retries: %w", err)
	}
	defer rows.Close()

	var out []*paymentretry.Record
	for rows.Next() {
		rec, err := scanRetry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PaymentRetryRepository) CountByStatus(ctx context.Context) (map[paymentretry.Status]int, error) {
	rows, err := r.db(ctx).Query(ctx, `SELECT status, COUNT(*) FROM payment_retries GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count payment retries: %w", err)
	}
	defer rows.Close()

	out := make(map[paymentretry.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan payment retry count: %w", err)
		}
		out[paymentretry.Status(status)] = n
	}
	return out, rows.Err()
}

func (r *PaymentRetryRepository) CountOverdue(ctx context.Context, now time.Time, grace time.Duration) (int, error) {
	var n int
	err := r.db(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM payment_retries
		 WHERE status = 'active' AND next_retry_at IS NOT NULL AND next_retry_at < $1`,
		now.Add(-grace),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count overdue payment retries: %w", err)
	}
	return n, nil
}

func scanRetry(s scanner) (*paymentretry.Record, error) {
	rec := &paymentretry.Record{}
	var status string
	err := s.Scan(
		&rec.PaymentID, &status, &rec.AttemptCount, &rec.MaxAttempts, &rec.LastErrorCode,
		&rec.LastErrorMessage, &rec.NextRetryAt, &rec.TaskID, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrRetryNotFound
		}
		return nil, fmt.Errorf("scan payment retry: %w", err)
	}
	rec.Status = paymentretry.Status(status)
	return rec, nil
}
