package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/domain/failedevent"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const failedEventColumns = `event_id, kind, provider, payload, last_error, failure_kind,
	retry_count, max_retries, next_retry_at, first_failed_at, last_failed_at`

// FailedEventRepository implements failedevent.Repository using PostgreSQL.
type FailedEventRepository struct {
	pool *pgxpool.Pool
}

func NewFailedEventRepository(pool *pgxpool.Pool) *FailedEventRepository {
	return &FailedEventRepository{pool: pool}
}

func (r *FailedEventRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *FailedEventRepository) Get(ctx context.Context, eventID string) (*failedevent.FailedEvent, error) {
	return scanFailedEvent(r.db(ctx).QueryRow(ctx,
		`SELECT `+failedEventColumns+` FROM failed_webhook_events WHERE event_id = $1`, eventID))
}

// Upsert keeps the first failure time of an existing record.
func (r *FailedEventRepository) Upsert(ctx context.Context, fe *failedevent.FailedEvent) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO failed_webhook_events (`+failedEventColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 ON CONFLICT (event_id) DO UPDATE SET
		   payload = COALESCE(EXCLUDED.payload, failed_webhook_events.payload),
		   last_error = EXCLUDED.last_error,
		   failure_kind = EXCLUDED.failure_kind,
		   retry_count = EXCLUDED.retry_count,
		   max_retries = EXCLUDED.max_retries,
		   next_retry_at = EXCLUDED.next_retry_at,
		   last_failed_at = EXCLUDED.last_failed_at`,
		fe.EventID, fe.Kind, fe.Provider, fe.Payload, fe.LastError, fe.FailureKind,
		fe.RetryCount, fe.MaxRetries, fe.NextRetryAt, fe.FirstFailedAt, fe.LastFailedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert failed event %s: %w", fe.EventID, err)
	}
	return nil
}

func (r *FailedEventRepository) Delete(ctx context.Context, eventID string) error {
	if _, err := r.db(ctx).Exec(ctx, `DELETE FROM failed_webhook_events WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("delete failed event %s: %w", eventID, err)
	}
	return nil
}

// ListDue claims due records with SKIP LOCKED when called inside a transaction.
func (r *FailedEventRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*failedevent.FailedEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.query(ctx,
		`SELECT `+failedEventColumns+` FROM failed_webhook_events
		 WHERE next_retry_at IS NOT NULL AND next_retry_at <= $1 AND retry_count < max_retries
		 ORDER BY next_retry_at ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`, now, limit)
}

func (r *FailedEventRepository) List(ctx context.Context, f failedevent.ListFilter) ([]*failedevent.FailedEvent, error) {
	query := `SELECT ` + failedEventColumns + ` FROM failed_webhook_events WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, f.Kind)
		argIdx++
	}
	if f.ExhaustedOnly {
		query += " AND retry_count >= max_retries"
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY last_failed_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	return r.query(ctx, query, args...)
}

func (r *FailedEventRepository) DeleteExhaustedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db(ctx).Exec(ctx,
		`DELETE FROM failed_webhook_events WHERE retry_count >= max_retries AND last_failed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete exhausted failed events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *FailedEventRepository) Stats(ctx context.Context, now time.Time, grace time.Duration) (failedevent.Stats, error) {
	var s failedevent.Stats
	err := r.db(ctx).QueryRow(ctx,
		`SELECT
		   COUNT(*),
		   COUNT(*) FILTER (WHERE retry_count < max_retries),
		   COUNT(*) FILTER (WHERE retry_count < max_retries AND next_retry_at IS NOT NULL AND next_retry_at < $1),
		   COUNT(*) FILTER (WHERE retry_count >= max_retries)
		 FROM failed_webhook_events
		 WHERE failure_kind <> $2`, now.Add(-grace), failedevent.FailureUnsupportedKind,
	).Scan(&s.Total, &s.Pending, &s.Overdue, &s.Exhausted)
	if err != nil {
		return failedevent.Stats{}, fmt.Errorf("failed event stats: %w", err)
	}
	return s, nil
}

func (r *FailedEventRepository) CountByKindSince(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT kind, COUNT(*) FROM failed_webhook_events
		 WHERE last_failed_at >= $1 AND failure_kind <> $2
		 GROUP BY kind`, since, failedevent.FailureUnsupportedKind)
	if err != nil {
		return nil, fmt.Errorf("count failed events by kind: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan failed event count: %w", err)
		}
		out[kind] = n
	}
	return out, rows.Err()
}

func (r *FailedEventRepository) query(ctx context.Context, sql string, args ...any) ([]*failedevent.FailedEvent, error) {
	rows, err := r.db(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list failed events: %w", err)
	}
	defer rows.Close()

	var out []*failedevent.FailedEvent
	for rows.Next() {
		fe, err := scanFailedEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fe)
	}
	return out, rows.Err()
}

func scanFailedEvent(s scanner) (*failedevent.FailedEvent, error) {
	fe := &failedevent.FailedEvent{}
	err := s.Scan(
		&fe.EventID, &fe.Kind, &fe.Provider, &fe.Payload, &fe.LastError, &fe.FailureKind,
		&fe.RetryCount, &fe.MaxRetries, &fe.NextRetryAt, &fe.FirstFailedAt, &fe.LastFailedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrFailedEventNotFound
		}
		return nil, fmt.Errorf("scan failed event: %w", err)
	}
	return fe, nil
}
