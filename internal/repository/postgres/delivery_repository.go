package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/billingsync/internal/domain/event"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DeliveryRepository implements event.DeliveryRepository using PostgreSQL.
type DeliveryRepository struct {
	pool *pgxpool.Pool
}

func NewDeliveryRepository(pool *pgxpool.Pool) *DeliveryRepository {
	return &DeliveryRepository{pool: pool}
}

func (r *DeliveryRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *DeliveryRepository) Record(ctx context.Context, d *event.Delivery) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO webhook_deliveries (event_id, kind, provider, outcome, failure_kind, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (event_id) DO UPDATE SET
		   outcome = EXCLUDED.outcome,
		   failure_kind = EXCLUDED.failure_kind,
		   processed_at = EXCLUDED.processed_at`,
		d.EventID, d.Kind, d.Provider, d.Outcome, d.FailureKind, d.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("record delivery %s: %w", d.EventID, err)
	}
	return nil
}

func (r *DeliveryRepository) CountByKindSince(ctx context.Context, since time.Time) (map[string]event.KindCounts, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT kind,
		        COUNT(*) FILTER (WHERE outcome <> 'failed'),
		        COUNT(*) FILTER (WHERE outcome = 'failed' AND failure_kind <> $2),
		        COUNT(*) FILTER (WHERE outcome = 'failed' AND failure_kind = $2)
		 FROM webhook_deliveries
		 WHERE processed_at >= $1
		 GROUP BY kind`, since, event.UnsupportedFailure)
	if err != nil {
		return nil, fmt.Errorf("count deliveries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]event.KindCounts)
	for rows.Next() {
		var kind string
		var c event.KindCounts
		if err := rows.Scan(&kind, &c.Succeeded, &c.Failed, &c.Unsupported); err != nil {
			return nil, fmt.Errorf("scan delivery counts: %w", err)
		}
		out[kind] = c
	}
	return out, rows.Err()
}

func (r *DeliveryRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db(ctx).Exec(ctx, `DELETE FROM webhook_deliveries WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge deliveries: %w", err)
	}
	return tag.RowsAffected(), nil
}
