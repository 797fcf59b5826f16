package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cassiomorais/billingsync/internal/domain/audit"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRepository implements audit.Repository using PostgreSQL.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *AuditRepository) Append(ctx context.Context, e *audit.Entry) error {
	refs, err := json.Marshal(e.EntityRefs)
	if err != nil {
		return fmt.Errorf("marshal audit refs: %w", err)
	}
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO audit_log (id, action, severity, entity_refs, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.Action, string(e.Severity), refs, metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepository) CountByAction(ctx context.Context, action string, since time.Time) (int, error) {
	var n int
	err := r.db(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_log WHERE action = $1 AND created_at >= $2`, action, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

// RedactBefore overwrites the values of PII keys present in metadata and
// stamps the entry so it is skipped on the next pass.
func (r *AuditRepository) RedactBefore(ctx context.Context, cutoff time.Time, keys []string) (int64, error) {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE audit_log SET
		   metadata = metadata || COALESCE((
		     SELECT jsonb_object_agg(k, '"[redacted]"'::jsonb)
		     FROM jsonb_object_keys(metadata) AS k
		     WHERE k = ANY($2)
		   ), '{}'::jsonb),
		   redacted_at = NOW()
		 WHERE created_at < $1 AND redacted_at IS NULL`,
		cutoff, keys,
	)
	if err != nil {
		return 0, fmt.Errorf("redact audit entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *AuditRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db(ctx).Exec(ctx, `DELETE FROM audit_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
