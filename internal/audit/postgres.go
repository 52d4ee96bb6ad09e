package audit

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
)

const insertEventSQL = `INSERT INTO backup_audit_log (tenant_id, action, entity_kind, entity_id, metadata, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`

// PostgresSink appends events to the backup_audit_log table.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

func (s *PostgresSink) Append(ctx context.Context, e Event) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	var tenantID *string
	if e.TenantID != "" {
		tenantID = &e.TenantID
	}
	if _, err := s.pool.Exec(ctx, insertEventSQL,
		tenantID, e.Action, e.EntityKind, e.EntityID, metadata, e.OccurredAt,
	); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
