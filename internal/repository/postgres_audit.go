package repository

import (
	"context"
	"database/sql"
	"fmt"

	"fieldsync-server/internal/domain"

	"go.uber.org/zap"
)

// PostgresAuditRepository appends to audit_log. There is deliberately no
// update or delete path.
type PostgresAuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresAuditRepository(db *sql.DB, logger *zap.Logger) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db, logger: logger}
}

func (r *PostgresAuditRepository) Append(ctx context.Context, e *domain.AuditEntry) error {
	query := `
		INSERT INTO audit_log (audit_id, tenant_id, event_id, event_type, record_type,
			natural_key, strategy, decision, detail, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.TenantID, e.EventID, e.EventType, e.RecordType,
		e.NaturalKey, e.Strategy, e.Decision, e.Detail, e.Actor, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (r *PostgresAuditRepository) ListByEvent(ctx context.Context, tenantID, eventID string) ([]*domain.AuditEntry, error) {
	query := `
		SELECT audit_id, tenant_id, event_id, event_type, record_type,
			natural_key, strategy, decision, detail, actor, created_at
		FROM audit_log
		WHERE tenant_id = $1 AND event_id = $2
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, tenantID, eventID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		e := &domain.AuditEntry{}
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.EventID, &e.EventType, &e.RecordType,
			&e.NaturalKey, &e.Strategy, &e.Decision, &e.Detail, &e.Actor, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
