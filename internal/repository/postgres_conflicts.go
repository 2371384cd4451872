package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"fieldsync-server/internal/domain"

	"go.uber.org/zap"
)

type PostgresConflictRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresConflictRepository(db *sql.DB, logger *zap.Logger) *PostgresConflictRepository {
	return &PostgresConflictRepository{db: db, logger: logger}
}

const conflictColumns = `conflict_id, tenant_id, event_id, event_type, record_type, natural_key,
	reason, local_data, server_data, recommended_strategy, status, detected_at,
	resolved_at, resolved_by, resolution`

func (r *PostgresConflictRepository) Create(ctx context.Context, c *domain.Conflict) error {
	query := `
		INSERT INTO conflicts (` + conflictColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.TenantID, c.EventID, c.EventType, c.RecordType, c.NaturalKey,
		c.Reason, c.LocalData, c.ServerData, c.RecommendedStrategy, c.Status,
		c.DetectedAt, c.ResolvedAt, nullable(c.ResolvedBy), nullable(c.Resolution))
	if err != nil {
		return fmt.Errorf("create conflict: %w", err)
	}
	return nil
}

func (r *PostgresConflictRepository) Get(ctx context.Context, tenantID, conflictID string) (*domain.Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE tenant_id = $1 AND conflict_id = $2`
	return r.scanOne(r.db.QueryRowContext(ctx, query, tenantID, conflictID))
}

func (r *PostgresConflictRepository) GetByEvent(ctx context.Context, tenantID, eventID string) (*domain.Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE tenant_id = $1 AND event_id = $2
		ORDER BY detected_at DESC LIMIT 1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, tenantID, eventID))
}

func (r *PostgresConflictRepository) List(ctx context.Context, tenantID string, filter ConflictFilter) ([]*domain.Conflict, error) {
	where := []string{"tenant_id = $1"}
	args := []any{tenantID}
	argN := 2

	if filter.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", argN))
		args = append(args, filter.Status)
		argN++
	}
	if filter.Well != "" {
		// Natural keys are well-prefixed for every record type.
		where = append(where, fmt.Sprintf("(natural_key = $%d OR natural_key LIKE $%d)", argN, argN+1))
		args = append(args, filter.Well, filter.Well+"|%")
		argN += 2
	}

	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY detected_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*domain.Conflict
	for rows.Next() {
		c, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// MarkTerminal guards the single-resolution invariant at the storage level:
// the UPDATE only matches pending rows, so a second resolution attempt
// changes nothing and is reported as already resolved.
func (r *PostgresConflictRepository) MarkTerminal(ctx context.Context, tenantID, conflictID string, status domain.ConflictStatus, resolvedBy, resolution string) error {
	query := `
		UPDATE conflicts
		SET status = $1, resolved_at = NOW(), resolved_by = $2, resolution = $3
		WHERE tenant_id = $4 AND conflict_id = $5 AND status = 'pending_review'`

	res, err := r.db.ExecContext(ctx, query, status, resolvedBy, resolution, tenantID, conflictID)
	if err != nil {
		return fmt.Errorf("mark conflict terminal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark conflict terminal: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM conflicts WHERE tenant_id = $1 AND conflict_id = $2)`,
			tenantID, conflictID).Scan(&exists); err != nil {
			return fmt.Errorf("mark conflict terminal: %w", err)
		}
		if !exists {
			return domain.ErrConflictNotFound
		}
		return domain.ErrConflictAlreadyResolved
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresConflictRepository) scanOne(row rowScanner) (*domain.Conflict, error) {
	c, err := r.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrConflictNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *PostgresConflictRepository) scanRow(row rowScanner) (*domain.Conflict, error) {
	c := &domain.Conflict{}
	var resolvedBy, resolution sql.NullString
	err := row.Scan(
		&c.ID, &c.TenantID, &c.EventID, &c.EventType, &c.RecordType, &c.NaturalKey,
		&c.Reason, &c.LocalData, &c.ServerData, &c.RecommendedStrategy, &c.Status,
		&c.DetectedAt, &c.ResolvedAt, &resolvedBy, &resolution,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan conflict: %w", err)
	}
	c.ResolvedBy = resolvedBy.String
	c.Resolution = resolution.String
	return c, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
