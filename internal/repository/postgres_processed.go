package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fieldsync-server/internal/domain"

	"go.uber.org/zap"
)

type PostgresProcessedEventRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresProcessedEventRepository(db *sql.DB, logger *zap.Logger) *PostgresProcessedEventRepository {
	return &PostgresProcessedEventRepository{db: db, logger: logger}
}

func (r *PostgresProcessedEventRepository) Get(ctx context.Context, tenantID, eventID string) (*domain.ProcessedEvent, error) {
	query := `
		SELECT tenant_id, event_id, outcome, processed_at
		FROM processed_events
		WHERE tenant_id = $1 AND event_id = $2`

	pe := &domain.ProcessedEvent{}
	err := r.db.QueryRowContext(ctx, query, tenantID, eventID).Scan(
		&pe.TenantID, &pe.EventID, &pe.Outcome, &pe.ProcessedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get processed event: %w", err)
	}
	return pe, nil
}

func (r *PostgresProcessedEventRepository) Mark(ctx context.Context, tenantID, eventID string, outcome domain.ProcessedOutcome) error {
	query := `
		INSERT INTO processed_events (tenant_id, event_id, outcome, processed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, event_id)
		DO UPDATE SET outcome = EXCLUDED.outcome, processed_at = EXCLUDED.processed_at`

	_, err := r.db.ExecContext(ctx, query, tenantID, eventID, outcome, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark processed event: %w", err)
	}
	return nil
}
