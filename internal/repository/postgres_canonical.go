package repository

import (
	"context"
	"database/sql"
	"fmt"

	"fieldsync-server/internal/domain"

	"go.uber.org/zap"
)

type PostgresCanonicalStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresCanonicalStore(db *sql.DB, logger *zap.Logger) *PostgresCanonicalStore {
	return &PostgresCanonicalStore{db: db, logger: logger}
}

func (s *PostgresCanonicalStore) Find(ctx context.Context, tenantID string, rt domain.RecordType, naturalKey string) (*domain.CanonicalRecord, error) {
	query := `
		SELECT tenant_id, record_type, natural_key, sibling_no, payload, updated_at, updated_by
		FROM canonical_records
		WHERE tenant_id = $1 AND record_type = $2 AND natural_key = $3 AND sibling_no = 0`

	rec := &domain.CanonicalRecord{}
	err := s.db.QueryRowContext(ctx, query, tenantID, rt, naturalKey).Scan(
		&rec.TenantID, &rec.RecordType, &rec.NaturalKey, &rec.SiblingNo,
		&rec.Payload, &rec.UpdatedAt, &rec.UpdatedBy,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find canonical record: %w", err)
	}
	return rec, nil
}

func (s *PostgresCanonicalStore) Upsert(ctx context.Context, rec *domain.CanonicalRecord) error {
	query := `
		INSERT INTO canonical_records (tenant_id, record_type, natural_key, sibling_no, payload, updated_at, updated_by)
		VALUES ($1, $2, $3, 0, $4, $5, $6)
		ON CONFLICT (tenant_id, record_type, natural_key, sibling_no)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at, updated_by = EXCLUDED.updated_by`

	_, err := s.db.ExecContext(ctx, query,
		rec.TenantID, rec.RecordType, rec.NaturalKey, rec.Payload, rec.UpdatedAt, rec.UpdatedBy)
	if err != nil {
		return fmt.Errorf("upsert canonical record: %w", err)
	}
	return nil
}

func (s *PostgresCanonicalStore) InsertSibling(ctx context.Context, rec *domain.CanonicalRecord) (int, error) {
	query := `
		INSERT INTO canonical_records (tenant_id, record_type, natural_key, sibling_no, payload, updated_at, updated_by)
		SELECT $1, $2, $3, COALESCE(MAX(sibling_no), 0) + 1, $4, $5, $6
		FROM canonical_records
		WHERE tenant_id = $1 AND record_type = $2 AND natural_key = $3
		RETURNING sibling_no`

	var siblingNo int
	err := s.db.QueryRowContext(ctx, query,
		rec.TenantID, rec.RecordType, rec.NaturalKey, rec.Payload, rec.UpdatedAt, rec.UpdatedBy,
	).Scan(&siblingNo)
	if err != nil {
		return 0, fmt.Errorf("insert sibling record: %w", err)
	}
	return siblingNo, nil
}

func (s *PostgresCanonicalStore) ListSiblings(ctx context.Context, tenantID string, rt domain.RecordType, naturalKey string) ([]*domain.CanonicalRecord, error) {
	query := `
		SELECT tenant_id, record_type, natural_key, sibling_no, payload, updated_at, updated_by
		FROM canonical_records
		WHERE tenant_id = $1 AND record_type = $2 AND natural_key = $3
		ORDER BY sibling_no`

	rows, err := s.db.QueryContext(ctx, query, tenantID, rt, naturalKey)
	if err != nil {
		return nil, fmt.Errorf("list sibling records: %w", err)
	}
	defer rows.Close()

	var recs []*domain.CanonicalRecord
	for rows.Next() {
		rec := &domain.CanonicalRecord{}
		if err := rows.Scan(
			&rec.TenantID, &rec.RecordType, &rec.NaturalKey, &rec.SiblingNo,
			&rec.Payload, &rec.UpdatedAt, &rec.UpdatedBy,
		); err != nil {
			return nil, fmt.Errorf("scan sibling record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
