package repository

import (
	"context"

	"fieldsync-server/internal/domain"
)

// CanonicalStore owns the authoritative records. During conflict resolution
// the sync coordinator is the only writer; everything else reads.
type CanonicalStore interface {
	// Find returns (nil, nil) when no record exists for the key.
	Find(ctx context.Context, tenantID string, rt domain.RecordType, naturalKey string) (*domain.CanonicalRecord, error)
	Upsert(ctx context.Context, rec *domain.CanonicalRecord) error
	// InsertSibling persists rec alongside the primary record and returns
	// the assigned sibling number.
	InsertSibling(ctx context.Context, rec *domain.CanonicalRecord) (int, error)
	ListSiblings(ctx context.Context, tenantID string, rt domain.RecordType, naturalKey string) ([]*domain.CanonicalRecord, error)
}

type ConflictFilter struct {
	Status domain.ConflictStatus
	Well   string
}

type ConflictRepository interface {
	Create(ctx context.Context, c *domain.Conflict) error
	Get(ctx context.Context, tenantID, conflictID string) (*domain.Conflict, error)
	GetByEvent(ctx context.Context, tenantID, eventID string) (*domain.Conflict, error)
	List(ctx context.Context, tenantID string, filter ConflictFilter) ([]*domain.Conflict, error)
	// MarkTerminal moves a pending conflict to resolved or ignored. It
	// returns domain.ErrConflictAlreadyResolved when the row is no longer
	// pending, leaving state unchanged.
	MarkTerminal(ctx context.Context, tenantID, conflictID string, status domain.ConflictStatus, resolvedBy, resolution string) error
}

type AuditRepository interface {
	Append(ctx context.Context, e *domain.AuditEntry) error
	ListByEvent(ctx context.Context, tenantID, eventID string) ([]*domain.AuditEntry, error)
}

// ProcessedEventRepository is the idempotency index keyed by event ID.
type ProcessedEventRepository interface {
	// Get returns (nil, nil) when the event has not been processed.
	Get(ctx context.Context, tenantID, eventID string) (*domain.ProcessedEvent, error)
	Mark(ctx context.Context, tenantID, eventID string, outcome domain.ProcessedOutcome) error
}
