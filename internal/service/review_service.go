package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fieldsync-server/internal/domain"
	"fieldsync-server/internal/lock"
	"fieldsync-server/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReviewService is the supervisor-facing workflow over pending conflicts.
// It holds no lock between detection and resolution; the per-key lock is
// re-acquired only while the chosen resolution is applied.
type ReviewService struct {
	conflicts repository.ConflictRepository
	canonical repository.CanonicalStore
	audits    repository.AuditRepository
	processed repository.ProcessedEventRepository
	locks     *lock.KeyedMutex
	notifier  ReviewNotifier
	validate  *validator.Validate
	logger    *zap.Logger
}

func NewReviewService(
	conflicts repository.ConflictRepository,
	canonical repository.CanonicalStore,
	audits repository.AuditRepository,
	processed repository.ProcessedEventRepository,
	locks *lock.KeyedMutex,
	notifier ReviewNotifier,
	logger *zap.Logger,
) *ReviewService {
	return &ReviewService{
		conflicts: conflicts,
		canonical: canonical,
		audits:    audits,
		processed: processed,
		locks:     locks,
		notifier:  notifier,
		validate:  validator.New(),
		logger:    logger,
	}
}

func (s *ReviewService) ListPending(ctx context.Context, tenantID string) ([]*domain.Conflict, error) {
	return s.conflicts.List(ctx, tenantID, repository.ConflictFilter{Status: domain.ConflictPendingReview})
}

func (s *ReviewService) List(ctx context.Context, tenantID string, filter repository.ConflictFilter) ([]*domain.Conflict, error) {
	return s.conflicts.List(ctx, tenantID, filter)
}

func (s *ReviewService) Get(ctx context.Context, tenantID, conflictID string) (*domain.Conflict, error) {
	return s.conflicts.Get(ctx, tenantID, conflictID)
}

func (s *ReviewService) ListAuditByEvent(ctx context.Context, tenantID, eventID string) ([]*domain.AuditEntry, error) {
	return s.audits.ListByEvent(ctx, tenantID, eventID)
}

// Resolve applies a supervisor's decision to a pending conflict: the chosen
// data is written to canonical state, the owning event is marked applied,
// and the conflict becomes resolved. Resolving an already-terminal conflict
// fails with ErrConflictAlreadyResolved and changes nothing.
func (s *ReviewService) Resolve(ctx context.Context, tenantID string, conflictID string, req domain.ConflictResolutionRequest, reviewerID string) (*domain.Conflict, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	c, err := s.conflicts.Get(ctx, tenantID, conflictID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(lockKey(tenantID, c.RecordType, c.NaturalKey))
	defer unlock()

	// Re-read under the lock: a racing supervisor may have won.
	c, err = s.conflicts.Get(ctx, tenantID, conflictID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.ConflictPendingReview {
		return nil, domain.ErrConflictAlreadyResolved
	}

	winning, err := s.chooseData(c, req)
	if err != nil {
		return nil, err
	}

	if winning != nil {
		rec := &domain.CanonicalRecord{
			TenantID:   tenantID,
			RecordType: c.RecordType,
			NaturalKey: c.NaturalKey,
			Payload:    winning,
			UpdatedAt:  time.Now().UTC(),
			UpdatedBy:  reviewerID,
		}
		if err := s.canonical.Upsert(ctx, rec); err != nil {
			return nil, domain.ClassifyStorageErr(err)
		}
	}

	resolution := "kept " + string(req.ChosenSide)
	if err := s.conflicts.MarkTerminal(ctx, tenantID, conflictID, domain.ConflictResolved, reviewerID, resolution); err != nil {
		return nil, err
	}
	if err := s.processed.Mark(ctx, tenantID, c.EventID, domain.OutcomeApplied); err != nil {
		return nil, domain.ClassifyStorageErr(err)
	}
	if err := s.auditManual(ctx, c, string(req.ChosenSide), winning, reviewerID); err != nil {
		return nil, domain.ClassifyStorageErr(err)
	}

	resolved, err := s.conflicts.Get(ctx, tenantID, conflictID)
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.ConflictResolved(tenantID, resolved)
	}

	s.logger.Info("conflict resolved",
		zap.String("tenant_id", tenantID),
		zap.String("conflict_id", conflictID),
		zap.String("chosen_side", string(req.ChosenSide)),
		zap.String("reviewer", reviewerID))

	return resolved, nil
}

// Ignore terminates a pending conflict without touching canonical state.
// The owning event is still marked applied so the device stops retrying it,
// and the row is retained for audit.
func (s *ReviewService) Ignore(ctx context.Context, tenantID, conflictID, reviewerID string) (*domain.Conflict, error) {
	c, err := s.conflicts.Get(ctx, tenantID, conflictID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(lockKey(tenantID, c.RecordType, c.NaturalKey))
	defer unlock()

	c, err = s.conflicts.Get(ctx, tenantID, conflictID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.ConflictPendingReview {
		return nil, domain.ErrConflictAlreadyResolved
	}

	if err := s.conflicts.MarkTerminal(ctx, tenantID, conflictID, domain.ConflictIgnored, reviewerID, "ignored"); err != nil {
		return nil, err
	}
	if err := s.processed.Mark(ctx, tenantID, c.EventID, domain.OutcomeApplied); err != nil {
		return nil, domain.ClassifyStorageErr(err)
	}
	if err := s.auditManual(ctx, c, "ignored", nil, reviewerID); err != nil {
		return nil, domain.ClassifyStorageErr(err)
	}

	ignored, err := s.conflicts.Get(ctx, tenantID, conflictID)
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.ConflictResolved(tenantID, ignored)
	}
	return ignored, nil
}

func (s *ReviewService) chooseData(c *domain.Conflict, req domain.ConflictResolutionRequest) (json.RawMessage, error) {
	switch req.ChosenSide {
	case domain.SideLocal:
		return c.LocalData, nil
	case domain.SideServer:
		// Canonical state already holds the server snapshot.
		return nil, nil
	case domain.SideCustom:
		if len(req.CustomData) == 0 {
			return nil, fmt.Errorf("%w: custom resolution requires custom_data", domain.ErrMalformedPayload)
		}
		payload, err := domain.DecodePayload(c.EventType, req.CustomData)
		if err != nil {
			return nil, err
		}
		if err := s.validate.Struct(payload); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
		}
		return req.CustomData, nil
	default:
		return nil, fmt.Errorf("%w: unknown side %q", domain.ErrMalformedPayload, req.ChosenSide)
	}
}

func (s *ReviewService) auditManual(ctx context.Context, c *domain.Conflict, decision string, winning json.RawMessage, reviewerID string) error {
	detail, err := json.Marshal(map[string]any{
		"local_data":  c.LocalData,
		"server_data": c.ServerData,
		"winning":     winning,
	})
	if err != nil {
		return err
	}

	return s.audits.Append(ctx, &domain.AuditEntry{
		ID:         uuid.New().String(),
		TenantID:   c.TenantID,
		EventID:    c.EventID,
		EventType:  c.EventType,
		RecordType: c.RecordType,
		NaturalKey: c.NaturalKey,
		Strategy:   c.RecommendedStrategy,
		Decision:   "manual:" + decision,
		Detail:     detail,
		Actor:      reviewerID,
		CreatedAt:  time.Now().UTC(),
	})
}
