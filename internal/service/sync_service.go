package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fieldsync-server/internal/conflict"
	"fieldsync-server/internal/domain"
	"fieldsync-server/internal/lock"
	"fieldsync-server/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReviewNotifier fans resolution state out to connected supervisor
// sessions. Implementations must not block event processing.
type ReviewNotifier interface {
	ConflictPending(tenantID string, c *domain.Conflict)
	ConflictResolved(tenantID string, c *domain.Conflict)
}

// SyncService is the coordinator: it runs each uploaded event through
// detect, resolve, and apply, and owns canonical state while doing so.
type SyncService struct {
	canonical repository.CanonicalStore
	conflicts repository.ConflictRepository
	audits    repository.AuditRepository
	processed repository.ProcessedEventRepository
	detector  *conflict.Detector
	engine    *conflict.Engine
	locks     *lock.KeyedMutex
	notifier  ReviewNotifier
	validate  *validator.Validate

	storageTimeout time.Duration
	logger         *zap.Logger
}

func NewSyncService(
	canonical repository.CanonicalStore,
	conflicts repository.ConflictRepository,
	audits repository.AuditRepository,
	processed repository.ProcessedEventRepository,
	locks *lock.KeyedMutex,
	notifier ReviewNotifier,
	storageTimeout time.Duration,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		canonical:      canonical,
		conflicts:      conflicts,
		audits:         audits,
		processed:      processed,
		detector:       conflict.NewDetector(),
		engine:         conflict.NewEngine(),
		locks:          locks,
		notifier:       notifier,
		validate:       validator.New(),
		storageTimeout: storageTimeout,
		logger:         logger,
	}
}

// SyncBatch processes the batch in the order received. Per-event failures
// land in the result's Errors and never abort the remaining events. Every
// event ends up applied, pending review, or errored; there is no fourth
// outcome.
func (s *SyncService) SyncBatch(ctx context.Context, tctx domain.TenantContext, events []domain.Event) domain.SyncResult {
	result := domain.SyncResult{
		AppliedEventIDs: []string{},
		Conflicts:       []domain.ConflictSummary{},
		Errors:          []domain.SyncError{},
		SyncTime:        time.Now().UTC(),
	}

	for _, event := range events {
		applied, summary, err := s.processEvent(ctx, tctx, event)
		switch {
		case err != nil:
			s.logger.Warn("event rejected",
				zap.String("tenant_id", tctx.TenantID),
				zap.String("event_id", event.ID),
				zap.Error(err))
			result.Errors = append(result.Errors, domain.SyncError{EventID: event.ID, Message: err.Error()})
		case summary != nil:
			result.Conflicts = append(result.Conflicts, *summary)
		case applied:
			result.AppliedEventIDs = append(result.AppliedEventIDs, event.ID)
		}
	}

	s.logger.Info("batch processed",
		zap.String("tenant_id", tctx.TenantID),
		zap.String("device_id", tctx.DeviceID),
		zap.Int("events", len(events)),
		zap.Int("applied", len(result.AppliedEventIDs)),
		zap.Int("conflicts", len(result.Conflicts)),
		zap.Int("errors", len(result.Errors)))

	return result
}

func (s *SyncService) processEvent(parent context.Context, tctx domain.TenantContext, event domain.Event) (bool, *domain.ConflictSummary, error) {
	ctx, cancel := context.WithTimeout(parent, s.storageTimeout)
	defer cancel()

	// Idempotency: an already-processed event ID is a no-op that reports
	// its prior outcome, with no side effects re-executed.
	prior, err := s.processed.Get(ctx, tctx.TenantID, event.ID)
	if err != nil {
		return false, nil, domain.ClassifyStorageErr(err)
	}
	if prior != nil {
		if prior.Outcome == domain.OutcomeApplied {
			return true, nil, nil
		}
		existing, err := s.conflicts.GetByEvent(ctx, tctx.TenantID, event.ID)
		if err != nil {
			return false, nil, domain.ClassifyStorageErr(err)
		}
		sum := existing.Summary()
		return false, &sum, nil
	}

	payload, err := domain.DecodePayload(event.Type, event.Payload)
	if err != nil {
		return false, nil, err
	}
	if err := s.validate.Struct(payload); err != nil {
		return false, nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	rule, hasRule := conflict.RuleFor(event.Type)
	if !hasRule {
		// Pass-through: no detection rule means no canonical target. The
		// event is acknowledged and audited so nothing drops silently.
		return s.applyPassThrough(ctx, tctx, event)
	}

	key := payload.RecordKey()
	unlock := s.locks.Lock(lockKey(tctx.TenantID, rule.RecordType, key))
	defer unlock()

	detected, err := s.detector.Detect(ctx, tctx.TenantID, event, payload, s.canonical)
	if err != nil {
		return false, nil, domain.ClassifyStorageErr(err)
	}

	if detected == nil {
		if err := s.writeCanonical(ctx, tctx, rule.RecordType, key, event.Payload); err != nil {
			return false, nil, domain.ClassifyStorageErr(err)
		}
		if err := s.processed.Mark(ctx, tctx.TenantID, event.ID, domain.OutcomeApplied); err != nil {
			return false, nil, domain.ClassifyStorageErr(err)
		}
		return true, nil, nil
	}

	resolution, err := s.engine.Resolve(detected)
	if err != nil {
		return false, nil, err
	}
	return s.applyResolution(ctx, tctx, event, detected, resolution)
}

func (s *SyncService) applyResolution(ctx context.Context, tctx domain.TenantContext, event domain.Event, c *domain.Conflict, res conflict.Resolution) (bool, *domain.ConflictSummary, error) {
	switch res.Decision {
	case conflict.DecisionUpdateServer, conflict.DecisionMerge:
		if err := s.writeCanonical(ctx, tctx, c.RecordType, c.NaturalKey, res.Data); err != nil {
			return false, nil, domain.ClassifyStorageErr(err)
		}
	case conflict.DecisionKeepBoth:
		sibling := &domain.CanonicalRecord{
			TenantID:   tctx.TenantID,
			RecordType: c.RecordType,
			NaturalKey: c.NaturalKey,
			Payload:    res.Data,
			UpdatedAt:  time.Now().UTC(),
			UpdatedBy:  tctx.UserID,
		}
		if _, err := s.canonical.InsertSibling(ctx, sibling); err != nil {
			return false, nil, domain.ClassifyStorageErr(err)
		}
	case conflict.DecisionKeepServer:
		// Incoming payload is discarded; the event still counts as applied
		// so the device stops retrying it.
	case conflict.DecisionManualReview:
		if err := s.conflicts.Create(ctx, c); err != nil {
			return false, nil, domain.ClassifyStorageErr(err)
		}
		if err := s.processed.Mark(ctx, tctx.TenantID, event.ID, domain.OutcomePendingReview); err != nil {
			return false, nil, domain.ClassifyStorageErr(err)
		}
		s.runEffects(tctx, c, res)
		sum := c.Summary()
		return false, &sum, nil
	default:
		return false, nil, fmt.Errorf("unknown resolution decision: %s", res.Decision)
	}

	if err := s.auditDecision(ctx, tctx, c, res); err != nil {
		return false, nil, domain.ClassifyStorageErr(err)
	}
	if err := s.processed.Mark(ctx, tctx.TenantID, event.ID, domain.OutcomeApplied); err != nil {
		return false, nil, domain.ClassifyStorageErr(err)
	}
	return true, nil, nil
}

func (s *SyncService) applyPassThrough(ctx context.Context, tctx domain.TenantContext, event domain.Event) (bool, *domain.ConflictSummary, error) {
	entry := &domain.AuditEntry{
		ID:        uuid.New().String(),
		TenantID:  tctx.TenantID,
		EventID:   event.ID,
		EventType: event.Type,
		Decision:  "pass_through",
		Actor:     domain.SystemActor,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.audits.Append(ctx, entry); err != nil {
		return false, nil, domain.ClassifyStorageErr(err)
	}
	if err := s.processed.Mark(ctx, tctx.TenantID, event.ID, domain.OutcomeApplied); err != nil {
		return false, nil, domain.ClassifyStorageErr(err)
	}
	return true, nil, nil
}

func (s *SyncService) writeCanonical(ctx context.Context, tctx domain.TenantContext, rt domain.RecordType, key string, payload json.RawMessage) error {
	return s.canonical.Upsert(ctx, &domain.CanonicalRecord{
		TenantID:   tctx.TenantID,
		RecordType: rt,
		NaturalKey: key,
		Payload:    payload,
		UpdatedAt:  time.Now().UTC(),
		UpdatedBy:  tctx.UserID,
	})
}

func (s *SyncService) auditDecision(ctx context.Context, tctx domain.TenantContext, c *domain.Conflict, res conflict.Resolution) error {
	detail, err := json.Marshal(map[string]any{
		"local_data":  c.LocalData,
		"server_data": c.ServerData,
		"reason":      res.Reason,
	})
	if err != nil {
		return err
	}

	return s.audits.Append(ctx, &domain.AuditEntry{
		ID:         uuid.New().String(),
		TenantID:   tctx.TenantID,
		EventID:    c.EventID,
		EventType:  c.EventType,
		RecordType: c.RecordType,
		NaturalKey: c.NaturalKey,
		Strategy:   c.RecommendedStrategy,
		Decision:   string(res.Decision),
		Detail:     detail,
		Actor:      domain.SystemActor,
		CreatedAt:  time.Now().UTC(),
	})
}

func (s *SyncService) runEffects(tctx domain.TenantContext, c *domain.Conflict, res conflict.Resolution) {
	for _, effect := range res.Effects {
		if effect == conflict.EffectNotifyReview && s.notifier != nil {
			s.notifier.ConflictPending(tctx.TenantID, c)
		}
	}
}

func lockKey(tenantID string, rt domain.RecordType, naturalKey string) string {
	return tenantID + "/" + string(rt) + "/" + naturalKey
}
