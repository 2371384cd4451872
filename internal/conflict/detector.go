package conflict

import (
	"context"
	"fmt"
	"time"

	"fieldsync-server/internal/domain"

	"github.com/google/uuid"
)

// Lookup is the read-only view of canonical state the detector queries.
// Find returns (nil, nil) when no record exists for the key.
type Lookup interface {
	Find(ctx context.Context, tenantID string, rt domain.RecordType, naturalKey string) (*domain.CanonicalRecord, error)
}

// Detector decides whether an incoming event collides with existing
// canonical state. It performs no writes.
type Detector struct{}

func NewDetector() *Detector {
	return &Detector{}
}

// Detect returns nil when the event is a first write for its natural key, or
// when its type has no registered rule (pass-through, never a batch
// failure). Otherwise it returns a Conflict carrying both data snapshots and
// the statically configured strategy for the type.
func (d *Detector) Detect(ctx context.Context, tenantID string, event domain.Event, payload domain.Payload, lookup Lookup) (*domain.Conflict, error) {
	rule, ok := RuleFor(event.Type)
	if !ok {
		return nil, nil
	}

	key := payload.RecordKey()
	existing, err := lookup.Find(ctx, tenantID, rule.RecordType, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}

	return &domain.Conflict{
		ID:                  uuid.New().String(),
		TenantID:            tenantID,
		EventID:             event.ID,
		EventType:           event.Type,
		RecordType:          rule.RecordType,
		NaturalKey:          key,
		Reason:              fmt.Sprintf("existing %s record for key %s", rule.RecordType, key),
		LocalData:           event.Payload,
		ServerData:          existing.Payload,
		RecommendedStrategy: rule.Strategy,
		Status:              domain.ConflictPendingReview,
		DetectedAt:          time.Now().UTC(),
	}, nil
}
