package domain

import (
	"encoding/json"
	"time"
)

// SystemActor is the Actor recorded for automatic resolution decisions.
const SystemActor = "system"

// AuditEntry records one resolution outcome, automatic or manual. Entries
// are append-only and are never updated or deleted.
type AuditEntry struct {
	ID         string             `json:"id"`
	TenantID   string             `json:"tenant_id"`
	EventID    string             `json:"event_id"`
	EventType  EventType          `json:"event_type"`
	RecordType RecordType         `json:"record_type"`
	NaturalKey string             `json:"natural_key"`
	Strategy   ResolutionStrategy `json:"strategy,omitempty"`
	Decision   string             `json:"decision"`
	Detail     json.RawMessage    `json:"detail,omitempty"`
	Actor      string             `json:"actor"`
	CreatedAt  time.Time          `json:"created_at"`
}
