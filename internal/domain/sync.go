package domain

import "time"

// TenantContext is attached by the auth middleware before a sync request
// reaches the coordinator. Tenant resolution itself is an external concern.
type TenantContext struct {
	TenantID string
	UserID   string
	DeviceID string
}

type SyncRequest struct {
	DeviceID string  `json:"device_id" validate:"required"`
	Events   []Event `json:"events" validate:"required,dive"`
}

type SyncError struct {
	EventID string `json:"event_id"`
	Message string `json:"message"`
}

// SyncResult tells the device which events were applied, which are waiting
// on a supervisor, and which failed outright. Every submitted event lands in
// exactly one of the three buckets.
type SyncResult struct {
	AppliedEventIDs []string          `json:"applied_event_ids"`
	Conflicts       []ConflictSummary `json:"conflicts"`
	Errors          []SyncError       `json:"errors"`
	SyncTime        time.Time         `json:"sync_time"`
}

type ProcessedOutcome string

const (
	OutcomeApplied       ProcessedOutcome = "applied"
	OutcomePendingReview ProcessedOutcome = "pending_review"
)

// ProcessedEvent is one row of the idempotency index keyed by event ID.
type ProcessedEvent struct {
	TenantID    string           `json:"tenant_id"`
	EventID     string           `json:"event_id"`
	Outcome     ProcessedOutcome `json:"outcome"`
	ProcessedAt time.Time        `json:"processed_at"`
}
