package domain

import (
	"encoding/json"
	"time"
)

type ResolutionStrategy string

const (
	StrategyNewestWins   ResolutionStrategy = "newest_wins"
	StrategyHighestValue ResolutionStrategy = "highest_value"
	StrategyManualReview ResolutionStrategy = "manual_review"
	StrategyMerge        ResolutionStrategy = "merge"
	StrategyKeepBoth     ResolutionStrategy = "keep_both"
)

type ConflictStatus string

const (
	ConflictPendingReview ConflictStatus = "pending_review"
	ConflictResolved      ConflictStatus = "resolved"
	ConflictIgnored       ConflictStatus = "ignored"
)

// Conflict is a materialized disagreement between an incoming event and the
// canonical record it targets. Rows are never deleted; a pending conflict is
// terminated only by an explicit resolve or ignore action.
type Conflict struct {
	ID                  string             `json:"id"`
	TenantID            string             `json:"tenant_id"`
	EventID             string             `json:"event_id"`
	EventType           EventType          `json:"event_type"`
	RecordType          RecordType         `json:"record_type"`
	NaturalKey          string             `json:"natural_key"`
	Reason              string             `json:"reason"`
	LocalData           json.RawMessage    `json:"local_data"`
	ServerData          json.RawMessage    `json:"server_data"`
	RecommendedStrategy ResolutionStrategy `json:"recommended_strategy"`
	Status              ConflictStatus     `json:"status"`
	DetectedAt          time.Time          `json:"detected_at"`
	ResolvedAt          *time.Time         `json:"resolved_at,omitempty"`
	ResolvedBy          string             `json:"resolved_by,omitempty"`
	Resolution          string             `json:"resolution,omitempty"`
}

type ChosenSide string

const (
	SideLocal  ChosenSide = "local"
	SideServer ChosenSide = "server"
	SideCustom ChosenSide = "custom"
)

type ConflictResolutionRequest struct {
	ChosenSide ChosenSide      `json:"chosen_side" validate:"required,oneof=local server custom"`
	CustomData json.RawMessage `json:"custom_data,omitempty"`
}

// ConflictSummary is the device-facing view of a pending conflict inside a
// sync response.
type ConflictSummary struct {
	ConflictID string         `json:"conflict_id"`
	EventID    string         `json:"event_id"`
	EventType  EventType      `json:"event_type"`
	Reason     string         `json:"reason"`
	Status     ConflictStatus `json:"status"`
}

func (c *Conflict) Summary() ConflictSummary {
	return ConflictSummary{
		ConflictID: c.ID,
		EventID:    c.EventID,
		EventType:  c.EventType,
		Reason:     c.Reason,
		Status:     c.Status,
	}
}
