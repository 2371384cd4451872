package domain

import (
	"encoding/json"
	"time"
)

type RecordType string

const (
	RecordProduction RecordType = "production"
	RecordSensor     RecordType = "sensor"
	RecordNotes      RecordType = "notes"
	RecordPhotos     RecordType = "photos"
	RecordInspection RecordType = "inspection"
	RecordRepair     RecordType = "repair"
	RecordWellStatus RecordType = "well_status"
)

// CanonicalRecord is the authoritative stored state for one natural key.
// SiblingNo is 0 for the primary record; keep-both resolutions append
// additional siblings with increasing numbers.
type CanonicalRecord struct {
	TenantID   string          `json:"tenant_id"`
	RecordType RecordType      `json:"record_type"`
	NaturalKey string          `json:"natural_key"`
	SiblingNo  int             `json:"sibling_no"`
	Payload    json.RawMessage `json:"payload"`
	UpdatedAt  time.Time       `json:"updated_at"`
	UpdatedBy  string          `json:"updated_by"`
}
