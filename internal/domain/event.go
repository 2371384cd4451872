package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventProductionLogged   EventType = "production_logged"
	EventSensorReading      EventType = "sensor_reading"
	EventNotesAdded         EventType = "notes_added"
	EventPhotoAdded         EventType = "photo_added"
	EventEquipmentInspected EventType = "equipment_inspected"
	EventEquipmentRepaired  EventType = "equipment_repaired"
	EventWellStatusChanged  EventType = "well_status_changed"
)

// Event is an immutable fact recorded by a field device while offline.
// Reprocessing the same ID must be idempotent.
type Event struct {
	ID         string          `json:"id" validate:"required"`
	Type       EventType       `json:"type" validate:"required"`
	Payload    json.RawMessage `json:"payload" validate:"required"`
	DeviceID   string          `json:"device_id" validate:"required"`
	UserID     string          `json:"user_id" validate:"required"`
	OccurredAt time.Time       `json:"occurred_at" validate:"required"`
	UploadedAt time.Time       `json:"uploaded_at,omitempty"`
}

// Payload is the decoded, type-specific body of an Event.
type Payload interface {
	// RecordKey is the natural key of the canonical record this payload
	// targets, unique within a tenant and record type.
	RecordKey() string
	// EffectiveAt is the device-clock time of the real-world action.
	EffectiveAt() time.Time
}

type ProductionPayload struct {
	Well       string    `json:"well" validate:"required"`
	Date       string    `json:"date" validate:"required,datetime=2006-01-02"`
	Volume     float64   `json:"volume" validate:"gte=0"`
	RunTicket  string    `json:"run_ticket,omitempty"`
	RecordedAt time.Time `json:"recorded_at" validate:"required"`
}

func (p ProductionPayload) RecordKey() string      { return p.Well + "|" + p.Date }
func (p ProductionPayload) EffectiveAt() time.Time { return p.RecordedAt }
func (p ProductionPayload) MetricValue() float64   { return p.Volume }

type SensorReadingPayload struct {
	Well   string    `json:"well" validate:"required"`
	Sensor string    `json:"sensor" validate:"required"`
	Value  float64   `json:"value"`
	Unit   string    `json:"unit,omitempty"`
	ReadAt time.Time `json:"read_at" validate:"required"`
}

func (p SensorReadingPayload) RecordKey() string      { return p.Well + "|" + p.Sensor }
func (p SensorReadingPayload) EffectiveAt() time.Time { return p.ReadAt }

type NotesPayload struct {
	Well      string    `json:"well" validate:"required"`
	Date      string    `json:"date" validate:"required,datetime=2006-01-02"`
	Text      string    `json:"text" validate:"required"`
	Author    string    `json:"author" validate:"required"`
	WrittenAt time.Time `json:"written_at" validate:"required"`
}

func (p NotesPayload) RecordKey() string      { return p.Well + "|" + p.Date }
func (p NotesPayload) EffectiveAt() time.Time { return p.WrittenAt }

type PhotoPayload struct {
	Well     string    `json:"well" validate:"required"`
	Date     string    `json:"date" validate:"required,datetime=2006-01-02"`
	PhotoRef string    `json:"photo_ref" validate:"required"`
	Caption  string    `json:"caption,omitempty"`
	TakenAt  time.Time `json:"taken_at" validate:"required"`
}

func (p PhotoPayload) RecordKey() string      { return p.Well + "|" + p.Date }
func (p PhotoPayload) EffectiveAt() time.Time { return p.TakenAt }

type InspectionPayload struct {
	Well        string    `json:"well" validate:"required"`
	Equipment   string    `json:"equipment" validate:"required"`
	Date        string    `json:"date" validate:"required,datetime=2006-01-02"`
	Status      string    `json:"status" validate:"required,oneof=PASS FAIL"`
	Notes       string    `json:"notes,omitempty"`
	InspectedAt time.Time `json:"inspected_at" validate:"required"`
}

func (p InspectionPayload) RecordKey() string      { return p.Well + "|" + p.Equipment + "|" + p.Date }
func (p InspectionPayload) EffectiveAt() time.Time { return p.InspectedAt }

type RepairPayload struct {
	Well       string    `json:"well" validate:"required"`
	Equipment  string    `json:"equipment" validate:"required"`
	Date       string    `json:"date" validate:"required,datetime=2006-01-02"`
	Summary    string    `json:"summary" validate:"required"`
	RepairedAt time.Time `json:"repaired_at" validate:"required"`
}

func (p RepairPayload) RecordKey() string      { return p.Well + "|" + p.Equipment + "|" + p.Date }
func (p RepairPayload) EffectiveAt() time.Time { return p.RepairedAt }

type WellStatusPayload struct {
	Well      string    `json:"well" validate:"required"`
	Status    string    `json:"status" validate:"required,oneof=producing shut_in plugged"`
	Reason    string    `json:"reason,omitempty"`
	ChangedAt time.Time `json:"changed_at" validate:"required"`
}

func (p WellStatusPayload) RecordKey() string      { return p.Well }
func (p WellStatusPayload) EffectiveAt() time.Time { return p.ChangedAt }

// DecodePayload unmarshals raw into the payload struct for the given event
// type. Unknown types return ErrUnknownEventType; undecodable bodies return
// ErrMalformedPayload. Structural (required-field) validation is the
// caller's job, via the shared validator.
func DecodePayload(t EventType, raw json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)

	switch t {
	case EventProductionLogged:
		var v ProductionPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case EventSensorReading:
		var v SensorReadingPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case EventNotesAdded:
		var v NotesPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case EventPhotoAdded:
		var v PhotoPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case EventEquipmentInspected:
		var v InspectionPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case EventEquipmentRepaired:
		var v RepairPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case EventWellStatusChanged:
		var v WellStatusPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, t)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return p, nil
}
