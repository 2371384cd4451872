package websocket

import (
	"encoding/json"
	"time"

	"fieldsync-server/internal/domain"
)

type MessageType string

const (
	TypeConflictPending  MessageType = "conflict_pending"
	TypeConflictResolved MessageType = "conflict_resolved"
	TypeAck              MessageType = "ack"
	TypePing             MessageType = "ping"
	TypePong             MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ConflictPayload is pushed to supervisor sessions when a conflict enters or
// leaves review.
type ConflictPayload struct {
	ConflictID string                    `json:"conflict_id"`
	EventID    string                    `json:"event_id"`
	EventType  domain.EventType          `json:"event_type"`
	NaturalKey string                    `json:"natural_key"`
	Reason     string                    `json:"reason"`
	Status     domain.ConflictStatus     `json:"status"`
	Strategy   domain.ResolutionStrategy `json:"strategy"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
