package eventstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/eventflowlabs/eventflow-go/event"
)

// StoredEvent is the persistence row shape shared by the engines. It is
// built on scalars to stay agnostic of how domain events are modeled in
// client code.
//
// The relational wire contract covers event_id, aggregate_id,
// aggregate_type, event_type, version, payload, created_at and event_hash;
// the dispatch metadata fields round-trip through the file engine and are
// empty for rows read back from the relational engine.
type StoredEvent struct {
	EventID       string          `json:"event_id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Version       uint            `json:"version"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	EventHash     string          `json:"event_hash"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CausationID   string          `json:"causation_id,omitempty"`
	Topic         string          `json:"topic,omitempty"`
}

// HashPayload computes the event_hash column value: the hex-encoded SHA-256
// of the payload bytes.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// FromEvent converts a domain event into its persistence row.
func FromEvent(e event.Event) StoredEvent {
	return StoredEvent{
		EventID:       e.EventID,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		EventType:     e.EventType,
		Version:       e.Version,
		Payload:       e.Payload,
		CreatedAt:     e.OccurredAt,
		EventHash:     HashPayload(e.Payload),
		CorrelationID: e.CorrelationID,
		CausationID:   e.CausationID,
		Topic:         e.Topic,
	}
}

// ToEvent rebuilds the domain event from its persistence row.
func (s StoredEvent) ToEvent() (event.Event, error) {
	e, err := event.BuildWithID(
		s.EventID,
		s.EventType,
		s.AggregateID,
		s.AggregateType,
		s.Version,
		s.CreatedAt,
		s.Payload,
	)
	if err != nil {
		return event.Event{}, err
	}

	e.CorrelationID = s.CorrelationID
	e.CausationID = s.CausationID
	e.Topic = s.Topic

	return e, nil
}
