// Package event defines the immutable domain event value that flows through
// the event bus, the event stores and the publisher.
//
// An Event is never mutated after construction; deriving metadata
// (correlation, causation, topic) produces a new instance.
package event

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var (
	// ErrEmptyEventType is returned when an event is built without a type.
	ErrEmptyEventType = errors.New("event type must not be empty")

	// ErrEmptyAggregateID is returned when an event is built without an aggregate id.
	ErrEmptyAggregateID = errors.New("aggregate id must not be empty")

	// ErrZeroVersion is returned when an event is built with version 0; per-aggregate
	// versions start at 1.
	ErrZeroVersion = errors.New("event version must be greater than zero")

	// ErrInvalidPayloadJSON is returned when the payload is not valid JSON.
	ErrInvalidPayloadJSON = errors.New("payload json is not valid")
)

// Events is an alias type for a slice of Event.
type Events = []Event

// Event is the immutable record of something that happened to an aggregate.
//
// While its properties are exported for storage engines and codecs, it should
// only be constructed with the supplied factory methods:
//   - Build
//   - BuildWithID
type Event struct {
	EventID       string
	EventType     string
	OccurredAt    time.Time
	AggregateID   string
	AggregateType string
	Version       uint
	CorrelationID string
	CausationID   string
	Topic         string
	Payload       json.RawMessage
}

// Build is a factory method for Event. It assigns a fresh event id and
// validates the scalar input and the payload JSON.
func Build(
	eventType string,
	aggregateID string,
	aggregateType string,
	version uint,
	payload json.RawMessage,
) (Event, error) {

	return BuildWithID(uuid.NewString(), eventType, aggregateID, aggregateType, version, time.Now(), payload)
}

// BuildWithID is a factory method for Event with an explicit event id and
// occurrence time, used by storage engines when rehydrating stored rows.
func BuildWithID(
	eventID string,
	eventType string,
	aggregateID string,
	aggregateType string,
	version uint,
	occurredAt time.Time,
	payload json.RawMessage,
) (Event, error) {

	if eventType == "" {
		return Event{}, ErrEmptyEventType
	}

	if aggregateID == "" {
		return Event{}, ErrEmptyAggregateID
	}

	if version == 0 {
		return Event{}, ErrZeroVersion
	}

	if !jsoniter.ConfigFastest.Valid(payload) {
		return Event{}, ErrInvalidPayloadJSON
	}

	return Event{
		EventID:       eventID,
		EventType:     eventType,
		OccurredAt:    occurredAt,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       version,
		Payload:       payload,
	}, nil
}

// WithCorrelation returns a copy of the event carrying the given correlation id.
func (e Event) WithCorrelation(correlationID string) Event {
	e.CorrelationID = correlationID
	return e
}

// WithCausation returns a copy of the event carrying the given causation id.
func (e Event) WithCausation(causationID string) Event {
	e.CausationID = causationID
	return e
}

// WithTopic returns a copy of the event carrying the given routing topic.
func (e Event) WithTopic(topic string) Event {
	e.Topic = topic
	return e
}

// CausedBy returns a copy of this event correlated to the given cause:
// the causation id is the cause's event id and the correlation id is
// inherited from the cause (falling back to the cause's event id when the
// cause itself carries no correlation).
func (e Event) CausedBy(cause Event) Event {
	correlationID := cause.CorrelationID
	if correlationID == "" {
		correlationID = cause.EventID
	}

	e.CausationID = cause.EventID
	e.CorrelationID = correlationID

	return e
}
