// Package memoryengine provides the in-memory event store, suitable for
// tests, development and process-lifetime deployments.
package memoryengine

import (
	"context"
	"errors"
	"sync"

	"github.com/eventflowlabs/eventflow-go/event"
	"github.com/eventflowlabs/eventflow-go/eventstore"
	"github.com/eventflowlabs/eventflow-go/observability"
)

const (
	logMsgEventAppended       = "event appended"
	logMsgConcurrencyConflict = "concurrency conflict detected"
	logAttrAggregateID        = "aggregate_id"
	logAttrEventType          = "event_type"
	logAttrVersion            = "version"
	logAttrExpectedVersion    = "expected_version"
)

// EventStore keeps all events in memory, ordered by insertion, with a
// per-aggregate version index for optimistic concurrency checks.
// It is safe for concurrent use.
type EventStore struct {
	mu         sync.RWMutex
	events     []event.Event
	maxVersion map[string]uint

	logger observability.Logger
}

// Option defines a functional option for configuring EventStore.
type Option func(*EventStore) error

// WithLogger sets the structured log sink for append diagnostics.
func WithLogger(logger observability.Logger) Option {
	return func(es *EventStore) error {
		es.logger = logger
		return nil
	}
}

// NewEventStore creates an empty in-memory store with optional configuration.
func NewEventStore(options ...Option) (*EventStore, error) {
	es := &EventStore{
		maxVersion: make(map[string]uint),
	}

	for _, option := range options {
		if err := option(es); err != nil {
			return nil, err
		}
	}

	return es, nil
}

// Append writes the event if its version is exactly current-max+1 for its
// aggregate (1 for a fresh aggregate); otherwise it fails with
// eventstore.ErrConcurrencyConflict.
func (es *EventStore) Append(ctx context.Context, e event.Event) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(eventstore.ErrAppendingEventFailed, err)
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	expected := es.maxVersion[e.AggregateID] + 1
	if e.Version != expected {
		if es.logger != nil {
			es.logger.Info(logMsgConcurrencyConflict,
				logAttrAggregateID, e.AggregateID,
				logAttrVersion, e.Version,
				logAttrExpectedVersion, expected,
			)
		}

		return eventstore.ErrConcurrencyConflict
	}

	es.events = append(es.events, e)
	es.maxVersion[e.AggregateID] = e.Version

	if es.logger != nil {
		es.logger.Debug(logMsgEventAppended,
			logAttrAggregateID, e.AggregateID,
			logAttrEventType, e.EventType,
			logAttrVersion, e.Version,
		)
	}

	return nil
}

// Events returns stored events matching all supplied filters in insertion
// order (which is version order within an aggregate), truncated to the
// query limit.
func (es *EventStore) Events(ctx context.Context, query eventstore.Query) (event.Events, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Join(eventstore.ErrQueryingEventsFailed, err)
	}

	es.mu.RLock()
	defer es.mu.RUnlock()

	matches := make(event.Events, 0)
	for _, e := range es.events {
		if !query.Matches(e) {
			continue
		}

		matches = append(matches, e)
		if query.Limit() > 0 && len(matches) == query.Limit() {
			break
		}
	}

	return matches, nil
}

var _ eventstore.Store = (*EventStore)(nil)
