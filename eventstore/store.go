// Package eventstore provides the core abstractions for versioned
// append-only event persistence with optimistic concurrency control.
//
// A store enforces that per-aggregate versions increase by exactly one: the
// first event for an aggregate must carry version 1 and every subsequent
// event exactly current-max+1. Any violation is a concurrency conflict
// detected at write time, without locks; the caller must re-read and
// recompute rather than retry blindly.
//
// Engines: memoryengine (process lifetime), fileengine (append-only JSONL),
// postgresengine (relational, with a change-notification channel).
package eventstore

import (
	"context"
	"errors"

	"github.com/eventflowlabs/eventflow-go/event"
)

var (
	// ErrConcurrencyConflict is returned when an appended event carries an
	// out-of-sequence version for its aggregate. It is never auto-retried.
	ErrConcurrencyConflict = errors.New("concurrency conflict, event version is out of sequence")

	// ErrAppendingEventFailed is returned when the durable write fails.
	ErrAppendingEventFailed = errors.New("appending event failed")

	// ErrQueryingEventsFailed is returned when reading events back fails.
	ErrQueryingEventsFailed = errors.New("querying events failed")

	// ErrBuildingQueryFailed is returned when an engine cannot build its query.
	ErrBuildingQueryFailed = errors.New("building query failed")

	// ErrScanningRowFailed is returned when a stored row cannot be decoded.
	ErrScanningRowFailed = errors.New("scanning stored event failed")

	// ErrNilDatabaseConnection is returned by relational engine factories
	// when no connection is supplied.
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")

	// ErrEmptyEventsTableName is returned when an empty table name is configured.
	ErrEmptyEventsTableName = errors.New("events table name must not be empty")
)

// Store is the append-only event persistence capability.
type Store interface {
	// Append durably writes the event, enforcing the per-aggregate version
	// sequence. An out-of-sequence version fails with ErrConcurrencyConflict.
	Append(ctx context.Context, e event.Event) error

	// Events returns stored events matching all supplied query filters,
	// ascending by version within an aggregate and by creation time across
	// aggregates, truncated to the query limit.
	Events(ctx context.Context, query Query) (event.Events, error)
}
