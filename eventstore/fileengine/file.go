// Package fileengine provides a file-backed event store that appends events
// as JSON lines to a single log file. The full version index is rebuilt from
// the log when the store is opened, so the file remains the only source of
// truth between runs.
package fileengine

import (
	"bufio"
	"context"
	"errors"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/eventflowlabs/eventflow-go/event"
	"github.com/eventflowlabs/eventflow-go/eventstore"
	"github.com/eventflowlabs/eventflow-go/observability"
)

// ErrEmptyLogFilePath occurs when NewEventStore is called with an empty path.
var ErrEmptyLogFilePath = errors.New("log file path must not be empty")

// ErrCorruptLogFile occurs when a line of the log file cannot be decoded.
var ErrCorruptLogFile = errors.New("event log file is corrupt")

var json = jsoniter.ConfigFastest

const (
	logFilePermissions = 0o644

	logMsgStoreOpened      = "file event store opened"
	logMsgEventAppended    = "event appended to log file"
	logAttrLogFilePath     = "log_file_path"
	logAttrRecoveredEvents = "recovered_events"
	logAttrAggregateID     = "aggregate_id"
	logAttrEventType       = "event_type"
	logAttrVersion         = "version"
)

// EventStore persists events to an append-only JSON lines file.
// It is safe for concurrent use within a single process; it does not
// coordinate between processes sharing the same file.
type EventStore struct {
	mu         sync.RWMutex
	file       *os.File
	path       string
	events     []event.Event
	maxVersion map[string]uint

	logger observability.Logger
}

// Option defines a functional option for configuring EventStore.
type Option func(*EventStore) error

// WithLogger sets the structured log sink for store diagnostics.
func WithLogger(logger observability.Logger) Option {
	return func(es *EventStore) error {
		es.logger = logger
		return nil
	}
}

// NewEventStore opens (or creates) the log file at path and rebuilds the
// in-memory index from its contents.
func NewEventStore(path string, options ...Option) (*EventStore, error) {
	if path == "" {
		return nil, ErrEmptyLogFilePath
	}

	es := &EventStore{
		path:       path,
		maxVersion: make(map[string]uint),
	}

	for _, option := range options {
		if err := option(es); err != nil {
			return nil, err
		}
	}

	if err := es.recover(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions)
	if err != nil {
		return nil, errors.Join(eventstore.ErrAppendingEventFailed, err)
	}
	es.file = file

	if es.logger != nil {
		es.logger.Info(logMsgStoreOpened,
			logAttrLogFilePath, path,
			logAttrRecoveredEvents, len(es.events),
		)
	}

	return es, nil
}

// Close releases the underlying file handle. The store must not be used
// after Close.
func (es *EventStore) Close() error {
	es.mu.Lock()
	defer es.mu.Unlock()

	return es.file.Close()
}

func (es *EventStore) recover() error {
	file, err := os.Open(es.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return errors.Join(eventstore.ErrQueryingEventsFailed, err)
	}
	defer file.Close() //nolint:errcheck

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var stored eventstore.StoredEvent
		if err := json.Unmarshal(line, &stored); err != nil {
			return errors.Join(ErrCorruptLogFile, err)
		}

		e, err := stored.ToEvent()
		if err != nil {
			return errors.Join(ErrCorruptLogFile, err)
		}

		es.events = append(es.events, e)
		if e.Version > es.maxVersion[e.AggregateID] {
			es.maxVersion[e.AggregateID] = e.Version
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Join(ErrCorruptLogFile, err)
	}

	return nil
}

// Append writes the event as one JSON line if its version is exactly
// current-max+1 for its aggregate; otherwise it fails with
// eventstore.ErrConcurrencyConflict and the file is left untouched.
func (es *EventStore) Append(ctx context.Context, e event.Event) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(eventstore.ErrAppendingEventFailed, err)
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	if e.Version != es.maxVersion[e.AggregateID]+1 {
		return eventstore.ErrConcurrencyConflict
	}

	line, err := json.Marshal(eventstore.FromEvent(e))
	if err != nil {
		return errors.Join(eventstore.ErrAppendingEventFailed, err)
	}

	if _, err := es.file.Write(append(line, '\n')); err != nil {
		return errors.Join(eventstore.ErrAppendingEventFailed, err)
	}

	if err := es.file.Sync(); err != nil {
		return errors.Join(eventstore.ErrAppendingEventFailed, err)
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

// Events returns stored events matching all supplied filters in append
// order, truncated to the query limit.
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
