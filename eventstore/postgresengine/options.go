package postgresengine

import (
	"errors"

	"github.com/eventflowlabs/eventflow-go/eventstore"
	"github.com/eventflowlabs/eventflow-go/observability"
)

// ErrEmptyNotifyChannel occurs when WithNotifyChannel is called with an empty name.
var ErrEmptyNotifyChannel = errors.New("notify channel name must not be empty")

// Aliases to the shared observability contracts, so that store configuration
// reads naturally at the call site.
type (
	// Logger is the plain structured logging contract.
	Logger = observability.Logger

	// ContextualLogger is the context-aware logging contract with automatic
	// trace correlation.
	ContextualLogger = observability.ContextualLogger

	// MetricsCollector receives performance and operational metrics.
	MetricsCollector = observability.MetricsCollector

	// TracingCollector receives distributed tracing spans.
	TracingCollector = observability.TracingCollector

	// SpanContext represents an active tracing span.
	SpanContext = observability.SpanContext
)

// Option defines a functional option for configuring EventStore.
type Option func(*EventStore) error

// WithTableName sets the table name for the EventStore.
func WithTableName(tableName string) Option {
	return func(es *EventStore) error {
		if tableName == "" {
			return eventstore.ErrEmptyEventsTableName
		}

		es.eventTableName = tableName

		return nil
	}
}

// WithNotifyChannel sets the pg_notify channel for append notifications.
func WithNotifyChannel(channel string) Option {
	return func(es *EventStore) error {
		if channel == "" {
			return ErrEmptyNotifyChannel
		}

		es.notifyChannel = channel

		return nil
	}
}

// WithoutNotifications disables append notifications entirely.
func WithoutNotifications() Option {
	return func(es *EventStore) error {
		es.notifyChannel = ""
		return nil
	}
}

// WithLogger sets the logger for the EventStore.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL queries with execution timing (development use)
// Info level: Event counts, durations, concurrency conflicts (production-safe)
// Warn level: Non-critical issues like cleanup failures
// Error level: Critical failures that cause operation failures.
func WithLogger(logger Logger) Option {
	return func(es *EventStore) error {
		es.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the EventStore.
// It receives the same messages as the plain logger, with context information
// for automatic trace/span correlation when tracing is enabled.
func WithContextualLogger(logger ContextualLogger) Option {
	return func(es *EventStore) error {
		es.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the EventStore.
// The collector will receive query/append durations, event counts,
// concurrency conflicts, database errors and notification failures.
func WithMetrics(collector MetricsCollector) Option {
	return func(es *EventStore) error {
		es.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the EventStore.
// The collector will receive span creation for query/append operations,
// context propagation, and error tracking.
func WithTracing(collector TracingCollector) Option {
	return func(es *EventStore) error {
		es.tracingCollector = collector
		return nil
	}
}
