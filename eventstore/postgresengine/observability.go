package postgresengine

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/eventflowlabs/eventflow-go/event"
	"github.com/eventflowlabs/eventflow-go/observability"
)

const (
	logMsgBuildSelectQueryFailed = "failed to build select query"
	logMsgBuildInsertQueryFailed = "failed to build insert query"
	logMsgDBQueryFailed          = "database query execution failed"
	logMsgDBExecFailed           = "database execution failed during event append"
	logMsgRowsAffectedFailed     = "failed to get rows affected count"
	logMsgScanRowFailed          = "failed to scan database row"
	logMsgBuildEventFailed       = "failed to rebuild event from database row"
	logMsgCloseRowsFailed        = "failed to close database rows"
	logMsgNotifyFailed           = "failed to emit append notification"
	logMsgQueryCompleted         = "query completed"
	logMsgEventAppended          = "event appended"
	logMsgConcurrencyConflict    = "concurrency conflict detected"
	logMsgSQLExecuted            = "executed sql for: "

	logAttrError       = "error"
	logAttrQuery       = "query"
	logAttrEventType   = "event_type"
	logAttrEventCount  = "event_count"
	logAttrAggregateID = "aggregate_id"
	logAttrVersion     = "version"
	logAttrDurationMS  = "duration_ms"

	logActionQuery  = "query"
	logActionAppend = "append"

	metricQueryDuration        = "eventstore.query.duration"
	metricAppendDuration       = "eventstore.append.duration"
	metricEventsQueried        = "eventstore.query.events"
	metricConcurrencyConflicts = "eventstore.append.conflicts"
	metricDatabaseErrors       = "eventstore.db.errors"
	metricNotifyFailures       = "eventstore.notify.failures"

	spanNameQuery  = "eventstore.query"
	spanNameAppend = "eventstore.append"

	spanAttrOperation   = "operation"
	spanAttrStatus      = "status"
	spanAttrErrorType   = "error_type"
	spanAttrEventType   = "event_type"
	spanAttrEventCount  = "event_count"
	spanAttrAggregateID = "aggregate_id"
	spanAttrVersion     = "version"
	spanAttrDurationMS  = "duration_ms"

	operationQuery  = "query"
	operationAppend = "append"

	statusSuccess = "success"
	statusError   = "error"

	errorTypeBuildQuery          = "build_query"
	errorTypeDatabase            = "database"
	errorTypeScanRow             = "scan_row"
	errorTypeConcurrencyConflict = "concurrency_conflict"
	errorTypeNotify              = "notify"
)

// logQueryWithDuration logs SQL statements with execution time at debug
// level, preferring the contextual logger when both are configured.
func (es *EventStore) logQueryWithDuration(
	ctx context.Context,
	sqlQuery string,
	action string,
	duration time.Duration,
) {
	switch {
	case es.contextualLogger != nil:
		es.contextualLogger.DebugContext(ctx, logMsgSQLExecuted+action,
			logAttrDurationMS, es.toMilliseconds(duration), logAttrQuery, sqlQuery)
	case es.logger != nil:
		es.logger.Debug(logMsgSQLExecuted+action,
			logAttrDurationMS, es.toMilliseconds(duration), logAttrQuery, sqlQuery)
	}
}

// logOperation logs operational information at info level.
func (es *EventStore) logOperation(ctx context.Context, msg string, args ...any) {
	switch {
	case es.contextualLogger != nil:
		es.contextualLogger.InfoContext(ctx, msg, args...)
	case es.logger != nil:
		es.logger.Info(msg, args...)
	}
}

// logError logs error information at the error level.
func (es *EventStore) logError(ctx context.Context, msg string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	switch {
	case es.contextualLogger != nil:
		es.contextualLogger.ErrorContext(ctx, msg, allArgs...)
	case es.logger != nil:
		es.logger.Error(msg, allArgs...)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func (es *EventStore) toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

// recordDurationMetrics records a duration, using the context-aware method
// when the collector supports it.
func (es *EventStore) recordDurationMetrics(
	ctx context.Context,
	metricName string,
	duration time.Duration,
	operation, status string,
) {
	if es.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		spanAttrOperation: operation,
		spanAttrStatus:    status,
	}

	if contextual, ok := es.metricsCollector.(observability.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metricName, duration, labels)
	} else {
		es.metricsCollector.RecordDuration(metricName, duration, labels)
	}
}

// recordValueMetrics records a gauge value, using the context-aware method
// when the collector supports it.
func (es *EventStore) recordValueMetrics(
	ctx context.Context,
	metricName string,
	value float64,
	operation, status string,
) {
	if es.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		spanAttrOperation: operation,
		spanAttrStatus:    status,
	}

	if contextual, ok := es.metricsCollector.(observability.ContextualMetricsCollector); ok {
		contextual.RecordValueContext(ctx, metricName, value, labels)
	} else {
		es.metricsCollector.RecordValue(metricName, value, labels)
	}
}

// incrementCounterMetrics increments a counter, using the context-aware
// method when the collector supports it.
func (es *EventStore) incrementCounterMetrics(ctx context.Context, metricName string, labels map[string]string) {
	if es.metricsCollector == nil {
		return
	}

	if contextual, ok := es.metricsCollector.(observability.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metricName, labels)
	} else {
		es.metricsCollector.IncrementCounter(metricName, labels)
	}
}

// recordNotifyFailure counts a failed append notification.
func (es *EventStore) recordNotifyFailure(ctx context.Context) {
	es.incrementCounterMetrics(ctx, metricNotifyFailures, map[string]string{
		spanAttrOperation: operationAppend,
		spanAttrErrorType: errorTypeNotify,
	})
}

// === Tracing Observer Pattern ===
// These observers encapsulate span lifecycle management for store operations.

// queryTracingObserver manages the tracing span of a query operation.
type queryTracingObserver struct {
	es   *EventStore
	span SpanContext
}

// appendTracingObserver manages the tracing span of an append operation.
type appendTracingObserver struct {
	es   *EventStore
	span SpanContext
}

// startQueryTracing creates a new tracing observer for query operations.
func (es *EventStore) startQueryTracing(ctx context.Context) (*queryTracingObserver, context.Context) {
	observer := &queryTracingObserver{es: es}

	if es.tracingCollector == nil {
		return observer, ctx
	}

	newCtx, span := es.tracingCollector.StartSpan(ctx, spanNameQuery, map[string]string{
		spanAttrOperation: operationQuery,
	})
	observer.span = span

	return observer, newCtx
}

// startAppendTracing creates a new tracing observer for append operations.
func (es *EventStore) startAppendTracing(ctx context.Context, e event.Event) (*appendTracingObserver, context.Context) {
	observer := &appendTracingObserver{es: es}

	if es.tracingCollector == nil {
		return observer, ctx
	}

	newCtx, span := es.tracingCollector.StartSpan(ctx, spanNameAppend, map[string]string{
		spanAttrOperation:   operationAppend,
		spanAttrEventType:   e.EventType,
		spanAttrAggregateID: e.AggregateID,
		spanAttrVersion:     strconv.FormatUint(uint64(e.Version), 10),
	})
	observer.span = span

	return observer, newCtx
}

// finishSuccess completes the query span for successful operations.
func (qto *queryTracingObserver) finishSuccess(eventCount int, duration time.Duration) {
	if qto.span == nil {
		return
	}

	qto.span.SetStatus(statusSuccess)
	qto.span.AddAttribute(spanAttrEventCount, strconv.Itoa(eventCount))
	qto.span.AddAttribute(spanAttrDurationMS, formatDurationMS(duration))

	qto.es.tracingCollector.FinishSpan(qto.span, statusSuccess, map[string]string{
		spanAttrEventCount: strconv.Itoa(eventCount),
	})
}

// finishError completes the query span with error details.
func (qto *queryTracingObserver) finishError(errorType string, duration time.Duration) {
	if qto.span == nil {
		return
	}

	qto.span.SetStatus(statusError)
	qto.span.AddAttribute(spanAttrErrorType, errorType)
	if duration > 0 {
		qto.span.AddAttribute(spanAttrDurationMS, formatDurationMS(duration))
	}

	qto.es.tracingCollector.FinishSpan(qto.span, statusError, map[string]string{
		spanAttrErrorType: errorType,
	})
}

// finishSuccess completes the append span for successful operations.
func (ato *appendTracingObserver) finishSuccess(rowsAffected int64, duration time.Duration) {
	if ato.span == nil {
		return
	}

	ato.span.SetStatus(statusSuccess)
	ato.span.AddAttribute(spanAttrEventCount, strconv.FormatInt(rowsAffected, 10))
	ato.span.AddAttribute(spanAttrDurationMS, formatDurationMS(duration))

	ato.es.tracingCollector.FinishSpan(ato.span, statusSuccess, map[string]string{
		spanAttrEventCount: strconv.FormatInt(rowsAffected, 10),
	})
}

// finishError completes the append span with error details.
func (ato *appendTracingObserver) finishError(errorType string, duration time.Duration) {
	if ato.span == nil {
		return
	}

	ato.span.SetStatus(statusError)
	ato.span.AddAttribute(spanAttrErrorType, errorType)
	if duration > 0 {
		ato.span.AddAttribute(spanAttrDurationMS, formatDurationMS(duration))
	}

	ato.es.tracingCollector.FinishSpan(ato.span, statusError, map[string]string{
		spanAttrErrorType: errorType,
	})
}

func formatDurationMS(duration time.Duration) string {
	return strconv.FormatFloat(float64(duration.Nanoseconds())/1e6, 'f', 2, 64)
}

// === Metrics Observer Pattern ===
// These observers encapsulate the metrics recording of store operations.

// queryMetricsObserver records the metrics of a query operation.
type queryMetricsObserver struct {
	es  *EventStore
	ctx context.Context
}

// appendMetricsObserver records the metrics of an append operation.
type appendMetricsObserver struct {
	es  *EventStore
	ctx context.Context
}

// startQueryMetrics creates a new metrics observer for query operations.
func (es *EventStore) startQueryMetrics(ctx context.Context) *queryMetricsObserver {
	return &queryMetricsObserver{es: es, ctx: ctx}
}

// startAppendMetrics creates a new metrics observer for append operations.
func (es *EventStore) startAppendMetrics(ctx context.Context) *appendMetricsObserver {
	return &appendMetricsObserver{es: es, ctx: ctx}
}

// recordSuccess records all metrics for a successful query operation.
func (qmo *queryMetricsObserver) recordSuccess(eventCount int, duration time.Duration) {
	qmo.es.recordDurationMetrics(qmo.ctx, metricQueryDuration, duration, operationQuery, statusSuccess)
	qmo.es.recordValueMetrics(qmo.ctx, metricEventsQueried, float64(eventCount), operationQuery, statusSuccess)
}

// recordError records all metrics for a failed query operation.
func (qmo *queryMetricsObserver) recordError(errorType string, duration time.Duration) {
	qmo.es.recordDurationMetrics(qmo.ctx, metricQueryDuration, duration, operationQuery, statusError)
	qmo.es.incrementCounterMetrics(qmo.ctx, metricDatabaseErrors, map[string]string{
		spanAttrOperation: operationQuery,
		spanAttrStatus:    statusError,
		spanAttrErrorType: errorType,
	})
}

// recordSuccess records all metrics for a successful append operation.
func (amo *appendMetricsObserver) recordSuccess(duration time.Duration) {
	amo.es.recordDurationMetrics(amo.ctx, metricAppendDuration, duration, operationAppend, statusSuccess)
}

// recordError records all metrics for a failed append operation.
func (amo *appendMetricsObserver) recordError(errorType string, duration time.Duration) {
	amo.es.recordDurationMetrics(amo.ctx, metricAppendDuration, duration, operationAppend, statusError)
	amo.es.incrementCounterMetrics(amo.ctx, metricDatabaseErrors, map[string]string{
		spanAttrOperation: operationAppend,
		spanAttrStatus:    statusError,
		spanAttrErrorType: errorType,
	})
}

// recordConcurrencyConflict counts a detected concurrency conflict.
func (amo *appendMetricsObserver) recordConcurrencyConflict() {
	amo.es.incrementCounterMetrics(amo.ctx, metricConcurrencyConflicts, map[string]string{
		spanAttrOperation: operationAppend,
		spanAttrErrorType: errorTypeConcurrencyConflict,
	})
}
