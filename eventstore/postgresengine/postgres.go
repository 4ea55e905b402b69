package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect import
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/eventflowlabs/eventflow-go/event"
	"github.com/eventflowlabs/eventflow-go/eventstore"
	"github.com/eventflowlabs/eventflow-go/eventstore/postgresengine/internal/adapters"
)

const (
	defaultEventTableName = "events"
	defaultNotifyChannel  = "eventflow_events"

	colEventID       = "event_id"
	colAggregateID   = "aggregate_id"
	colAggregateType = "aggregate_type"
	colEventType     = "event_type"
	colVersion       = "version"
	colPayload       = "payload"
	colCreatedAt     = "created_at"
	colEventHash     = "event_hash"

	cteCurrent      = "current"
	aliasMaxVersion = "max_version"
	dialectPostgres = "postgres"
	funcPgNotify    = "pg_notify"
)

type (
	sqlQueryString    = string
	rowsAffectedInt64 = int64
)

// EventStore is the PostgreSQL implementation of eventstore.Store. A single
// conditional INSERT guarded by the aggregate's current maximum version
// makes the optimistic concurrency check and the write atomic, without
// explicit locking. After a successful append the store emits an advisory
// notification on a pg_notify channel.
//
// It works with pgx pools, sql.DB and sqlx.DB connections through a
// database adapter and supports customizable logging, metrics and tracing.
type EventStore struct {
	db               adapters.DBAdapter
	eventTableName   string
	notifyChannel    string
	logger           Logger
	contextualLogger ContextualLogger
	metricsCollector MetricsCollector
	tracingCollector TracingCollector
}

type queryResultRow struct {
	eventID       string
	aggregateID   string
	aggregateType string
	eventType     string
	version       uint
	payload       []byte
	createdAt     time.Time
}

// NewEventStoreFromPGXPool creates a new EventStore using a pgx Pool with optional configuration.
func NewEventStoreFromPGXPool(db *pgxpool.Pool, options ...Option) (*EventStore, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewPGXAdapter(db), options...)
}

// NewEventStoreFromPGXPoolWithReplica creates a new EventStore using a pgx Pool
// for writes and a replica pool for reads, with optional configuration.
func NewEventStoreFromPGXPoolWithReplica(db *pgxpool.Pool, replica *pgxpool.Pool, options ...Option) (*EventStore, error) {
	if db == nil || replica == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewPGXAdapterWithReplica(db, replica), options...)
}

// NewEventStoreFromSQLDB creates a new EventStore using a sql.DB with optional configuration.
func NewEventStoreFromSQLDB(db *sql.DB, options ...Option) (*EventStore, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewSQLAdapter(db), options...)
}

// NewEventStoreFromSQLX creates a new EventStore using a sqlx.DB with optional configuration.
func NewEventStoreFromSQLX(db *sqlx.DB, options ...Option) (*EventStore, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewSQLXAdapter(db), options...)
}

func newEventStore(db adapters.DBAdapter, options ...Option) (*EventStore, error) {
	es := &EventStore{
		db:             db,
		eventTableName: defaultEventTableName,
		notifyChannel:  defaultNotifyChannel,
	}

	for _, option := range options {
		if err := option(es); err != nil {
			return nil, err
		}
	}

	return es, nil
}

// Append writes the event with a conditional INSERT: the row is only
// inserted when the aggregate's current maximum version still equals
// event.Version-1. Zero rows affected means another writer got there first
// and the append fails with eventstore.ErrConcurrencyConflict.
//
// On success an advisory notification is emitted on the configured channel;
// a failed notification is logged but never fails the append.
func (es *EventStore) Append(ctx context.Context, e event.Event) error {
	tracing, ctx := es.startAppendTracing(ctx, e)
	metrics := es.startAppendMetrics(ctx)

	if e.Version == 0 {
		tracing.finishError(errorTypeConcurrencyConflict, 0)
		metrics.recordConcurrencyConflict()

		return eventstore.ErrConcurrencyConflict
	}

	sqlQuery, buildQueryErr := es.buildAppendQuery(e)
	if buildQueryErr != nil {
		es.logError(ctx, logMsgBuildInsertQueryFailed, buildQueryErr, logAttrEventType, e.EventType)
		tracing.finishError(errorTypeBuildQuery, 0)
		metrics.recordError(errorTypeBuildQuery, 0)

		return buildQueryErr
	}

	rowsAffected, duration, execErr := es.executeAppendQuery(ctx, sqlQuery)
	if execErr != nil {
		tracing.finishError(errorTypeDatabase, duration)
		metrics.recordError(errorTypeDatabase, duration)

		return execErr
	}

	if rowsAffected < 1 {
		es.logOperation(ctx, logMsgConcurrencyConflict,
			logAttrAggregateID, e.AggregateID,
			logAttrVersion, e.Version,
		)
		tracing.finishError(errorTypeConcurrencyConflict, duration)
		metrics.recordConcurrencyConflict()

		return eventstore.ErrConcurrencyConflict
	}

	es.notifyAppended(ctx, e)

	es.logOperation(ctx, logMsgEventAppended,
		logAttrAggregateID, e.AggregateID,
		logAttrEventType, e.EventType,
		logAttrVersion, e.Version,
		logAttrDurationMS, es.toMilliseconds(duration),
	)
	tracing.finishSuccess(rowsAffected, duration)
	metrics.recordSuccess(duration)

	return nil
}

// Events retrieves stored events matching the eventstore.Query criteria,
// ordered by creation time and version ascending.
func (es *EventStore) Events(ctx context.Context, query eventstore.Query) (event.Events, error) {
	tracing, ctx := es.startQueryTracing(ctx)
	metrics := es.startQueryMetrics(ctx)

	sqlQuery, buildQueryErr := es.buildSelectQuery(query)
	if buildQueryErr != nil {
		es.logError(ctx, logMsgBuildSelectQueryFailed, buildQueryErr)
		tracing.finishError(errorTypeBuildQuery, 0)
		metrics.recordError(errorTypeBuildQuery, 0)

		return nil, buildQueryErr
	}

	rows, duration, queryErr := es.executeQuery(ctx, sqlQuery)
	if queryErr != nil {
		tracing.finishError(errorTypeDatabase, duration)
		metrics.recordError(errorTypeDatabase, duration)

		return nil, queryErr
	}
	defer es.closeRows(rows)

	eventStream, scanErr := es.processQueryResults(ctx, rows)
	if scanErr != nil {
		tracing.finishError(errorTypeScanRow, duration)
		metrics.recordError(errorTypeScanRow, duration)

		return nil, scanErr
	}

	es.logOperation(ctx, logMsgQueryCompleted,
		logAttrEventCount, len(eventStream),
		logAttrDurationMS, es.toMilliseconds(duration),
	)
	tracing.finishSuccess(len(eventStream), duration)
	metrics.recordSuccess(len(eventStream), duration)

	return eventStream, nil
}

// executeQuery executes the SQL query and returns rows with timing information.
func (es *EventStore) executeQuery(ctx context.Context, sqlQuery string) (
	adapters.DBRows,
	time.Duration,
	error,
) {

	start := time.Now()
	rows, queryErr := es.db.Query(ctx, sqlQuery)
	duration := time.Since(start)
	es.logQueryWithDuration(ctx, sqlQuery, logActionQuery, duration)

	if queryErr != nil {
		es.logError(ctx, logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)

		return nil, duration, errors.Join(eventstore.ErrQueryingEventsFailed, queryErr)
	}

	return rows, duration, nil
}

// closeRows safely closes database rows and logs any errors.
func (es *EventStore) closeRows(rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		if es.logger != nil {
			es.logger.Warn(logMsgCloseRowsFailed, logAttrError, closeErr.Error())
		}
	}
}

// processQueryResults converts database rows back into domain events.
func (es *EventStore) processQueryResults(ctx context.Context, rows adapters.DBRows) (event.Events, error) {
	result := queryResultRow{}
	eventStream := make(event.Events, 0)

	for rows.Next() {
		rowScanErr := rows.Scan(
			&result.eventID,
			&result.aggregateID,
			&result.aggregateType,
			&result.eventType,
			&result.version,
			&result.payload,
			&result.createdAt,
		)
		if rowScanErr != nil {
			es.logError(ctx, logMsgScanRowFailed, rowScanErr)

			return nil, errors.Join(eventstore.ErrScanningRowFailed, rowScanErr)
		}

		stored := eventstore.StoredEvent{
			EventID:       result.eventID,
			AggregateID:   result.aggregateID,
			AggregateType: result.aggregateType,
			EventType:     result.eventType,
			Version:       result.version,
			Payload:       result.payload,
			CreatedAt:     result.createdAt,
		}

		e, buildErr := stored.ToEvent()
		if buildErr != nil {
			es.logError(ctx, logMsgBuildEventFailed, buildErr, logAttrEventType, result.eventType)

			return nil, errors.Join(eventstore.ErrScanningRowFailed, buildErr)
		}

		eventStream = append(eventStream, e)
	}

	return eventStream, nil
}

// executeAppendQuery executes the SQL append statement and returns rows affected and duration.
func (es *EventStore) executeAppendQuery(ctx context.Context, sqlQuery string) (
	rowsAffectedInt64,
	time.Duration,
	error,
) {

	start := time.Now()
	tag, execErr := es.db.Exec(ctx, sqlQuery)
	duration := time.Since(start)
	es.logQueryWithDuration(ctx, sqlQuery, logActionAppend, duration)

	if execErr != nil {
		es.logError(ctx, logMsgDBExecFailed, execErr, logAttrQuery, sqlQuery)

		return 0, duration, errors.Join(eventstore.ErrAppendingEventFailed, execErr)
	}

	rowsAffected, rowsAffectedErr := tag.RowsAffected()
	if rowsAffectedErr != nil {
		es.logError(ctx, logMsgRowsAffectedFailed, rowsAffectedErr)

		return 0, duration, errors.Join(eventstore.ErrAppendingEventFailed, rowsAffectedErr)
	}

	return rowsAffected, duration, nil
}

// notifyAppended emits the advisory change notification for an appended
// event. Listeners treat the payload as a hint and re-read through the
// store, so a lost or failed notification only delays them until the next
// re-poll.
func (es *EventStore) notifyAppended(ctx context.Context, e event.Event) {
	if es.notifyChannel == "" {
		return
	}

	payload, encodeErr := EncodeNotification(NotificationFromEvent(e))
	if encodeErr != nil {
		es.logError(ctx, logMsgNotifyFailed, encodeErr, logAttrEventType, e.EventType)
		es.recordNotifyFailure(ctx)

		return
	}

	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		Select(goqu.Func(funcPgNotify, goqu.V(es.notifyChannel), goqu.V(string(payload)))).
		ToSQL()
	if toSQLErr != nil {
		es.logError(ctx, logMsgNotifyFailed, toSQLErr, logAttrEventType, e.EventType)
		es.recordNotifyFailure(ctx)

		return
	}

	if _, execErr := es.db.Exec(ctx, sqlQuery); execErr != nil {
		es.logError(ctx, logMsgNotifyFailed, execErr, logAttrEventType, e.EventType)
		es.recordNotifyFailure(ctx)
	}
}

func (es *EventStore) buildSelectQuery(query eventstore.Query) (sqlQueryString, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(es.eventTableName).
		Select(colEventID, colAggregateID, colAggregateType, colEventType, colVersion, colPayload, colCreatedAt).
		Order(goqu.I(colCreatedAt).Asc(), goqu.I(colVersion).Asc())

	selectStmt = es.addWhereClause(query, selectStmt)

	if query.Limit() > 0 {
		selectStmt = selectStmt.Limit(uint(query.Limit()))
	}

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

// buildAppendQuery builds the conditional INSERT guarded by the aggregate's
// current maximum version.
func (es *EventStore) buildAppendQuery(e event.Event) (sqlQueryString, error) {
	stored := eventstore.FromEvent(e)
	expectedMaxVersion := e.Version - 1
	builder := goqu.Dialect(dialectPostgres)

	// The CTE captures the aggregate's current maximum version
	cteStmt := builder.
		From(es.eventTableName).
		Select(goqu.COALESCE(goqu.MAX(colVersion), 0).As(aliasMaxVersion)).
		Where(goqu.Ex{colAggregateID: stored.AggregateID})

	// The SELECT only yields a row when the expectation still holds
	selectStmt := builder.
		From(cteCurrent).
		Select(
			goqu.V(stored.EventID),
			goqu.V(stored.AggregateID),
			goqu.V(stored.AggregateType),
			goqu.V(stored.EventType),
			goqu.V(stored.Version),
			goqu.V(string(stored.Payload)),
			goqu.V(stored.CreatedAt),
			goqu.V(stored.EventHash),
		).
		Where(goqu.C(aliasMaxVersion).Eq(goqu.V(expectedMaxVersion)))

	insertStmt := builder.
		Insert(es.eventTableName).
		Cols(colEventID, colAggregateID, colAggregateType, colEventType, colVersion, colPayload, colCreatedAt, colEventHash).
		FromQuery(selectStmt).
		With(cteCurrent, cteStmt)

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (es *EventStore) addWhereClause(query eventstore.Query, selectStmt *goqu.SelectDataset) *goqu.SelectDataset {
	expressions := make([]goqu.Expression, 0)

	if query.AggregateID() != "" {
		expressions = append(expressions, goqu.Ex{colAggregateID: query.AggregateID()})
	}

	if query.AggregateType() != "" {
		expressions = append(expressions, goqu.Ex{colAggregateType: query.AggregateType()})
	}

	if query.SinceVersion() > 0 {
		expressions = append(expressions, goqu.C(colVersion).Gt(query.SinceVersion()))
	}

	if !query.SinceTimestamp().IsZero() {
		expressions = append(expressions, goqu.C(colCreatedAt).Gte(query.SinceTimestamp()))
	}

	if len(expressions) == 0 {
		return selectStmt
	}

	return selectStmt.Where(goqu.And(expressions...))
}

var _ eventstore.Store = (*EventStore)(nil)
