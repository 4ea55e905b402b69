// Package postgresengine provides the PostgreSQL implementation of the
// snapshot store. Single-snapshot retention maps onto an upsert keyed by
// aggregate id.
package postgresengine

import (
	"context"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect import
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventflowlabs/eventflow-go/observability"
	"github.com/eventflowlabs/eventflow-go/snapshot"
)

var (
	// ErrNilDatabaseConnection occurs when NewSnapshotStore is called without a pool.
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")

	// ErrEmptySnapshotsTableName occurs when an empty table name is configured.
	ErrEmptySnapshotsTableName = errors.New("snapshots table name must not be empty")
)

const (
	defaultSnapshotTableName = "snapshots"

	colAggregateID   = "aggregate_id"
	colAggregateType = "aggregate_type"
	colVersion       = "version"
	colTakenAt       = "taken_at"
	colState         = "state"

	dialectPostgres = "postgres"

	logMsgBuildQueryFailed = "failed to build snapshot query"
	logMsgDBExecFailed     = "database execution failed"
	logMsgDBQueryFailed    = "database query execution failed"
	logMsgSnapshotSaved    = "snapshot saved"
	logMsgSnapshotDeleted  = "snapshot deleted"
	logAttrError           = "error"
	logAttrAggregateID     = "aggregate_id"
	logAttrVersion         = "version"
	logAttrDurationMS      = "duration_ms"
)

// SnapshotStore persists one snapshot per aggregate id in a PostgreSQL
// table. Save is an atomic INSERT ... ON CONFLICT DO UPDATE, so the latest
// writer wins without read-modify-write races.
type SnapshotStore struct {
	db        *pgxpool.Pool
	tableName string
	logger    observability.Logger
}

// Option defines a functional option for configuring SnapshotStore.
type Option func(*SnapshotStore) error

// WithTableName sets the table name for the SnapshotStore.
func WithTableName(tableName string) Option {
	return func(ss *SnapshotStore) error {
		if tableName == "" {
			return ErrEmptySnapshotsTableName
		}

		ss.tableName = tableName

		return nil
	}
}

// WithLogger sets the structured log sink for store diagnostics.
func WithLogger(logger observability.Logger) Option {
	return func(ss *SnapshotStore) error {
		ss.logger = logger
		return nil
	}
}

// NewSnapshotStore creates a new SnapshotStore using a pgx Pool with
// optional configuration.
func NewSnapshotStore(db *pgxpool.Pool, options ...Option) (*SnapshotStore, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	ss := &SnapshotStore{
		db:        db,
		tableName: defaultSnapshotTableName,
	}

	for _, option := range options {
		if err := option(ss); err != nil {
			return nil, err
		}
	}

	return ss, nil
}

// Save upserts the snapshot, overwriting any prior capture for the same
// aggregate id.
func (ss *SnapshotStore) Save(ctx context.Context, s snapshot.Snapshot) error {
	sqlQuery, buildErr := ss.buildUpsertQuery(s)
	if buildErr != nil {
		ss.logError(logMsgBuildQueryFailed, buildErr, logAttrAggregateID, s.AggregateID)
		return buildErr
	}

	start := time.Now()
	_, execErr := ss.db.Exec(ctx, sqlQuery)
	duration := time.Since(start)

	if execErr != nil {
		ss.logError(logMsgDBExecFailed, execErr, logAttrAggregateID, s.AggregateID)
		return errors.Join(snapshot.ErrSavingSnapshotFailed, execErr)
	}

	if ss.logger != nil {
		ss.logger.Debug(logMsgSnapshotSaved,
			logAttrAggregateID, s.AggregateID,
			logAttrVersion, s.Version,
			logAttrDurationMS, duration.Milliseconds(),
		)
	}

	return nil
}

// Load reads the snapshot; found is false when no row matches both the
// aggregate id and type.
func (ss *SnapshotStore) Load(ctx context.Context, aggregateID, aggregateType string) (snapshot.Snapshot, bool, error) {
	sqlQuery, buildErr := ss.buildSelectQuery(aggregateID, aggregateType)
	if buildErr != nil {
		ss.logError(logMsgBuildQueryFailed, buildErr, logAttrAggregateID, aggregateID)
		return snapshot.Snapshot{}, false, buildErr
	}

	rows, queryErr := ss.db.Query(ctx, sqlQuery)
	if queryErr != nil {
		ss.logError(logMsgDBQueryFailed, queryErr, logAttrAggregateID, aggregateID)
		return snapshot.Snapshot{}, false, errors.Join(snapshot.ErrLoadingSnapshotFailed, queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		return snapshot.Snapshot{}, false, rows.Err()
	}

	s := snapshot.Snapshot{}
	var state []byte

	if scanErr := rows.Scan(&s.AggregateID, &s.AggregateType, &s.Version, &s.TakenAt, &state); scanErr != nil {
		ss.logError(logMsgDBQueryFailed, scanErr, logAttrAggregateID, aggregateID)
		return snapshot.Snapshot{}, false, errors.Join(snapshot.ErrLoadingSnapshotFailed, scanErr)
	}

	s.State = state

	return s, true, nil
}

// Delete removes the snapshot row if present; deleting a missing row is a no-op.
func (ss *SnapshotStore) Delete(ctx context.Context, aggregateID string) error {
	sqlQuery, buildErr := ss.buildDeleteQuery(aggregateID)
	if buildErr != nil {
		ss.logError(logMsgBuildQueryFailed, buildErr, logAttrAggregateID, aggregateID)
		return buildErr
	}

	if _, execErr := ss.db.Exec(ctx, sqlQuery); execErr != nil {
		ss.logError(logMsgDBExecFailed, execErr, logAttrAggregateID, aggregateID)
		return errors.Join(snapshot.ErrDeletingSnapshotFailed, execErr)
	}

	if ss.logger != nil {
		ss.logger.Debug(logMsgSnapshotDeleted, logAttrAggregateID, aggregateID)
	}

	return nil
}

func (ss *SnapshotStore) buildUpsertQuery(s snapshot.Snapshot) (string, error) {
	record := goqu.Record{
		colAggregateID:   s.AggregateID,
		colAggregateType: s.AggregateType,
		colVersion:       s.Version,
		colTakenAt:       s.TakenAt,
		colState:         string(s.State),
	}

	update := goqu.Record{
		colAggregateType: s.AggregateType,
		colVersion:       s.Version,
		colTakenAt:       s.TakenAt,
		colState:         string(s.State),
	}

	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		Insert(ss.tableName).
		Rows(record).
		OnConflict(goqu.DoUpdate(`"`+colAggregateID+`"`, update)).
		ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(snapshot.ErrSavingSnapshotFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (ss *SnapshotStore) buildSelectQuery(aggregateID, aggregateType string) (string, error) {
	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		From(ss.tableName).
		Select(colAggregateID, colAggregateType, colVersion, colTakenAt, colState).
		Where(goqu.Ex{
			colAggregateID:   aggregateID,
			colAggregateType: aggregateType,
		}).
		ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(snapshot.ErrLoadingSnapshotFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (ss *SnapshotStore) buildDeleteQuery(aggregateID string) (string, error) {
	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		Delete(ss.tableName).
		Where(goqu.Ex{colAggregateID: aggregateID}).
		ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(snapshot.ErrDeletingSnapshotFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (ss *SnapshotStore) logError(msg string, err error, args ...any) {
	if ss.logger == nil {
		return
	}

	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)
	ss.logger.Error(msg, allArgs...)
}

var _ snapshot.Store = (*SnapshotStore)(nil)
