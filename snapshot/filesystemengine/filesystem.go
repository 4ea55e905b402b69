// Package filesystemengine provides a snapshot store that keeps one JSON
// file per aggregate id in a flat directory.
package filesystemengine

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/eventflowlabs/eventflow-go/observability"
	"github.com/eventflowlabs/eventflow-go/snapshot"
)

// ErrEmptyDirectory occurs when NewSnapshotStore is called with an empty path.
var ErrEmptyDirectory = errors.New("snapshot directory must not be empty")

var json = jsoniter.ConfigFastest

const (
	directoryPermissions = 0o755
	filePermissions      = 0o644
	snapshotFileSuffix   = ".json"

	logMsgSnapshotSaved   = "snapshot saved"
	logMsgSnapshotDeleted = "snapshot deleted"
	logAttrAggregateID    = "aggregate_id"
	logAttrVersion        = "version"
	logAttrPath           = "path"
)

// SnapshotStore persists snapshots under dir, one file per aggregate id.
// Writes go through a temp file and rename so readers never observe a
// partially written snapshot. It is safe for concurrent use within a single
// process.
type SnapshotStore struct {
	mu  sync.Mutex
	dir string

	logger observability.Logger
}

// Option defines a functional option for configuring SnapshotStore.
type Option func(*SnapshotStore) error

// WithLogger sets the structured log sink for store diagnostics.
func WithLogger(logger observability.Logger) Option {
	return func(ss *SnapshotStore) error {
		ss.logger = logger
		return nil
	}
}

// NewSnapshotStore creates the directory if needed and returns the store.
func NewSnapshotStore(dir string, options ...Option) (*SnapshotStore, error) {
	if dir == "" {
		return nil, ErrEmptyDirectory
	}

	ss := &SnapshotStore{dir: dir}

	for _, option := range options {
		if err := option(ss); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(dir, directoryPermissions); err != nil {
		return nil, errors.Join(snapshot.ErrSavingSnapshotFailed, err)
	}

	return ss, nil
}

// snapshotPath maps an aggregate id to its file, escaping characters that
// are not filename-safe.
func (ss *SnapshotStore) snapshotPath(aggregateID string) string {
	return filepath.Join(ss.dir, url.PathEscape(aggregateID)+snapshotFileSuffix)
}

// Save overwrites any prior snapshot file for the aggregate id.
func (ss *SnapshotStore) Save(ctx context.Context, s snapshot.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(snapshot.ErrSavingSnapshotFailed, err)
	}

	data, marshalErr := json.Marshal(s)
	if marshalErr != nil {
		return errors.Join(snapshot.ErrSavingSnapshotFailed, marshalErr)
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	path := ss.snapshotPath(s.AggregateID)
	tempPath := path + ".tmp"

	if writeErr := os.WriteFile(tempPath, data, filePermissions); writeErr != nil {
		return errors.Join(snapshot.ErrSavingSnapshotFailed, writeErr)
	}

	if renameErr := os.Rename(tempPath, path); renameErr != nil {
		return errors.Join(snapshot.ErrSavingSnapshotFailed, renameErr)
	}

	if ss.logger != nil {
		ss.logger.Debug(logMsgSnapshotSaved,
			logAttrAggregateID, s.AggregateID,
			logAttrVersion, s.Version,
			logAttrPath, path,
		)
	}

	return nil
}

// Load reads the snapshot file; found is false for a missing file or an
// aggregate-type mismatch.
func (ss *SnapshotStore) Load(ctx context.Context, aggregateID, aggregateType string) (snapshot.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return snapshot.Snapshot{}, false, errors.Join(snapshot.ErrLoadingSnapshotFailed, err)
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	data, readErr := os.ReadFile(ss.snapshotPath(aggregateID))
	if readErr != nil {
		if errors.Is(readErr, os.ErrNotExist) {
			return snapshot.Snapshot{}, false, nil
		}

		return snapshot.Snapshot{}, false, errors.Join(snapshot.ErrLoadingSnapshotFailed, readErr)
	}

	var s snapshot.Snapshot
	if unmarshalErr := json.Unmarshal(data, &s); unmarshalErr != nil {
		return snapshot.Snapshot{}, false, errors.Join(snapshot.ErrLoadingSnapshotFailed, unmarshalErr)
	}

	if s.AggregateType != aggregateType {
		return snapshot.Snapshot{}, false, nil
	}

	return s, true, nil
}

// Delete removes the snapshot file if present.
func (ss *SnapshotStore) Delete(ctx context.Context, aggregateID string) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(snapshot.ErrDeletingSnapshotFailed, err)
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	path := ss.snapshotPath(aggregateID)

	if removeErr := os.Remove(path); removeErr != nil {
		if errors.Is(removeErr, os.ErrNotExist) {
			return nil
		}

		return errors.Join(snapshot.ErrDeletingSnapshotFailed, removeErr)
	}

	if ss.logger != nil {
		ss.logger.Debug(logMsgSnapshotDeleted, logAttrAggregateID, aggregateID, logAttrPath, path)
	}

	return nil
}

var _ snapshot.Store = (*SnapshotStore)(nil)
