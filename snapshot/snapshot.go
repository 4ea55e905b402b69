// Package snapshot provides versioned state captures that accelerate
// aggregate rehydration, together with the strategies that decide when a
// capture is worth taking and the stores that retain the latest capture per
// aggregate.
package snapshot

import (
	"encoding/json"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var (
	// ErrEmptyAggregateID occurs when a snapshot is built without an aggregate id.
	ErrEmptyAggregateID = errors.New("aggregate id must not be empty")

	// ErrEmptyAggregateType occurs when a snapshot is built without an aggregate type.
	ErrEmptyAggregateType = errors.New("aggregate type must not be empty")

	// ErrZeroVersion occurs when a snapshot is built with version zero.
	ErrZeroVersion = errors.New("snapshot version must be greater than zero")

	// ErrInvalidStateJSON occurs when the serialized state is not valid JSON.
	ErrInvalidStateJSON = errors.New("snapshot state must be valid json")

	// ErrSavingSnapshotFailed is returned when the durable write fails.
	ErrSavingSnapshotFailed = errors.New("saving snapshot failed")

	// ErrLoadingSnapshotFailed is returned when reading a snapshot back fails.
	ErrLoadingSnapshotFailed = errors.New("loading snapshot failed")

	// ErrDeletingSnapshotFailed is returned when removing a snapshot fails.
	ErrDeletingSnapshotFailed = errors.New("deleting snapshot failed")
)

// Snapshot is a versioned capture of aggregate state. A store retains one
// snapshot per aggregate id, the latest write winning.
type Snapshot struct {
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       uint            `json:"version"`
	TakenAt       time.Time       `json:"taken_at"`
	State         json.RawMessage `json:"state"`
}

// Build creates a validated Snapshot taken now.
func Build(aggregateID, aggregateType string, version uint, state []byte) (Snapshot, error) {
	if aggregateID == "" {
		return Snapshot{}, ErrEmptyAggregateID
	}

	if aggregateType == "" {
		return Snapshot{}, ErrEmptyAggregateType
	}

	if version == 0 {
		return Snapshot{}, ErrZeroVersion
	}

	if !jsoniter.ConfigFastest.Valid(state) {
		return Snapshot{}, ErrInvalidStateJSON
	}

	return Snapshot{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       version,
		TakenAt:       time.Now(),
		State:         state,
	}, nil
}

// Snapshotter is the canonical serialize/deserialize capability an aggregate
// must expose to participate in snapshotting.
type Snapshotter interface {
	// MarshalSnapshot serializes the aggregate's current state.
	MarshalSnapshot() ([]byte, error)

	// UnmarshalSnapshot restores the aggregate's state from a capture.
	UnmarshalSnapshot(state []byte) error
}

// Take captures the current state of a Snapshotter into a Snapshot.
func Take(aggregateID, aggregateType string, version uint, source Snapshotter) (Snapshot, error) {
	state, err := source.MarshalSnapshot()
	if err != nil {
		return Snapshot{}, err
	}

	return Build(aggregateID, aggregateType, version, state)
}

// Restore applies a snapshot's state to a Snapshotter.
func Restore(s Snapshot, target Snapshotter) error {
	return target.UnmarshalSnapshot(s.State)
}
