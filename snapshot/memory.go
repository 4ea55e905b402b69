package snapshot

import (
	"context"
	"errors"
	"sync"
)

// MemoryStore keeps snapshots in memory, suitable for tests and development.
// It is safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]Snapshot),
	}
}

// Save overwrites any prior snapshot for the aggregate id.
func (ms *MemoryStore) Save(ctx context.Context, s Snapshot) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrSavingSnapshotFailed, err)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.snapshots[s.AggregateID] = s

	return nil
}

// Load returns the stored snapshot; found is false for a missing snapshot
// or an aggregate-type mismatch.
func (ms *MemoryStore) Load(ctx context.Context, aggregateID, aggregateType string) (Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, false, errors.Join(ErrLoadingSnapshotFailed, err)
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	s, found := ms.snapshots[aggregateID]
	if !found || s.AggregateType != aggregateType {
		return Snapshot{}, false, nil
	}

	return s, true, nil
}

// Delete removes the snapshot if present.
func (ms *MemoryStore) Delete(ctx context.Context, aggregateID string) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrDeletingSnapshotFailed, err)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.snapshots, aggregateID)

	return nil
}

var _ Store = (*MemoryStore)(nil)
