package snapshot_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflowlabs/eventflow-go/snapshot"
)

func buildSnapshot(t *testing.T, aggregateID, aggregateType string, version uint) snapshot.Snapshot {
	t.Helper()

	s, err := snapshot.Build(aggregateID, aggregateType, version, []byte(`{"total": 42}`))
	require.NoError(t, err)

	return s
}

func Test_MemoryStore_SaveOverwritesPriorSnapshot(t *testing.T) {
	store := snapshot.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, buildSnapshot(t, "order-1", "order", 3)))
	require.NoError(t, store.Save(ctx, buildSnapshot(t, "order-1", "order", 7)))

	loaded, found, err := store.Load(ctx, "order-1", "order")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint(7), loaded.Version)
}

func Test_MemoryStore_LoadReportsNotFoundForMissingSnapshot(t *testing.T) {
	store := snapshot.NewMemoryStore()

	_, found, err := store.Load(context.Background(), "order-1", "order")
	require.NoError(t, err)
	assert.False(t, found)
}

func Test_MemoryStore_LoadReportsNotFoundOnTypeMismatch(t *testing.T) {
	store := snapshot.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, buildSnapshot(t, "order-1", "order", 3)))

	_, found, err := store.Load(ctx, "order-1", "cart")
	require.NoError(t, err)
	assert.False(t, found)
}

func Test_MemoryStore_DeleteIsIdempotent(t *testing.T) {
	store := snapshot.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, buildSnapshot(t, "order-1", "order", 3)))

	require.NoError(t, store.Delete(ctx, "order-1"))
	require.NoError(t, store.Delete(ctx, "order-1"))

	_, found, err := store.Load(ctx, "order-1", "order")
	require.NoError(t, err)
	assert.False(t, found)
}

func Test_MemoryStore_HonorsContextCancellation(t *testing.T) {
	store := snapshot.NewMemoryStore()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.Save(ctx, buildSnapshot(t, "order-1", "order", 3)), snapshot.ErrSavingSnapshotFailed)

	_, _, loadErr := store.Load(ctx, "order-1", "order")
	assert.ErrorIs(t, loadErr, snapshot.ErrLoadingSnapshotFailed)

	assert.ErrorIs(t, store.Delete(ctx, "order-1"), snapshot.ErrDeletingSnapshotFailed)
}
