package snapshot

import "context"

// Store retains at most one snapshot per aggregate id.
type Store interface {
	// Save durably writes the snapshot, overwriting any prior capture for
	// the same aggregate id.
	Save(ctx context.Context, s Snapshot) error

	// Load returns the snapshot for the aggregate id. The found flag is
	// false when no snapshot exists or when the stored capture carries a
	// different aggregate type; neither case is an error.
	Load(ctx context.Context, aggregateID, aggregateType string) (Snapshot, bool, error)

	// Delete removes the snapshot for the aggregate id. Deleting a missing
	// snapshot is a no-op.
	Delete(ctx context.Context, aggregateID string) error
}
