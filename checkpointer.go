package sopflow

import (
	"context"
)

// Checkpointer persists workflow snapshots keyed by session. Writes are
// append-mostly and partitioned by session ID, so concurrent runs for
// different sessions never contend.
type Checkpointer interface {

	// SaveCheckpoint persists a snapshot.
	SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error

	// LoadCheckpoint returns the most recent checkpoint for a session,
	// or nil when none exists.
	LoadCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error)

	// DeleteCheckpoints removes all checkpoint data for a session.
	DeleteCheckpoints(ctx context.Context, sessionID string) error
}
