package sopflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// postgresSchema creates the append-only checkpoint table. Rows are never
// updated; the newest row per session wins.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS sopflow_checkpoints (
	id            BIGSERIAL PRIMARY KEY,
	session_id    TEXT        NOT NULL,
	workflow_id   TEXT        NOT NULL,
	current_node  TEXT        NOT NULL,
	checkpoint_at TIMESTAMPTZ NOT NULL,
	payload       JSONB       NOT NULL
);
CREATE INDEX IF NOT EXISTS sopflow_checkpoints_session_idx
	ON sopflow_checkpoints (session_id, checkpoint_at DESC);
`

// PostgresCheckpointer stores checkpoints in an append-only Postgres table,
// queried most-recent-first per session.
type PostgresCheckpointer struct {
	db *sql.DB
}

// NewPostgresCheckpointer opens a checkpointer over an existing database
// handle and ensures the schema exists.
func NewPostgresCheckpointer(ctx context.Context, db *sql.DB) (*PostgresCheckpointer, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint schema: %w", err)
	}
	return &PostgresCheckpointer{db: db}, nil
}

// SaveCheckpoint appends one row.
func (c *PostgresCheckpointer) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	payload, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO sopflow_checkpoints (session_id, workflow_id, current_node, checkpoint_at, payload)
		 VALUES ($1, $2, $3, $4, $5)`,
		checkpoint.SessionID, checkpoint.WorkflowID, checkpoint.CurrentNode,
		checkpoint.CheckpointAt, payload)
	if err != nil {
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the newest checkpoint row for a session, or nil.
func (c *PostgresCheckpointer) LoadCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	var payload []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT payload FROM sopflow_checkpoints
		 WHERE session_id = $1
		 ORDER BY checkpoint_at DESC, id DESC
		 LIMIT 1`, sessionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoint: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(payload, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	if checkpoint.Version > CheckpointVersion {
		return nil, fmt.Errorf("checkpoint version %d is newer than supported version %d",
			checkpoint.Version, CheckpointVersion)
	}
	return &checkpoint, nil
}

// DeleteCheckpoints removes every row for a session.
func (c *PostgresCheckpointer) DeleteCheckpoints(ctx context.Context, sessionID string) error {
	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM sopflow_checkpoints WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}
