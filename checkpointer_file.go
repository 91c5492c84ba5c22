package sopflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// FileCheckpointer persists checkpoints to disk, one directory per session
// with a "latest.json" pointer to the newest snapshot.
type FileCheckpointer struct {
	dataDir string
}

// NewFileCheckpointer creates a new file-based checkpointer
func NewFileCheckpointer(dataDir string) (*FileCheckpointer, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".sopflow", "checkpoints")
	}

	// Ensure the data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	return &FileCheckpointer{dataDir: dataDir}, nil
}

// SaveCheckpoint writes the checkpoint to the session directory and updates
// the latest pointer.
func (c *FileCheckpointer) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	sessionDir := filepath.Join(c.dataDir, checkpoint.SessionID)
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	name := fmt.Sprintf("checkpoint-%d.json", checkpoint.CheckpointAt.UnixNano())
	if err := os.WriteFile(filepath.Join(sessionDir, name), data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}

	// The latest pointer is a plain copy rather than a symlink so the
	// layout survives filesystems without symlink support.
	if err := os.WriteFile(filepath.Join(sessionDir, "latest.json"), data, 0644); err != nil {
		return fmt.Errorf("failed to update latest checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint loads the most recent checkpoint for a session.
func (c *FileCheckpointer) LoadCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	latestPath := filepath.Join(c.dataDir, sessionID, "latest.json")

	if _, err := os.Stat(latestPath); os.IsNotExist(err) {
		return nil, nil // No checkpoint found
	}

	data, err := os.ReadFile(latestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	if checkpoint.Version > CheckpointVersion {
		return nil, fmt.Errorf("checkpoint version %d is newer than supported version %d",
			checkpoint.Version, CheckpointVersion)
	}
	return &checkpoint, nil
}

// DeleteCheckpoints removes all checkpoint data for a session.
func (c *FileCheckpointer) DeleteCheckpoints(ctx context.Context, sessionID string) error {
	if err := os.RemoveAll(filepath.Join(c.dataDir, sessionID)); err != nil {
		return fmt.Errorf("failed to delete session directory: %w", err)
	}
	return nil
}

// SessionSummary describes the latest checkpoint of one session.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	WorkflowID   string    `json:"workflow_id"`
	CurrentNode  string    `json:"current_node"`
	CheckpointAt time.Time `json:"checkpoint_at"`
}

// ListSessions returns a summary per session, newest first.
func (c *FileCheckpointer) ListSessions(ctx context.Context) ([]*SessionSummary, error) {
	entries, err := os.ReadDir(c.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*SessionSummary{}, nil
		}
		return nil, fmt.Errorf("failed to read checkpoints directory: %w", err)
	}

	var summaries []*SessionSummary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		checkpoint, err := c.LoadCheckpoint(ctx, entry.Name())
		if err != nil || checkpoint == nil {
			// Skip sessions we can't read
			continue
		}
		summaries = append(summaries, &SessionSummary{
			SessionID:    checkpoint.SessionID,
			WorkflowID:   checkpoint.WorkflowID,
			CurrentNode:  checkpoint.CurrentNode,
			CheckpointAt: checkpoint.CheckpointAt,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CheckpointAt.After(summaries[j].CheckpointAt)
	})
	return summaries, nil
}
