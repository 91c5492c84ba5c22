package sopflow

import (
	"time"
)

// CheckpointVersion is the current checkpoint record version. Loaders reject
// records with a newer version than they understand.
const CheckpointVersion = 1

// Checkpoint is a persisted snapshot of workflow progress, keyed by session.
// Its state is a trimmed projection of the authoritative State, never the
// authoritative value itself.
type Checkpoint struct {
	SessionID      string    `json:"session_id"`
	WorkflowID     string    `json:"workflow_id"`
	Version        int       `json:"version"`
	CurrentNode    string    `json:"current_node"`
	CompletedNodes []string  `json:"completed_nodes"`
	State          *State    `json:"state"`
	CheckpointAt   time.Time `json:"checkpoint_at"`
}

// Age returns how old the checkpoint is.
func (c *Checkpoint) Age() time.Duration {
	return time.Since(c.CheckpointAt)
}

// Checkpoint trimming bounds. Conversation turns and evidence assessments are
// capped before persistence so a long session cannot grow checkpoints without
// bound; the projection is deliberately lossy.
const (
	trimMaxConversationTurns = 6
	trimMaxContentChars      = 500
	trimMaxKeyPoints         = 5
)

// NewCheckpoint builds a checkpoint for the given position in a run.
func NewCheckpoint(sessionID, workflowID string, state *State, currentNode NodeID) *Checkpoint {
	completed := make([]string, len(state.CompletedNodes))
	for i, id := range state.CompletedNodes {
		completed[i] = id.String()
	}
	return &Checkpoint{
		SessionID:      sessionID,
		WorkflowID:     workflowID,
		Version:        CheckpointVersion,
		CurrentNode:    currentNode.String(),
		CompletedNodes: completed,
		State:          TrimStateForCheckpoint(state),
		CheckpointAt:   time.Now(),
	}
}

// TrimStateForCheckpoint projects the authoritative state onto its
// persistable form: conversation history is cut to the most recent turns
// with capped content, and per-evidence detail is bounded.
func TrimStateForCheckpoint(state *State) *State {
	trimmed := state.Clone()

	if len(trimmed.Conversation) > trimMaxConversationTurns {
		trimmed.Conversation = trimmed.Conversation[len(trimmed.Conversation)-trimMaxConversationTurns:]
	}
	for i := range trimmed.Conversation {
		trimmed.Conversation[i].Content = truncateText(trimmed.Conversation[i].Content, trimMaxContentChars)
	}
	for i := range trimmed.Evidence {
		if len(trimmed.Evidence[i].KeyPoints) > trimMaxKeyPoints {
			trimmed.Evidence[i].KeyPoints = trimmed.Evidence[i].KeyPoints[:trimMaxKeyPoints]
		}
		for j := range trimmed.Evidence[i].KeyPoints {
			trimmed.Evidence[i].KeyPoints[j] = truncateText(trimmed.Evidence[i].KeyPoints[j], trimMaxContentChars)
		}
	}
	return trimmed
}
