package sopflow

import (
	"context"
	"time"
)

// WorkflowEvent describes the start or end of one workflow run.
type WorkflowEvent struct {
	WorkflowID string
	SessionID  string
	Query      string
	Mode       Mode
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	TokensUsed int
	Confidence float64
	Strategy   ResponseStrategy
	Error      error
}

// NodeEvent describes the start or end of one node execution.
type NodeEvent struct {
	WorkflowID string
	Node       NodeID
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Confidence float64
	Error      error
}

// CheckpointEvent describes a saved checkpoint.
type CheckpointEvent struct {
	WorkflowID string
	SessionID  string
	Node       NodeID
	SavedAt    time.Time
}

// WorkflowCallbacks receives lifecycle hooks during a run. Callbacks run
// synchronously on the engine goroutine; implementations should return
// quickly.
type WorkflowCallbacks interface {
	BeforeWorkflowExecution(ctx context.Context, event *WorkflowEvent)
	AfterWorkflowExecution(ctx context.Context, event *WorkflowEvent)
	BeforeNodeExecution(ctx context.Context, event *NodeEvent)
	AfterNodeExecution(ctx context.Context, event *NodeEvent)
	OnCheckpointSaved(ctx context.Context, event *CheckpointEvent)
}

// BaseWorkflowCallbacks is a no-op implementation intended for embedding, so
// implementations only override the hooks they care about.
type BaseWorkflowCallbacks struct{}

func (c *BaseWorkflowCallbacks) BeforeWorkflowExecution(ctx context.Context, event *WorkflowEvent) {}
func (c *BaseWorkflowCallbacks) AfterWorkflowExecution(ctx context.Context, event *WorkflowEvent)  {}
func (c *BaseWorkflowCallbacks) BeforeNodeExecution(ctx context.Context, event *NodeEvent)         {}
func (c *BaseWorkflowCallbacks) AfterNodeExecution(ctx context.Context, event *NodeEvent)          {}
func (c *BaseWorkflowCallbacks) OnCheckpointSaved(ctx context.Context, event *CheckpointEvent)     {}
