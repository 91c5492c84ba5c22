package sopflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.jetify.com/typeid"
)

// Mode selects how much work a query is worth.
type Mode string

const (
	// ModeStandard runs a single reasoning pass.
	ModeStandard Mode = "standard"

	// ModeDeep additionally runs the iterative refinement loop when the
	// pass finishes below the confidence threshold.
	ModeDeep Mode = "deep"
)

// NewWorkflowID returns a new identifier for one workflow run.
func NewWorkflowID() string {
	id, err := typeid.WithPrefix("wf")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// NewSessionID returns a new identifier for a conversation session.
func NewSessionID() string {
	id, err := typeid.WithPrefix("sess")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// Options configures a new Engine.
type Options struct {
	// Config is the engine configuration. Defaults to DefaultConfig.
	Config *Config

	// Inference is the language model capability. Required.
	Inference Inference

	// Documents is the procedure document store. Required.
	Documents DocumentStore

	// Checkpointer persists progress snapshots. Defaults to NullCheckpointer.
	Checkpointer Checkpointer

	// CallLogger records inference invocations. Defaults to NullCallLogger.
	CallLogger CallLogger

	// Logger receives structured engine logs. Defaults to NewLogger.
	Logger *slog.Logger

	// Callbacks receives lifecycle hooks. Defaults to no-ops.
	Callbacks WorkflowCallbacks
}

// Engine runs the question-answering workflow. It is safe for concurrent use;
// each ProcessQuery call gets its own node set and mutable state.
type Engine struct {
	config       *Config
	llm          Inference
	docs         DocumentStore
	checkpointer Checkpointer
	callLogger   CallLogger
	logger       *slog.Logger
	callbacks    WorkflowCallbacks
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Inference == nil {
		return nil, fmt.Errorf("inference capability is required")
	}
	if opts.Documents == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if opts.Config == nil {
		opts.Config = DefaultConfig()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Checkpointer == nil {
		opts.Checkpointer = NewNullCheckpointer()
	}
	if opts.CallLogger == nil {
		opts.CallLogger = NewNullCallLogger()
	}
	if opts.Logger == nil {
		opts.Logger = NewLogger()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = &BaseWorkflowCallbacks{}
	}
	return &Engine{
		config:       opts.Config,
		llm:          opts.Inference,
		docs:         opts.Documents,
		checkpointer: opts.Checkpointer,
		callLogger:   opts.CallLogger,
		logger:       opts.Logger,
		callbacks:    opts.Callbacks,
	}, nil
}

// ProcessQueryOptions configures one ProcessQuery call.
type ProcessQueryOptions struct {
	// SessionID groups runs into a resumable conversation session.
	// Empty disables checkpoint resume.
	SessionID string

	// Mode selects standard or deep processing. Defaults to standard.
	Mode Mode

	// EnableCheckpointing turns on progress snapshots for this run.
	EnableCheckpointing bool
}

// ProcessQuery answers one query. It always returns a result: internal
// failures degrade to an escape-hatch answer with the failure recorded in the
// result's Errors, never a returned error.
func (e *Engine) ProcessQuery(ctx context.Context, query string, conversation []Message, opts ProcessQueryOptions) *Result {
	if opts.Mode == "" {
		opts.Mode = ModeStandard
	}
	start := time.Now()
	run := e.newRun(opts)

	workflowEvent := &WorkflowEvent{
		WorkflowID: run.workflowID,
		SessionID:  run.sessionID,
		Query:      query,
		Mode:       opts.Mode,
		StartTime:  start,
	}
	e.callbacks.BeforeWorkflowExecution(ctx, workflowEvent)

	state, current := run.restore(ctx, query, conversation)
	state = run.execute(ctx, state, current)

	if opts.Mode == ModeDeep && state.Confidence < e.config.Refinement.ConfidenceThreshold {
		state = run.refine(ctx, state)
	}

	state.Metadata.EndTime = time.Now()
	run.finish(ctx, state)

	result := &Result{
		Answer:            state.Response,
		Evidence:          copyEvidence(state.Evidence),
		Coverage:          state.Coverage.Copy(),
		Confidence:        state.Confidence,
		FollowUpQuestions: append([]string(nil), state.FollowUpQuestions...),
		Refinements:       append([]RefinementIteration(nil), state.Refinements...),
		Errors:            append([]string(nil), state.Errors...),
		ProcessingTime:    time.Since(start),
		TokensUsed:        state.Metadata.TokensUsed,
		WorkflowID:        run.workflowID,
		SessionID:         run.sessionID,
	}

	workflowEvent.EndTime = time.Now()
	workflowEvent.Duration = result.ProcessingTime
	workflowEvent.TokensUsed = result.TokensUsed
	workflowEvent.Confidence = result.Confidence
	workflowEvent.Strategy = result.Strategy()
	e.callbacks.AfterWorkflowExecution(ctx, workflowEvent)

	e.logger.Info("query processed",
		"workflow_id", run.workflowID,
		"strategy", result.Strategy(),
		"confidence", result.Confidence,
		"tokens", result.TokensUsed,
		"duration", result.ProcessingTime)
	return result
}

// workflowRun holds the per-run machinery: a fresh node set, the run-scoped
// document cache, and the inference call tracker.
type workflowRun struct {
	engine        *Engine
	config        *Config
	logger        *slog.Logger
	nodes         nodeSet
	tracker       *callTracker
	workflowID    string
	sessionID     string
	checkpointing bool
	sinceSave     int
}

func (e *Engine) newRun(opts ProcessQueryOptions) *workflowRun {
	workflowID := NewWorkflowID()
	tracker := &callTracker{
		llm:        e.llm,
		callLogger: e.callLogger,
		logger:     e.logger,
		workflowID: workflowID,
		sessionID:  opts.SessionID,
	}
	cache := &documentCache{}
	nodes := nodeSet{
		NodeQueryAnalysis:      &QueryAnalysisNode{llm: tracker, docs: e.docs, cache: cache, config: e.config, logger: e.logger},
		NodeEvidenceAssessment: &EvidenceAssessmentNode{llm: tracker, docs: e.docs, cache: cache, config: e.config, logger: e.logger},
		NodeCoverageEvaluation: &CoverageEvaluationNode{config: e.config},
		NodeFactChecking:       &FactCheckingNode{llm: tracker, config: e.config, logger: e.logger},
		NodeSourceValidation:   &SourceValidationNode{llm: tracker, config: e.config, logger: e.logger},
		NodeFollowUpGeneration: &FollowUpGenerationNode{llm: tracker, config: e.config, logger: e.logger},
		NodeResponseSynthesis:  &ResponseSynthesisNode{llm: tracker, docs: e.docs, config: e.config, logger: e.logger},
	}
	return &workflowRun{
		engine:        e,
		config:        e.config,
		logger:        e.logger.With("workflow_id", workflowID),
		nodes:         nodes,
		tracker:       tracker,
		workflowID:    workflowID,
		sessionID:     opts.SessionID,
		checkpointing: opts.EnableCheckpointing && opts.SessionID != "",
	}
}

// restore returns the starting state and node, resuming from the session's
// latest checkpoint when one exists, is fresh, and was taken for the same
// query. Stale checkpoints are discarded.
func (r *workflowRun) restore(ctx context.Context, query string, conversation []Message) (*State, NodeID) {
	fresh := NewState(query, conversation)
	if !r.checkpointing {
		return fresh, NodeQueryAnalysis
	}

	checkpoint, err := r.engine.checkpointer.LoadCheckpoint(ctx, r.sessionID)
	if err != nil {
		r.logger.Warn("checkpoint load failed, starting fresh", "error", err)
		return fresh, NodeQueryAnalysis
	}
	if checkpoint == nil || checkpoint.State == nil {
		return fresh, NodeQueryAnalysis
	}
	if checkpoint.Age() > r.config.Checkpoint.MaxAge {
		r.logger.Info("checkpoint is stale, discarding",
			"session_id", r.sessionID, "age", checkpoint.Age())
		if err := r.engine.checkpointer.DeleteCheckpoints(ctx, r.sessionID); err != nil {
			r.logger.Warn("failed to delete stale checkpoints", "error", err)
		}
		return fresh, NodeQueryAnalysis
	}
	if checkpoint.State.Query != query {
		return fresh, NodeQueryAnalysis
	}

	current, err := ParseNodeID(checkpoint.CurrentNode)
	if err != nil || current == NodeEnd {
		return fresh, NodeQueryAnalysis
	}
	next, err := Route(current, checkpoint.State, r.config)
	if err != nil {
		return fresh, NodeQueryAnalysis
	}

	r.workflowID = checkpoint.WorkflowID
	r.tracker.workflowID = checkpoint.WorkflowID
	r.logger.Info("resuming from checkpoint",
		"session_id", r.sessionID,
		"completed_node", current,
		"age", checkpoint.Age())
	return checkpoint.State.Clone(), next
}

// execute drives the node graph from the given node to the end, applying the
// retry and escape-hatch policy on node failure.
func (r *workflowRun) execute(ctx context.Context, state *State, current NodeID) *State {
	for current != NodeEnd {
		node, err := r.nodes.get(current)
		if err != nil {
			state.Errors = append(state.Errors, err.Error())
			return r.degrade(state, err)
		}

		state.CurrentNode = current
		r.tracker.setNode(current)
		nodeEvent := &NodeEvent{
			WorkflowID: r.workflowID,
			Node:       current,
			StartTime:  time.Now(),
		}
		r.engine.callbacks.BeforeNodeExecution(ctx, nodeEvent)

		update, err := node.Execute(ctx, state)
		r.mergeCallRecords(state)

		nodeEvent.EndTime = time.Now()
		nodeEvent.Duration = nodeEvent.EndTime.Sub(nodeEvent.StartTime)
		nodeEvent.Error = err

		if err != nil {
			classified := ClassifyError(err)
			state.Errors = append(state.Errors, fmt.Sprintf("%s: %s", current, classified.Cause))
			r.logger.Warn("node failed",
				"node", current,
				"error_type", classified.Type,
				"error", err)
			r.engine.callbacks.AfterNodeExecution(ctx, nodeEvent)

			switch classified.Type {
			case ErrorTypeTransient:
				if state.RetryCount < r.config.Retry.MaxRetries {
					state = r.restart(state)
					current = NodeQueryAnalysis
					continue
				}
				return r.degrade(state, err)
			case ErrorTypeStructural:
				// No retry budget is spent; the run jumps straight to an
				// escape-hatch synthesis. Synthesis itself cannot fail
				// structurally on that path, so guard against loops anyway.
				if current == NodeResponseSynthesis {
					return r.degrade(state, err)
				}
				state.Coverage = escapeHatchCoverage(state.Coverage, classified.Cause)
				current = NodeResponseSynthesis
				continue
			default:
				return r.degrade(state, err)
			}
		}

		state = state.Apply(update)
		state.CompletedNodes = append(state.CompletedNodes, current)
		state.Metadata.NodesExecuted = append(state.Metadata.NodesExecuted, current.String())
		nodeEvent.Confidence = state.Confidence
		r.engine.callbacks.AfterNodeExecution(ctx, nodeEvent)
		r.maybeCheckpoint(ctx, state, current)

		next, err := Route(current, state, r.config)
		if err != nil {
			state.Errors = append(state.Errors, err.Error())
			return r.degrade(state, err)
		}
		current = next
	}
	return state
}

// restart discards the pass's accumulated analysis and begins again from the
// first node, keeping the error list, audit metadata, and retry count.
func (r *workflowRun) restart(state *State) *State {
	r.logger.Info("restarting workflow after transient failure",
		"retry", state.RetryCount+1,
		"max_retries", r.config.Retry.MaxRetries)
	fresh := NewState(state.Query, state.Conversation)
	fresh.Errors = append([]string(nil), state.Errors...)
	fresh.RetryCount = state.RetryCount + 1
	fresh.Metadata = state.Metadata
	fresh.Metadata.StartTime = state.Metadata.StartTime
	return fresh
}

// degrade produces the terminal degraded answer when retries are exhausted or
// the failure is fatal. The caller still receives a well-formed escape-hatch
// result.
func (r *workflowRun) degrade(state *State, cause error) *State {
	r.logger.Error("workflow degraded to escape hatch", "error", cause)
	state.Coverage = escapeHatchCoverage(state.Coverage, cause.Error())
	state.Response = escapeHatchAnswer(r.config, state)
	state.ShouldExit = true
	return state
}

// escapeHatchCoverage forces the coverage analysis onto the escape-hatch
// strategy, preserving any intent and topics already derived.
func escapeHatchCoverage(coverage *CoverageAnalysis, gap string) *CoverageAnalysis {
	forced := coverage.Copy()
	if forced == nil {
		forced = &CoverageAnalysis{}
	}
	forced.OverallConfidence = 0
	forced.CoverageLevel = CoverageLow
	forced.ResponseStrategy = StrategyEscapeHatch
	if gap != "" {
		forced.Gaps = append(forced.Gaps, gap)
	}
	return forced
}

// maybeCheckpoint saves a snapshot when the run is exiting, the completed
// node is marked important, or the interval has elapsed. Save failures are
// logged, never propagated; losing a snapshot only costs resumability.
func (r *workflowRun) maybeCheckpoint(ctx context.Context, state *State, completed NodeID) {
	if !r.checkpointing {
		return
	}
	r.sinceSave++
	if !state.ShouldExit && !r.config.Checkpoint.IsImportant(completed) && r.sinceSave < r.config.Checkpoint.Interval {
		return
	}

	checkpoint := NewCheckpoint(r.sessionID, r.workflowID, state, completed)
	if err := r.engine.checkpointer.SaveCheckpoint(ctx, checkpoint); err != nil {
		r.logger.Warn("checkpoint save failed", "node", completed, "error", err)
		return
	}
	r.sinceSave = 0
	r.engine.callbacks.OnCheckpointSaved(ctx, &CheckpointEvent{
		WorkflowID: r.workflowID,
		SessionID:  r.sessionID,
		Node:       completed,
		SavedAt:    checkpoint.CheckpointAt,
	})
}

// finish clears the session's checkpoints once a run has produced its answer;
// they exist to resume interrupted runs, not completed ones.
func (r *workflowRun) finish(ctx context.Context, state *State) {
	r.mergeCallRecords(state)
	if !r.checkpointing {
		return
	}
	if err := r.engine.checkpointer.DeleteCheckpoints(ctx, r.sessionID); err != nil {
		r.logger.Warn("failed to delete checkpoints after completion", "error", err)
	}
}

// mergeCallRecords folds the tracker's accumulated inference records into the
// state's audit metadata.
func (r *workflowRun) mergeCallRecords(state *State) {
	calls, tokens := r.tracker.drain()
	if len(calls) == 0 {
		return
	}
	state.Metadata.Calls = append(state.Metadata.Calls, calls...)
	state.Metadata.TokensUsed += tokens
}

// callTracker wraps the inference capability to meter every call: token
// counts and durations for the audit trail plus an entry to the call logger.
// Nodes receive the tracker as their Inference.
type callTracker struct {
	llm        Inference
	callLogger CallLogger
	logger     *slog.Logger
	workflowID string
	sessionID  string

	mutex  sync.Mutex
	node   NodeID
	calls  []CallRecord
	tokens int
}

func (t *callTracker) setNode(id NodeID) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.node = id
}

func (t *callTracker) Invoke(ctx context.Context, systemPrompt, userPrompt string, params InvokeParams) (*Completion, error) {
	start := time.Now()
	completion, err := t.llm.Invoke(ctx, systemPrompt, userPrompt, params)
	duration := time.Since(start)

	record := CallRecord{
		Model:     params.Model,
		Duration:  duration.Seconds(),
		StartTime: start,
	}
	if err != nil {
		record.Error = err.Error()
	}
	if completion != nil {
		record.TokensIn = completion.TokensIn
		record.TokensOut = completion.TokensOut
		if completion.Model != "" {
			record.Model = completion.Model
		}
	}

	t.mutex.Lock()
	record.Node = t.node.String()
	t.calls = append(t.calls, record)
	t.tokens += record.TokensIn + record.TokensOut
	t.mutex.Unlock()

	entry := &CallLogEntry{
		WorkflowID: t.workflowID,
		SessionID:  t.sessionID,
		Node:       record.Node,
		Model:      record.Model,
		TokensIn:   record.TokensIn,
		TokensOut:  record.TokensOut,
		Duration:   record.Duration,
		Error:      record.Error,
		StartTime:  record.StartTime,
	}
	if logErr := t.callLogger.LogCall(ctx, entry); logErr != nil {
		t.logger.Warn("call log write failed", "error", logErr)
	}
	return completion, err
}

// drain returns the accumulated records and token total, clearing both.
func (t *callTracker) drain() ([]CallRecord, int) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	calls := t.calls
	tokens := t.tokens
	t.calls = nil
	t.tokens = 0
	return calls, tokens
}
