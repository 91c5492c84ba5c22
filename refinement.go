package sopflow

import (
	"context"
	"fmt"
	"time"
)

// refine re-runs the configured stage subset over the finished state until the
// confidence threshold is met or a budget runs out. A candidate pass is
// accepted only when it improves confidence by at least the configured delta;
// the first insufficient improvement stops the loop. Accepted iterations are
// never reverted, so the returned state's confidence is always at least the
// input's.
func (r *workflowRun) refine(ctx context.Context, state *State) *State {
	config := r.config.Refinement
	stages := r.config.RefinementStages()
	if len(stages) == 0 {
		return state
	}

	accepted := state
	for iteration := 1; iteration <= config.MaxIterations; iteration++ {
		if accepted.Confidence >= config.ConfidenceThreshold {
			break
		}

		iterCtx, cancel := context.WithTimeout(ctx, config.IterationTimeout)
		candidate, err := r.runRefinementPass(iterCtx, accepted, stages)
		cancel()
		if err != nil {
			// A failed or timed-out iteration aborts only the loop; the
			// last accepted answer stands.
			r.logger.Warn("refinement iteration failed",
				"iteration", iteration, "error", err)
			break
		}

		improvement := candidate.Confidence - accepted.Confidence
		if improvement < config.ImprovementThreshold {
			r.logger.Debug("refinement improvement below threshold, stopping",
				"iteration", iteration,
				"improvement", improvement,
				"required", config.ImprovementThreshold)
			break
		}

		stepNames := make([]string, len(stages))
		for i, stage := range stages {
			stepNames[i] = stage.String()
		}
		candidate.Refinements = append(candidate.Refinements, RefinementIteration{
			Iteration:        iteration,
			ConfidenceBefore: accepted.Confidence,
			ConfidenceAfter:  candidate.Confidence,
			Improvement:      improvement,
			Steps:            stepNames,
		})
		r.logger.Info("refinement iteration accepted",
			"iteration", iteration,
			"confidence", candidate.Confidence,
			"improvement", improvement)
		accepted = candidate
	}
	return accepted
}

// runRefinementPass executes the stage subset over a copy of the accepted
// state, injecting the prior answer and confidence as extra conversation
// context so the model can improve on it rather than start over. Any stage
// error aborts the whole pass.
func (r *workflowRun) runRefinementPass(ctx context.Context, accepted *State, stages []NodeID) (*State, error) {
	candidate := accepted.Clone()
	candidate.ShouldExit = false
	if accepted.Response != "" {
		candidate.Conversation = append(candidate.Conversation, Message{
			Role: "assistant",
			Content: fmt.Sprintf("Previous answer (confidence %.2f): %s",
				accepted.Confidence, accepted.Response),
		})
	}

	for _, stage := range stages {
		// Evidence re-assessment rebuilds the evidence set from scratch;
		// without this the pass would duplicate every reference.
		if stage == NodeEvidenceAssessment {
			candidate.Evidence = nil
		}

		node, err := r.nodes.get(stage)
		if err != nil {
			return nil, err
		}
		candidate.CurrentNode = stage
		r.tracker.setNode(stage)

		start := time.Now()
		update, err := node.Execute(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("refinement stage %s failed: %w", stage, err)
		}
		candidate = candidate.Apply(update)
		candidate.Metadata.NodesExecuted = append(candidate.Metadata.NodesExecuted, stage.String())
		r.mergeCallRecords(candidate)
		r.logger.Debug("refinement stage complete",
			"stage", stage, "duration", time.Since(start))
	}
	return candidate, nil
}
