package sopflow

import (
	"context"
	"fmt"
)

// CoverageEvaluationNode re-derives the coverage tier from the accumulated
// signals. Pure arithmetic, no inference call; the heavy lifting lives in
// EvaluateCoverage so it can be tested in isolation.
type CoverageEvaluationNode struct {
	config *Config
}

func (n *CoverageEvaluationNode) ID() NodeID {
	return NodeCoverageEvaluation
}

func (n *CoverageEvaluationNode) Execute(ctx context.Context, state *State) (*StateUpdate, error) {
	input := CoverageInput{
		Confidence: state.Confidence,
		Evidence:   state.Evidence,
	}
	if state.Coverage != nil {
		input.Confidence = state.Coverage.OverallConfidence
		input.Gaps = state.Coverage.Gaps
	}
	result := EvaluateCoverage(input, n.config.Thresholds)

	coverage := state.Coverage.Copy()
	if coverage == nil {
		coverage = &CoverageAnalysis{}
	}
	coverage.OverallConfidence = result.Confidence
	coverage.CoverageLevel = result.Level
	coverage.ResponseStrategy = result.Strategy

	return &StateUpdate{
		Coverage:   coverage,
		Confidence: &result.Confidence,
		ConfidenceReason: fmt.Sprintf("coverage %s with %d evidence items and %d gaps",
			result.Level, len(state.Evidence), len(coverage.Gaps)),
	}, nil
}
