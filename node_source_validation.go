package sopflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const sourceValidationSystemPrompt = `You judge whether a set of procedure excerpts agree with each other.
Report a consistency score between 0 and 1 and list any direct conflicts you find.
Respond with a JSON object: {"consistency_score": number, "conflicts": [string]}.`

// SourceValidationNode scores the consistency of the evidence set and
// adjusts coverage confidence accordingly. Runs only on the partial-answer
// path when gaps exist and there is more than one evidence item.
type SourceValidationNode struct {
	llm    Inference
	config *Config
	logger *slog.Logger
}

func (n *SourceValidationNode) ID() NodeID {
	return NodeSourceValidation
}

func (n *SourceValidationNode) Execute(ctx context.Context, state *State) (*StateUpdate, error) {
	completion, err := n.llm.Invoke(ctx, sourceValidationSystemPrompt,
		buildSourceValidationPrompt(state), n.config.Model.invokeParams())
	if err != nil {
		return nil, fmt.Errorf("source validation call failed: %w", err)
	}
	if completion == nil {
		return nil, fmt.Errorf("%w: source validation returned no completion", ErrMalformedOutput)
	}
	validation, err := decodeSourceValidation(completion.Text)
	if err != nil {
		return nil, err
	}

	coverage := state.Coverage.Copy()
	if coverage == nil {
		coverage = &CoverageAnalysis{}
	}
	adjusted := coverage.OverallConfidence
	switch {
	case validation.ConsistencyScore < 0.6:
		adjusted = max(0.3, adjusted*0.7)
	case len(validation.Conflicts) > 0:
		adjusted = max(0.4, adjusted*0.85)
	case validation.ConsistencyScore > 0.8:
		adjusted = min(0.9, adjusted+0.1)
	}
	coverage.OverallConfidence = adjusted

	n.logger.Debug("source validation complete",
		"consistency", validation.ConsistencyScore,
		"conflicts", len(validation.Conflicts),
		"adjusted_confidence", adjusted)

	return &StateUpdate{
		Coverage:   coverage,
		Confidence: &adjusted,
		ConfidenceReason: fmt.Sprintf("source consistency %.2f with %d conflicts",
			validation.ConsistencyScore, len(validation.Conflicts)),
	}, nil
}

func buildSourceValidationPrompt(state *State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nExcerpts:\n", state.Query)
	for _, item := range state.Evidence {
		fmt.Fprintf(&b, "--- %s ---\nApplicability: %s\n", item.Title, item.Applicability)
		for _, point := range item.KeyPoints {
			fmt.Fprintf(&b, "- %s\n", point)
		}
	}
	if state.Coverage != nil && len(state.Coverage.Gaps) > 0 {
		b.WriteString("\nKnown gaps:\n")
		for _, gap := range state.Coverage.Gaps {
			fmt.Fprintf(&b, "- %s\n", gap)
		}
	}
	return b.String()
}
