package sopflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const factCheckingSystemPrompt = `You cross-check the claims a set of procedure excerpts make about the same question.
For each distinct claim, report whether the other excerpts support it and a confidence between 0 and 1.
Respond with a JSON object: {"claims": [{"claim": string, "supported": bool, "confidence": number}]}.`

// FactCheckingNode cross-checks claims across evidence items and nudges the
// coverage confidence by the mean claim confidence. Runs only on the
// full-answer path with more than one evidence item.
type FactCheckingNode struct {
	llm    Inference
	config *Config
	logger *slog.Logger
}

func (n *FactCheckingNode) ID() NodeID {
	return NodeFactChecking
}

func (n *FactCheckingNode) Execute(ctx context.Context, state *State) (*StateUpdate, error) {
	completion, err := n.llm.Invoke(ctx, factCheckingSystemPrompt,
		buildFactCheckingPrompt(state), n.config.Model.invokeParams())
	if err != nil {
		return nil, fmt.Errorf("fact checking call failed: %w", err)
	}
	if completion == nil {
		return nil, fmt.Errorf("%w: fact checking returned no completion", ErrMalformedOutput)
	}
	check, err := decodeFactCheck(completion.Text)
	if err != nil {
		return nil, err
	}

	var sum float64
	for _, claim := range check.Claims {
		sum += claim.Confidence
	}
	mean := sum / float64(len(check.Claims))

	coverage := state.Coverage.Copy()
	if coverage == nil {
		coverage = &CoverageAnalysis{}
	}
	adjusted := coverage.OverallConfidence
	switch {
	case mean < 0.7:
		adjusted *= 0.8
	case mean > 0.9:
		adjusted = min(1.0, adjusted*1.05)
	}
	coverage.OverallConfidence = adjusted

	n.logger.Debug("fact check complete",
		"claims", len(check.Claims),
		"mean_confidence", mean,
		"adjusted_confidence", adjusted)

	return &StateUpdate{
		Coverage:         coverage,
		Confidence:       &adjusted,
		ConfidenceReason: fmt.Sprintf("fact check over %d claims, mean %.2f", len(check.Claims), mean),
	}, nil
}

func buildFactCheckingPrompt(state *State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nExcerpts:\n", state.Query)
	for _, item := range state.Evidence {
		fmt.Fprintf(&b, "--- %s (confidence %.2f) ---\n", item.Title, item.Confidence)
		for _, point := range item.KeyPoints {
			fmt.Fprintf(&b, "- %s\n", point)
		}
	}
	return b.String()
}
