package sopflow

import (
	"fmt"
	"strings"
	"time"
)

// Result is the caller-facing outcome of one query. ProcessQuery always
// returns one: internal failures surface as an escape-hatch answer with the
// failure recorded in Errors, never as a raised error.
type Result struct {
	Answer            string                `json:"answer"`
	Evidence          []EvidenceRef         `json:"evidence,omitempty"`
	Coverage          *CoverageAnalysis     `json:"coverage,omitempty"`
	Confidence        float64               `json:"confidence"`
	FollowUpQuestions []string              `json:"follow_up_questions,omitempty"`
	Refinements       []RefinementIteration `json:"refinements,omitempty"`
	Errors            []string              `json:"errors,omitempty"`
	ProcessingTime    time.Duration         `json:"processing_time"`
	TokensUsed        int                   `json:"tokens_used"`
	WorkflowID        string                `json:"workflow_id"`
	SessionID         string                `json:"session_id,omitempty"`
}

// Strategy returns the response strategy the run settled on.
func (r *Result) Strategy() ResponseStrategy {
	if r.Coverage == nil {
		return StrategyEscapeHatch
	}
	return r.Coverage.ResponseStrategy
}

// Summary returns a short human-readable description of the run.
func (r *Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "workflow %s: %s (confidence %.2f, %d evidence, %d tokens, %s)",
		r.WorkflowID, r.Strategy(), r.Confidence, len(r.Evidence),
		r.TokensUsed, r.ProcessingTime.Round(time.Millisecond))
	if len(r.Refinements) > 0 {
		fmt.Fprintf(&b, ", %d refinement iterations", len(r.Refinements))
	}
	if len(r.Errors) > 0 {
		fmt.Fprintf(&b, ", %d errors", len(r.Errors))
	}
	return b.String()
}
