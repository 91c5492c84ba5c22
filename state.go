package sopflow

import (
	"time"
)

// CoverageLevel describes the assessed sufficiency of retrieved evidence.
type CoverageLevel string

const (
	CoverageHigh   CoverageLevel = "high"
	CoverageMedium CoverageLevel = "medium"
	CoverageLow    CoverageLevel = "low"
)

// ResponseStrategy selects how the final answer is produced.
type ResponseStrategy string

const (
	StrategyFullAnswer    ResponseStrategy = "full_answer"
	StrategyPartialAnswer ResponseStrategy = "partial_answer"
	StrategyEscapeHatch   ResponseStrategy = "escape_hatch"
)

// Message is a single turn of conversation context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// EvidenceRef is a reference to a retrieved procedure document with the
// relevance assessment produced for it.
type EvidenceRef struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Sections      []string `json:"sections,omitempty"`
	Confidence    float64  `json:"confidence"`
	KeyPoints     []string `json:"key_points,omitempty"`
	Applicability string   `json:"applicability,omitempty"`
}

// CoverageAnalysis is the current assessment of how well the retrieved
// evidence covers the query.
type CoverageAnalysis struct {
	OverallConfidence float64          `json:"overall_confidence"`
	CoverageLevel     CoverageLevel    `json:"coverage_level"`
	Gaps              []string         `json:"gaps,omitempty"`
	ResponseStrategy  ResponseStrategy `json:"response_strategy"`
	QueryIntent       string           `json:"query_intent,omitempty"`
	KeyTopics         []string         `json:"key_topics,omitempty"`
}

// Copy returns a copy of the coverage analysis.
func (c *CoverageAnalysis) Copy() *CoverageAnalysis {
	if c == nil {
		return nil
	}
	dup := *c
	dup.Gaps = append([]string(nil), c.Gaps...)
	dup.KeyTopics = append([]string(nil), c.KeyTopics...)
	return &dup
}

// ConfidenceRecord is one entry in the confidence audit trail.
type ConfidenceRecord struct {
	Node       string    `json:"node"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// CallRecord captures one inference invocation for the audit trail.
type CallRecord struct {
	Node      string    `json:"node"`
	Model     string    `json:"model,omitempty"`
	TokensIn  int       `json:"tokens_in"`
	TokensOut int       `json:"tokens_out"`
	Duration  float64   `json:"duration_seconds"`
	Error     string    `json:"error,omitempty"`
	StartTime time.Time `json:"start_time"`
}

// Metadata is the append-only audit trail carried by the state.
type Metadata struct {
	StartTime         time.Time          `json:"start_time,omitzero"`
	EndTime           time.Time          `json:"end_time,omitzero"`
	TokensUsed        int                `json:"tokens_used"`
	NodesExecuted     []string           `json:"nodes_executed,omitempty"`
	Calls             []CallRecord       `json:"calls,omitempty"`
	ConfidenceHistory []ConfidenceRecord `json:"confidence_history,omitempty"`
}

// RefinementIteration records one accepted pass of the refinement loop.
type RefinementIteration struct {
	Iteration        int      `json:"iteration"`
	ConfidenceBefore float64  `json:"confidence_before"`
	ConfidenceAfter  float64  `json:"confidence_after"`
	Improvement      float64  `json:"improvement"`
	Steps            []string `json:"steps"`
}

// State is the single record threaded through the node graph. Nodes treat it
// as read-only and return a StateUpdate; Apply produces the successor state by
// replacement, never by in-place mutation of a shared value.
type State struct {
	Query        string    `json:"query"`
	Conversation []Message `json:"conversation,omitempty"`

	Evidence   []EvidenceRef     `json:"evidence,omitempty"`
	Coverage   *CoverageAnalysis `json:"coverage,omitempty"`
	Confidence float64           `json:"confidence"`

	Response          string   `json:"response,omitempty"`
	FollowUpQuestions []string `json:"follow_up_questions,omitempty"`

	Metadata    Metadata              `json:"metadata"`
	Refinements []RefinementIteration `json:"refinements,omitempty"`

	Errors     []string `json:"errors,omitempty"`
	RetryCount int      `json:"retry_count"`

	CurrentNode    NodeID   `json:"current_node"`
	CompletedNodes []NodeID `json:"completed_nodes,omitempty"`
	ShouldRetry    bool     `json:"should_retry"`
	ShouldExit     bool     `json:"should_exit"`
}

// NewState builds the initial state for one workflow run.
func NewState(query string, conversation []Message) *State {
	return &State{
		Query:        query,
		Conversation: append([]Message(nil), conversation...),
		Metadata:     Metadata{StartTime: time.Now()},
	}
}

// StateUpdate is the partial result of one node execution. Slice fields are
// appended to the prior state; pointer fields replace the prior value when
// set. Confidence is folded in as a high-water mark, never lowered.
type StateUpdate struct {
	Evidence          []EvidenceRef
	Coverage          *CoverageAnalysis
	Confidence        *float64
	ConfidenceReason  string
	Response          *string
	FollowUpQuestions []string
	Errors            []string
	ShouldRetry       *bool
	ShouldExit        *bool
}

// Clone returns a deep-enough copy of the state. Strings are shared; all
// slices, maps, and nested structs are copied so the clone can be extended
// without aliasing the original.
func (s *State) Clone() *State {
	dup := *s
	dup.Conversation = append([]Message(nil), s.Conversation...)
	dup.Evidence = copyEvidence(s.Evidence)
	dup.Coverage = s.Coverage.Copy()
	dup.FollowUpQuestions = append([]string(nil), s.FollowUpQuestions...)
	dup.Errors = append([]string(nil), s.Errors...)
	dup.CompletedNodes = append([]NodeID(nil), s.CompletedNodes...)
	dup.Refinements = append([]RefinementIteration(nil), s.Refinements...)
	dup.Metadata.NodesExecuted = append([]string(nil), s.Metadata.NodesExecuted...)
	dup.Metadata.Calls = append([]CallRecord(nil), s.Metadata.Calls...)
	dup.Metadata.ConfidenceHistory = append([]ConfidenceRecord(nil), s.Metadata.ConfidenceHistory...)
	return &dup
}

// Apply merges a node's partial update over the state and returns the
// successor state. The receiver is left untouched.
func (s *State) Apply(update *StateUpdate) *State {
	next := s.Clone()
	if update == nil {
		return next
	}
	if len(update.Evidence) > 0 {
		next.Evidence = append(next.Evidence, copyEvidence(update.Evidence)...)
	}
	if update.Coverage != nil {
		next.Coverage = update.Coverage.Copy()
	}
	if update.Confidence != nil {
		// Monotonic high-water mark: routing confidence never decreases
		// within one run, even when a verification stage lowers the
		// coverage analysis confidence.
		if *update.Confidence > next.Confidence {
			next.Confidence = *update.Confidence
		}
		next.Metadata.ConfidenceHistory = append(next.Metadata.ConfidenceHistory, ConfidenceRecord{
			Node:       next.CurrentNode.String(),
			Confidence: next.Confidence,
			Reason:     update.ConfidenceReason,
			Timestamp:  time.Now(),
		})
	}
	if update.Response != nil {
		next.Response = *update.Response
	}
	if len(update.FollowUpQuestions) > 0 {
		next.FollowUpQuestions = append([]string(nil), update.FollowUpQuestions...)
	}
	if len(update.Errors) > 0 {
		next.Errors = append(next.Errors, update.Errors...)
	}
	if update.ShouldRetry != nil {
		next.ShouldRetry = *update.ShouldRetry
	}
	if update.ShouldExit != nil {
		next.ShouldExit = *update.ShouldExit
	}
	return next
}

// EvidenceConfidenceMean returns the mean confidence across evidence items,
// or zero when there are none.
func EvidenceConfidenceMean(evidence []EvidenceRef) float64 {
	if len(evidence) == 0 {
		return 0
	}
	var sum float64
	for _, item := range evidence {
		sum += item.Confidence
	}
	return sum / float64(len(evidence))
}

func copyEvidence(evidence []EvidenceRef) []EvidenceRef {
	if evidence == nil {
		return nil
	}
	dup := make([]EvidenceRef, len(evidence))
	for i, item := range evidence {
		dup[i] = item
		dup[i].Sections = append([]string(nil), item.Sections...)
		dup[i].KeyPoints = append([]string(nil), item.KeyPoints...)
	}
	return dup
}
