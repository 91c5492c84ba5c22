package sopflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"
)

const evidenceAssessmentSystemPrompt = `You assess which operating procedures help answer a question.
For each document decide whether it is relevant, which of its sections apply, the key points it
contributes, how applicable it is, and a confidence between 0 and 1.
Respond with a JSON object:
{"documents": [{"id": string, "relevant": bool, "sections": [string], "key_points": [string],
"applicability": string, "confidence": number}], "gaps": [string]}.
List in "gaps" the aspects of the question no document covers.`

// maxDocumentChars bounds how much of each document is shown to the model.
const maxDocumentChars = 2000

// EvidenceAssessmentNode retrieves candidate documents and asks the model
// which of them support the query, aggregating the result into evidence
// references and a draft coverage analysis. Zero available documents
// short-circuit to an escape-hatch coverage with confidence zero.
type EvidenceAssessmentNode struct {
	llm    Inference
	docs   DocumentStore
	cache  *documentCache
	config *Config
	logger *slog.Logger
}

func (n *EvidenceAssessmentNode) ID() NodeID {
	return NodeEvidenceAssessment
}

func (n *EvidenceAssessmentNode) Execute(ctx context.Context, state *State) (*StateUpdate, error) {
	documents, loaded := n.cache.get()
	if !loaded {
		var err error
		documents, err = n.docs.GetAllActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("document store read failed: %w", err)
		}
		n.cache.put(documents)
	}

	if len(documents) == 0 {
		n.logger.Info("no active documents, short-circuiting to escape hatch")
		coverage := &CoverageAnalysis{
			OverallConfidence: 0,
			CoverageLevel:     CoverageLow,
			ResponseStrategy:  StrategyEscapeHatch,
			Gaps:              []string{"no active procedure documents are available"},
		}
		if state.Coverage != nil {
			coverage.QueryIntent = state.Coverage.QueryIntent
			coverage.KeyTopics = append([]string(nil), state.Coverage.KeyTopics...)
		}
		zero := 0.0
		return &StateUpdate{
			Coverage:         coverage,
			Confidence:       &zero,
			ConfidenceReason: "no documents available",
		}, nil
	}

	completion, err := n.llm.Invoke(ctx, evidenceAssessmentSystemPrompt,
		buildEvidenceAssessmentPrompt(state, documents), n.config.Model.invokeParams())
	if err != nil {
		return nil, fmt.Errorf("evidence assessment call failed: %w", err)
	}
	if completion == nil {
		return nil, fmt.Errorf("%w: evidence assessment returned no completion", ErrMalformedOutput)
	}
	assessment, err := decodeEvidenceAssessment(completion.Text)
	if err != nil {
		return nil, err
	}

	titles := make(map[string]string, len(documents))
	for _, doc := range documents {
		titles[doc.ID] = doc.Title
	}

	evidence := make([]EvidenceRef, 0, len(assessment.Items))
	for _, item := range assessment.Items {
		if !item.Relevant || item.Confidence <= 0 {
			continue
		}
		title, known := titles[item.ID]
		if !known {
			// The model referenced a document it was never shown
			n.logger.Warn("assessment referenced unknown document", "id", item.ID)
			continue
		}
		evidence = append(evidence, EvidenceRef{
			ID:            item.ID,
			Title:         title,
			Sections:      item.Sections,
			Confidence:    item.Confidence,
			KeyPoints:     item.KeyPoints,
			Applicability: item.Applicability,
		})
	}

	confidence := EvidenceConfidenceMean(evidence)
	level, strategy := tierFor(confidence, n.config.Thresholds)
	if len(evidence) == 0 {
		level, strategy = CoverageLow, StrategyEscapeHatch
	}
	coverage := &CoverageAnalysis{
		OverallConfidence: confidence,
		CoverageLevel:     level,
		ResponseStrategy:  strategy,
		Gaps:              assessment.Gaps,
	}
	if state.Coverage != nil {
		coverage.QueryIntent = state.Coverage.QueryIntent
		coverage.KeyTopics = append([]string(nil), state.Coverage.KeyTopics...)
	}
	return &StateUpdate{
		Evidence:         evidence,
		Coverage:         coverage,
		Confidence:       &confidence,
		ConfidenceReason: fmt.Sprintf("assessed %d of %d documents relevant", len(evidence), len(documents)),
	}, nil
}

func buildEvidenceAssessmentPrompt(state *State, documents []Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", state.Query)
	if state.Coverage != nil && state.Coverage.QueryIntent != "" {
		fmt.Fprintf(&b, "Intent: %s\n", state.Coverage.QueryIntent)
	}
	b.WriteString("\nDocuments:\n")
	for _, doc := range documents {
		fmt.Fprintf(&b, "--- id: %s title: %s ---\n%s\n", doc.ID, doc.Title,
			truncateText(doc.Content, maxDocumentChars))
	}
	return b.String()
}

// truncateText cuts at a rune boundary so a truncated document or answer is
// still valid UTF-8.
func truncateText(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "…"
}
