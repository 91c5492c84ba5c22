package sopflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const synthesisSystemPrompt = `You answer questions using only the provided procedure excerpts.
Ground every statement in the excerpts, cite the procedure titles you draw from, and say plainly
when something is not covered. Answer in clear prose, no JSON.`

// ResponseSynthesisNode is the terminal node. On the escape-hatch path it
// emits the gap-acknowledgment template without an inference call; otherwise
// it assembles the evidence into a generation prompt. An inference failure
// degrades to the template rather than failing the run.
type ResponseSynthesisNode struct {
	llm    Inference
	docs   DocumentStore
	config *Config
	logger *slog.Logger
}

func (n *ResponseSynthesisNode) ID() NodeID {
	return NodeResponseSynthesis
}

func (n *ResponseSynthesisNode) Execute(ctx context.Context, state *State) (*StateUpdate, error) {
	exit := true

	if state.Coverage == nil || state.Coverage.ResponseStrategy == StrategyEscapeHatch {
		response := escapeHatchAnswer(n.config, state)
		return &StateUpdate{Response: &response, ShouldExit: &exit}, nil
	}

	completion, err := n.llm.Invoke(ctx, synthesisSystemPrompt,
		n.buildSynthesisPrompt(ctx, state), n.config.Model.invokeParams())
	if err != nil || completion == nil || strings.TrimSpace(completion.Text) == "" {
		if err == nil {
			err = fmt.Errorf("synthesis returned empty response")
		}
		n.logger.Warn("response synthesis failed, using escape hatch", "error", err)
		response := escapeHatchAnswer(n.config, state)
		return &StateUpdate{
			Response:   &response,
			Errors:     []string{fmt.Sprintf("response_synthesis: %v", err)},
			ShouldExit: &exit,
		}, nil
	}

	response := strings.TrimSpace(completion.Text)
	return &StateUpdate{Response: &response, ShouldExit: &exit}, nil
}

func (n *ResponseSynthesisNode) buildSynthesisPrompt(ctx context.Context, state *State) string {
	var b strings.Builder
	if len(state.Conversation) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, msg := range state.Conversation {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Question: %s\n\nProcedures:\n", state.Query)

	for _, item := range state.Evidence {
		fmt.Fprintf(&b, "--- %s ---\n", item.Title)
		if len(item.Sections) > 0 {
			fmt.Fprintf(&b, "Relevant sections: %s\n", strings.Join(item.Sections, ", "))
		}
		// Pull the full document content for generation; the evidence
		// ref carries only the assessment.
		if doc, err := n.docs.FindByID(ctx, item.ID); err == nil && doc != nil {
			fmt.Fprintf(&b, "%s\n", truncateText(doc.Content, maxDocumentChars))
		} else {
			for _, point := range item.KeyPoints {
				fmt.Fprintf(&b, "- %s\n", point)
			}
		}
	}

	if coverage := state.Coverage; coverage != nil {
		fmt.Fprintf(&b, "\nCoverage: %s (confidence %.2f)\n",
			coverage.CoverageLevel, coverage.OverallConfidence)
		if coverage.ResponseStrategy == StrategyPartialAnswer && len(coverage.Gaps) > 0 {
			b.WriteString("The procedures do not cover:\n")
			for _, gap := range coverage.Gaps {
				fmt.Fprintf(&b, "- %s\n", gap)
			}
			b.WriteString("Acknowledge these gaps in the answer.\n")
		}
	}
	return b.String()
}

// escapeHatchAnswer renders the fixed gap-acknowledgment template. No
// inference call is involved, so this path cannot fail.
func escapeHatchAnswer(config *Config, state *State) string {
	subject := state.Query
	if state.Coverage != nil && state.Coverage.QueryIntent != "" {
		subject = state.Coverage.QueryIntent
	}

	var b strings.Builder
	fmt.Fprintf(&b, config.Templates.EscapeHatch, subject)
	if state.Coverage != nil && len(state.Coverage.Gaps) > 0 {
		b.WriteString("\n\nWhat's missing:\n")
		for _, gap := range state.Coverage.Gaps {
			fmt.Fprintf(&b, "- %s\n", gap)
		}
	}
	if len(state.FollowUpQuestions) > 0 {
		b.WriteString("\nAnswering these would help:\n")
		for _, question := range state.FollowUpQuestions {
			fmt.Fprintf(&b, "- %s\n", question)
		}
	}
	return strings.TrimSpace(b.String())
}
