package sopflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const followUpSystemPrompt = `The available procedures do not cover this question well.
Write between 3 and 5 short clarifying questions that would let someone find or write the right procedure.
Respond with a JSON array of strings.`

// FollowUpGenerationNode produces clarifying questions when coverage is too
// thin to answer. It never alters confidence, and an inference failure falls
// back to deterministic template questions rather than failing the node.
type FollowUpGenerationNode struct {
	llm    Inference
	config *Config
	logger *slog.Logger
}

func (n *FollowUpGenerationNode) ID() NodeID {
	return NodeFollowUpGeneration
}

func (n *FollowUpGenerationNode) Execute(ctx context.Context, state *State) (*StateUpdate, error) {
	questions, err := n.generate(ctx, state)
	if err != nil {
		n.logger.Warn("follow-up generation failed, using template questions", "error", err)
		questions = fallbackQuestions(state)
	}
	if len(questions) > 5 {
		questions = questions[:5]
	}
	return &StateUpdate{FollowUpQuestions: questions}, nil
}

func (n *FollowUpGenerationNode) generate(ctx context.Context, state *State) ([]string, error) {
	completion, err := n.llm.Invoke(ctx, followUpSystemPrompt,
		buildFollowUpPrompt(state), n.config.Model.invokeParams())
	if err != nil {
		return nil, err
	}
	if completion == nil {
		return nil, fmt.Errorf("%w: follow-up generation returned no completion", ErrMalformedOutput)
	}
	questions, err := decodeQuestions(completion.Text)
	if err != nil {
		return nil, err
	}
	if len(questions) < 3 {
		return nil, fmt.Errorf("%w: expected at least 3 questions, got %d", ErrMalformedOutput, len(questions))
	}
	return questions, nil
}

func buildFollowUpPrompt(state *State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", state.Query)
	if state.Coverage != nil {
		if state.Coverage.QueryIntent != "" {
			fmt.Fprintf(&b, "Intent: %s\n", state.Coverage.QueryIntent)
		}
		if len(state.Coverage.Gaps) > 0 {
			b.WriteString("Coverage gaps:\n")
			for _, gap := range state.Coverage.Gaps {
				fmt.Fprintf(&b, "- %s\n", gap)
			}
		}
	}
	return b.String()
}

// fallbackQuestions derives clarifying questions from keyword patterns in
// the query intent, padded with two generic questions.
func fallbackQuestions(state *State) []string {
	intent := state.Query
	if state.Coverage != nil && state.Coverage.QueryIntent != "" {
		intent = state.Coverage.QueryIntent
	}
	lowered := strings.ToLower(intent)

	var questions []string
	switch {
	case containsAny(lowered, "process", "procedure", "steps", "how to"):
		questions = append(questions,
			"Which specific step of the process are you asking about?",
			"Is this for a routine case or an exception?")
	case containsAny(lowered, "error", "problem", "issue", "fail", "broken"):
		questions = append(questions,
			"What exactly happened, and what did you expect instead?",
			"When did the problem first appear?")
	case containsAny(lowered, "should", "choose", "decide", "decision", "versus"):
		questions = append(questions,
			"What options are you deciding between?",
			"What constraints matter most for this decision?")
	}
	questions = append(questions,
		"Can you share more context about what you are trying to accomplish?",
		"Which team or system does this question concern?")
	return questions
}

func containsAny(text string, patterns ...string) bool {
	for _, pattern := range patterns {
		if strings.Contains(text, pattern) {
			return true
		}
	}
	return false
}
