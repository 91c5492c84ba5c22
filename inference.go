package sopflow

import (
	"context"
)

// InvokeParams carries the model parameters for one inference call.
type InvokeParams struct {
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Completion is the raw result of one inference call.
type Completion struct {
	Text      string `json:"text"`
	TokensIn  int    `json:"tokens_in"`
	TokensOut int    `json:"tokens_out"`
	Model     string `json:"model,omitempty"`
}

// Inference is the opaque language-model capability the engine calls. Each
// node performs at most one invocation per execution; failures surface as
// ordinary errors and are classified by the executor wrapper.
type Inference interface {
	Invoke(ctx context.Context, systemPrompt, userPrompt string, params InvokeParams) (*Completion, error)
}

// InferenceFunc adapts a function to the Inference interface.
type InferenceFunc func(ctx context.Context, systemPrompt, userPrompt string, params InvokeParams) (*Completion, error)

func (f InferenceFunc) Invoke(ctx context.Context, systemPrompt, userPrompt string, params InvokeParams) (*Completion, error) {
	return f(ctx, systemPrompt, userPrompt, params)
}
