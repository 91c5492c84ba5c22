package sopflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPInferenceOptions configures an HTTPInference client.
type HTTPInferenceOptions struct {
	// BaseURL is the inference service root, e.g. "http://localhost:8000".
	// Required.
	BaseURL string

	// APIKey, when set, is sent as a bearer token.
	APIKey string

	// HTTPClient overrides the default client (60s timeout).
	HTTPClient *http.Client
}

// HTTPInference calls a JSON-over-HTTP inference service. The service owns
// the actual model access; this client only shapes the request and meters
// nothing itself.
type HTTPInference struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPInference creates a client for an inference service.
func NewHTTPInference(opts HTTPInferenceOptions) (*HTTPInference, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("inference service base URL is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPInference{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		client:  opts.HTTPClient,
	}, nil
}

type completionRequest struct {
	Model       string  `json:"model,omitempty"`
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

type completionResponse struct {
	Text      string `json:"text"`
	TokensIn  int    `json:"tokens_in"`
	TokensOut int    `json:"tokens_out"`
	Model     string `json:"model,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Invoke posts one completion request to the service.
func (h *HTTPInference) Invoke(ctx context.Context, systemPrompt, userPrompt string, params InvokeParams) (*Completion, error) {
	body, err := json.Marshal(completionRequest{
		Model:       params.Model,
		System:      systemPrompt,
		Prompt:      userPrompt,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost,
		h.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build completion request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	response, err := h.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(io.LimitReader(response.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read inference response: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference service returned status %d: %s",
			response.StatusCode, truncateText(string(data), 200))
	}

	var decoded completionResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode inference response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("inference service error: %s", decoded.Error)
	}
	return &Completion{
		Text:      decoded.Text,
		TokensIn:  decoded.TokensIn,
		TokensOut: decoded.TokensOut,
		Model:     decoded.Model,
	}, nil
}
