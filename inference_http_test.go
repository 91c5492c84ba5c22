package sopflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPInferenceInvoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/completions", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var request completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		require.Equal(t, "the system prompt", request.System)
		require.Equal(t, "the user prompt", request.Prompt)
		require.Equal(t, 2048, request.MaxTokens)

		json.NewEncoder(w).Encode(completionResponse{
			Text:      "the answer",
			TokensIn:  12,
			TokensOut: 7,
			Model:     "served-model",
		})
	}))
	defer server.Close()

	llm, err := NewHTTPInference(HTTPInferenceOptions{BaseURL: server.URL, APIKey: "secret"})
	require.NoError(t, err)

	completion, err := llm.Invoke(context.Background(), "the system prompt", "the user prompt",
		InvokeParams{MaxTokens: 2048, Temperature: 0.2})
	require.NoError(t, err)
	require.Equal(t, "the answer", completion.Text)
	require.Equal(t, 12, completion.TokensIn)
	require.Equal(t, 7, completion.TokensOut)
	require.Equal(t, "served-model", completion.Model)
}

func TestHTTPInferenceErrors(t *testing.T) {
	t.Run("base URL required", func(t *testing.T) {
		_, err := NewHTTPInference(HTTPInferenceOptions{})
		require.Error(t, err)
	})

	t.Run("non-200 status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		llm, err := NewHTTPInference(HTTPInferenceOptions{BaseURL: server.URL})
		require.NoError(t, err)

		_, err = llm.Invoke(context.Background(), "s", "u", InvokeParams{})
		require.Error(t, err)
		require.Contains(t, err.Error(), "503")
	})

	t.Run("service-level error field", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(completionResponse{Error: "model not found"})
		}))
		defer server.Close()

		llm, err := NewHTTPInference(HTTPInferenceOptions{BaseURL: server.URL})
		require.NoError(t, err)

		_, err = llm.Invoke(context.Background(), "s", "u", InvokeParams{})
		require.Error(t, err)
		require.Contains(t, err.Error(), "model not found")
	})
}
