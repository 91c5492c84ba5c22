package sopflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

func ExampleEngine_ProcessQuery() {
	store := NewMemoryDocumentStore()
	store.Add(Document{
		ID:      "sop-restart",
		Title:   "API Restart Procedure",
		Content: "Drain traffic from the instance, restart it, then verify health endpoints.",
	})
	store.Add(Document{
		ID:      "sop-verify",
		Title:   "Post-Restart Verification",
		Content: "Check the health endpoint and error rates after any restart.",
	})

	// A scripted stand-in for a real language model
	llm := InferenceFunc(func(ctx context.Context, systemPrompt, userPrompt string, params InvokeParams) (*Completion, error) {
		switch systemPrompt {
		case queryAnalysisSystemPrompt:
			return &Completion{Text: `{"intent": "restart the api", "topics": ["api", "restart"], "specificity": "high"}`}, nil
		case evidenceAssessmentSystemPrompt:
			return &Completion{Text: `{"documents": [
				{"id": "sop-restart", "relevant": true, "confidence": 0.9, "key_points": ["drain traffic first"]},
				{"id": "sop-verify", "relevant": true, "confidence": 0.85, "key_points": ["verify health endpoints"]}
			], "gaps": []}`}, nil
		default:
			return &Completion{Text: "Drain traffic, restart the instance, then verify the health endpoints."}, nil
		}
	})

	config := DefaultConfig()
	config.Routing.EarlyExit = true

	engine, err := New(Options{
		Config:    config,
		Inference: llm,
		Documents: store,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	result := engine.ProcessQuery(context.Background(),
		"How do I restart the API safely?", nil, ProcessQueryOptions{})

	fmt.Println(result.Answer)
	fmt.Println(result.Strategy())
	fmt.Println(len(result.Evidence), "evidence references")
	// Output:
	// Drain traffic, restart the instance, then verify the health endpoints.
	// full_answer
	// 2 evidence references
}
