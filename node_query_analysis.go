package sopflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// documentCache holds the document set prefetched during query analysis so
// evidence assessment does not pay for a second store read. Scoped to one
// workflow run.
type documentCache struct {
	mutex  sync.Mutex
	docs   []Document
	loaded bool
}

func (c *documentCache) put(docs []Document) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.docs = docs
	c.loaded = true
}

func (c *documentCache) get() ([]Document, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.docs, c.loaded
}

const queryAnalysisSystemPrompt = `You analyze user questions about operating procedures.
Respond with a JSON object: {"intent": string, "topics": [string], "specificity": "high"|"medium"|"low"}.
The intent is a one-sentence restatement of what the user wants to accomplish.`

// QueryAnalysisNode derives the query intent, key topics, and an initial
// confidence from surface features of the query. It overlaps its inference
// call with the document-store fetch so the two latencies don't add.
type QueryAnalysisNode struct {
	llm    Inference
	docs   DocumentStore
	cache  *documentCache
	config *Config
	logger *slog.Logger
}

func (n *QueryAnalysisNode) ID() NodeID {
	return NodeQueryAnalysis
}

func (n *QueryAnalysisNode) Execute(ctx context.Context, state *State) (*StateUpdate, error) {
	operations := map[string]Operation{
		"query_analysis": func(ctx context.Context) (any, error) {
			return n.llm.Invoke(ctx, queryAnalysisSystemPrompt,
				buildQueryAnalysisPrompt(state), n.config.Model.invokeParams())
		},
		"load_documents": func(ctx context.Context) (any, error) {
			return n.docs.GetAllActive(ctx)
		},
	}
	results := RunParallel(ctx, operations, ParallelOptions{
		Timeout: n.config.Parallel.OperationTimeout,
		Logger:  n.logger,
	})

	// A failed prefetch is tolerated; assessment re-reads the store.
	if loaded := results["load_documents"]; loaded.Success {
		if docs, ok := loaded.Value.([]Document); ok {
			n.cache.put(docs)
		}
	} else {
		n.logger.Warn("document prefetch failed", "error", loaded.Err)
	}

	analysisResult := results["query_analysis"]
	if !analysisResult.Success {
		return nil, fmt.Errorf("query analysis call failed: %w", analysisResult.Err)
	}
	completion, ok := analysisResult.Value.(*Completion)
	if !ok || completion == nil {
		return nil, fmt.Errorf("%w: query analysis returned no completion", ErrMalformedOutput)
	}
	analysis, err := decodeQueryAnalysis(completion.Text)
	if err != nil {
		return nil, err
	}

	confidence := queryConfidence(state.Query, analysis)
	level, strategy := tierFor(confidence, n.config.Thresholds)
	coverage := &CoverageAnalysis{
		OverallConfidence: confidence,
		CoverageLevel:     level,
		ResponseStrategy:  strategy,
		QueryIntent:       analysis.Intent,
		KeyTopics:         analysis.Topics,
	}
	return &StateUpdate{
		Coverage:         coverage,
		Confidence:       &confidence,
		ConfidenceReason: "query surface analysis",
	}, nil
}

func buildQueryAnalysisPrompt(state *State) string {
	var b strings.Builder
	if len(state.Conversation) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, msg := range state.Conversation {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Question: %s", state.Query)
	return b.String()
}

// queryConfidence scores the query from surface features: a 0.3 base, word
// count, topic count, stated specificity, and the presence of an
// interrogative word, capped at 1.0.
func queryConfidence(query string, analysis *queryAnalysis) float64 {
	confidence := 0.3

	words := len(strings.Fields(query))
	if words > 5 {
		confidence += 0.1
	}
	if words > 10 {
		confidence += 0.1
	}

	topics := len(analysis.Topics)
	if topics > 1 {
		confidence += 0.1
	}
	if topics > 3 {
		confidence += 0.1
	}

	switch strings.ToLower(analysis.Specificity) {
	case "high":
		confidence += 0.2
	case "medium":
		confidence += 0.15
	default:
		confidence += 0.1
	}

	if hasInterrogative(query) {
		confidence += 0.1
	}
	return min(1.0, confidence)
}

var interrogatives = []string{
	"who", "what", "when", "where", "why", "how", "which",
	"can", "should", "does", "is", "are",
}

func hasInterrogative(query string) bool {
	for _, word := range strings.Fields(strings.ToLower(query)) {
		word = strings.Trim(word, "?.,!")
		for _, interrogative := range interrogatives {
			if word == interrogative {
				return true
			}
		}
	}
	return false
}

func (m ModelConfig) invokeParams() InvokeParams {
	return InvokeParams{
		Model:       m.Model,
		Temperature: m.Temperature,
		MaxTokens:   m.MaxTokens,
	}
}
