package sopflow

import (
	"context"
	"errors"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestQueryConfidence(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		analysis *queryAnalysis
		want     float64
	}{
		{
			name:     "short vague query",
			query:    "restart api",
			analysis: &queryAnalysis{Specificity: "low", Topics: []string{"api"}},
			want:     0.4,
		},
		{
			name:     "specific interrogative query",
			query:    "How do I restart the payment API safely?",
			analysis: &queryAnalysis{Specificity: "high", Topics: []string{"payment api", "restart"}},
			want:     0.8,
		},
		{
			name:  "long multi-topic query caps at 1.0",
			query: "How should I safely restart the payment API during business hours without dropping any in-flight transactions?",
			analysis: &queryAnalysis{
				Specificity: "high",
				Topics:      []string{"payment api", "restart", "business hours", "transactions"},
			},
			want: 1.0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.want, queryConfidence(tt.query, tt.analysis), 1e-9)
		})
	}
}

func TestHasInterrogative(t *testing.T) {
	require.True(t, hasInterrogative("How do I do this?"))
	require.True(t, hasInterrogative("what now"))
	require.False(t, hasInterrogative("restart the api"))
}

func TestEvidenceAssessmentZeroDocuments(t *testing.T) {
	node := &EvidenceAssessmentNode{
		llm: InferenceFunc(func(ctx context.Context, system, user string, params InvokeParams) (*Completion, error) {
			t.Fatal("no inference call expected with zero documents")
			return nil, nil
		}),
		docs:   NewMemoryDocumentStore(),
		cache:  &documentCache{},
		config: DefaultConfig(),
		logger: testLogger(),
	}

	state := NewState("how do I restart?", nil)
	state.Coverage = &CoverageAnalysis{QueryIntent: "restart the api", KeyTopics: []string{"api"}}

	update, err := node.Execute(context.Background(), state)
	require.NoError(t, err)
	require.Equal(t, StrategyEscapeHatch, update.Coverage.ResponseStrategy)
	require.Zero(t, *update.Confidence)
	require.Equal(t, "restart the api", update.Coverage.QueryIntent)
	require.NotEmpty(t, update.Coverage.Gaps)
}

func TestEvidenceAssessmentSkipsUnknownDocuments(t *testing.T) {
	node := &EvidenceAssessmentNode{
		llm: InferenceFunc(func(ctx context.Context, system, user string, params InvokeParams) (*Completion, error) {
			return &Completion{Text: `{"documents": [
				{"id": "sop-1", "relevant": true, "confidence": 0.8},
				{"id": "hallucinated", "relevant": true, "confidence": 0.9},
				{"id": "sop-2", "relevant": false, "confidence": 0.9}
			], "gaps": []}`}, nil
		}),
		docs:   testDocuments(),
		cache:  &documentCache{},
		config: DefaultConfig(),
		logger: testLogger(),
	}

	update, err := node.Execute(context.Background(), NewState("query", nil))
	require.NoError(t, err)
	require.Len(t, update.Evidence, 1)
	require.Equal(t, "sop-1", update.Evidence[0].ID)
	require.Equal(t, "Payment API Restart", update.Evidence[0].Title)
}

func TestFollowUpGenerationFallsBackOnFailure(t *testing.T) {
	node := &FollowUpGenerationNode{
		llm: InferenceFunc(func(ctx context.Context, system, user string, params InvokeParams) (*Completion, error) {
			return nil, errors.New("inference unavailable")
		}),
		config: DefaultConfig(),
		logger: testLogger(),
	}

	state := NewState("the deploy process is failing", nil)
	update, err := node.Execute(context.Background(), state)
	require.NoError(t, err)
	require.NotEmpty(t, update.FollowUpQuestions)
	require.LessOrEqual(t, len(update.FollowUpQuestions), 5)
}

func TestFollowUpGenerationRequiresThreeQuestions(t *testing.T) {
	node := &FollowUpGenerationNode{
		llm: InferenceFunc(func(ctx context.Context, system, user string, params InvokeParams) (*Completion, error) {
			return &Completion{Text: `["only one?"]`}, nil
		}),
		config: DefaultConfig(),
		logger: testLogger(),
	}

	update, err := node.Execute(context.Background(), NewState("query", nil))
	require.NoError(t, err)
	// Too few model questions falls back to the templates
	require.GreaterOrEqual(t, len(update.FollowUpQuestions), 2)
	require.NotContains(t, update.FollowUpQuestions, "only one?")
}

func TestFallbackQuestionsPatterns(t *testing.T) {
	t.Run("process query", func(t *testing.T) {
		state := NewState("what is the procedure for onboarding?", nil)
		questions := fallbackQuestions(state)
		require.Contains(t, questions, "Which specific step of the process are you asking about?")
	})

	t.Run("problem query", func(t *testing.T) {
		state := NewState("the deploy keeps failing with an error", nil)
		questions := fallbackQuestions(state)
		require.Contains(t, questions, "What exactly happened, and what did you expect instead?")
	})

	t.Run("generic query always gets the generic pair", func(t *testing.T) {
		state := NewState("kubernetes", nil)
		questions := fallbackQuestions(state)
		require.Len(t, questions, 2)
	})
}

func TestResponseSynthesisEscapeHatchSkipsInference(t *testing.T) {
	node := &ResponseSynthesisNode{
		llm: InferenceFunc(func(ctx context.Context, system, user string, params InvokeParams) (*Completion, error) {
			t.Fatal("no inference call expected on the escape hatch path")
			return nil, nil
		}),
		docs:   testDocuments(),
		config: DefaultConfig(),
		logger: testLogger(),
	}

	state := NewState("how do I restart?", nil)
	state.Coverage = &CoverageAnalysis{
		ResponseStrategy: StrategyEscapeHatch,
		QueryIntent:      "restart the api",
		Gaps:             []string{"no restart runbook"},
	}
	state.FollowUpQuestions = []string{"Which environment?"}

	update, err := node.Execute(context.Background(), state)
	require.NoError(t, err)
	require.Contains(t, *update.Response, "restart the api")
	require.Contains(t, *update.Response, "no restart runbook")
	require.Contains(t, *update.Response, "Which environment?")
	require.True(t, *update.ShouldExit)
}

func TestResponseSynthesisDegradesOnFailure(t *testing.T) {
	node := &ResponseSynthesisNode{
		llm: InferenceFunc(func(ctx context.Context, system, user string, params InvokeParams) (*Completion, error) {
			return nil, errors.New("inference unavailable")
		}),
		docs:   testDocuments(),
		config: DefaultConfig(),
		logger: testLogger(),
	}

	state := NewState("how do I restart?", nil)
	state.Coverage = &CoverageAnalysis{
		ResponseStrategy: StrategyFullAnswer,
		QueryIntent:      "restart the api",
	}

	update, err := node.Execute(context.Background(), state)
	require.NoError(t, err)
	require.NotEmpty(t, *update.Response)
	require.Len(t, update.Errors, 1)
	require.True(t, *update.ShouldExit)
}

func TestTruncateText(t *testing.T) {
	require.Equal(t, "short", truncateText("short", 10))
	require.Equal(t, "abcde…", truncateText("abcdefgh", 5))

	t.Run("never splits a rune", func(t *testing.T) {
		// "é" is two bytes; a cut landing inside it backs up to the
		// rune start.
		truncated := truncateText("café latte", 4)
		require.Equal(t, "caf…", truncated)
		require.True(t, utf8.ValidString(truncated))

		truncated = truncateText("日本語のドキュメント", 7)
		require.Equal(t, "日本…", truncated)
		require.True(t, utf8.ValidString(truncated))
	})
}

func TestNodesRejectNilCompletion(t *testing.T) {
	noCompletion := InferenceFunc(func(ctx context.Context, system, user string, params InvokeParams) (*Completion, error) {
		return nil, nil
	})
	config := DefaultConfig()

	state := NewState("how do I restart?", nil)
	state.Evidence = []EvidenceRef{{ID: "sop-1", Title: "Payment API Restart", Confidence: 0.8}}
	state.Coverage = &CoverageAnalysis{ResponseStrategy: StrategyFullAnswer, OverallConfidence: 0.85}

	t.Run("evidence assessment", func(t *testing.T) {
		node := &EvidenceAssessmentNode{llm: noCompletion, docs: testDocuments(), cache: &documentCache{}, config: config, logger: testLogger()}
		_, err := node.Execute(context.Background(), state)
		require.ErrorIs(t, err, ErrMalformedOutput)
	})

	t.Run("fact checking", func(t *testing.T) {
		node := &FactCheckingNode{llm: noCompletion, config: config, logger: testLogger()}
		_, err := node.Execute(context.Background(), state)
		require.ErrorIs(t, err, ErrMalformedOutput)
	})

	t.Run("source validation", func(t *testing.T) {
		node := &SourceValidationNode{llm: noCompletion, config: config, logger: testLogger()}
		_, err := node.Execute(context.Background(), state)
		require.ErrorIs(t, err, ErrMalformedOutput)
	})

	t.Run("follow-up generation falls back", func(t *testing.T) {
		node := &FollowUpGenerationNode{llm: noCompletion, config: config, logger: testLogger()}
		update, err := node.Execute(context.Background(), state)
		require.NoError(t, err)
		require.NotEmpty(t, update.FollowUpQuestions)
	})

	t.Run("synthesis degrades", func(t *testing.T) {
		node := &ResponseSynthesisNode{llm: noCompletion, docs: testDocuments(), config: config, logger: testLogger()}
		update, err := node.Execute(context.Background(), state)
		require.NoError(t, err)
		require.NotEmpty(t, *update.Response)
		require.Len(t, update.Errors, 1)
	})
}

func TestMemoryDocumentStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDocumentStore()
	store.Add(Document{ID: "a", Title: "First"})
	store.Add(Document{ID: "b", Title: "Second"})
	store.Add(Document{ID: "a", Title: "First Revised"})

	docs, err := store.GetAllActive(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "First Revised", docs[0].Title)
	require.Equal(t, "Second", docs[1].Title)

	doc, err := store.FindByID(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, "Second", doc.Title)

	missing, err := store.FindByID(ctx, "zzz")
	require.NoError(t, err)
	require.Nil(t, missing)
}
