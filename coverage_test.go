package sopflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluateCoverage(t *testing.T) {
	thresholds := ThresholdConfig{High: 0.8, Medium: 0.5}

	t.Run("zero evidence forces escape hatch", func(t *testing.T) {
		result := EvaluateCoverage(CoverageInput{
			Confidence: 0.9,
			Gaps:       []string{"everything"},
		}, thresholds)
		require.InDelta(t, 0.2, result.Confidence, 1e-9)
		require.Equal(t, CoverageLow, result.Level)
		require.Equal(t, StrategyEscapeHatch, result.Strategy)
	})

	t.Run("zero evidence below cap keeps confidence", func(t *testing.T) {
		result := EvaluateCoverage(CoverageInput{
			Confidence: 0.1,
			Gaps:       []string{"everything"},
		}, thresholds)
		require.InDelta(t, 0.1, result.Confidence, 1e-9)
		require.Equal(t, StrategyEscapeHatch, result.Strategy)
	})

	t.Run("zero evidence cap survives the no-gaps bonus", func(t *testing.T) {
		result := EvaluateCoverage(CoverageInput{
			Confidence: 0.9,
		}, thresholds)
		require.InDelta(t, 0.2, result.Confidence, 1e-9)
		require.LessOrEqual(t, result.Confidence, 0.2)
		require.Equal(t, CoverageLow, result.Level)
		require.Equal(t, StrategyEscapeHatch, result.Strategy)
	})

	t.Run("single weak evidence caps at 0.5", func(t *testing.T) {
		result := EvaluateCoverage(CoverageInput{
			Confidence: 0.85,
			Evidence:   []EvidenceRef{{ID: "a", Confidence: 0.4}},
			Gaps:       []string{"a gap"},
		}, thresholds)
		require.InDelta(t, 0.5, result.Confidence, 1e-9)
		require.Equal(t, CoverageMedium, result.Level)
		require.Equal(t, StrategyPartialAnswer, result.Strategy)
	})

	t.Run("single strong evidence is untouched", func(t *testing.T) {
		result := EvaluateCoverage(CoverageInput{
			Confidence: 0.85,
			Evidence:   []EvidenceRef{{ID: "a", Confidence: 0.9}},
			Gaps:       []string{"a gap"},
		}, thresholds)
		require.InDelta(t, 0.85, result.Confidence, 1e-9)
		require.Equal(t, StrategyFullAnswer, result.Strategy)
	})

	t.Run("strong evidence set gets a boost", func(t *testing.T) {
		result := EvaluateCoverage(CoverageInput{
			Confidence: 0.7,
			Evidence: []EvidenceRef{
				{ID: "a", Confidence: 0.8},
				{ID: "b", Confidence: 0.9},
			},
			Gaps: []string{"a gap"},
		}, thresholds)
		require.InDelta(t, 0.8, result.Confidence, 1e-9)
		require.Equal(t, CoverageHigh, result.Level)
	})

	t.Run("no gaps adds a small boost", func(t *testing.T) {
		result := EvaluateCoverage(CoverageInput{
			Confidence: 0.6,
			Evidence:   []EvidenceRef{{ID: "a", Confidence: 0.7}},
		}, thresholds)
		require.InDelta(t, 0.65, result.Confidence, 1e-9)
	})

	t.Run("many gaps subtract", func(t *testing.T) {
		result := EvaluateCoverage(CoverageInput{
			Confidence: 0.6,
			Evidence:   []EvidenceRef{{ID: "a", Confidence: 0.7}},
			Gaps:       []string{"a", "b", "c", "d"},
		}, thresholds)
		require.InDelta(t, 0.5, result.Confidence, 1e-9)
	})

	t.Run("adjustment can cross tier boundary", func(t *testing.T) {
		// 0.75 + 0.1 (strong evidence) + 0.05 (no gaps) = 0.9
		result := EvaluateCoverage(CoverageInput{
			Confidence: 0.75,
			Evidence: []EvidenceRef{
				{ID: "a", Confidence: 0.8},
				{ID: "b", Confidence: 0.8},
			},
		}, thresholds)
		require.InDelta(t, 0.9, result.Confidence, 1e-9)
		require.Equal(t, CoverageHigh, result.Level)
		require.Equal(t, StrategyFullAnswer, result.Strategy)
	})

	t.Run("deterministic", func(t *testing.T) {
		input := CoverageInput{
			Confidence: 0.62,
			Evidence:   []EvidenceRef{{ID: "a", Confidence: 0.55}},
			Gaps:       []string{"a", "b"},
		}
		first := EvaluateCoverage(input, thresholds)
		second := EvaluateCoverage(input, thresholds)
		require.Equal(t, first, second)
	})
}

func TestTierFor(t *testing.T) {
	thresholds := ThresholdConfig{High: 0.8, Medium: 0.5}

	level, strategy := tierFor(0.8, thresholds)
	require.Equal(t, CoverageHigh, level)
	require.Equal(t, StrategyFullAnswer, strategy)

	level, strategy = tierFor(0.5, thresholds)
	require.Equal(t, CoverageMedium, level)
	require.Equal(t, StrategyPartialAnswer, strategy)

	level, strategy = tierFor(0.49, thresholds)
	require.Equal(t, CoverageLow, level)
	require.Equal(t, StrategyEscapeHatch, strategy)
}

func TestDecideRoute(t *testing.T) {
	config := DefaultConfig()

	t.Run("full answer with strong evidence goes to fact checking", func(t *testing.T) {
		state := &State{
			Evidence: []EvidenceRef{{ID: "a"}, {ID: "b"}, {ID: "c"}},
			Coverage: &CoverageAnalysis{
				OverallConfidence: 0.85,
				ResponseStrategy:  StrategyFullAnswer,
			},
		}
		require.Equal(t, NodeFactChecking, DecideRoute(state, config))
	})

	t.Run("full answer at exactly the threshold skips fact checking", func(t *testing.T) {
		state := &State{
			Evidence: []EvidenceRef{{ID: "a"}, {ID: "b"}},
			Coverage: &CoverageAnalysis{
				OverallConfidence: 0.8,
				ResponseStrategy:  StrategyFullAnswer,
			},
		}
		require.Equal(t, NodeResponseSynthesis, DecideRoute(state, config))
	})

	t.Run("partial answer with gaps goes to source validation", func(t *testing.T) {
		state := &State{
			Evidence: []EvidenceRef{{ID: "a"}, {ID: "b"}},
			Coverage: &CoverageAnalysis{
				OverallConfidence: 0.6,
				ResponseStrategy:  StrategyPartialAnswer,
				Gaps:              []string{"missing rollback steps"},
			},
		}
		require.Equal(t, NodeSourceValidation, DecideRoute(state, config))
	})

	t.Run("partial answer with single evidence skips validation", func(t *testing.T) {
		state := &State{
			Evidence: []EvidenceRef{{ID: "a"}},
			Coverage: &CoverageAnalysis{
				OverallConfidence: 0.6,
				ResponseStrategy:  StrategyPartialAnswer,
				Gaps:              []string{"missing rollback steps"},
			},
		}
		require.Equal(t, NodeResponseSynthesis, DecideRoute(state, config))
	})

	t.Run("escape hatch with many gaps goes to follow-up generation", func(t *testing.T) {
		state := &State{
			Coverage: &CoverageAnalysis{
				ResponseStrategy: StrategyEscapeHatch,
				Gaps:             []string{"a", "b", "c"},
			},
		}
		require.Equal(t, NodeFollowUpGeneration, DecideRoute(state, config))
	})

	t.Run("escape hatch with few gaps goes to synthesis", func(t *testing.T) {
		state := &State{
			Coverage: &CoverageAnalysis{
				ResponseStrategy: StrategyEscapeHatch,
				Gaps:             []string{"a"},
			},
		}
		require.Equal(t, NodeResponseSynthesis, DecideRoute(state, config))
	})

	t.Run("nil coverage goes to synthesis", func(t *testing.T) {
		require.Equal(t, NodeResponseSynthesis, DecideRoute(&State{}, config))
	})

	t.Run("early exit skips verification when enabled", func(t *testing.T) {
		early := DefaultConfig()
		early.Routing.EarlyExit = true
		state := &State{
			Evidence: []EvidenceRef{{ID: "a"}, {ID: "b"}},
			Coverage: &CoverageAnalysis{
				OverallConfidence: 0.95,
				ResponseStrategy:  StrategyFullAnswer,
			},
		}
		require.Equal(t, NodeResponseSynthesis, DecideRoute(state, early))

		// Same state without the flag still verifies
		require.Equal(t, NodeFactChecking, DecideRoute(state, config))
	})
}
