package sopflow

// CoverageInput is what the coverage evaluator fuses: the routing confidence
// accumulated so far plus structural evidence about the supporting material.
type CoverageInput struct {
	Confidence float64
	Evidence   []EvidenceRef
	Gaps       []string
}

// CoverageResult is the adjusted confidence and the tier derived from it.
type CoverageResult struct {
	Confidence float64
	Level      CoverageLevel
	Strategy   ResponseStrategy
}

// EvaluateCoverage fuses the raw confidence signal with evidence count and
// gap count, then re-derives the coverage tier from the adjusted value. Pure
// and deterministic: evaluating the same input twice yields the same result.
//
// The two passes are deliberate. Per-node confidence is a noisy single
// signal; the structural adjustments below can move a query across a tier
// boundary in either direction, so the tier must be derived after them, not
// before.
func EvaluateCoverage(in CoverageInput, thresholds ThresholdConfig) CoverageResult {
	confidence := in.Confidence
	forceEscape := false

	// Evidence-count adjustment
	switch n := len(in.Evidence); {
	case n == 0:
		if confidence > 0.2 {
			confidence = 0.2
		}
		forceEscape = true
	case n == 1 && in.Evidence[0].Confidence < 0.6:
		if confidence > 0.5 {
			confidence = 0.5
		}
	case n >= 2 && EvidenceConfidenceMean(in.Evidence) > 0.7:
		confidence = min(1.0, confidence+0.1)
	}

	// Gap adjustment
	switch n := len(in.Gaps); {
	case n == 0:
		confidence = min(1.0, confidence+0.05)
	case n > 3:
		confidence = max(0.0, confidence-0.1)
	}

	// An empty evidence set keeps the 0.2 ceiling no matter what the gap
	// list says.
	if forceEscape && confidence > 0.2 {
		confidence = 0.2
	}

	level, strategy := tierFor(confidence, thresholds)
	if forceEscape {
		level = CoverageLow
		strategy = StrategyEscapeHatch
	}
	return CoverageResult{Confidence: confidence, Level: level, Strategy: strategy}
}

// tierFor maps an adjusted confidence onto a coverage tier.
func tierFor(confidence float64, thresholds ThresholdConfig) (CoverageLevel, ResponseStrategy) {
	switch {
	case confidence >= thresholds.High:
		return CoverageHigh, StrategyFullAnswer
	case confidence >= thresholds.Medium:
		return CoverageMedium, StrategyPartialAnswer
	default:
		return CoverageLow, StrategyEscapeHatch
	}
}

// DecideRoute selects the optional verification stage to run after coverage
// evaluation, or response synthesis when none applies. Separate from the tier
// decision: the tier says how to answer, the route says what to verify first.
func DecideRoute(state *State, config *Config) NodeID {
	coverage := state.Coverage
	if coverage == nil {
		return NodeResponseSynthesis
	}
	if config.Routing.EarlyExit &&
		coverage.ResponseStrategy == StrategyFullAnswer &&
		len(coverage.Gaps) == 0 &&
		coverage.OverallConfidence > config.Routing.EarlyExitConfidence {
		return NodeResponseSynthesis
	}
	switch {
	case coverage.ResponseStrategy == StrategyFullAnswer &&
		len(state.Evidence) > 1 &&
		coverage.OverallConfidence > config.Thresholds.High:
		return NodeFactChecking
	case coverage.ResponseStrategy == StrategyPartialAnswer &&
		len(coverage.Gaps) > 0 &&
		len(state.Evidence) > 1:
		return NodeSourceValidation
	case coverage.ResponseStrategy == StrategyEscapeHatch &&
		len(coverage.Gaps) > 2:
		return NodeFollowUpGeneration
	default:
		return NodeResponseSynthesis
	}
}
