package sopflow

import "fmt"

// Route returns the node to run after the given node completed with the
// given state. Pure: the decision depends only on its arguments.
//
// The graph is fixed:
//
//	query_analysis → evidence_assessment → coverage_evaluation →
//	{fact_checking | source_validation | follow_up_generation | ∅} →
//	response_synthesis → end
//
// Every optional stage converges back on response synthesis; nothing skips
// it. Retry restarts are handled by the engine loop before Route is called.
func Route(current NodeID, state *State, config *Config) (NodeID, error) {
	if state.ShouldExit {
		return NodeEnd, nil
	}
	switch current {
	case NodeQueryAnalysis:
		return NodeEvidenceAssessment, nil
	case NodeEvidenceAssessment:
		return NodeCoverageEvaluation, nil
	case NodeCoverageEvaluation:
		return DecideRoute(state, config), nil
	case NodeFactChecking, NodeSourceValidation, NodeFollowUpGeneration:
		return NodeResponseSynthesis, nil
	case NodeResponseSynthesis:
		return NodeEnd, nil
	case NodeEnd:
		return NodeEnd, nil
	default:
		return NodeEnd, fmt.Errorf("no route from node %q", current)
	}
}
