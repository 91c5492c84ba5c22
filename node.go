package sopflow

import (
	"context"
	"fmt"
)

// NodeID identifies one node of the workflow graph. The set is closed:
// routing matches exhaustively on these values and anything else is rejected
// at parse time.
type NodeID string

const (
	NodeQueryAnalysis      NodeID = "query_analysis"
	NodeEvidenceAssessment NodeID = "evidence_assessment"
	NodeCoverageEvaluation NodeID = "coverage_evaluation"
	NodeFactChecking       NodeID = "fact_checking"
	NodeSourceValidation   NodeID = "source_validation"
	NodeFollowUpGeneration NodeID = "follow_up_generation"
	NodeResponseSynthesis  NodeID = "response_synthesis"

	// NodeEnd is the terminal pseudo-node returned by the router.
	NodeEnd NodeID = "end"
)

// AllNodes lists the executable nodes in their canonical order.
func AllNodes() []NodeID {
	return []NodeID{
		NodeQueryAnalysis,
		NodeEvidenceAssessment,
		NodeCoverageEvaluation,
		NodeFactChecking,
		NodeSourceValidation,
		NodeFollowUpGeneration,
		NodeResponseSynthesis,
	}
}

// ParseNodeID converts a string to a NodeID, rejecting unknown names.
func ParseNodeID(name string) (NodeID, error) {
	switch NodeID(name) {
	case NodeQueryAnalysis, NodeEvidenceAssessment, NodeCoverageEvaluation,
		NodeFactChecking, NodeSourceValidation, NodeFollowUpGeneration,
		NodeResponseSynthesis, NodeEnd:
		return NodeID(name), nil
	}
	return "", fmt.Errorf("unknown node %q", name)
}

func (id NodeID) String() string {
	return string(id)
}

// Node is a single unit of work in the graph: a function from the current
// state to a partial state update. Nodes must not mutate the state they
// receive.
type Node interface {

	// ID returns the node identifier.
	ID() NodeID

	// Execute runs the node against the current state.
	Execute(ctx context.Context, state *State) (*StateUpdate, error)
}

// nodeSet holds the node executors for one workflow run. A fresh set is built
// per run so nodes may share run-scoped caches without cross-run aliasing.
type nodeSet map[NodeID]Node

func (n nodeSet) get(id NodeID) (Node, error) {
	node, ok := n[id]
	if !ok {
		return nil, fmt.Errorf("node %q not registered", id)
	}
	return node, nil
}
