package supplytree

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/anvil-platform/forge/internal/graph"
	"github.com/anvil-platform/forge/internal/matching"
)

var (
	// ErrFinalized is returned by mutators once the tree has been finalized.
	ErrFinalized = errors.New("supplytree: finalized")
	// ErrCycle is returned when an edge or connection would close a cycle.
	ErrCycle = graph.ErrCycle
	// ErrNotFound is returned for unknown workflow, node or port handles.
	ErrNotFound = errors.New("supplytree: not found")
	// ErrDuplicate is returned when a handle is already in use.
	ErrDuplicate = errors.New("supplytree: duplicate id")
	// ErrIncompatiblePorts is returned when two ports may not be connected.
	ErrIncompatiblePorts = errors.New("supplytree: incompatible ports")
)

// WorkflowNode is one process step.
type WorkflowNode struct {
	ID           NodeID
	Name         string
	Requirements []ProcessRequirement
	InputPorts   []Port
	OutputPorts  []Port
	Facility     string

	// Match provenance, attached when the step is matched.
	MatchedCapability *matching.Capability
	MatchConfidence   *float64
	Match             *matching.Result
}

// Port returns the node's port with the given ID.
func (n WorkflowNode) Port(id PortID) (Port, bool) {
	for _, p := range n.InputPorts {
		if p.ID == id {
			return p, true
		}
	}
	for _, p := range n.OutputPorts {
		if p.ID == id {
			return p, true
		}
	}
	return Port{}, false
}

// Edge is an intra-workflow dependency: To runs after From.
type Edge struct {
	From NodeID `json:"from"`
	To   NodeID `json:"to"`
}

// Workflow is an arena of nodes addressed by NodeID, with DAG edges between them.
type Workflow struct {
	ID           WorkflowID
	Name         string
	Facility     string
	Requirements []ProcessRequirement
	Parameters   map[string]any

	nodes     map[NodeID]*WorkflowNode
	order     []NodeID
	deps      *graph.DependencyGraph
	finalized bool
}

func NewWorkflow(id WorkflowID, name string) *Workflow {
	return &Workflow{
		ID:    id,
		Name:  name,
		nodes: make(map[NodeID]*WorkflowNode),
		deps:  graph.New(),
	}
}

// AddNode stores a copy of n under n.ID.
func (w *Workflow) AddNode(n WorkflowNode) error {
	if w.finalized {
		return ErrFinalized
	}
	if n.ID == "" {
		return fmt.Errorf("%w: node %q has no id", ErrNotFound, n.Name)
	}
	if _, ok := w.nodes[n.ID]; ok {
		return fmt.Errorf("%w: node %s", ErrDuplicate, n.ID)
	}
	w.nodes[n.ID] = &n
	w.order = append(w.order, n.ID)
	w.deps.AddVertex(string(n.ID))
	return nil
}

// AttachMatch records match provenance on a node.
func (w *Workflow) AttachMatch(id NodeID, res matching.Result) error {
	if w.finalized {
		return ErrFinalized
	}
	n, ok := w.nodes[id]
	if !ok {
		return fmt.Errorf("%w: node %s", ErrNotFound, id)
	}
	capability := res.Capability
	confidence := res.Confidence
	n.MatchedCapability = &capability
	n.MatchConfidence = &confidence
	n.Match = &res
	return nil
}

// Connect adds the edge from -> to. It fails with ErrCycle if to already precedes from.
func (w *Workflow) Connect(from, to NodeID) error {
	if w.finalized {
		return ErrFinalized
	}
	if _, ok := w.nodes[from]; !ok {
		return fmt.Errorf("%w: node %s", ErrNotFound, from)
	}
	if _, ok := w.nodes[to]; !ok {
		return fmt.Errorf("%w: node %s", ErrNotFound, to)
	}
	return w.deps.AddEdge(string(from), string(to))
}

// detached returns a copy of w whose exported fields can change without affecting w.
// Nodes and edges stay shared; their accessors hand out copies.
func (w *Workflow) detached() *Workflow {
	c := *w
	c.Requirements = slices.Clone(w.Requirements)
	c.Parameters = maps.Clone(w.Parameters)
	return &c
}

// Node returns a copy of the node with the given handle.
func (w *Workflow) Node(id NodeID) (WorkflowNode, bool) {
	n, ok := w.nodes[id]
	if !ok {
		return WorkflowNode{}, false
	}
	return *n, true
}

// Nodes returns copies of every node in insertion order.
func (w *Workflow) Nodes() []WorkflowNode {
	out := make([]WorkflowNode, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, *w.nodes[id])
	}
	return out
}

func (w *Workflow) Len() int {
	return len(w.order)
}

// Edges returns every intra-workflow edge, grouped by source in insertion order.
func (w *Workflow) Edges() []Edge {
	var out []Edge
	for _, id := range w.order {
		for _, to := range w.deps.Successors(string(id)) {
			out = append(out, Edge{From: id, To: NodeID(to)})
		}
	}
	return out
}

// Predecessors returns the direct prerequisites of id.
func (w *Workflow) Predecessors(id NodeID) []NodeID {
	return toNodeIDs(w.deps.Predecessors(string(id)))
}

// TopologicalOrder returns node handles with prerequisites first.
func (w *Workflow) TopologicalOrder() []NodeID {
	order, err := w.deps.TopologicalOrder()
	if err != nil {
		// Connect never admits a cycle.
		panic(err)
	}
	return toNodeIDs(order)
}

func toNodeIDs(keys []string) []NodeID {
	out := make([]NodeID, len(keys))
	for i, k := range keys {
		out[i] = NodeID(k)
	}
	return out
}
