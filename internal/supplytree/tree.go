// Package supplytree models candidate solutions: workflows of matched process steps,
// typed ports between them, and the requirements each level must satisfy.
//
// Nodes live in per-workflow arenas and are addressed by handle (NodeID); connections
// between workflows reference handles, never pointers, so trees can be merged and
// serialized without ownership cycles.
package supplytree

import (
	"fmt"
	"sort"

	"github.com/anvil-platform/forge/internal/graph"
)

// Connection types used by the builder.
const (
	ConnectionDependency = "dependency"
	ConnectionMaterial   = "material"
)

// WorkflowConnection is a cross-workflow edge carrying items from an output port of one
// node to an input port of another.
type WorkflowConnection struct {
	SourceWorkflow WorkflowID `json:"sourceWorkflow"`
	SourceNode     NodeID     `json:"sourceNode"`
	SourcePort     PortID     `json:"sourcePort"`
	TargetWorkflow WorkflowID `json:"targetWorkflow"`
	TargetNode     NodeID     `json:"targetNode"`
	TargetPort     PortID     `json:"targetPort"`
	Quantity       int        `json:"quantity"`
	ConnectionType string     `json:"connectionType"`
}

// SupplyTree is one candidate solution. Once Finalize has run the tree is immutable:
// every mutator returns ErrFinalized.
type SupplyTree struct {
	ID                  string
	Domain              string
	DefaultContext      string
	AggregateConfidence float64

	workflows   map[WorkflowID]*Workflow
	wfOrder     []WorkflowID
	connections []WorkflowConnection
	global      []ProcessRequirement
	facilities  []string
	finalized   bool
}

func New(id, domain string) *SupplyTree {
	return &SupplyTree{
		ID:        id,
		Domain:    domain,
		workflows: make(map[WorkflowID]*Workflow),
	}
}

func (t *SupplyTree) Finalized() bool {
	return t.finalized
}

// AddWorkflow adds w to the tree. The tree takes ownership of w.
func (t *SupplyTree) AddWorkflow(w *Workflow) error {
	if t.finalized {
		return ErrFinalized
	}
	if w == nil || w.ID == "" {
		return fmt.Errorf("%w: workflow has no id", ErrNotFound)
	}
	if _, ok := t.workflows[w.ID]; ok {
		return fmt.Errorf("%w: workflow %s", ErrDuplicate, w.ID)
	}
	t.workflows[w.ID] = w
	t.wfOrder = append(t.wfOrder, w.ID)
	if w.Facility != "" {
		t.addFacility(w.Facility)
	}
	return nil
}

func (t *SupplyTree) addFacility(f string) {
	for _, existing := range t.facilities {
		if existing == f {
			return
		}
	}
	t.facilities = append(t.facilities, f)
	sort.Strings(t.facilities)
}

// AddGlobalRequirement adds a tree-level requirement.
func (t *SupplyTree) AddGlobalRequirement(r ProcessRequirement) error {
	if t.finalized {
		return ErrFinalized
	}
	t.global = append(t.global, r)
	return nil
}

// Connect adds a cross-workflow connection. Both ends must exist, the ports must be
// compatible and the connection must not close a cycle through the combined node graph.
func (t *SupplyTree) Connect(c WorkflowConnection) error {
	if t.finalized {
		return ErrFinalized
	}
	if c.SourceWorkflow == c.TargetWorkflow {
		return fmt.Errorf("supplytree: connection must join two workflows, got %s twice", c.SourceWorkflow)
	}
	if c.Quantity <= 0 {
		return fmt.Errorf("supplytree: connection quantity must be positive, got %d", c.Quantity)
	}

	src, err := t.endpoint(c.SourceWorkflow, c.SourceNode, c.SourcePort)
	if err != nil {
		return err
	}
	dst, err := t.endpoint(c.TargetWorkflow, c.TargetNode, c.TargetPort)
	if err != nil {
		return err
	}
	if err := CheckCompatible(src, dst); err != nil {
		return err
	}

	g := t.flowGraph()
	if err := g.AddEdge(flowKey(c.SourceWorkflow, c.SourceNode), flowKey(c.TargetWorkflow, c.TargetNode)); err != nil {
		return err
	}
	t.connections = append(t.connections, c)
	return nil
}

func (t *SupplyTree) endpoint(wf WorkflowID, node NodeID, port PortID) (Port, error) {
	w, ok := t.workflows[wf]
	if !ok {
		return Port{}, fmt.Errorf("%w: workflow %s", ErrNotFound, wf)
	}
	n, ok := w.Node(node)
	if !ok {
		return Port{}, fmt.Errorf("%w: node %s in workflow %s", ErrNotFound, node, wf)
	}
	p, ok := n.Port(port)
	if !ok {
		return Port{}, fmt.Errorf("%w: port %s on node %s", ErrNotFound, port, node)
	}
	return p, nil
}

// flowGraph is the union of every workflow's edges and the cross-workflow connections.
func (t *SupplyTree) flowGraph() *graph.DependencyGraph {
	g := graph.New()
	for _, id := range t.wfOrder {
		for _, n := range t.workflows[id].Nodes() {
			g.AddVertex(flowKey(id, n.ID))
		}
	}
	for _, id := range t.wfOrder {
		for _, e := range t.workflows[id].Edges() {
			_ = g.AddEdge(flowKey(id, e.From), flowKey(id, e.To))
		}
	}
	for _, c := range t.connections {
		_ = g.AddEdge(flowKey(c.SourceWorkflow, c.SourceNode), flowKey(c.TargetWorkflow, c.TargetNode))
	}
	return g
}

func flowKey(wf WorkflowID, n NodeID) string {
	return string(wf) + "/" + string(n)
}

// Workflow returns the workflow with the given handle. Once the tree is finalized the
// result is a detached copy: changing its fields does not change the tree.
func (t *SupplyTree) Workflow(id WorkflowID) (*Workflow, bool) {
	w, ok := t.workflows[id]
	if !ok {
		return nil, false
	}
	return t.expose(w), true
}

// Workflows returns the workflows in insertion order, detached as in Workflow.
func (t *SupplyTree) Workflows() []*Workflow {
	out := make([]*Workflow, 0, len(t.wfOrder))
	for _, id := range t.wfOrder {
		out = append(out, t.expose(t.workflows[id]))
	}
	return out
}

func (t *SupplyTree) expose(w *Workflow) *Workflow {
	if t.finalized {
		return w.detached()
	}
	return w
}

// Connections returns a copy of the cross-workflow connections.
func (t *SupplyTree) Connections() []WorkflowConnection {
	return append([]WorkflowConnection(nil), t.connections...)
}

// GlobalRequirements returns a copy of the tree-level requirements.
func (t *SupplyTree) GlobalRequirements() []ProcessRequirement {
	return append([]ProcessRequirement(nil), t.global...)
}

// Facilities lists the distinct facilities involved, in lexical order.
func (t *SupplyTree) Facilities() []string {
	return append([]string(nil), t.facilities...)
}

// NodeCount is the number of nodes across all workflows.
func (t *SupplyTree) NodeCount() int {
	n := 0
	for _, w := range t.workflows {
		n += w.Len()
	}
	return n
}

// Finalize computes the aggregate confidence (the mean of node match confidences; 1
// for a tree without matched nodes) and freezes the tree. Finalizing twice is a no-op.
func (t *SupplyTree) Finalize() {
	if t.finalized {
		return
	}
	sum, count := 0.0, 0
	for _, id := range t.wfOrder {
		for _, n := range t.workflows[id].Nodes() {
			if n.MatchConfidence != nil {
				sum += *n.MatchConfidence
				count++
			}
		}
	}
	if count == 0 {
		t.AggregateConfidence = 1
	} else {
		t.AggregateConfidence = sum / float64(count)
	}

	for _, w := range t.workflows {
		w.finalized = true
	}
	t.finalized = true
}
