package supplytree

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvil-platform/forge/internal/matching"
)

func port(id, kind, itemType string, spec map[string]any) Port {
	return Port{ID: PortID(id), Name: id, Kind: PortKind(kind), ItemType: itemType, Specification: spec}
}

func TestCheckCompatible(t *testing.T) {
	out := port("o", "output", "Aluminium Part", map[string]any{"alloy": "6061", "tolerance": 0.05, "firmware": "1.4.2"})

	assert.NoError(t, CheckCompatible(out, port("i", "input", "aluminium part", nil)))
	assert.NoError(t, CheckCompatible(out, port("i", "input", "aluminium part", map[string]any{"alloy": "6061", "tolerance": 0.05})))
	assert.NoError(t, CheckCompatible(out, port("i", "input", "aluminium part", map[string]any{"firmware": "^1.2.0"})))

	cases := map[string]Port{
		"item type":     port("i", "input", "steel part", nil),
		"missing key":   port("i", "input", "aluminium part", map[string]any{"finish": "anodized"}),
		"value differs": port("i", "input", "aluminium part", map[string]any{"alloy": "7075"}),
		"version range": port("i", "input", "aluminium part", map[string]any{"firmware": ">=2.0.0"}),
		"kind":          port("i", "output", "aluminium part", nil),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, CheckCompatible(out, in), ErrIncompatiblePorts)
		})
	}
}

func TestCheckCompatible_NumbersSurviveJSON(t *testing.T) {
	out := port("o", "output", "dough", map[string]any{"weight": 500})
	in := port("i", "input", "dough", map[string]any{"weight": float64(500)})
	assert.NoError(t, CheckCompatible(out, in))
}

func TestWorkflow_RejectsCycles(t *testing.T) {
	w := NewWorkflow("wf", "bake")
	for _, id := range []NodeID{"mix", "proof", "bake"} {
		require.NoError(t, w.AddNode(WorkflowNode{ID: id, Name: string(id)}))
	}
	require.NoError(t, w.Connect("mix", "proof"))
	require.NoError(t, w.Connect("proof", "bake"))

	assert.ErrorIs(t, w.Connect("bake", "mix"), ErrCycle)
	assert.ErrorIs(t, w.Connect("mix", "missing"), ErrNotFound)
	assert.ErrorIs(t, w.AddNode(WorkflowNode{ID: "mix"}), ErrDuplicate)
	assert.Equal(t, []NodeID{"mix", "proof", "bake"}, w.TopologicalOrder())
	assert.Equal(t, []NodeID{"proof"}, w.Predecessors("bake"))
}

// twoWorkflowTree has machining -> assembly with typed ports on both sides.
func twoWorkflowTree(t *testing.T) *SupplyTree {
	t.Helper()
	tree := New("tree", "manufacturing")

	a := NewWorkflow("wa", "machining")
	a.Facility = "shop-a"
	require.NoError(t, a.AddNode(WorkflowNode{
		ID:          "mill",
		Name:        "milling",
		OutputPorts: []Port{port("mill-out", "output", "bracket", map[string]any{"alloy": "6061"})},
		InputPorts:  []Port{port("mill-in", "input", "fixture", nil)},
	}))
	b := NewWorkflow("wb", "assembly")
	b.Facility = "shop-b"
	require.NoError(t, b.AddNode(WorkflowNode{
		ID:          "assemble",
		Name:        "assembly",
		InputPorts:  []Port{port("asm-in", "input", "bracket", map[string]any{"alloy": "6061"})},
		OutputPorts: []Port{port("asm-out", "output", "fixture", nil)},
	}))
	require.NoError(t, tree.AddWorkflow(a))
	require.NoError(t, tree.AddWorkflow(b))

	require.NoError(t, a.AttachMatch("mill", matching.Result{
		Requirement: matching.Requirement{Name: "milling"},
		Capability:  matching.Capability{Name: "CNC Machining"},
		Matched:     true, Confidence: 0.95, Layer: matching.LayerHeuristic, RuleID: "cnc",
	}))
	require.NoError(t, b.AttachMatch("assemble", matching.Result{
		Requirement: matching.Requirement{Name: "assembly"},
		Capability:  matching.Capability{Name: "assembly"},
		Matched:     true, Confidence: 1, Layer: matching.LayerDirect,
	}))

	require.NoError(t, tree.Connect(WorkflowConnection{
		SourceWorkflow: "wa", SourceNode: "mill", SourcePort: "mill-out",
		TargetWorkflow: "wb", TargetNode: "assemble", TargetPort: "asm-in",
		Quantity: 4, ConnectionType: ConnectionMaterial,
	}))
	return tree
}

func TestTree_ConnectRejectsCrossWorkflowCycle(t *testing.T) {
	tree := twoWorkflowTree(t)
	err := tree.Connect(WorkflowConnection{
		SourceWorkflow: "wb", SourceNode: "assemble", SourcePort: "asm-out",
		TargetWorkflow: "wa", TargetNode: "mill", TargetPort: "mill-in",
		Quantity: 1, ConnectionType: ConnectionMaterial,
	})
	assert.ErrorIs(t, err, ErrCycle)
	assert.Len(t, tree.Connections(), 1)
}

func TestTree_ConnectValidatesEndpoints(t *testing.T) {
	tree := twoWorkflowTree(t)
	assert.ErrorIs(t, tree.Connect(WorkflowConnection{
		SourceWorkflow: "wa", SourceNode: "mill", SourcePort: "nope",
		TargetWorkflow: "wb", TargetNode: "assemble", TargetPort: "asm-in", Quantity: 1,
	}), ErrNotFound)
	assert.ErrorIs(t, tree.Connect(WorkflowConnection{
		SourceWorkflow: "wa", SourceNode: "mill", SourcePort: "mill-in",
		TargetWorkflow: "wb", TargetNode: "assemble", TargetPort: "asm-in", Quantity: 1,
	}), ErrIncompatiblePorts)
	assert.Error(t, tree.Connect(WorkflowConnection{
		SourceWorkflow: "wa", SourceNode: "mill", SourcePort: "mill-out",
		TargetWorkflow: "wb", TargetNode: "assemble", TargetPort: "asm-in", Quantity: 0,
	}))
}

func TestTree_FinalizeFreezes(t *testing.T) {
	tree := twoWorkflowTree(t)
	tree.Finalize()

	assert.InDelta(t, 0.975, tree.AggregateConfidence, 1e-9)
	assert.Equal(t, []string{"shop-a", "shop-b"}, tree.Facilities())
	assert.Equal(t, 2, tree.NodeCount())

	wa, _ := tree.Workflow("wa")
	assert.ErrorIs(t, wa.AddNode(WorkflowNode{ID: "late"}), ErrFinalized)
	assert.ErrorIs(t, wa.Connect("mill", "mill"), ErrFinalized)
	assert.ErrorIs(t, tree.AddWorkflow(NewWorkflow("wc", "c")), ErrFinalized)
	assert.ErrorIs(t, tree.AddGlobalRequirement(ProcessRequirement{Name: "iso"}), ErrFinalized)
}

func TestTree_FinalizedWorkflowsAreDetached(t *testing.T) {
	tree := twoWorkflowTree(t)
	tree.Finalize()

	wa, ok := tree.Workflow("wa")
	require.True(t, ok)
	wa.Requirements = append(wa.Requirements, ProcessRequirement{Name: "late"})
	wa.Parameters = map[string]any{"shift": "night"}
	for _, wf := range tree.Workflows() {
		wf.Name = "renamed"
	}

	again, _ := tree.Workflow("wa")
	assert.Empty(t, again.Requirements)
	assert.Nil(t, again.Parameters)
	assert.NotEqual(t, "renamed", tree.Workflows()[1].Name)
	assert.Len(t, again.Nodes(), 1)
}

func TestTree_EmptyFinalizesToFullConfidence(t *testing.T) {
	tree := New("empty", "cooking")
	tree.Finalize()
	assert.Equal(t, 1.0, tree.AggregateConfidence)
	assert.Zero(t, tree.NodeCount())
}

func TestSpecifications(t *testing.T) {
	exact := ExactSpec{Values: map[string]any{"alloy": "6061", "passes": 2}}
	assert.NoError(t, exact.Accepts(map[string]any{"alloy": "6061", "passes": 2.0, "extra": true}))
	assert.Error(t, exact.Accepts(map[string]any{"alloy": "6061"}))
	assert.Error(t, exact.Accepts(map[string]any{"alloy": "7075", "passes": 2}))

	c := ConstraintSpec{Constraints: map[string]string{
		"tolerance": "<= 0.05",
		"temp":      "> 180",
		"firmware":  ">=1.2 <2",
		"layers":    "3",
	}}
	assert.NoError(t, c.Accepts(map[string]any{"tolerance": 0.02, "temp": "200", "firmware": "1.4.0", "layers": 3}))
	assert.Error(t, c.Accepts(map[string]any{"tolerance": 0.1, "temp": 200, "firmware": "1.4.0", "layers": 3}))
	assert.Error(t, c.Accepts(map[string]any{"tolerance": 0.02, "temp": 200, "firmware": "2.1.0", "layers": 3}))
	assert.Error(t, c.Accepts(map[string]any{"tolerance": "tight", "temp": 200, "firmware": "1.4.0", "layers": 3}))
}

func TestRequirementValidation_Variants(t *testing.T) {
	var zero RequirementValidation
	assert.True(t, zero.IsPermissive())
	_, ok := zero.Context("strict")
	assert.False(t, ok)

	empty := Contextual(nil, nil)
	assert.False(t, empty.IsPermissive(), "contextual with no contexts is still contextual")

	v := Contextual(
		map[string]ValidationContext{"strict": {Standards: []string{"ISO 9001"}}},
		map[string]ValidationFailureResponse{"strict": {Severity: 1}},
	)
	assert.Equal(t, []string{"strict"}, v.ContextIDs())
	assert.True(t, v.Response("strict").IsBlocking(), "severity 1 blocks without the flag")
	assert.Equal(t, DefaultFailureResponse, v.Response("loose"))
	assert.False(t, DefaultFailureResponse.IsBlocking())
}

func TestRequirementValidation_JSON(t *testing.T) {
	data, err := json.Marshal(ProcessRequirement{Name: "finish"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"finish","validation":{"mode":"permissive"}}`, string(data))

	doc := `{"name":"finish","specification":{"kind":"constraint","constraints":{"ra":"<= 1.6"}},
		"validation":{"mode":"contextual","contexts":{"strict":{"standards":["ISO 1302"],"procedures":["visual"]}},
		"responses":{"strict":{"severity":0.4,"blocking":true}}}}`
	var r ProcessRequirement
	require.NoError(t, json.Unmarshal([]byte(doc), &r))
	assert.Equal(t, ConstraintSpec{Constraints: map[string]string{"ra": "<= 1.6"}}, r.Specification)
	ctx, ok := r.Validation.Context("strict")
	require.True(t, ok)
	assert.Equal(t, []string{"visual"}, ctx.ProcedureNames())
	assert.True(t, r.Validation.Response("strict").IsBlocking())

	assert.Error(t, json.Unmarshal([]byte(`{"name":"x","validation":{"mode":"lenient"}}`), &r))
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	tree := twoWorkflowTree(t)
	require.NoError(t, tree.AddGlobalRequirement(ProcessRequirement{
		Name:          "quality",
		Specification: ExactSpec{Values: map[string]any{"certified": true}},
	}))
	tree.DefaultContext = "strict"
	ctx := context.Background()

	s := NewMemoryStore()
	_, err := s.Put(ctx, tree)
	assert.Error(t, err, "unfinalized trees are not stored")

	tree.Finalize()
	ref, err := s.Put(ctx, tree)
	require.NoError(t, err)
	assert.Equal(t, []string{"tree"}, s.Refs())

	got, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.True(t, got.Finalized())
	assert.Equal(t, tree.AggregateConfidence, got.AggregateConfidence)
	assert.Equal(t, "strict", got.DefaultContext)

	want, err := json.Marshal(tree)
	require.NoError(t, err)
	again, err := json.Marshal(got)
	require.NoError(t, err)
	if diff := cmp.Diff(string(want), string(again)); diff != "" {
		t.Fatalf("stored tree differs (-want +got):\n%s", diff)
	}

	require.NoError(t, s.Delete(ctx, ref))
	_, err = s.Get(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnmarshal_RejectsCyclicEdges(t *testing.T) {
	doc := `{"id":"t","domain":"cooking","workflows":[{"id":"w","name":"w",
		"nodes":[{"id":"a","name":"a"},{"id":"b","name":"b"}],
		"edges":[{"from":"a","to":"b"},{"from":"b","to":"a"}]}]}`
	var tree SupplyTree
	assert.ErrorIs(t, json.Unmarshal([]byte(doc), &tree), ErrCycle)
}

func TestDeriveID(t *testing.T) {
	assert.Equal(t, DeriveID("a", "b"), DeriveID("a", "b"))
	assert.NotEqual(t, DeriveID("a", "b"), DeriveID("ab"))
}
