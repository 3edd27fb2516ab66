package resolver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvil-platform/forge/internal/domain"
	"github.com/anvil-platform/forge/internal/matching"
	"github.com/anvil-platform/forge/internal/rules"
	st "github.com/anvil-platform/forge/internal/supplytree"
	"github.com/anvil-platform/forge/internal/validation"
)

var manufacturing = domain.Spec{Key: "manufacturing", Threshold: 0.8}

func newBuilder(t *testing.T, opts ...Option) *Builder {
	t.Helper()
	return builderWithRules(t, []rules.Rule{{
		ID:                    "milling-cnc",
		Capability:            "milling",
		SatisfiesRequirements: []string{"cnc machining"},
		Confidence:            0.95,
	}}, opts...)
}

func builderWithRules(t *testing.T, set []rules.Rule, opts ...Option) *Builder {
	t.Helper()
	engine := rules.NewEngine(logr.Discard())
	require.NoError(t, engine.Load(context.Background(), "manufacturing", rules.StaticSource{
		Domain:  "manufacturing",
		Version: "1.0.0",
		Rules:   set,
	}))
	return New(matching.NewOrchestrator(matching.WithRuleLayer(engine)), opts...)
}

func facility(name string, caps ...string) Facility {
	f := Facility{Name: name}
	for _, c := range caps {
		f.Capabilities = append(f.Capabilities, matching.Capability{Name: c})
	}
	return f
}

func project(reqs ...Requirement) Project {
	return Project{Name: "bracket", Domain: manufacturing, Requirements: reqs}
}

func onlyNode(t *testing.T, tree *st.SupplyTree) st.WorkflowNode {
	t.Helper()
	wfs := tree.Workflows()
	require.Len(t, wfs, 1)
	nodes := wfs[0].Nodes()
	require.Len(t, nodes, 1)
	return nodes[0]
}

func TestBuild_DirectMatch(t *testing.T) {
	trees, err := newBuilder(t).Build(context.Background(),
		project(Requirement{Name: "CNC Machining"}),
		[]Facility{facility("precision-shop", "CNC Machining")})
	require.NoError(t, err)
	require.Len(t, trees, 1)

	tree := trees[0]
	assert.True(t, tree.Finalized())
	assert.Equal(t, 1.0, tree.AggregateConfidence)
	assert.Equal(t, []string{"precision-shop"}, tree.Facilities())

	n := onlyNode(t, tree)
	require.NotNil(t, n.Match)
	assert.Equal(t, matching.LayerDirect, n.Match.Layer)
	assert.Equal(t, "precision-shop", n.Facility)
	assert.Equal(t, "CNC Machining", n.MatchedCapability.Name)
}

func TestBuild_HeuristicMatch(t *testing.T) {
	trees, err := newBuilder(t).Build(context.Background(),
		project(Requirement{Name: "cnc machining"}),
		[]Facility{facility("mill-works", "milling")})
	require.NoError(t, err)
	require.Len(t, trees, 1)

	assert.InDelta(t, 0.95, trees[0].AggregateConfidence, 1e-9)
	n := onlyNode(t, trees[0])
	assert.Equal(t, matching.LayerHeuristic, n.Match.Layer)
	assert.Equal(t, "milling-cnc", n.Match.RuleID)
}

func TestBuild_NoFacilityCoversRequirement(t *testing.T) {
	b := newBuilder(t)
	p := project(Requirement{Name: "quantum_manufacturing"})
	fs := []Facility{facility("precision-shop", "CNC Machining")}

	trees, err := b.Build(context.Background(), p, fs)
	require.NoError(t, err)
	assert.Empty(t, trees)

	plan, err := b.Resolve(context.Background(), Input{Project: p, Facilities: fs})
	require.NoError(t, err)
	assert.Empty(t, plan.Solutions)
	require.Len(t, plan.Diagnostics.UnresolvedRequired, 1)
	assert.Equal(t, "quantum_manufacturing", plan.Diagnostics.UnresolvedRequired[0].Requirement)
}

func TestBuild_RuleMapsCapabilityToRequirement(t *testing.T) {
	b := builderWithRules(t, []rules.Rule{{
		ID:                    "cnc-milling",
		Capability:            "CNC Machining",
		SatisfiesRequirements: []string{"milling"},
		Confidence:            0.95,
	}})
	trees, err := b.Build(context.Background(),
		project(Requirement{Name: "milling"}),
		[]Facility{facility("precision-shop", "CNC Machining")})
	require.NoError(t, err)
	require.Len(t, trees, 1)

	n := onlyNode(t, trees[0])
	assert.Equal(t, matching.LayerHeuristic, n.Match.Layer)
	assert.Equal(t, "cnc-milling", n.Match.RuleID)
	assert.InDelta(t, 0.95, n.Match.Confidence, 1e-9)
	assert.InDelta(t, 0.95, trees[0].AggregateConfidence, 1e-9)
}

func TestBuild_SatisfiableRequirementDoesNotRescueSolution(t *testing.T) {
	b := newBuilder(t)
	p := project(Requirement{Name: "CNC Machining"}, Requirement{Name: "quantum_manufacturing"})
	fs := []Facility{facility("precision-shop", "CNC Machining")}

	trees, err := b.Build(context.Background(), p, fs)
	require.NoError(t, err)
	assert.Empty(t, trees)

	plan, err := b.Resolve(context.Background(), Input{Project: p, Facilities: fs})
	require.NoError(t, err)
	assert.Empty(t, plan.Solutions)
	require.Len(t, plan.Diagnostics.UnresolvedRequired, 1)
	assert.Equal(t, "quantum_manufacturing", plan.Diagnostics.UnresolvedRequired[0].Requirement)
}

func TestBuild_CombinesFacilities(t *testing.T) {
	p := project(
		Requirement{Name: "cutting", Produces: "blank"},
		Requirement{Name: "welding", After: []string{"cutting"}},
	)
	trees, err := newBuilder(t).Build(context.Background(), p, []Facility{
		facility("welder", "welding"),
		facility("cutter", "cutting"),
	})
	require.NoError(t, err)
	require.Len(t, trees, 1, "both enumerations yield the same assignment")

	tree := trees[0]
	assert.Equal(t, []string{"cutter", "welder"}, tree.Facilities())
	wfs := tree.Workflows()
	require.Len(t, wfs, 2)
	assert.Equal(t, "cutter", wfs[0].Facility)

	conns := tree.Connections()
	require.Len(t, conns, 1)
	assert.Equal(t, wfs[0].ID, conns[0].SourceWorkflow)
	assert.Equal(t, wfs[1].ID, conns[0].TargetWorkflow)
	assert.Equal(t, st.ConnectionDependency, conns[0].ConnectionType)
	assert.Equal(t, 1, conns[0].Quantity)

	target, ok := wfs[1].Node(conns[0].TargetNode)
	require.True(t, ok)
	port, ok := target.Port(conns[0].TargetPort)
	require.True(t, ok)
	assert.Equal(t, "blank", port.ItemType)
}

func TestBuild_SingleFacilityOrdersNodes(t *testing.T) {
	p := project(
		Requirement{Name: "welding", After: []string{"cutting"}},
		Requirement{Name: "cutting"},
	)
	trees, err := newBuilder(t).Build(context.Background(), p, []Facility{
		facility("fab", "cutting", "welding"),
		facility("cutter", "cutting"),
	})
	require.NoError(t, err)
	require.Len(t, trees, 1, "a facility covering everything excludes combinations")

	wf := trees[0].Workflows()[0]
	order := wf.TopologicalOrder()
	require.Len(t, order, 2)
	first, _ := wf.Node(order[0])
	assert.Equal(t, "cutting", first.Name)
	require.Len(t, wf.Edges(), 1)
	assert.Empty(t, trees[0].Connections())
}

func TestBuild_RanksByConfidence(t *testing.T) {
	trees, err := newBuilder(t).Build(context.Background(),
		project(Requirement{Name: "cnc machining"}),
		[]Facility{
			facility("a-mill", "milling"),
			facility("b-cnc", "CNC machining"),
			facility("c-cnc", "cnc machining"),
		})
	require.NoError(t, err)
	require.Len(t, trees, 3)

	var got []string
	for _, tree := range trees {
		got = append(got, tree.Facilities()[0])
	}
	// The case-insensitive match and the rule both score 0.95; the name breaks the tie.
	assert.Equal(t, []string{"c-cnc", "a-mill", "b-cnc"}, got)
}

func TestBuild_Idempotent(t *testing.T) {
	b := newBuilder(t)
	p := project(
		Requirement{Name: "cutting", Parameters: map[string]any{"thickness": 3}},
		Requirement{Name: "welding", After: []string{"cutting"}},
	)
	fs := []Facility{facility("cutter", "cutting"), facility("welder", "welding")}

	first, err := b.Build(context.Background(), p, fs)
	require.NoError(t, err)
	second, err := b.Build(context.Background(), p, fs)
	require.NoError(t, err)
	require.Equal(t, len(first), len(second))

	for i := range first {
		want, err := json.Marshal(first[i])
		require.NoError(t, err)
		got, err := json.Marshal(second[i])
		require.NoError(t, err)
		assert.JSONEq(t, string(want), string(got))
	}
}

func TestBuild_OptionalRequirement(t *testing.T) {
	b := newBuilder(t)
	p := project(
		Requirement{Name: "cutting"},
		Requirement{Name: "anodizing", Optional: true, After: []string{"cutting"}},
	)
	fs := []Facility{facility("cutter", "cutting")}

	plan, err := b.Resolve(context.Background(), Input{Project: p, Facilities: fs})
	require.NoError(t, err)
	require.Len(t, plan.Solutions, 1)
	assert.Empty(t, plan.Diagnostics.UnresolvedRequired)
	require.Len(t, plan.Diagnostics.UnresolvedOptional, 1)
	assert.Equal(t, "anodizing", plan.Diagnostics.UnresolvedOptional[0].Requirement)

	n := onlyNode(t, plan.Solutions[0].Tree)
	assert.Equal(t, "cutting", n.Name)
	assert.Empty(t, n.InputPorts)
}

func TestBuild_EmptyInputs(t *testing.T) {
	b := newBuilder(t)

	p := project()
	p.DefaultContext = "strict"
	p.GlobalRequirements = []st.ProcessRequirement{{Name: "traceability"}}
	trees, err := b.Build(context.Background(), p, nil)
	require.NoError(t, err)
	require.Len(t, trees, 1, "no requirements is trivially satisfied")
	assert.Equal(t, 1.0, trees[0].AggregateConfidence)
	assert.Equal(t, "strict", trees[0].DefaultContext)
	assert.Len(t, trees[0].GlobalRequirements(), 1)
	assert.Zero(t, trees[0].NodeCount())

	plan, err := b.Resolve(context.Background(), Input{Project: project(Requirement{Name: "cutting"})})
	require.NoError(t, err)
	assert.Empty(t, plan.Solutions)
	require.Len(t, plan.Diagnostics.UnresolvedRequired, 1)
}

func TestBuild_InvalidInput(t *testing.T) {
	b := newBuilder(t)
	tests := []struct {
		name string
		p    Project
		fs   []Facility
	}{
		{"nil domain", Project{Name: "x", Requirements: []Requirement{{Name: "a"}}}, nil},
		{"blank requirement", project(Requirement{Name: " "}), nil},
		{"duplicate requirement", project(Requirement{Name: "a"}, Requirement{Name: "a"}), nil},
		{"unknown predecessor", project(Requirement{Name: "a", After: []string{"b"}}), nil},
		{"ordering cycle", project(
			Requirement{Name: "a", After: []string{"b"}},
			Requirement{Name: "b", After: []string{"a"}},
		), nil},
		{"duplicate facility", project(Requirement{Name: "a"}), []Facility{facility("f", "a"), facility("f", "a")}},
		{"blank capability", project(Requirement{Name: "a"}), []Facility{facility("f", "")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Build(context.Background(), tt.p, tt.fs)
			assert.ErrorIs(t, err, matching.ErrInvalidInput)
		})
	}
}

func TestBuild_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newBuilder(t).Build(ctx, project(Requirement{Name: "cutting"}), []Facility{facility("cutter", "cutting")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolve_ValidationRejectsCandidates(t *testing.T) {
	b := newBuilder(t, WithValidator(validation.NewEngine()))
	certified := st.Contextual(
		map[string]st.ValidationContext{"aerospace": {Standards: []string{"AS9100"}}},
		map[string]st.ValidationFailureResponse{"aerospace": {Severity: 1}},
	)
	p := project(Requirement{Name: "cnc machining", Validation: certified})
	fs := []Facility{
		{Name: "hobby-shop", Capabilities: []matching.Capability{{Name: "cnc machining"}}},
		{Name: "aero-shop", Capabilities: []matching.Capability{{
			Name:       "cnc machining",
			Parameters: map[string]any{"standards": []string{"AS9100"}},
		}}},
	}

	plan, err := b.Resolve(context.Background(), Input{Project: p, Facilities: fs, ValidationContext: "aerospace"})
	require.NoError(t, err)
	require.Len(t, plan.Solutions, 1)
	assert.Equal(t, []string{"aero-shop"}, plan.Solutions[0].Tree.Facilities())
	require.NotNil(t, plan.Solutions[0].Outcome)
	assert.True(t, plan.Solutions[0].Outcome.Valid)

	require.Len(t, plan.Diagnostics.Rejected, 1)
	assert.Equal(t, []string{"hobby-shop"}, plan.Diagnostics.Rejected[0].Facilities)
	assert.False(t, plan.Diagnostics.Rejected[0].Outcome.Valid)

	plan, err = b.Resolve(context.Background(), Input{Project: p, Facilities: fs})
	require.NoError(t, err)
	assert.Len(t, plan.Solutions, 2, "no context means no validation")
	assert.Nil(t, plan.Solutions[0].Outcome)

	plan, err = b.Resolve(context.Background(), Input{Project: p, Facilities: fs, MaxSolutions: 1})
	require.NoError(t, err)
	assert.Len(t, plan.Solutions, 1)
	assert.Equal(t, []string{"aero-shop"}, plan.Trees()[0].Facilities(), "ties rank by facility name")
}
