package matching

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/anvil-platform/forge/internal/domain"
	"github.com/anvil-platform/forge/internal/rules"
	"github.com/anvil-platform/forge/internal/semantic"
)

var manufacturing = domain.Spec{Key: "manufacturing", Threshold: 0.8}

type countingSemantic struct {
	calls atomic.Int32
	score semantic.Score
}

func (c *countingSemantic) Score(ctx context.Context, domain, a, b string) semantic.Score {
	c.calls.Add(1)
	return c.score
}

func loadedRules(t *testing.T) *rules.Engine {
	t.Helper()
	e := rules.NewEngine(logr.Discard())
	require.NoError(t, e.Load(context.Background(), "manufacturing", rules.StaticSource{
		Domain:  "manufacturing",
		Version: "1.0.0",
		Rules: []rules.Rule{
			{ID: "cnc", Capability: "CNC Machining", SatisfiesRequirements: []string{"milling"}, Confidence: 0.95},
		},
	}))
	return e
}

func TestEvaluate_DirectShortCircuits(t *testing.T) {
	sem := &countingSemantic{score: semantic.Score{Similarity: 1, Method: semantic.MethodEmbedding}}
	o := NewOrchestrator(WithRuleLayer(loadedRules(t)), WithSemanticLayer(sem))

	res, err := o.Evaluate(context.Background(), manufacturing,
		Requirement{Name: "CNC Machining"}, Capability{Name: "CNC Machining"})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, LayerDirect, res.Layer)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, int32(0), sem.calls.Load(), "semantic layer must not run after a direct match")
}

func TestEvaluate_HeuristicShortCircuits(t *testing.T) {
	sem := &countingSemantic{score: semantic.Score{Similarity: 1}}
	o := NewOrchestrator(WithRuleLayer(loadedRules(t)), WithSemanticLayer(sem))

	res, err := o.Evaluate(context.Background(), manufacturing,
		Requirement{Name: "milling"}, Capability{Name: "CNC Machining"})
	require.NoError(t, err)
	assert.Equal(t, LayerHeuristic, res.Layer)
	assert.Equal(t, "cnc", res.RuleID)
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)
	assert.Equal(t, rules.Forward, res.Details.RuleDirection)
	assert.Equal(t, int32(0), sem.calls.Load())
}

func TestEvaluate_SemanticThresholdFromDomain(t *testing.T) {
	sem := &countingSemantic{score: semantic.Score{Similarity: 0.75, Method: semantic.MethodEmbedding}}
	o := NewOrchestrator(WithSemanticLayer(sem))
	ctx := context.Background()

	res, err := o.Evaluate(ctx, manufacturing, Requirement{Name: "deburring"}, Capability{Name: "edge finishing"})
	require.NoError(t, err)
	assert.False(t, res.Matched, "0.75 is below the manufacturing threshold")
	assert.Equal(t, LayerNone, res.Layer)
	assert.Equal(t, 0.8, res.Details.Threshold)

	cooking := domain.Spec{Key: "cooking", Threshold: 0.7}
	res, err = o.Evaluate(ctx, cooking, Requirement{Name: "deburring"}, Capability{Name: "edge finishing"})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, LayerSemantic, res.Layer)
	assert.Equal(t, 0.75, res.Confidence)
	assert.Equal(t, semantic.MethodEmbedding, res.Details.Method)
}

type thresholdSemantic struct {
	countingSemantic
	thresholds map[string]float64
}

func (s *thresholdSemantic) ConfiguredThreshold(domain string) (float64, bool) {
	t, ok := s.thresholds[domain]
	return t, ok
}

func TestEvaluate_LayerThresholdOverridesDomain(t *testing.T) {
	sem := &thresholdSemantic{
		countingSemantic: countingSemantic{score: semantic.Score{Similarity: 0.75, Method: semantic.MethodEmbedding}},
		thresholds:       map[string]float64{"manufacturing": 0.7},
	}
	o := NewOrchestrator(WithSemanticLayer(sem))
	ctx := context.Background()

	res, err := o.Evaluate(ctx, manufacturing, Requirement{Name: "deburring"}, Capability{Name: "edge finishing"})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, 0.7, res.Details.Threshold)

	strict := domain.Spec{Key: "cooking", Threshold: 0.5}
	sem.thresholds["cooking"] = 0.9
	res, err = o.Evaluate(ctx, strict, Requirement{Name: "deburring"}, Capability{Name: "edge finishing"})
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Equal(t, 0.9, res.Details.Threshold)
}

func TestEvaluate_InvalidInput(t *testing.T) {
	o := NewOrchestrator()
	ctx := context.Background()

	_, err := o.Evaluate(ctx, manufacturing, Requirement{Name: "  "}, Capability{Name: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = o.Evaluate(ctx, manufacturing, Requirement{Name: "x"}, Capability{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = o.Evaluate(ctx, nil, Requirement{Name: "x"}, Capability{Name: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = o.EvaluateAll(ctx, manufacturing, []Requirement{{Name: "ok"}, {Name: ""}}, []Capability{{Name: "ok"}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEvaluateAll_OrderAndStats(t *testing.T) {
	defer goleak.VerifyNone(t)

	sem := &countingSemantic{score: semantic.Score{Similarity: 0.1, Method: semantic.MethodCharacter}}
	o := NewOrchestrator(WithRuleLayer(loadedRules(t)), WithSemanticLayer(sem), WithWorkers(3))

	reqs := []Requirement{{Name: "CNC Machining"}, {Name: "milling"}, {Name: "anodizing"}}
	caps := []Capability{{Name: "CNC Machining"}, {Name: "Laser Cutting"}}

	report, err := o.EvaluateAll(context.Background(), manufacturing, reqs, caps)
	require.NoError(t, err)
	require.Len(t, report.Results, 6)

	for i, res := range report.Results {
		assert.Equal(t, reqs[i/2].Name, res.Requirement.Name, "result %d", i)
		assert.Equal(t, caps[i%2].Name, res.Capability.Name, "result %d", i)
	}
	assert.Equal(t, Stats{Direct: 1, Heuristic: 1, Semantic: 0, None: 4}, report.Stats)
	assert.Equal(t, 6, report.Stats.Total())
	// Only the four undecided pairs reach the semantic layer.
	assert.Equal(t, int32(4), sem.calls.Load())

	best, ok := report.Best("milling")
	require.True(t, ok)
	assert.Equal(t, "CNC Machining", best.Capability.Name)
	_, ok = report.Best("anodizing")
	assert.False(t, ok)
}

func TestEvaluateAll_Deterministic(t *testing.T) {
	o := NewOrchestrator(WithRuleLayer(loadedRules(t)))
	reqs := make([]Requirement, 0, 20)
	caps := make([]Capability, 0, 20)
	for i := 0; i < 20; i++ {
		reqs = append(reqs, Requirement{Name: fmt.Sprintf("step %d", i)})
		caps = append(caps, Capability{Name: fmt.Sprintf("step %d", i%7)})
	}

	first, err := o.EvaluateAll(context.Background(), manufacturing, reqs, caps)
	require.NoError(t, err)
	second, err := o.EvaluateAll(context.Background(), manufacturing, reqs, caps)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEvaluateAll_Cancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewOrchestrator().EvaluateAll(ctx, manufacturing,
		[]Requirement{{Name: "a"}, {Name: "b"}}, []Capability{{Name: "c"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResultBetter(t *testing.T) {
	direct := Result{Matched: true, Confidence: 0.9, Layer: LayerDirect, Capability: Capability{Name: "b"}}
	semanticHit := Result{Matched: true, Confidence: 0.9, Layer: LayerSemantic, Capability: Capability{Name: "a"}}
	weaker := Result{Matched: true, Confidence: 0.7, Layer: LayerDirect}
	miss := Result{Confidence: 1}

	assert.True(t, direct.Better(semanticHit))
	assert.True(t, semanticHit.Better(weaker))
	assert.True(t, weaker.Better(miss))
	assert.False(t, miss.Better(weaker))
}
