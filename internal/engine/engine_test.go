package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvil-platform/forge/internal/config"
	"github.com/anvil-platform/forge/internal/matching"
	"github.com/anvil-platform/forge/internal/resolver"
	"github.com/anvil-platform/forge/internal/rules"
)

const cookingRules = `
domain: cooking
version: 1.2.0
rules:
  - id: oven-roast
    capability: oven
    satisfiesRequirements: [roasting, baking]
    confidence: 0.9
`

func newEngine(t *testing.T, rulesBody string) (*Engine, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cooking.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rulesBody), 0o644))
	cfg := &config.Config{
		Domains:  []config.DomainConfig{{Name: "cooking", RulesFile: path}},
		Semantic: config.SemanticConfig{Backend: config.BackendNone},
		Build:    config.BuildConfig{MaxSolutions: 1},
	}
	return New(context.Background(), cfg, logr.Discard())
}

func TestNew_LoadsRuleFiles(t *testing.T) {
	e, err := newEngine(t, cookingRules)
	require.NoError(t, err)
	defer e.Close()

	version, ok := e.Rules.Version("cooking")
	require.True(t, ok)
	assert.Equal(t, "1.2.0", version)
	assert.Equal(t, []string{"cooking", "manufacturing"}, e.Domains.Names())
	assert.False(t, e.Semantic.Ready())
}

func TestNew_RejectsInvalidRuleFile(t *testing.T) {
	_, err := newEngine(t, "domain: cooking\nversion: latest\nrules: []\n")
	var cfgErr *rules.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestEvaluate(t *testing.T) {
	e, err := newEngine(t, cookingRules)
	require.NoError(t, err)
	defer e.Close()

	res, err := e.Evaluate(context.Background(), "Cooking", matching.Requirement{Name: "roasting"}, matching.Capability{Name: "oven"})
	require.NoError(t, err)
	assert.Equal(t, matching.LayerHeuristic, res.Layer)
	assert.Equal(t, "oven-roast", res.RuleID)

	_, err = e.Evaluate(context.Background(), "textiles", matching.Requirement{Name: "a"}, matching.Capability{Name: "b"})
	assert.ErrorIs(t, err, matching.ErrInvalidInput)
}

func TestResolve_AppliesDefaultMaxSolutions(t *testing.T) {
	e, err := newEngine(t, cookingRules)
	require.NoError(t, err)
	defer e.Close()

	d, err := e.Domain("cooking")
	require.NoError(t, err)
	in := resolver.Input{
		Project: resolver.Project{Name: "dinner", Domain: d, Requirements: []resolver.Requirement{{Name: "roasting"}}},
		Facilities: []resolver.Facility{
			{Name: "bistro", Capabilities: []matching.Capability{{Name: "oven"}}},
			{Name: "canteen", Capabilities: []matching.Capability{{Name: "roasting"}}},
		},
	}

	plan, err := e.Resolve(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, plan.Solutions, 1)
	assert.Equal(t, []string{"canteen"}, plan.Solutions[0].Tree.Facilities())

	trees, err := e.Build(context.Background(), in.Project, in.Facilities)
	require.NoError(t, err)
	assert.Len(t, trees, 2)
}

func TestEvaluate_SemanticConfigureMovesThreshold(t *testing.T) {
	e, err := newEngine(t, cookingRules)
	require.NoError(t, err)
	defer e.Close()
	ctx := context.Background()
	req, capability := matching.Requirement{Name: "roasting"}, matching.Capability{Name: "roast meat"}

	res, err := e.Evaluate(ctx, "manufacturing", req, capability)
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.InDelta(t, 0.5, res.Details.Similarity, 1e-9)
	assert.Equal(t, 0.8, res.Details.Threshold)

	e.Semantic.Configure("manufacturing", 0.1)
	res, err = e.Evaluate(ctx, "manufacturing", req, capability)
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, matching.LayerSemantic, res.Layer)
	assert.Equal(t, 0.1, res.Details.Threshold)
}
