// Package metrics holds the prometheus collectors of the matching engine. They are
// registered on the controller-runtime registry so the operator's /metrics endpoint
// and the match server expose the same series.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	MatchLayerTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_match_layer_total",
			Help: "Requirement/capability comparisons by the layer that decided them.",
		},
		[]string{"domain", "layer"},
	)

	MatchEvaluateAllDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forge_match_evaluate_all_duration_seconds",
			Help:    "Time taken to evaluate a requirement/capability cross-product.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"domain"},
	)

	SemanticFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_semantic_character_fallback_total",
			Help: "Semantic comparisons scored by character similarity instead of embeddings.",
		},
		[]string{"domain"},
	)

	RuleSetLoadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_ruleset_load_total",
			Help: "Rule set loads and reloads by outcome.",
		},
		[]string{"domain", "result"},
	)

	BuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forge_build_duration_seconds",
			Help:    "Time taken to build supply tree candidates.",
			Buckets: prometheus.DefBuckets,
		},
	)

	BuildSolutions = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forge_build_solutions",
			Help:    "Number of supply tree candidates returned per build.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
		},
	)

	ValidationViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_validation_violations_total",
			Help: "Validation violations by blocking state.",
		},
		[]string{"blocking"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		MatchLayerTotal,
		MatchEvaluateAllDuration,
		SemanticFallbackTotal,
		RuleSetLoadTotal,
		BuildDuration,
		BuildSolutions,
		ValidationViolationsTotal,
	)
}

// Result labels for RuleSetLoadTotal.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)
