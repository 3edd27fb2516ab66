// Package matching decides whether a capability satisfies a requirement by running the
// direct, heuristic and semantic layers in that order and stopping at the first match.
package matching

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/anvil-platform/forge/internal/domain"
	"github.com/anvil-platform/forge/internal/metrics"
	"github.com/anvil-platform/forge/internal/rules"
	"github.com/anvil-platform/forge/internal/semantic"
	"github.com/anvil-platform/forge/internal/stringmatch"
)

// StringLayer is the direct layer.
type StringLayer interface {
	Match(requirement, capability string) stringmatch.Result
}

// RuleLayer is the heuristic layer.
type RuleLayer interface {
	CanSatisfy(domain, capability, requirement string) (bool, rules.Rule)
}

// SemanticLayer is the semantic layer. It is the most expensive and runs last.
type SemanticLayer interface {
	Score(ctx context.Context, domain, a, b string) semantic.Score
}

// ThresholdSource is implemented by semantic layers that keep per-domain thresholds.
// A threshold configured on the layer takes precedence over the domain's own.
type ThresholdSource interface {
	ConfiguredThreshold(domain string) (float64, bool)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithStringLayer(l StringLayer) Option {
	return func(o *Orchestrator) { o.direct = l }
}

func WithRuleLayer(l RuleLayer) Option {
	return func(o *Orchestrator) { o.heuristic = l }
}

func WithSemanticLayer(l SemanticLayer) Option {
	return func(o *Orchestrator) { o.semantic = l }
}

// WithWorkers bounds EvaluateAll's worker pool. Non-positive values select
// runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(o *Orchestrator) { o.workers = n }
}

func WithLogger(log logr.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// Orchestrator runs the matching layers for requirement/capability pairs. A nil layer
// is skipped. It is safe for concurrent use.
type Orchestrator struct {
	direct    StringLayer
	heuristic RuleLayer
	semantic  SemanticLayer
	workers   int
	log       logr.Logger
}

// NewOrchestrator returns an orchestrator with the direct layer enabled and the other
// layers supplied by opts.
func NewOrchestrator(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		direct: stringmatch.New(),
		log:    logr.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.workers <= 0 {
		o.workers = runtime.NumCPU()
	}
	return o
}

// Evaluate compares one requirement with one capability in domain d.
func (o *Orchestrator) Evaluate(ctx context.Context, d domain.Domain, req Requirement, capability Capability) (Result, error) {
	if d == nil {
		return Result{}, fmt.Errorf("%w: domain is nil", ErrInvalidInput)
	}
	if err := checkName("requirement", req.Name); err != nil {
		return Result{}, err
	}
	if err := checkName("capability", capability.Name); err != nil {
		return Result{}, err
	}
	res := o.evaluate(ctx, d, req, capability)
	metrics.MatchLayerTotal.WithLabelValues(res.Domain, string(res.Layer)).Inc()
	return res, nil
}

func (o *Orchestrator) evaluate(ctx context.Context, d domain.Domain, req Requirement, capability Capability) Result {
	name := domain.Key(d.Name())
	res := Result{
		Requirement: req,
		Capability:  capability,
		Domain:      name,
		Layer:       LayerNone,
		Details:     &Details{},
	}

	if o.direct != nil {
		sr := o.direct.Match(req.Name, capability.Name)
		res.Details.StringTier = sr.Tier
		res.Details.EditDistance = sr.Distance
		if sr.Matched && sr.Confidence > 0 {
			res.Matched = true
			res.Confidence = sr.Confidence
			res.Layer = LayerDirect
			return res
		}
	}

	if o.heuristic != nil {
		if ok, rule := o.heuristic.CanSatisfy(name, capability.Name, req.Name); ok && rule.Confidence > 0 {
			res.Matched = true
			res.Confidence = rule.Confidence
			res.Layer = LayerHeuristic
			res.RuleID = rule.ID
			res.Details.RuleDirection = rule.Direction
			return res
		}
	}

	if o.semantic != nil {
		threshold := o.semanticThreshold(d, name)
		score := o.semantic.Score(ctx, name, req.Name, capability.Name)
		res.Details.Similarity = score.Similarity
		res.Details.Threshold = threshold
		res.Details.Method = score.Method
		if score.Method == semantic.MethodCharacter {
			metrics.SemanticFallbackTotal.WithLabelValues(name).Inc()
		}
		if score.Similarity > 0 && score.Similarity >= threshold {
			res.Matched = true
			res.Confidence = score.Similarity
			res.Layer = LayerSemantic
			return res
		}
	}

	o.log.V(1).Info("no layer matched", "domain", name, "requirement", req.Name, "capability", capability.Name)
	return res
}

func (o *Orchestrator) semanticThreshold(d domain.Domain, name string) float64 {
	if src, ok := o.semantic.(ThresholdSource); ok {
		if t, ok := src.ConfiguredThreshold(name); ok {
			return t
		}
	}
	return d.SemanticThreshold()
}

// EvaluateAll evaluates the cross-product of requirements and capabilities on a bounded
// worker pool. Results come back in requirement-major order regardless of scheduling.
// A cancelled ctx aborts the pass and returns ctx's error.
func (o *Orchestrator) EvaluateAll(ctx context.Context, d domain.Domain, reqs []Requirement, caps []Capability) (Report, error) {
	if d == nil {
		return Report{}, fmt.Errorf("%w: domain is nil", ErrInvalidInput)
	}
	var problems []error
	for i, r := range reqs {
		if err := checkName("requirement", r.Name); err != nil {
			problems = append(problems, fmt.Errorf("requirements[%d]: %w", i, err))
		}
	}
	for i, c := range caps {
		if err := checkName("capability", c.Name); err != nil {
			problems = append(problems, fmt.Errorf("capabilities[%d]: %w", i, err))
		}
	}
	if len(problems) > 0 {
		return Report{}, errors.Join(problems...)
	}

	name := domain.Key(d.Name())
	start := time.Now()
	defer func() {
		metrics.MatchEvaluateAllDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	results := make([]Result, len(reqs)*len(caps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i := range reqs {
		for j := range caps {
			idx := i*len(caps) + j
			req, capability := reqs[i], caps[j]
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[idx] = o.evaluate(gctx, d, req, capability)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	// errgroup only reports goroutine errors; a cancellation that landed after the last
	// pair still invalidates the pass.
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	report := Report{Results: results}
	for _, res := range results {
		report.Stats.add(res.Layer)
		metrics.MatchLayerTotal.WithLabelValues(name, string(res.Layer)).Inc()
	}
	o.log.V(1).Info("evaluated cross-product", "domain", name,
		"requirements", len(reqs), "capabilities", len(caps),
		"direct", report.Stats.Direct, "heuristic", report.Stats.Heuristic,
		"semantic", report.Stats.Semantic, "none", report.Stats.None)
	return report, nil
}
