// Package engine assembles the matching layers, validator and solution builder from a
// Config. The operator and the match server share it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/go-logr/logr"

	"github.com/anvil-platform/forge/internal/config"
	"github.com/anvil-platform/forge/internal/domain"
	"github.com/anvil-platform/forge/internal/matching"
	"github.com/anvil-platform/forge/internal/metrics"
	"github.com/anvil-platform/forge/internal/resolver"
	"github.com/anvil-platform/forge/internal/rules"
	"github.com/anvil-platform/forge/internal/semantic"
	"github.com/anvil-platform/forge/internal/supplytree"
	"github.com/anvil-platform/forge/internal/validation"
)

// Engine owns one instance of every component. Its fields are safe for concurrent use;
// Close must run after in-flight calls have returned.
type Engine struct {
	Domains   *domain.Registry
	Rules     *rules.Engine
	Semantic  *semantic.Matcher
	Matcher   *matching.Orchestrator
	Validator *validation.Engine
	Builder   *resolver.Builder

	cfg config.Config
	log logr.Logger
}

// New builds an Engine and loads every configured rules file. Extra validation options
// register named procedures.
func New(ctx context.Context, cfg *config.Config, log logr.Logger, procedures ...validation.Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine: nil config")
	}
	domains := cfg.DomainList()

	loader, err := cfg.SemanticLoader()
	if err != nil && !errors.Is(err, config.ErrNoSemanticBackend) {
		return nil, err
	}
	sem := semantic.New(loader,
		semantic.WithLogger(log.WithName("semantic")),
		semantic.WithDomains(domains...),
		semantic.WithCacheSize(cfg.Semantic.CacheSize),
	)

	ruleEngine := rules.NewEngine(log.WithName("rules"))
	sources := cfg.RuleSources()
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := ruleEngine.Load(ctx, name, sources[name]); err != nil {
			metrics.RuleSetLoadTotal.WithLabelValues(name, metrics.ResultError).Inc()
			return nil, err
		}
		metrics.RuleSetLoadTotal.WithLabelValues(name, metrics.ResultSuccess).Inc()
	}

	orch := matching.NewOrchestrator(
		matching.WithRuleLayer(ruleEngine),
		matching.WithSemanticLayer(sem),
		matching.WithWorkers(cfg.Matching.Workers),
		matching.WithLogger(log.WithName("matching")),
	)
	opts := append([]validation.Option{validation.WithLogger(log.WithName("validation"))}, procedures...)
	val := validation.NewEngine(opts...)

	return &Engine{
		Domains:   domain.NewRegistry(domains...),
		Rules:     ruleEngine,
		Semantic:  sem,
		Matcher:   orch,
		Validator: val,
		Builder: resolver.New(orch,
			resolver.WithValidator(val),
			resolver.WithWorkers(cfg.Build.Workers),
			resolver.WithLogger(log.WithName("resolver")),
		),
		cfg: *cfg,
		log: log,
	}, nil
}

// Domain looks up a configured domain.
func (e *Engine) Domain(name string) (domain.Domain, error) {
	return e.Domains.Lookup(name)
}

// Evaluate matches a requirement against a capability in the named domain.
func (e *Engine) Evaluate(ctx context.Context, domainName string, req matching.Requirement, capability matching.Capability) (matching.Result, error) {
	d, err := e.Domain(domainName)
	if err != nil {
		return matching.Result{}, fmt.Errorf("%w: %w", matching.ErrInvalidInput, err)
	}
	return e.Matcher.Evaluate(ctx, d, req, capability)
}

// Resolve runs the builder under the configured build timeout. A zero MaxSolutions takes
// the configured default.
func (e *Engine) Resolve(ctx context.Context, in resolver.Input) (resolver.Plan, error) {
	if e.cfg.Build.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Build.Timeout)
		defer cancel()
	}
	if in.MaxSolutions == 0 {
		in.MaxSolutions = e.cfg.Build.MaxSolutions
	}
	return e.Builder.Resolve(ctx, in)
}

// Build returns the ranked candidate trees without validation.
func (e *Engine) Build(ctx context.Context, p resolver.Project, facilities []resolver.Facility) ([]*supplytree.SupplyTree, error) {
	if e.cfg.Build.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Build.Timeout)
		defer cancel()
	}
	return e.Builder.Build(ctx, p, facilities)
}

// ResetRules restores the rule set a domain started with: the configured rules file when
// there is one, otherwise no rules.
func (e *Engine) ResetRules(ctx context.Context, domainName string) error {
	if src, ok := e.cfg.RuleSources()[domain.Key(domainName)]; ok {
		return e.Rules.Reload(ctx, domainName, src)
	}
	e.Rules.Remove(domainName)
	return nil
}

// Close releases the semantic model.
func (e *Engine) Close() {
	e.Semantic.Cleanup()
	e.log.V(1).Info("engine closed")
}
