package resolver

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/anvil-platform/forge/internal/domain"
	"github.com/anvil-platform/forge/internal/graph"
	"github.com/anvil-platform/forge/internal/matching"
	"github.com/anvil-platform/forge/internal/metrics"
	"github.com/anvil-platform/forge/internal/supplytree"
)

// Option configures a Builder.
type Option func(*Builder)

// WithValidator enables validation in Resolve.
func WithValidator(v Validator) Option {
	return func(b *Builder) { b.validator = v }
}

// WithWorkers bounds how many facilities are evaluated at once. Non-positive values
// select runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(b *Builder) { b.workers = n }
}

func WithLogger(log logr.Logger) Option {
	return func(b *Builder) { b.log = log }
}

// Builder turns match results into ranked supply tree candidates.
type Builder struct {
	matcher   Matcher
	validator Validator
	workers   int
	log       logr.Logger
}

var _ Resolver = (*Builder)(nil)

func New(m Matcher, opts ...Option) *Builder {
	b := &Builder{matcher: m, log: logr.Discard()}
	for _, opt := range opts {
		opt(b)
	}
	if b.workers <= 0 {
		b.workers = runtime.NumCPU()
	}
	return b
}

// coverage is one facility's best match per project requirement (nil when unmatched).
type coverage struct {
	facility Facility
	best     []*matching.Result
}

// assignment maps each requirement index to a facility index, or -1.
type assignment []int

// Build returns every feasible candidate, best first. An empty result with a nil error
// means no combination of facilities satisfies the mandatory requirements.
func (b *Builder) Build(ctx context.Context, p Project, facilities []Facility) ([]*supplytree.SupplyTree, error) {
	trees, _, err := b.build(ctx, p, facilities)
	return trees, err
}

// Resolve builds candidates and, when a validation context is in effect, moves the ones
// that fail validation into the diagnostics.
func (b *Builder) Resolve(ctx context.Context, in Input) (Plan, error) {
	trees, diag, err := b.build(ctx, in.Project, in.Facilities)
	if err != nil {
		return Plan{}, err
	}

	contextID := in.ValidationContext
	if contextID == "" {
		contextID = in.Project.DefaultContext
	}

	plan := Plan{Diagnostics: diag}
	for _, t := range trees {
		sol := Solution{Tree: t}
		if contextID != "" && b.validator != nil {
			out, err := b.validator.Validate(t, contextID)
			if err != nil {
				return Plan{}, fmt.Errorf("validate %s: %w", t.ID, err)
			}
			if !out.Valid {
				plan.Diagnostics.Rejected = append(plan.Diagnostics.Rejected, Rejection{
					TreeID:     t.ID,
					Facilities: t.Facilities(),
					Outcome:    out,
				})
				continue
			}
			sol.Outcome = &out
		}
		plan.Solutions = append(plan.Solutions, sol)
		if in.MaxSolutions > 0 && len(plan.Solutions) >= in.MaxSolutions {
			break
		}
	}
	return plan, nil
}

func (b *Builder) build(ctx context.Context, p Project, facilities []Facility) ([]*supplytree.SupplyTree, Diagnostics, error) {
	start := time.Now()
	order, index, err := checkProject(p)
	if err != nil {
		return nil, Diagnostics{}, err
	}
	if err := checkFacilities(facilities); err != nil {
		return nil, Diagnostics{}, err
	}
	log := b.log.WithValues("project", p.Name, "domain", domain.Key(p.Domain.Name()))

	if len(p.Requirements) == 0 {
		t, err := trivialTree(p)
		if err != nil {
			return nil, Diagnostics{}, err
		}
		return []*supplytree.SupplyTree{t}, Diagnostics{}, nil
	}

	var diag Diagnostics
	if len(facilities) == 0 {
		for _, r := range p.Requirements {
			addUnresolved(&diag, r, "no facilities offered")
		}
		return nil, diag, nil
	}

	cov, err := b.evaluate(ctx, p, facilities)
	if err != nil {
		return nil, Diagnostics{}, err
	}

	for ri, r := range p.Requirements {
		if !coveredByAny(cov, ri) {
			addUnresolved(&diag, r, "no facility offers a matching capability")
		}
	}
	if len(diag.UnresolvedRequired) > 0 {
		log.V(1).Info("mandatory requirements unmatched", "unresolved", len(diag.UnresolvedRequired))
		metrics.BuildSolutions.Observe(0)
		return nil, diag, nil
	}

	candidates := enumerate(p, cov)
	trees := make([]*supplytree.SupplyTree, 0, len(candidates))
	for _, a := range candidates {
		t, err := assemble(p, order, index, cov, a)
		if err != nil {
			return nil, Diagnostics{}, err
		}
		trees = append(trees, t)
	}
	rank(trees)

	metrics.BuildDuration.Observe(time.Since(start).Seconds())
	metrics.BuildSolutions.Observe(float64(len(trees)))
	log.V(1).Info("built candidates", "facilities", len(facilities), "candidates", len(trees))
	return trees, diag, nil
}

// evaluate matches the project against every facility concurrently. Each goroutine
// writes only its own slot.
func (b *Builder) evaluate(ctx context.Context, p Project, facilities []Facility) ([]coverage, error) {
	reqs := make([]matching.Requirement, len(p.Requirements))
	for i, r := range p.Requirements {
		reqs[i] = matching.Requirement{Name: r.Name, Parameters: r.Parameters}
	}

	cov := make([]coverage, len(facilities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for fi := range facilities {
		g.Go(func() error {
			f := facilities[fi]
			report, err := b.matcher.EvaluateAll(gctx, p.Domain, reqs, f.Capabilities)
			if err != nil {
				return fmt.Errorf("facility %q: %w", f.Name, err)
			}
			best := make([]*matching.Result, len(reqs))
			for ri, r := range reqs {
				if res, ok := report.Best(r.Name); ok {
					best[ri] = &res
				}
			}
			cov[fi] = coverage{facility: f, best: best}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cov, nil
}

// checkProject validates names and ordering and returns the requirement indices in
// dependency order plus a name index.
func checkProject(p Project) ([]int, map[string]int, error) {
	if p.Domain == nil {
		return nil, nil, fmt.Errorf("%w: project %q has no domain", matching.ErrInvalidInput, p.Name)
	}

	index := make(map[string]int, len(p.Requirements))
	g := graph.New()
	for i, r := range p.Requirements {
		if strings.TrimSpace(r.Name) == "" {
			return nil, nil, fmt.Errorf("%w: requirements[%d] has no name", matching.ErrInvalidInput, i)
		}
		if _, dup := index[r.Name]; dup {
			return nil, nil, fmt.Errorf("%w: requirement %q declared twice", matching.ErrInvalidInput, r.Name)
		}
		index[r.Name] = i
		g.AddVertex(r.Name)
	}
	for _, r := range p.Requirements {
		for _, before := range r.After {
			if _, ok := index[before]; !ok {
				return nil, nil, fmt.Errorf("%w: requirement %q runs after unknown %q", matching.ErrInvalidInput, r.Name, before)
			}
			if err := g.AddEdge(before, r.Name); err != nil {
				return nil, nil, fmt.Errorf("%w: requirement %q: %w", matching.ErrInvalidInput, r.Name, err)
			}
		}
	}

	names, err := g.TopologicalOrder()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", matching.ErrInvalidInput, err)
	}
	order := make([]int, len(names))
	for i, n := range names {
		order[i] = index[n]
	}
	return order, index, nil
}

func checkFacilities(facilities []Facility) error {
	seen := make(map[string]struct{}, len(facilities))
	for i, f := range facilities {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("%w: facilities[%d] has no name", matching.ErrInvalidInput, i)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: facility %q listed twice", matching.ErrInvalidInput, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

func addUnresolved(diag *Diagnostics, r Requirement, reason string) {
	u := UnresolvedRequirement{Requirement: r.Name, Reason: reason}
	if r.Optional {
		diag.UnresolvedOptional = append(diag.UnresolvedOptional, u)
		return
	}
	diag.UnresolvedRequired = append(diag.UnresolvedRequired, u)
}

func coveredByAny(cov []coverage, ri int) bool {
	for _, c := range cov {
		if c.best[ri] != nil {
			return true
		}
	}
	return false
}

func trivialTree(p Project) (*supplytree.SupplyTree, error) {
	key := domain.Key(p.Domain.Name())
	t := supplytree.New(supplytree.DeriveID(key, p.Name, "empty"), key)
	t.DefaultContext = p.DefaultContext
	for _, g := range p.GlobalRequirements {
		if err := t.AddGlobalRequirement(g); err != nil {
			return nil, err
		}
	}
	t.Finalize()
	return t, nil
}

// rank orders trees by aggregate confidence (highest first), then fewer facilities,
// then the facility list, then ID.
func rank(trees []*supplytree.SupplyTree) {
	sort.SliceStable(trees, func(i, j int) bool {
		a, b := trees[i], trees[j]
		if a.AggregateConfidence != b.AggregateConfidence {
			return a.AggregateConfidence > b.AggregateConfidence
		}
		fa, fb := a.Facilities(), b.Facilities()
		if len(fa) != len(fb) {
			return len(fa) < len(fb)
		}
		ja, jb := strings.Join(fa, "\x00"), strings.Join(fb, "\x00")
		if ja != jb {
			return ja < jb
		}
		return a.ID < b.ID
	})
}
