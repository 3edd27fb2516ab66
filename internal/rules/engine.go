// Package rules implements the heuristic matching layer: per-domain rule sets that
// declare which requirements a capability can satisfy.
package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-playground/validator/v10"

	"github.com/anvil-platform/forge/internal/domain"
	"github.com/anvil-platform/forge/internal/semver"
	"github.com/anvil-platform/forge/internal/stringmatch"
)

// ErrAlreadyLoaded is returned by Load when the domain already has an active rule set.
var ErrAlreadyLoaded = errors.New("rules: domain already loaded; use Reload")

type compiledRule struct {
	rule    Rule
	capKey  string
	reqKeys map[string]struct{}
}

type compiledSet struct {
	domain   string
	version  string
	rules    []compiledRule
	loadedAt time.Time
}

// table is never mutated once published.
type table map[string]*compiledSet

// Engine answers "can capability X satisfy requirement Y" per domain.
//
// Readers go through an atomic pointer to an immutable table and never lock. Writers
// (Load, Reload, Remove) build a new table and swap it in.
type Engine struct {
	current  atomic.Pointer[table]
	writeMu  sync.Mutex
	validate *validator.Validate
	log      logr.Logger
}

func NewEngine(log logr.Logger) *Engine {
	e := &Engine{validate: validator.New(), log: log}
	empty := table{}
	e.current.Store(&empty)
	return e
}

// Load installs the first rule set for name. It fails with ErrAlreadyLoaded when a set
// is already active.
func (e *Engine) Load(ctx context.Context, name string, src Source) error {
	return e.install(ctx, name, src, false)
}

// Reload replaces the rule set for name atomically. On any error the previous set
// remains active. Reloading an unknown domain behaves like Load.
func (e *Engine) Reload(ctx context.Context, name string, src Source) error {
	return e.install(ctx, name, src, true)
}

// Remove drops the rule set for name. Subsequent lookups return no rules.
func (e *Engine) Remove(name string) {
	key := domain.Key(name)
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	old := *e.current.Load()
	if _, ok := old[key]; !ok {
		return
	}
	next := make(table, len(old))
	for k, v := range old {
		if k != key {
			next[k] = v
		}
	}
	e.current.Store(&next)
	e.log.Info("rule set removed", "domain", key)
}

func (e *Engine) install(ctx context.Context, name string, src Source, replace bool) error {
	key := domain.Key(name)
	if key == "" {
		return &ConfigurationError{Domain: name, Err: errors.New("domain name is empty")}
	}
	if src == nil {
		return &ConfigurationError{Domain: key, Err: errors.New("rule set source is nil")}
	}

	// Loading happens outside the write lock: sources may block on I/O.
	set, err := src.Load(ctx)
	if err != nil {
		return &ConfigurationError{Domain: key, Err: err}
	}
	compiled, err := e.compile(key, set)
	if err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	old := *e.current.Load()
	prev, exists := old[key]
	if exists && !replace {
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, key)
	}

	next := make(table, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[key] = compiled
	e.current.Store(&next)

	if exists {
		e.log.Info("rule set reloaded", "domain", key, "version", compiled.version, "previousVersion", prev.version, "rules", len(compiled.rules))
	} else {
		e.log.Info("rule set loaded", "domain", key, "version", compiled.version, "rules", len(compiled.rules))
	}
	return nil
}

func (e *Engine) compile(key string, set RuleSet) (*compiledSet, error) {
	if err := e.validate.Struct(set); err != nil {
		return nil, &ConfigurationError{Domain: key, Err: err}
	}

	problems := make([]string, 0)
	if domain.Key(set.Domain) != key {
		problems = append(problems, fmt.Sprintf("rule set declares domain %q", set.Domain))
	}
	if _, err := semver.ParseVersion(set.Version); err != nil {
		problems = append(problems, err.Error())
	}

	seen := make(map[string]struct{}, len(set.Rules))
	out := &compiledSet{
		domain:   key,
		version:  set.Version,
		rules:    make([]compiledRule, 0, len(set.Rules)),
		loadedAt: time.Now(),
	}
	for _, r := range set.Rules {
		if _, dup := seen[r.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate rule id %q", r.ID))
			continue
		}
		seen[r.ID] = struct{}{}

		if r.Domain != "" && domain.Key(r.Domain) != key {
			problems = append(problems, fmt.Sprintf("rule %q belongs to domain %q", r.ID, r.Domain))
			continue
		}
		capKey := stringmatch.Normalize(r.Capability)
		if capKey == "" {
			problems = append(problems, fmt.Sprintf("rule %q has a blank capability", r.ID))
			continue
		}
		reqKeys := make(map[string]struct{}, len(r.SatisfiesRequirements))
		for _, req := range r.SatisfiesRequirements {
			if k := stringmatch.Normalize(req); k != "" {
				reqKeys[k] = struct{}{}
			}
		}
		if len(reqKeys) == 0 {
			problems = append(problems, fmt.Sprintf("rule %q satisfies no requirements", r.ID))
			continue
		}

		r.Domain = key
		r.Direction = r.EffectiveDirection()
		r.SatisfiesRequirements = append([]string(nil), r.SatisfiesRequirements...)
		out.rules = append(out.rules, compiledRule{rule: r, capKey: capKey, reqKeys: reqKeys})
	}

	if len(problems) > 0 {
		return nil, &ConfigurationError{Domain: key, Err: errors.New(summarize(problems))}
	}
	return out, nil
}

// Find returns every rule of the domain that relates capability to requirement, best
// first: highest confidence, ties broken by ascending rule ID. An unknown domain yields
// nil.
func (e *Engine) Find(name, capability, requirement string) []Rule {
	set, ok := (*e.current.Load())[domain.Key(name)]
	if !ok {
		return nil
	}

	capKey := stringmatch.Normalize(capability)
	reqKey := stringmatch.Normalize(requirement)
	if capKey == "" || reqKey == "" {
		return nil
	}

	var out []Rule
	for _, cr := range set.rules {
		if cr.applies(capKey, reqKey) {
			out = append(out, cr.rule)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CanSatisfy reports whether any rule lets capability satisfy requirement, and returns
// the best such rule.
func (e *Engine) CanSatisfy(name, capability, requirement string) (bool, Rule) {
	found := e.Find(name, capability, requirement)
	if len(found) == 0 {
		return false, Rule{}
	}
	return true, found[0]
}

func (cr compiledRule) applies(capKey, reqKey string) bool {
	forward := func() bool {
		if cr.capKey != capKey {
			return false
		}
		_, ok := cr.reqKeys[reqKey]
		return ok
	}
	reverse := func() bool {
		if cr.capKey != reqKey {
			return false
		}
		_, ok := cr.reqKeys[capKey]
		return ok
	}

	switch cr.rule.Direction {
	case Reverse:
		return reverse()
	case Bidirectional:
		return forward() || reverse()
	default:
		return forward()
	}
}

// Version returns the active rule-set version for the domain.
func (e *Engine) Version(name string) (string, bool) {
	set, ok := (*e.current.Load())[domain.Key(name)]
	if !ok {
		return "", false
	}
	return set.version, true
}

// Rules returns a copy of the active rules for the domain.
func (e *Engine) Rules(name string) []Rule {
	set, ok := (*e.current.Load())[domain.Key(name)]
	if !ok {
		return nil
	}
	out := make([]Rule, 0, len(set.rules))
	for _, cr := range set.rules {
		out = append(out, cr.rule)
	}
	return out
}

// Domains lists the domains with an active rule set, in lexical order.
func (e *Engine) Domains() []string {
	t := *e.current.Load()
	out := make([]string, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
