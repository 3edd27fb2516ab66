// Package domain describes the problem domains the matching engine serves.
//
// The engine never switches on domain names. Everything domain specific (the semantic
// acceptance threshold, the rule set key) is reached through the Domain interface.
package domain

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	Manufacturing = "manufacturing"
	Cooking       = "cooking"
)

// Domain is the capability set a matcher is parameterized over.
type Domain interface {
	// Name is the key used for rule sets, metrics and logs.
	Name() string
	// SemanticThreshold is the minimum similarity the semantic layer accepts.
	SemanticThreshold() float64
}

// Spec is the plain Domain implementation used by configuration and tests.
type Spec struct {
	Key       string
	Threshold float64
}

func (s Spec) Name() string               { return s.Key }
func (s Spec) SemanticThreshold() float64 { return s.Threshold }

// Defaults returns the two built-in domains.
func Defaults() []Domain {
	return []Domain{
		Spec{Key: Manufacturing, Threshold: 0.8},
		Spec{Key: Cooking, Threshold: 0.7},
	}
}

// Registry resolves domain names to Domains. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	domains map[string]Domain
}

// NewRegistry returns a registry pre-populated with the given domains.
func NewRegistry(domains ...Domain) *Registry {
	r := &Registry{domains: make(map[string]Domain, len(domains))}
	for _, d := range domains {
		r.Register(d)
	}
	return r
}

// Register adds or replaces d.
func (r *Registry) Register(d Domain) {
	if d == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.domains[Key(d.Name())] = d
}

// Lookup returns the domain registered under name (case-insensitive).
func (r *Registry) Lookup(name string) (Domain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.domains[Key(name)]
	if !ok {
		return nil, fmt.Errorf("domain %q is not registered", name)
	}
	return d, nil
}

// Names returns the registered domain keys in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.domains))
	for k := range r.domains {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Key normalizes a domain name for map lookups.
func Key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
