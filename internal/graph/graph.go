// Package graph provides the dependency graph used to order workflow steps.
//
// Vertices are plain string keys. Edges point from a prerequisite to the vertex that
// depends on it, so a topological order lists prerequisites first.
package graph

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrCycle is returned when an edge would close a cycle.
	ErrCycle = errors.New("graph: cycle detected")
	// ErrUnknownVertex is returned when an edge references a vertex that was never added.
	ErrUnknownVertex = errors.New("graph: unknown vertex")
)

// DependencyGraph is a DAG over string keys. The zero value is not usable; use New.
type DependencyGraph struct {
	vertices map[string]struct{}
	out      map[string]map[string]struct{}
	in       map[string]map[string]struct{}
}

func New() *DependencyGraph {
	return &DependencyGraph{
		vertices: make(map[string]struct{}),
		out:      make(map[string]map[string]struct{}),
		in:       make(map[string]map[string]struct{}),
	}
}

// AddVertex adds key. Adding an existing key is a no-op.
func (g *DependencyGraph) AddVertex(key string) {
	if _, ok := g.vertices[key]; ok {
		return
	}
	g.vertices[key] = struct{}{}
	g.out[key] = make(map[string]struct{})
	g.in[key] = make(map[string]struct{})
}

func (g *DependencyGraph) HasVertex(key string) bool {
	_, ok := g.vertices[key]
	return ok
}

// AddEdge records that `to` depends on `from`. The graph is left unchanged on error.
func (g *DependencyGraph) AddEdge(from, to string) error {
	if !g.HasVertex(from) {
		return fmt.Errorf("%w: %q", ErrUnknownVertex, from)
	}
	if !g.HasVertex(to) {
		return fmt.Errorf("%w: %q", ErrUnknownVertex, to)
	}
	if from == to || g.Reachable(to, from) {
		return fmt.Errorf("%w: %q -> %q", ErrCycle, from, to)
	}
	g.out[from][to] = struct{}{}
	g.in[to][from] = struct{}{}
	return nil
}

// Reachable reports whether `to` can be reached from `from` following edge direction.
func (g *DependencyGraph) Reachable(from, to string) bool {
	if !g.HasVertex(from) || !g.HasVertex(to) {
		return false
	}
	seen := map[string]struct{}{from: {}}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		for next := range g.out[cur] {
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			stack = append(stack, next)
		}
	}
	return false
}

// Predecessors returns the direct prerequisites of key in lexical order.
func (g *DependencyGraph) Predecessors(key string) []string {
	return sortedKeys(g.in[key])
}

// Successors returns the direct dependents of key in lexical order.
func (g *DependencyGraph) Successors(key string) []string {
	return sortedKeys(g.out[key])
}

// Len returns the number of vertices.
func (g *DependencyGraph) Len() int {
	return len(g.vertices)
}

// EdgeCount returns the number of edges.
func (g *DependencyGraph) EdgeCount() int {
	n := 0
	for _, targets := range g.out {
		n += len(targets)
	}
	return n
}

// TopologicalOrder returns every vertex with prerequisites first. Among vertices that
// become ready at the same time, lexical order wins, so the result is deterministic.
func (g *DependencyGraph) TopologicalOrder() ([]string, error) {
	indegree := make(map[string]int, len(g.vertices))
	for v := range g.vertices {
		indegree[v] = len(g.in[v])
	}

	ready := make([]string, 0)
	for v, d := range indegree {
		if d == 0 {
			ready = append(ready, v)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.vertices))
	for len(ready) > 0 {
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)

		released := make([]string, 0)
		for next := range g.out[cur] {
			indegree[next]--
			if indegree[next] == 0 {
				released = append(released, next)
			}
		}
		if len(released) > 0 {
			ready = append(ready, released...)
			sort.Strings(ready)
		}
	}

	// AddEdge rejects cycles, so this only trips if the maps were corrupted.
	if len(order) != len(g.vertices) {
		return nil, ErrCycle
	}
	return order, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
