package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/anvil-platform/forge/internal/domain"
	"github.com/anvil-platform/forge/internal/supplytree"
)

// enumerate lists the facility assignments worth building. Facilities that can do the
// whole job alone are preferred; only when there are none are facilities combined.
func enumerate(p Project, cov []coverage) []assignment {
	var mandatory []int
	for ri, r := range p.Requirements {
		if !r.Optional {
			mandatory = append(mandatory, ri)
		}
	}

	var singles []assignment
	for fi, c := range cov {
		if !coversAll(c, mandatory) {
			continue
		}
		a := make(assignment, len(p.Requirements))
		for ri := range a {
			a[ri] = -1
			if c.best[ri] != nil {
				a[ri] = fi
			}
		}
		singles = append(singles, a)
	}
	if len(singles) > 0 {
		return singles
	}

	all := make([]int, len(cov))
	for fi := range cov {
		all[fi] = fi
	}
	candidates := []assignment{
		bestOf(cov, all, len(p.Requirements)),
		bestOf(cov, greedyCover(cov, mandatory), len(p.Requirements)),
	}

	seen := make(map[string]struct{}, len(candidates))
	out := candidates[:0]
	for _, a := range candidates {
		sig := signature(cov, a)
		if _, dup := seen[sig]; dup {
			continue
		}
		seen[sig] = struct{}{}
		out = append(out, a)
	}
	return out
}

func coversAll(c coverage, reqs []int) bool {
	for _, ri := range reqs {
		if c.best[ri] == nil {
			return false
		}
	}
	return true
}

// prefer reports whether facility i's match for requirement ri beats facility j's.
func prefer(cov []coverage, ri, i, j int) bool {
	a, b := cov[i].best[ri], cov[j].best[ri]
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	case a.Better(*b):
		return true
	case b.Better(*a):
		return false
	}
	return cov[i].facility.Name < cov[j].facility.Name
}

// bestOf assigns every requirement to the preferred facility among the allowed ones.
func bestOf(cov []coverage, allowed []int, n int) assignment {
	a := make(assignment, n)
	for ri := range a {
		a[ri] = -1
		for _, fi := range allowed {
			if cov[fi].best[ri] == nil {
				continue
			}
			if a[ri] < 0 || prefer(cov, ri, fi, a[ri]) {
				a[ri] = fi
			}
		}
	}
	return a
}

// greedyCover picks facilities until every mandatory requirement is covered, each time
// taking the one covering the most remaining requirements, then the highest confidence
// sum, then the lowest name.
func greedyCover(cov []coverage, mandatory []int) []int {
	uncovered := make(map[int]struct{}, len(mandatory))
	for _, ri := range mandatory {
		uncovered[ri] = struct{}{}
	}
	chosen := make(map[int]bool)
	var picked []int

	for len(uncovered) > 0 {
		best, bestCount, bestSum := -1, 0, 0.0
		for fi, c := range cov {
			if chosen[fi] {
				continue
			}
			count, sum := 0, 0.0
			for ri := range uncovered {
				if r := c.best[ri]; r != nil {
					count++
					sum += r.Confidence
				}
			}
			if count == 0 {
				continue
			}
			switch {
			case best < 0, count > bestCount,
				count == bestCount && sum > bestSum,
				count == bestCount && sum == bestSum && c.facility.Name < cov[best].facility.Name:
				best, bestCount, bestSum = fi, count, sum
			}
		}
		if best < 0 {
			break
		}
		chosen[best] = true
		picked = append(picked, best)
		for ri := range uncovered {
			if cov[best].best[ri] != nil {
				delete(uncovered, ri)
			}
		}
	}
	return picked
}

func signature(cov []coverage, a assignment) string {
	parts := make([]string, len(a))
	for ri, fi := range a {
		if fi >= 0 {
			parts[ri] = cov[fi].facility.Name
		}
	}
	return strings.Join(parts, "\x1f")
}

func outPortID(node supplytree.NodeID) supplytree.PortID {
	return supplytree.PortID(supplytree.DeriveID(string(node), "out"))
}

func inPortID(node supplytree.NodeID, from string) supplytree.PortID {
	return supplytree.PortID(supplytree.DeriveID(string(node), "in", from))
}

// assemble materializes one assignment: a workflow per facility in name order, a node per
// assigned requirement, and an edge or connection per ordering constraint.
func assemble(p Project, order []int, index map[string]int, cov []coverage, a assignment) (*supplytree.SupplyTree, error) {
	key := domain.Key(p.Domain.Name())
	treeID := supplytree.DeriveID(key, p.Name, signature(cov, a))
	tree := supplytree.New(treeID, key)
	tree.DefaultContext = p.DefaultContext

	var used []int
	inUse := make(map[int]bool)
	for _, fi := range a {
		if fi >= 0 && !inUse[fi] {
			inUse[fi] = true
			used = append(used, fi)
		}
	}
	sort.Slice(used, func(i, j int) bool { return cov[used[i]].facility.Name < cov[used[j]].facility.Name })

	workflows := make(map[int]*supplytree.Workflow, len(used))
	nodes := make(map[int]supplytree.NodeID, len(a))
	for _, fi := range used {
		f := cov[fi].facility
		wf := supplytree.NewWorkflow(supplytree.WorkflowID(supplytree.DeriveID(treeID, f.Name)), f.Name)
		wf.Facility = f.Name
		wf.Parameters = f.Parameters

		for _, ri := range order {
			if a[ri] != fi {
				continue
			}
			r := p.Requirements[ri]
			id := supplytree.NodeID(supplytree.DeriveID(string(wf.ID), r.Name))
			n := supplytree.WorkflowNode{
				ID:       id,
				Name:     r.Name,
				Facility: f.Name,
				Requirements: []supplytree.ProcessRequirement{{
					Name:          r.Name,
					Specification: r.Specification,
					Validation:    r.Validation,
				}},
				OutputPorts: []supplytree.Port{{
					ID:            outPortID(id),
					Name:          "out",
					Kind:          supplytree.PortOutput,
					ItemType:      r.outputType(),
					Specification: r.Parameters,
				}},
			}
			for _, before := range r.After {
				if a[index[before]] < 0 {
					continue
				}
				n.InputPorts = append(n.InputPorts, supplytree.Port{
					ID:       inPortID(id, before),
					Name:     "in:" + before,
					Kind:     supplytree.PortInput,
					ItemType: p.Requirements[index[before]].outputType(),
				})
			}
			if err := wf.AddNode(n); err != nil {
				return nil, err
			}
			if err := wf.AttachMatch(id, *cov[fi].best[ri]); err != nil {
				return nil, err
			}
			nodes[ri] = id
		}
		workflows[fi] = wf
	}

	for _, ri := range order {
		fi := a[ri]
		if fi < 0 {
			continue
		}
		for _, before := range p.Requirements[ri].After {
			pi := index[before]
			src := a[pi]
			if src < 0 {
				continue
			}
			if src == fi {
				if err := workflows[fi].Connect(nodes[pi], nodes[ri]); err != nil {
					return nil, fmt.Errorf("connect %s -> %s: %w", before, p.Requirements[ri].Name, err)
				}
			}
		}
	}
	for _, fi := range used {
		if err := tree.AddWorkflow(workflows[fi]); err != nil {
			return nil, err
		}
	}
	for _, ri := range order {
		fi := a[ri]
		if fi < 0 {
			continue
		}
		for _, before := range p.Requirements[ri].After {
			pi := index[before]
			src := a[pi]
			if src < 0 || src == fi {
				continue
			}
			err := tree.Connect(supplytree.WorkflowConnection{
				SourceWorkflow: workflows[src].ID,
				SourceNode:     nodes[pi],
				SourcePort:     outPortID(nodes[pi]),
				TargetWorkflow: workflows[fi].ID,
				TargetNode:     nodes[ri],
				TargetPort:     inPortID(nodes[ri], before),
				Quantity:       1,
				ConnectionType: supplytree.ConnectionDependency,
			})
			if err != nil {
				return nil, fmt.Errorf("connect %s -> %s: %w", before, p.Requirements[ri].Name, err)
			}
		}
	}

	for _, g := range p.GlobalRequirements {
		if err := tree.AddGlobalRequirement(g); err != nil {
			return nil, err
		}
	}
	tree.Finalize()
	return tree, nil
}
