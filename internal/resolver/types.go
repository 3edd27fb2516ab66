package resolver

import (
	"github.com/anvil-platform/forge/internal/domain"
	"github.com/anvil-platform/forge/internal/matching"
	"github.com/anvil-platform/forge/internal/supplytree"
	"github.com/anvil-platform/forge/internal/validation"
)

// Requirement is one step a project needs done.
type Requirement struct {
	Name string
	// Optional requirements may stay unmatched without eliminating a candidate.
	Optional bool
	// After names requirements that must complete before this one.
	After      []string
	Parameters map[string]any
	// Produces is the item type of the step's output port. Defaults to the name.
	Produces      string
	Specification supplytree.Specification
	Validation    supplytree.RequirementValidation
}

func (r Requirement) outputType() string {
	if r.Produces != "" {
		return r.Produces
	}
	return r.Name
}

// Project is the requirement side of a build.
type Project struct {
	Name               string
	Domain             domain.Domain
	Requirements       []Requirement
	GlobalRequirements []supplytree.ProcessRequirement
	DefaultContext     string
}

// Facility is the capability side of a build.
type Facility struct {
	Name         string
	Capabilities []matching.Capability
	Parameters   map[string]any
}

// Input is the controller-normalized view the resolver operates on.
type Input struct {
	Project    Project
	Facilities []Facility
	// ValidationContext, when set, validates every candidate under that context.
	ValidationContext string
	// MaxSolutions caps the returned solutions. Zero means no cap.
	MaxSolutions int
}

// Solution is one ranked candidate.
type Solution struct {
	Tree    *supplytree.SupplyTree
	Outcome *validation.Outcome
}

// Plan is the output of the resolver.
type Plan struct {
	Solutions   []Solution
	Diagnostics Diagnostics
}

// Trees returns the solution trees in rank order.
func (p Plan) Trees() []*supplytree.SupplyTree {
	out := make([]*supplytree.SupplyTree, 0, len(p.Solutions))
	for _, s := range p.Solutions {
		out = append(out, s.Tree)
	}
	return out
}

// Diagnostics captures human-readable information about resolution, for status,
// events and logs.
type Diagnostics struct {
	UnresolvedRequired []UnresolvedRequirement
	UnresolvedOptional []UnresolvedRequirement
	Rejected           []Rejection
}

type UnresolvedRequirement struct {
	Requirement string
	Reason      string
}

// Rejection is a candidate dropped by validation.
type Rejection struct {
	TreeID     string
	Facilities []string
	Outcome    validation.Outcome
}
