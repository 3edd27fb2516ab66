// Package resolver builds ranked supply tree candidates from a project's requirements
// and the capabilities of candidate facilities.
package resolver

import (
	"context"

	"github.com/anvil-platform/forge/internal/domain"
	"github.com/anvil-platform/forge/internal/matching"
	"github.com/anvil-platform/forge/internal/supplytree"
	"github.com/anvil-platform/forge/internal/validation"
)

// Resolver computes a Plan for a given Input.
type Resolver interface {
	Resolve(ctx context.Context, in Input) (Plan, error)
}

// Matcher evaluates requirement/capability cross-products.
type Matcher interface {
	EvaluateAll(ctx context.Context, d domain.Domain, reqs []matching.Requirement, caps []matching.Capability) (matching.Report, error)
}

// Validator checks a finalized tree under a context.
type Validator interface {
	Validate(tree *supplytree.SupplyTree, contextID string) (validation.Outcome, error)
}
