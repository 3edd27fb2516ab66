package supplytree

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/anvil-platform/forge/internal/semver"
)

// Subject is what a requirement is checked against: a matched node, a workflow or the
// whole tree.
type Subject struct {
	Name       string
	Facility   string
	Confidence float64
	Parameters map[string]any
}

// Procedure is a named validation predicate.
type Procedure func(Subject) bool

// Specification accepts or rejects a subject's parameters.
type Specification interface {
	Accepts(params map[string]any) error
	specKind() string
}

// ExactSpec requires every listed parameter to equal the given value.
type ExactSpec struct {
	Values map[string]any `json:"values"`
}

func (ExactSpec) specKind() string { return "exact" }

func (s ExactSpec) Accepts(params map[string]any) error {
	for _, k := range sortedKeys(s.Values) {
		got, ok := params[k]
		if !ok {
			return fmt.Errorf("parameter %q is missing", k)
		}
		if !ValuesEqual(s.Values[k], got) {
			return fmt.Errorf("parameter %q is %v, want %v", k, got, s.Values[k])
		}
	}
	return nil
}

// ConstraintSpec requires every listed parameter to satisfy an expression. Expressions
// are a numeric comparison ("<= 0.05", "> 3", "12") or, when the bound is not a number,
// a semver constraint (">=1.2 <2").
type ConstraintSpec struct {
	Constraints map[string]string `json:"constraints"`
}

func (ConstraintSpec) specKind() string { return "constraint" }

func (s ConstraintSpec) Accepts(params map[string]any) error {
	keys := make([]string, 0, len(s.Constraints))
	for k := range s.Constraints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		got, ok := params[k]
		if !ok {
			return fmt.Errorf("parameter %q is missing", k)
		}
		ok, err := evalConstraint(s.Constraints[k], got)
		if err != nil {
			return fmt.Errorf("parameter %q: %w", k, err)
		}
		if !ok {
			return fmt.Errorf("parameter %q is %v, want %s", k, got, s.Constraints[k])
		}
	}
	return nil
}

var comparators = []string{">=", "<=", "!=", "==", ">", "<", "="}

func evalConstraint(expr string, value any) (bool, error) {
	expr = strings.TrimSpace(expr)
	op, rest := "==", expr
	for _, c := range comparators {
		if strings.HasPrefix(expr, c) {
			op, rest = c, strings.TrimSpace(expr[len(c):])
			break
		}
	}

	if bound, ok := Numeric(rest); ok {
		v, ok := Numeric(value)
		if !ok {
			return false, fmt.Errorf("value %v is not numeric", value)
		}
		switch op {
		case ">=":
			return v >= bound, nil
		case "<=":
			return v <= bound, nil
		case ">":
			return v > bound, nil
		case "<":
			return v < bound, nil
		case "!=":
			return v != bound, nil
		default:
			return v == bound, nil
		}
	}

	s, ok := value.(string)
	if !ok {
		return false, fmt.Errorf("value %v is not a version string", value)
	}
	return semver.Check(s, expr)
}

// ValidationContext is a named acceptance regime.
type ValidationContext struct {
	Domain             string               `json:"domain,omitempty"`
	Standards          []string             `json:"standards,omitempty"`
	AcceptanceCriteria map[string]any       `json:"acceptanceCriteria,omitempty"`
	Procedures         map[string]Procedure `json:"-"`
}

// ProcedureNames lists the context's procedures in lexical order.
func (c ValidationContext) ProcedureNames() []string {
	names := make([]string, 0, len(c.Procedures))
	for n := range c.Procedures {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type validationContextJSON struct {
	Domain             string         `json:"domain,omitempty"`
	Standards          []string       `json:"standards,omitempty"`
	AcceptanceCriteria map[string]any `json:"acceptanceCriteria,omitempty"`
	Procedures         []string       `json:"procedures,omitempty"`
}

// MarshalJSON writes procedures by name; the predicates themselves are not serialized.
func (c ValidationContext) MarshalJSON() ([]byte, error) {
	return json.Marshal(validationContextJSON{
		Domain:             c.Domain,
		Standards:          c.Standards,
		AcceptanceCriteria: c.AcceptanceCriteria,
		Procedures:         c.ProcedureNames(),
	})
}

// UnmarshalJSON restores procedure names with nil predicates. The validation engine
// resolves them from its procedure registry.
func (c *ValidationContext) UnmarshalJSON(data []byte) error {
	var w validationContextJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = ValidationContext{Domain: w.Domain, Standards: w.Standards, AcceptanceCriteria: w.AcceptanceCriteria}
	if len(w.Procedures) > 0 {
		c.Procedures = make(map[string]Procedure, len(w.Procedures))
		for _, n := range w.Procedures {
			c.Procedures[n] = nil
		}
	}
	return nil
}

// ValidationFailureResponse says how bad a failure under one context is.
type ValidationFailureResponse struct {
	Severity           float64  `json:"severity"`
	RemediationOptions []string `json:"remediationOptions,omitempty"`
	Blocking           bool     `json:"blocking"`
	RerouteOptions     []string `json:"rerouteOptions,omitempty"`
}

// IsBlocking reports whether the failure invalidates the whole tree. Severity 1 is
// blocking whatever the flag says.
func (r ValidationFailureResponse) IsBlocking() bool {
	return r.Blocking || r.Severity >= 1
}

// DefaultFailureResponse applies when a context has no response configured.
var DefaultFailureResponse = ValidationFailureResponse{Severity: 0.5}

// RequirementValidation is either permissive (the zero value: every check passes) or
// contextual (checked under the contexts it lists).
type RequirementValidation struct {
	contexts  map[string]ValidationContext
	responses map[string]ValidationFailureResponse
}

// Permissive returns the permissive variant.
func Permissive() RequirementValidation {
	return RequirementValidation{}
}

// Contextual returns the contextual variant. A contextual validation with no contexts
// is still contextual: every lookup misses and passes.
func Contextual(contexts map[string]ValidationContext, responses map[string]ValidationFailureResponse) RequirementValidation {
	v := RequirementValidation{
		contexts:  make(map[string]ValidationContext, len(contexts)),
		responses: make(map[string]ValidationFailureResponse, len(responses)),
	}
	for k, c := range contexts {
		v.contexts[k] = c
	}
	for k, r := range responses {
		v.responses[k] = r
	}
	return v
}

func (v RequirementValidation) IsPermissive() bool {
	return v.contexts == nil
}

// Context returns the validation context registered under id.
func (v RequirementValidation) Context(id string) (ValidationContext, bool) {
	c, ok := v.contexts[id]
	return c, ok
}

// Response returns the failure response for id, or DefaultFailureResponse.
func (v RequirementValidation) Response(id string) ValidationFailureResponse {
	if r, ok := v.responses[id]; ok {
		return r
	}
	return DefaultFailureResponse
}

// ContextIDs lists the registered contexts in lexical order.
func (v RequirementValidation) ContextIDs() []string {
	ids := make([]string, 0, len(v.contexts))
	for id := range v.contexts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type requirementValidationJSON struct {
	Mode      string                               `json:"mode"`
	Contexts  map[string]ValidationContext         `json:"contexts,omitempty"`
	Responses map[string]ValidationFailureResponse `json:"responses,omitempty"`
}

const (
	modePermissive = "permissive"
	modeContextual = "contextual"
)

func (v RequirementValidation) MarshalJSON() ([]byte, error) {
	if v.IsPermissive() {
		return json.Marshal(requirementValidationJSON{Mode: modePermissive})
	}
	return json.Marshal(requirementValidationJSON{Mode: modeContextual, Contexts: v.contexts, Responses: v.responses})
}

func (v *RequirementValidation) UnmarshalJSON(data []byte) error {
	var w requirementValidationJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Mode {
	case "", modePermissive:
		*v = Permissive()
	case modeContextual:
		*v = Contextual(w.Contexts, w.Responses)
	default:
		return fmt.Errorf("unknown validation mode %q", w.Mode)
	}
	return nil
}

// ProcessRequirement is one requirement attached to a node, a workflow or the tree.
type ProcessRequirement struct {
	Name          string
	Specification Specification
	Validation    RequirementValidation
}

type processRequirementJSON struct {
	Name          string                `json:"name"`
	Specification *specificationJSON    `json:"specification,omitempty"`
	Validation    RequirementValidation `json:"validation"`
}

type specificationJSON struct {
	Kind        string            `json:"kind"`
	Values      map[string]any    `json:"values,omitempty"`
	Constraints map[string]string `json:"constraints,omitempty"`
}

func (r ProcessRequirement) MarshalJSON() ([]byte, error) {
	w := processRequirementJSON{Name: r.Name, Validation: r.Validation}
	switch s := r.Specification.(type) {
	case nil:
	case ExactSpec:
		w.Specification = &specificationJSON{Kind: s.specKind(), Values: s.Values}
	case ConstraintSpec:
		w.Specification = &specificationJSON{Kind: s.specKind(), Constraints: s.Constraints}
	default:
		return nil, fmt.Errorf("requirement %q: unsupported specification %T", r.Name, s)
	}
	return json.Marshal(w)
}

func (r *ProcessRequirement) UnmarshalJSON(data []byte) error {
	var w processRequirementJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = ProcessRequirement{Name: w.Name, Validation: w.Validation}
	if w.Specification == nil {
		return nil
	}
	switch w.Specification.Kind {
	case "exact":
		r.Specification = ExactSpec{Values: w.Specification.Values}
	case "constraint":
		r.Specification = ConstraintSpec{Constraints: w.Specification.Constraints}
	default:
		return fmt.Errorf("requirement %q: unknown specification kind %q", w.Name, w.Specification.Kind)
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
