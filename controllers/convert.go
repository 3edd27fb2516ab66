package controllers

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	forgev1alpha1 "github.com/anvil-platform/forge/api/v1alpha1"
	"github.com/anvil-platform/forge/internal/domain"
	"github.com/anvil-platform/forge/internal/matching"
	"github.com/anvil-platform/forge/internal/resolver"
	"github.com/anvil-platform/forge/internal/rules"
	"github.com/anvil-platform/forge/internal/supplytree"
	"github.com/anvil-platform/forge/internal/validation"
)

const defaultRulesKey = "rules.yaml"

// parameterValue interprets an API string: booleans and finite numbers become typed
// values, anything else stays a string. "inf" and "nan" stay strings so trees remain
// JSON-encodable.
func parameterValue(s string) any {
	t := strings.TrimSpace(s)
	if t == "true" || t == "false" {
		return t == "true"
	}
	if f, err := strconv.ParseFloat(t, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	return s
}

func toParameters(p map[string]string) map[string]any {
	if len(p) == 0 {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = parameterValue(v)
	}
	return out
}

func parseFraction(s string, def float64) (float64, error) {
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a decimal", s)
	}
	if math.IsNaN(f) || f < 0 || f > 1 {
		return 0, fmt.Errorf("%q is outside [0,1]", s)
	}
	return f, nil
}

func toSpecification(s *forgev1alpha1.SpecificationSpec) (supplytree.Specification, error) {
	if s == nil {
		return nil, nil
	}
	switch {
	case len(s.Exact) > 0 && len(s.Constraints) > 0:
		return nil, errors.New("specification sets both exact values and constraints")
	case len(s.Exact) > 0:
		return supplytree.ExactSpec{Values: toParameters(s.Exact)}, nil
	case len(s.Constraints) > 0:
		return supplytree.ConstraintSpec{Constraints: s.Constraints}, nil
	}
	return nil, nil
}

// toValidation turns the context list into a contextual validation. An empty list is
// permissive.
func toValidation(specs []forgev1alpha1.ValidationContextSpec) (supplytree.RequirementValidation, error) {
	if len(specs) == 0 {
		return supplytree.Permissive(), nil
	}
	contexts := make(map[string]supplytree.ValidationContext, len(specs))
	responses := make(map[string]supplytree.ValidationFailureResponse, len(specs))
	for _, s := range specs {
		if strings.TrimSpace(s.Name) == "" {
			return supplytree.RequirementValidation{}, errors.New("validation context has no name")
		}
		if _, dup := contexts[s.Name]; dup {
			return supplytree.RequirementValidation{}, fmt.Errorf("validation context %q declared twice", s.Name)
		}
		severity, err := parseFraction(s.Severity, supplytree.DefaultFailureResponse.Severity)
		if err != nil {
			return supplytree.RequirementValidation{}, fmt.Errorf("validation context %q severity: %w", s.Name, err)
		}
		vc := supplytree.ValidationContext{
			Domain:             s.Domain,
			Standards:          s.Standards,
			AcceptanceCriteria: toParameters(s.AcceptanceCriteria),
		}
		if len(s.Procedures) > 0 {
			vc.Procedures = make(map[string]supplytree.Procedure, len(s.Procedures))
			for _, name := range s.Procedures {
				vc.Procedures[name] = nil
			}
		}
		contexts[s.Name] = vc
		responses[s.Name] = supplytree.ValidationFailureResponse{
			Severity:           severity,
			Blocking:           s.Blocking,
			RemediationOptions: s.RemediationOptions,
			RerouteOptions:     s.RerouteOptions,
		}
	}
	return supplytree.Contextual(contexts, responses), nil
}

func toProject(sr *forgev1alpha1.SupplyRequest, d domain.Domain) (resolver.Project, error) {
	p := resolver.Project{
		Name:           sr.Name,
		Domain:         d,
		DefaultContext: sr.Spec.DefaultContext,
	}
	for _, r := range sr.Spec.Requirements {
		spec, err := toSpecification(r.Specification)
		if err != nil {
			return resolver.Project{}, fmt.Errorf("requirement %q: %w", r.Name, err)
		}
		v, err := toValidation(r.Validation)
		if err != nil {
			return resolver.Project{}, fmt.Errorf("requirement %q: %w", r.Name, err)
		}
		p.Requirements = append(p.Requirements, resolver.Requirement{
			Name:          r.Name,
			Optional:      r.Optional,
			After:         r.After,
			Parameters:    toParameters(r.Parameters),
			Produces:      r.Produces,
			Specification: spec,
			Validation:    v,
		})
	}
	for _, g := range sr.Spec.GlobalRequirements {
		spec, err := toSpecification(g.Specification)
		if err != nil {
			return resolver.Project{}, fmt.Errorf("global requirement %q: %w", g.Name, err)
		}
		v, err := toValidation(g.Validation)
		if err != nil {
			return resolver.Project{}, fmt.Errorf("global requirement %q: %w", g.Name, err)
		}
		p.GlobalRequirements = append(p.GlobalRequirements, supplytree.ProcessRequirement{Name: g.Name, Specification: spec, Validation: v})
	}
	return p, nil
}

// toFacility converts a Facility. Capabilities inherit the facility's parameters unless
// they set their own, and the standards list becomes a slice.
func toFacility(f *forgev1alpha1.Facility) resolver.Facility {
	out := resolver.Facility{
		Name:         f.Name,
		Parameters:   facilityParameters(f.Spec.Parameters, nil),
		Capabilities: make([]matching.Capability, 0, len(f.Spec.Capabilities)),
	}
	for _, c := range f.Spec.Capabilities {
		out.Capabilities = append(out.Capabilities, matching.Capability{
			Name:       c.Name,
			Parameters: facilityParameters(f.Spec.Parameters, c.Parameters),
		})
	}
	return out
}

func facilityParameters(inherited, own map[string]string) map[string]any {
	merged := make(map[string]string, len(inherited)+len(own))
	for k, v := range inherited {
		merged[k] = v
	}
	for k, v := range own {
		merged[k] = v
	}
	out := toParameters(merged)
	if v, ok := merged[validation.StandardsParam]; ok {
		var standards []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				standards = append(standards, s)
			}
		}
		out[validation.StandardsParam] = standards
	}
	return out
}

// checkFacility reports the first problem that keeps a facility out of builds.
func checkFacility(f *forgev1alpha1.Facility) error {
	if len(f.Spec.Capabilities) == 0 {
		return errors.New("facility declares no capabilities")
	}
	seen := make(map[string]struct{}, len(f.Spec.Capabilities))
	for i, c := range f.Spec.Capabilities {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return fmt.Errorf("capability %d has no name", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("capability %q declared twice", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// inlineRuleSet converts the rules written in the RuleSet spec.
func inlineRuleSet(spec forgev1alpha1.RuleSetSpec) (rules.RuleSet, error) {
	set := rules.RuleSet{Domain: spec.Domain, Version: spec.Version}
	for _, r := range spec.Rules {
		confidence, err := parseFraction(r.Confidence, 0)
		if err != nil {
			return rules.RuleSet{}, fmt.Errorf("rule %q confidence: %w", r.ID, err)
		}
		set.Rules = append(set.Rules, rules.Rule{
			ID:                    r.ID,
			Capability:            r.Capability,
			SatisfiesRequirements: r.SatisfiesRequirements,
			Confidence:            confidence,
			Domain:                spec.Domain,
			Direction:             rules.Direction(r.Direction),
		})
	}
	return set, nil
}

func sortedFacilityNames(fs []resolver.Facility) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Name)
	}
	sort.Strings(out)
	return out
}
