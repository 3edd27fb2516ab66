package rules

import (
	"fmt"
	"strings"
)

// Direction controls which side of a comparison a rule's Capability refers to.
type Direction string

const (
	// Forward: the queried capability is the rule's capability and the queried
	// requirement must be in SatisfiesRequirements.
	Forward Direction = "forward"
	// Reverse inverts the roles: the queried requirement is the rule's capability.
	Reverse Direction = "reverse"
	// Bidirectional accepts either orientation.
	Bidirectional Direction = "bidirectional"
)

// Rule declares which requirements one capability can satisfy.
type Rule struct {
	ID                    string    `json:"id" validate:"required"`
	Capability            string    `json:"capability" validate:"required"`
	SatisfiesRequirements []string  `json:"satisfiesRequirements" validate:"required,min=1,dive,required"`
	Confidence            float64   `json:"confidence" validate:"gte=0,lte=1"`
	Domain                string    `json:"domain,omitempty"`
	Direction             Direction `json:"direction,omitempty" validate:"omitempty,oneof=forward reverse bidirectional"`
}

// EffectiveDirection returns the rule direction, defaulting to Forward.
func (r Rule) EffectiveDirection() Direction {
	if r.Direction == "" {
		return Forward
	}
	return r.Direction
}

// RuleSet is the unit of loading: every rule of one domain at one version.
type RuleSet struct {
	Domain  string `json:"domain" validate:"required"`
	Version string `json:"version" validate:"required"`
	Rules   []Rule `json:"rules" validate:"dive"`
}

// ConfigurationError reports a rule set that failed validation on load or reload.
// The previously active rule set for the domain stays in force.
type ConfigurationError struct {
	Domain string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("rules: invalid rule set for domain %q: %v", e.Domain, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func summarize(problems []string) string {
	const max = 5
	if len(problems) <= max {
		return strings.Join(problems, "; ")
	}
	return fmt.Sprintf("%s; ...and %d more", strings.Join(problems[:max], "; "), len(problems)-max)
}
