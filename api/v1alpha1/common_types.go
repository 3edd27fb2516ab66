package v1alpha1

// Phases shared by every kind.
const (
	PhasePending = "Pending"
	PhaseReady   = "Ready"
	PhaseError   = "Error"
)

// Parameters are string-valued on the API. Numeric and boolean strings are interpreted
// as numbers and booleans when matched and validated.
type Parameters map[string]string

// ConfigMapKeyRef points at one key of a ConfigMap in the object's namespace.
type ConfigMapKeyRef struct {
	Name string `json:"name"`
	// Key defaults to "rules.yaml".
	Key string `json:"key,omitempty"`
}

// SpecificationSpec is the parameter specification a step must meet. Exact values must be
// equal; constraints are numeric comparisons ("<= 0.01") or semver ranges.
type SpecificationSpec struct {
	Exact       map[string]string `json:"exact,omitempty"`
	Constraints map[string]string `json:"constraints,omitempty"`
}

// ValidationContextSpec configures how a requirement is checked under one context.
type ValidationContextSpec struct {
	// Name identifies the context, e.g. "aerospace" or "home-kitchen".
	Name string `json:"name"`
	// Domain restricts the context to trees of that domain.
	Domain             string            `json:"domain,omitempty"`
	Standards          []string          `json:"standards,omitempty"`
	AcceptanceCriteria map[string]string `json:"acceptanceCriteria,omitempty"`
	// Procedures name checks registered with the operator.
	Procedures []string `json:"procedures,omitempty"`

	// Severity is a decimal in [0,1]; 1 always blocks. Defaults to 0.5.
	// +kubebuilder:validation:Pattern=`^(0(\.[0-9]+)?|1(\.0+)?)$`
	Severity           string   `json:"severity,omitempty"`
	Blocking           bool     `json:"blocking,omitempty"`
	RemediationOptions []string `json:"remediationOptions,omitempty"`
	RerouteOptions     []string `json:"rerouteOptions,omitempty"`
}
