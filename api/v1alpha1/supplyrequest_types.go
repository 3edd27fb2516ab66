package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// SupplyRequest asks the operator to find facilities that can carry out a project.
// The ranked solutions are summarized in status; full supply trees are stored in a
// ConfigMap owned by the request.
//
// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Namespaced,shortName=sr
// +kubebuilder:printcolumn:name="Domain",type=string,JSONPath=`.spec.domain`
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Solutions",type=integer,JSONPath=`.status.solutionCount`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`
type SupplyRequest struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   SupplyRequestSpec   `json:"spec"`
	Status SupplyRequestStatus `json:"status,omitempty"`
}

type SupplyRequestSpec struct {
	Domain       string            `json:"domain"`
	Requirements []RequirementSpec `json:"requirements"`
	// GlobalRequirements apply to a solution as a whole.
	GlobalRequirements []ProcessRequirementSpec `json:"globalRequirements,omitempty"`

	// FacilitySelector picks candidate facilities in the namespace. Nil selects every
	// facility of the domain.
	FacilitySelector *metav1.LabelSelector `json:"facilitySelector,omitempty"`

	// ValidationContext validates every candidate; failing ones are rejected.
	ValidationContext string `json:"validationContext,omitempty"`
	DefaultContext    string `json:"defaultContext,omitempty"`

	// MaxSolutions caps the stored solutions. Zero uses the operator default.
	// +kubebuilder:validation:Minimum=0
	MaxSolutions int32 `json:"maxSolutions,omitempty"`
}

type RequirementSpec struct {
	Name     string   `json:"name"`
	Optional bool     `json:"optional,omitempty"`
	After    []string `json:"after,omitempty"`
	// Produces is the item type handed to later steps. Defaults to the name.
	Produces      string                  `json:"produces,omitempty"`
	Parameters    Parameters              `json:"parameters,omitempty"`
	Specification *SpecificationSpec      `json:"specification,omitempty"`
	Validation    []ValidationContextSpec `json:"validation,omitempty"`
}

type ProcessRequirementSpec struct {
	Name          string                  `json:"name"`
	Specification *SpecificationSpec      `json:"specification,omitempty"`
	Validation    []ValidationContextSpec `json:"validation,omitempty"`
}

type SolutionStatus struct {
	// Name is the supply tree id and the key of the tree in the store.
	Name       string   `json:"name"`
	Facilities []string `json:"facilities"`
	// AggregateConfidence is formatted with three decimals.
	AggregateConfidence string `json:"aggregateConfidence"`
	NodeCount           int32  `json:"nodeCount"`
	Valid               *bool  `json:"valid,omitempty"`
	StoreRef            string `json:"storeRef,omitempty"`
}

type RequirementIssue struct {
	Requirement string `json:"requirement"`
	Reason      string `json:"reason"`
}

type SupplyRequestStatus struct {
	ObservedGeneration int64              `json:"observedGeneration,omitempty"`
	Phase              string             `json:"phase,omitempty"`
	Message            string             `json:"message,omitempty"`
	SolutionCount      int32              `json:"solutionCount,omitempty"`
	Solutions          []SolutionStatus   `json:"solutions,omitempty"`
	UnresolvedRequired []RequirementIssue `json:"unresolvedRequired,omitempty"`
	UnresolvedOptional []RequirementIssue `json:"unresolvedOptional,omitempty"`
	RejectedCount      int32              `json:"rejectedCount,omitempty"`
	LastResolvedTime   *metav1.Time       `json:"lastResolvedTime,omitempty"`
	Conditions         []metav1.Condition `json:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
type SupplyRequestList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []SupplyRequest `json:"items"`
}

func init() {
	SchemeBuilder.Register(&SupplyRequest{}, &SupplyRequestList{})
}
