package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Facility is a place that offers capabilities: a machine shop, a kitchen.
//
// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Namespaced,shortName=fac
// +kubebuilder:printcolumn:name="Domain",type=string,JSONPath=`.spec.domain`
// +kubebuilder:printcolumn:name="Capabilities",type=integer,JSONPath=`.status.capabilityCount`
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`
type Facility struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   FacilitySpec   `json:"spec"`
	Status FacilityStatus `json:"status,omitempty"`
}

type FacilitySpec struct {
	Domain       string           `json:"domain"`
	Capabilities []CapabilitySpec `json:"capabilities"`
	// Parameters describe the facility as a whole, e.g. its certified standards.
	Parameters Parameters `json:"parameters,omitempty"`
}

type CapabilitySpec struct {
	Name       string     `json:"name"`
	Parameters Parameters `json:"parameters,omitempty"`
}

type FacilityStatus struct {
	ObservedGeneration int64  `json:"observedGeneration,omitempty"`
	Phase              string `json:"phase,omitempty"`
	Message            string `json:"message,omitempty"`
	CapabilityCount    int32  `json:"capabilityCount,omitempty"`
}

// +kubebuilder:object:root=true
type FacilityList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Facility `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Facility{}, &FacilityList{})
}
