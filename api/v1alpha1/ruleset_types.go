package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// RuleSet declares the heuristic rules of one domain. Rules are given inline or loaded
// from a ConfigMap holding the YAML rule file.
//
// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Namespaced,shortName=rs
// +kubebuilder:printcolumn:name="Domain",type=string,JSONPath=`.spec.domain`
// +kubebuilder:printcolumn:name="Version",type=string,JSONPath=`.status.activeVersion`
// +kubebuilder:printcolumn:name="Rules",type=integer,JSONPath=`.status.ruleCount`
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`
type RuleSet struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   RuleSetSpec   `json:"spec"`
	Status RuleSetStatus `json:"status,omitempty"`
}

type RuleSetSpec struct {
	Domain string `json:"domain"`
	// Version is a semantic version. Inline sets require it; ConfigMap sets may carry
	// their own.
	Version string `json:"version,omitempty"`

	Rules []RuleSpec `json:"rules,omitempty"`

	// ConfigMapRef, when set, takes precedence over inline rules.
	ConfigMapRef *ConfigMapKeyRef `json:"configMapRef,omitempty"`
}

type RuleSpec struct {
	ID                    string   `json:"id"`
	Capability            string   `json:"capability"`
	SatisfiesRequirements []string `json:"satisfiesRequirements"`
	// Confidence is a decimal in [0,1].
	// +kubebuilder:validation:Pattern=`^(0(\.[0-9]+)?|1(\.0+)?)$`
	Confidence string `json:"confidence"`
	// +kubebuilder:validation:Enum=forward;reverse;bidirectional
	Direction string `json:"direction,omitempty"`
}

type RuleSetStatus struct {
	ObservedGeneration int64              `json:"observedGeneration,omitempty"`
	Phase              string             `json:"phase,omitempty"`
	Message            string             `json:"message,omitempty"`
	ActiveVersion      string             `json:"activeVersion,omitempty"`
	RuleCount          int32              `json:"ruleCount,omitempty"`
	Conditions         []metav1.Condition `json:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
type RuleSetList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []RuleSet `json:"items"`
}

func init() {
	SchemeBuilder.Register(&RuleSet{}, &RuleSetList{})
}
