package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func copyStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyConditions(in []metav1.Condition) []metav1.Condition {
	if in == nil {
		return nil
	}
	out := make([]metav1.Condition, len(in))
	for i := range in {
		in[i].DeepCopyInto(&out[i])
	}
	return out
}

func copyValidation(in []ValidationContextSpec) []ValidationContextSpec {
	if in == nil {
		return nil
	}
	out := make([]ValidationContextSpec, len(in))
	for i := range in {
		in[i].DeepCopyInto(&out[i])
	}
	return out
}

// DeepCopyInto copies the receiver, writing into out.
func (in Parameters) DeepCopyInto(out *Parameters) {
	*out = copyStringMap(in)
}

// DeepCopy copies the receiver, creating a new Parameters.
func (in Parameters) DeepCopy() Parameters {
	if in == nil {
		return nil
	}
	out := new(Parameters)
	in.DeepCopyInto(out)
	return *out
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *SpecificationSpec) DeepCopyInto(out *SpecificationSpec) {
	*out = *in
	out.Exact = copyStringMap(in.Exact)
	out.Constraints = copyStringMap(in.Constraints)
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *ValidationContextSpec) DeepCopyInto(out *ValidationContextSpec) {
	*out = *in
	out.Standards = copyStrings(in.Standards)
	out.AcceptanceCriteria = copyStringMap(in.AcceptanceCriteria)
	out.Procedures = copyStrings(in.Procedures)
	out.RemediationOptions = copyStrings(in.RemediationOptions)
	out.RerouteOptions = copyStrings(in.RerouteOptions)
}

// RuleSet

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *RuleSet) DeepCopyInto(out *RuleSet) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	in.Spec.DeepCopyInto(&out.Spec)
	in.Status.DeepCopyInto(&out.Status)
}

// DeepCopy copies the receiver, creating a new RuleSet.
func (in *RuleSet) DeepCopy() *RuleSet {
	if in == nil {
		return nil
	}
	out := new(RuleSet)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyObject copies the receiver, creating a new runtime.Object.
func (in *RuleSet) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *RuleSetList) DeepCopyInto(out *RuleSetList) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ListMeta.DeepCopyInto(&out.ListMeta)
	if in.Items != nil {
		out.Items = make([]RuleSet, len(in.Items))
		for i := range in.Items {
			in.Items[i].DeepCopyInto(&out.Items[i])
		}
	}
}

// DeepCopy copies the receiver, creating a new RuleSetList.
func (in *RuleSetList) DeepCopy() *RuleSetList {
	if in == nil {
		return nil
	}
	out := new(RuleSetList)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyObject copies the receiver, creating a new runtime.Object.
func (in *RuleSetList) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *RuleSetSpec) DeepCopyInto(out *RuleSetSpec) {
	*out = *in
	if in.Rules != nil {
		out.Rules = make([]RuleSpec, len(in.Rules))
		for i := range in.Rules {
			in.Rules[i].DeepCopyInto(&out.Rules[i])
		}
	}
	if in.ConfigMapRef != nil {
		ref := *in.ConfigMapRef
		out.ConfigMapRef = &ref
	}
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *RuleSpec) DeepCopyInto(out *RuleSpec) {
	*out = *in
	out.SatisfiesRequirements = copyStrings(in.SatisfiesRequirements)
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *RuleSetStatus) DeepCopyInto(out *RuleSetStatus) {
	*out = *in
	out.Conditions = copyConditions(in.Conditions)
}

// Facility

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *Facility) DeepCopyInto(out *Facility) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	in.Spec.DeepCopyInto(&out.Spec)
	out.Status = in.Status
}

// DeepCopy copies the receiver, creating a new Facility.
func (in *Facility) DeepCopy() *Facility {
	if in == nil {
		return nil
	}
	out := new(Facility)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyObject copies the receiver, creating a new runtime.Object.
func (in *Facility) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *FacilityList) DeepCopyInto(out *FacilityList) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ListMeta.DeepCopyInto(&out.ListMeta)
	if in.Items != nil {
		out.Items = make([]Facility, len(in.Items))
		for i := range in.Items {
			in.Items[i].DeepCopyInto(&out.Items[i])
		}
	}
}

// DeepCopy copies the receiver, creating a new FacilityList.
func (in *FacilityList) DeepCopy() *FacilityList {
	if in == nil {
		return nil
	}
	out := new(FacilityList)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyObject copies the receiver, creating a new runtime.Object.
func (in *FacilityList) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *FacilitySpec) DeepCopyInto(out *FacilitySpec) {
	*out = *in
	if in.Capabilities != nil {
		out.Capabilities = make([]CapabilitySpec, len(in.Capabilities))
		for i := range in.Capabilities {
			in.Capabilities[i].DeepCopyInto(&out.Capabilities[i])
		}
	}
	out.Parameters = in.Parameters.DeepCopy()
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *CapabilitySpec) DeepCopyInto(out *CapabilitySpec) {
	*out = *in
	out.Parameters = in.Parameters.DeepCopy()
}

// SupplyRequest

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *SupplyRequest) DeepCopyInto(out *SupplyRequest) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	in.Spec.DeepCopyInto(&out.Spec)
	in.Status.DeepCopyInto(&out.Status)
}

// DeepCopy copies the receiver, creating a new SupplyRequest.
func (in *SupplyRequest) DeepCopy() *SupplyRequest {
	if in == nil {
		return nil
	}
	out := new(SupplyRequest)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyObject copies the receiver, creating a new runtime.Object.
func (in *SupplyRequest) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *SupplyRequestList) DeepCopyInto(out *SupplyRequestList) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ListMeta.DeepCopyInto(&out.ListMeta)
	if in.Items != nil {
		out.Items = make([]SupplyRequest, len(in.Items))
		for i := range in.Items {
			in.Items[i].DeepCopyInto(&out.Items[i])
		}
	}
}

// DeepCopy copies the receiver, creating a new SupplyRequestList.
func (in *SupplyRequestList) DeepCopy() *SupplyRequestList {
	if in == nil {
		return nil
	}
	out := new(SupplyRequestList)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyObject copies the receiver, creating a new runtime.Object.
func (in *SupplyRequestList) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *SupplyRequestSpec) DeepCopyInto(out *SupplyRequestSpec) {
	*out = *in
	if in.Requirements != nil {
		out.Requirements = make([]RequirementSpec, len(in.Requirements))
		for i := range in.Requirements {
			in.Requirements[i].DeepCopyInto(&out.Requirements[i])
		}
	}
	if in.GlobalRequirements != nil {
		out.GlobalRequirements = make([]ProcessRequirementSpec, len(in.GlobalRequirements))
		for i := range in.GlobalRequirements {
			in.GlobalRequirements[i].DeepCopyInto(&out.GlobalRequirements[i])
		}
	}
	if in.FacilitySelector != nil {
		out.FacilitySelector = in.FacilitySelector.DeepCopy()
	}
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *RequirementSpec) DeepCopyInto(out *RequirementSpec) {
	*out = *in
	out.After = copyStrings(in.After)
	out.Parameters = in.Parameters.DeepCopy()
	if in.Specification != nil {
		out.Specification = new(SpecificationSpec)
		in.Specification.DeepCopyInto(out.Specification)
	}
	out.Validation = copyValidation(in.Validation)
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *ProcessRequirementSpec) DeepCopyInto(out *ProcessRequirementSpec) {
	*out = *in
	if in.Specification != nil {
		out.Specification = new(SpecificationSpec)
		in.Specification.DeepCopyInto(out.Specification)
	}
	out.Validation = copyValidation(in.Validation)
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *SolutionStatus) DeepCopyInto(out *SolutionStatus) {
	*out = *in
	out.Facilities = copyStrings(in.Facilities)
	if in.Valid != nil {
		v := *in.Valid
		out.Valid = &v
	}
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *SupplyRequestStatus) DeepCopyInto(out *SupplyRequestStatus) {
	*out = *in
	if in.Solutions != nil {
		out.Solutions = make([]SolutionStatus, len(in.Solutions))
		for i := range in.Solutions {
			in.Solutions[i].DeepCopyInto(&out.Solutions[i])
		}
	}
	if in.UnresolvedRequired != nil {
		out.UnresolvedRequired = append([]RequirementIssue(nil), in.UnresolvedRequired...)
	}
	if in.UnresolvedOptional != nil {
		out.UnresolvedOptional = append([]RequirementIssue(nil), in.UnresolvedOptional...)
	}
	if in.LastResolvedTime != nil {
		out.LastResolvedTime = in.LastResolvedTime.DeepCopy()
	}
	out.Conditions = copyConditions(in.Conditions)
}
