package controllers

import (
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	forgev1alpha1 "github.com/anvil-platform/forge/api/v1alpha1"
)

const (
	RuleSetConditionAccepted = "Accepted"

	SupplyRequestConditionMatched   = "Matched"
	SupplyRequestConditionValidated = "Validated"
)

func setRuleSetCondition(rs *forgev1alpha1.RuleSet, condition metav1.Condition) {
	if rs == nil {
		return
	}
	condition.ObservedGeneration = rs.Generation
	meta.SetStatusCondition(&rs.Status.Conditions, condition)
}

func setSupplyRequestCondition(sr *forgev1alpha1.SupplyRequest, condition metav1.Condition) {
	if sr == nil {
		return
	}
	condition.ObservedGeneration = sr.Generation
	meta.SetStatusCondition(&sr.Status.Conditions, condition)
}
