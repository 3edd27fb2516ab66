package controllers

import (
	"context"
	"testing"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"

	forgev1alpha1 "github.com/anvil-platform/forge/api/v1alpha1"
)

func inlineRuleSetObject() *forgev1alpha1.RuleSet {
	return &forgev1alpha1.RuleSet{
		TypeMeta:   metav1.TypeMeta{APIVersion: "forge.platform/v1alpha1", Kind: "RuleSet"},
		ObjectMeta: metav1.ObjectMeta{Name: "machining", Namespace: testNamespace, Generation: 1},
		Spec: forgev1alpha1.RuleSetSpec{
			Domain:  "manufacturing",
			Version: "1.0.0",
			Rules: []forgev1alpha1.RuleSpec{
				{ID: "cnc-milling", Capability: "cnc machining", SatisfiesRequirements: []string{"milling"}, Confidence: "0.95"},
			},
		},
	}
}

func TestRuleSetReconcile_InstallsInlineRules(t *testing.T) {
	ctx := context.Background()
	scheme := newTestScheme(t)
	rs := inlineRuleSetObject()
	c := newTestClient(scheme, rs)
	eng := newTestEngine(t)
	recorder := record.NewFakeRecorder(10)

	r := &RuleSetReconciler{Client: c, Scheme: scheme, Engine: eng, Recorder: recorder}
	if _, err := r.Reconcile(ctx, ctrl.Request{NamespacedName: types.NamespacedName{Namespace: testNamespace, Name: "machining"}}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if ok, rule := eng.Rules.CanSatisfy("manufacturing", "CNC Machining", "milling"); !ok || rule.ID != "cnc-milling" {
		t.Fatalf("expected cnc-milling to be installed, got ok=%v rule=%+v", ok, rule)
	}

	var got forgev1alpha1.RuleSet
	if err := c.Get(ctx, types.NamespacedName{Namespace: testNamespace, Name: "machining"}, &got); err != nil {
		t.Fatalf("get rule set: %v", err)
	}
	if got.Status.Phase != forgev1alpha1.PhaseReady {
		t.Fatalf("expected phase Ready, got %q (%s)", got.Status.Phase, got.Status.Message)
	}
	if got.Status.ActiveVersion != "1.0.0" || got.Status.RuleCount != 1 {
		t.Fatalf("unexpected status: version=%q rules=%d", got.Status.ActiveVersion, got.Status.RuleCount)
	}
	if !meta.IsStatusConditionTrue(got.Status.Conditions, RuleSetConditionAccepted) {
		t.Fatalf("expected Accepted condition, got %+v", got.Status.Conditions)
	}
	select {
	case e := <-recorder.Events:
		if e != "Normal RulesLoaded Loaded 1 rules at version 1.0.0" {
			t.Fatalf("unexpected event %q", e)
		}
	default:
		t.Fatalf("expected a RulesLoaded event")
	}
}

func TestRuleSetReconcile_ConfigMapSource(t *testing.T) {
	ctx := context.Background()
	scheme := newTestScheme(t)
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "kitchen-rules", Namespace: testNamespace},
		Data: map[string]string{
			defaultRulesKey: `
domain: cooking
version: 2.1.0
rules:
  - id: oven-roast
    capability: oven
    satisfiesRequirements: [roasting, baking]
    confidence: 0.9
`,
		},
	}
	rs := &forgev1alpha1.RuleSet{
		TypeMeta:   metav1.TypeMeta{APIVersion: "forge.platform/v1alpha1", Kind: "RuleSet"},
		ObjectMeta: metav1.ObjectMeta{Name: "kitchen", Namespace: testNamespace},
		Spec: forgev1alpha1.RuleSetSpec{
			Domain:       "cooking",
			ConfigMapRef: &forgev1alpha1.ConfigMapKeyRef{Name: "kitchen-rules"},
		},
	}
	c := newTestClient(scheme, cm, rs)
	eng := newTestEngine(t)

	r := &RuleSetReconciler{Client: c, Scheme: scheme, Engine: eng}
	if _, err := r.Reconcile(ctx, ctrl.Request{NamespacedName: types.NamespacedName{Namespace: testNamespace, Name: "kitchen"}}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if v, ok := eng.Rules.Version("cooking"); !ok || v != "2.1.0" {
		t.Fatalf("expected cooking rules at 2.1.0, got %q (loaded=%v)", v, ok)
	}
	if ok, _ := eng.Rules.CanSatisfy("cooking", "oven", "baking"); !ok {
		t.Fatalf("expected oven to satisfy baking")
	}
}

func TestRuleSetReconcile_InvalidRulesKeepPreviousSet(t *testing.T) {
	ctx := context.Background()
	scheme := newTestScheme(t)
	rs := inlineRuleSetObject()
	c := newTestClient(scheme, rs)
	eng := newTestEngine(t)
	r := &RuleSetReconciler{Client: c, Scheme: scheme, Engine: eng}
	key := types.NamespacedName{Namespace: testNamespace, Name: "machining"}

	if _, err := r.Reconcile(ctx, ctrl.Request{NamespacedName: key}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	var current forgev1alpha1.RuleSet
	if err := c.Get(ctx, key, &current); err != nil {
		t.Fatalf("get rule set: %v", err)
	}
	current.Spec.Version = "2.0.0"
	current.Spec.Rules[0].Confidence = "1.5"
	if err := c.Update(ctx, &current); err != nil {
		t.Fatalf("update rule set: %v", err)
	}
	if _, err := r.Reconcile(ctx, ctrl.Request{NamespacedName: key}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if v, _ := eng.Rules.Version("manufacturing"); v != "1.0.0" {
		t.Fatalf("expected previous version to stay active, got %q", v)
	}
	var got forgev1alpha1.RuleSet
	if err := c.Get(ctx, key, &got); err != nil {
		t.Fatalf("get rule set: %v", err)
	}
	if got.Status.Phase != forgev1alpha1.PhaseError {
		t.Fatalf("expected phase Error, got %q", got.Status.Phase)
	}
	cond := meta.FindStatusCondition(got.Status.Conditions, RuleSetConditionAccepted)
	if cond == nil || cond.Status != metav1.ConditionFalse || cond.Reason != "InvalidSource" {
		t.Fatalf("unexpected Accepted condition: %+v", cond)
	}
}

func TestRuleSetReconcile_UnknownDomain(t *testing.T) {
	ctx := context.Background()
	scheme := newTestScheme(t)
	rs := inlineRuleSetObject()
	rs.Spec.Domain = "textiles"
	c := newTestClient(scheme, rs)
	eng := newTestEngine(t)

	r := &RuleSetReconciler{Client: c, Scheme: scheme, Engine: eng}
	if _, err := r.Reconcile(ctx, ctrl.Request{NamespacedName: types.NamespacedName{Namespace: testNamespace, Name: "machining"}}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if _, ok := eng.Rules.Version("textiles"); ok {
		t.Fatalf("expected no rules for an unknown domain")
	}
	var got forgev1alpha1.RuleSet
	if err := c.Get(ctx, types.NamespacedName{Namespace: testNamespace, Name: "machining"}, &got); err != nil {
		t.Fatalf("get rule set: %v", err)
	}
	if got.Status.Phase != forgev1alpha1.PhaseError {
		t.Fatalf("expected phase Error, got %q", got.Status.Phase)
	}
}

func TestRuleSetReconcile_DeletionRemovesRules(t *testing.T) {
	ctx := context.Background()
	scheme := newTestScheme(t)
	rs := inlineRuleSetObject()
	c := newTestClient(scheme, rs)
	eng := newTestEngine(t)
	r := &RuleSetReconciler{Client: c, Scheme: scheme, Engine: eng}
	key := types.NamespacedName{Namespace: testNamespace, Name: "machining"}

	if _, err := r.Reconcile(ctx, ctrl.Request{NamespacedName: key}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if err := c.Delete(ctx, rs); err != nil {
		t.Fatalf("delete rule set: %v", err)
	}
	if _, err := r.Reconcile(ctx, ctrl.Request{NamespacedName: key}); err != nil {
		t.Fatalf("Reconcile after delete: %v", err)
	}
	if _, ok := eng.Rules.Version("manufacturing"); ok {
		t.Fatalf("expected manufacturing rules to be removed")
	}
}
