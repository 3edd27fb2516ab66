package controllers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/predicate"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	forgev1alpha1 "github.com/anvil-platform/forge/api/v1alpha1"
	"github.com/anvil-platform/forge/internal/domain"
	"github.com/anvil-platform/forge/internal/engine"
	"github.com/anvil-platform/forge/internal/matching"
	"github.com/anvil-platform/forge/internal/resolver"
)

const indexSupplyRequestDomain = ".spec.domain"

// SupplyRequestReconciler resolves SupplyRequests against the Facilities of their
// namespace. Ranked trees go to the request's ConfigMap store; status carries a summary
// and the unresolved requirements.
//
// RBAC:
// +kubebuilder:rbac:groups=forge.platform,resources=supplyrequests,verbs=get;list;watch
// +kubebuilder:rbac:groups=forge.platform,resources=supplyrequests/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=forge.platform,resources=facilities,verbs=get;list;watch
// +kubebuilder:rbac:groups=forge.platform,resources=rulesets,verbs=get;list;watch
// +kubebuilder:rbac:groups="",resources=configmaps,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch;update
type SupplyRequestReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Engine   *engine.Engine
	Recorder record.EventRecorder
}

func (r *SupplyRequestReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	forgeControllerReconcileTotal.WithLabelValues("SupplyRequest").Inc()
	supplyRequestUnresolvedRequired.Set(0)

	logger := log.FromContext(ctx).WithValues(
		"controller", "SupplyRequest",
		"namespace", req.Namespace,
		"supplyRequest", req.Name,
	)

	// 1) Load the request. Its store is garbage-collected through the owner reference.
	var sr forgev1alpha1.SupplyRequest
	if err := r.Get(ctx, req.NamespacedName, &sr); err != nil {
		if client.IgnoreNotFound(err) == nil {
			return ctrl.Result{}, nil
		}
		forgeControllerReconcileErrorTotal.WithLabelValues("SupplyRequest").Inc()
		return ctrl.Result{}, err
	}
	logger = logger.WithValues("domain", sr.Spec.Domain)

	d, err := r.Engine.Domain(sr.Spec.Domain)
	if err != nil {
		r.fail(ctx, &sr, "UnknownDomain", fmt.Sprintf("Domain %q is not configured", sr.Spec.Domain))
		return ctrl.Result{}, nil
	}
	project, err := toProject(&sr, d)
	if err != nil {
		r.fail(ctx, &sr, "InvalidRequest", err.Error())
		return ctrl.Result{}, nil
	}

	// 2) Collect candidate facilities.
	facilities, err := r.candidateFacilities(ctx, &sr)
	if err != nil {
		if errors.Is(err, errInvalidSelector) {
			r.fail(ctx, &sr, "InvalidSelector", err.Error())
			return ctrl.Result{}, nil
		}
		logger.Error(err, "failed to list facilities")
		forgeControllerReconcileErrorTotal.WithLabelValues("SupplyRequest").Inc()
		return ctrl.Result{}, err
	}
	logger.V(1).Info("resolving", "facilities", sortedFacilityNames(facilities))

	// 3) Resolve.
	plan, err := r.Engine.Resolve(ctx, resolver.Input{
		Project:           project,
		Facilities:        facilities,
		ValidationContext: sr.Spec.ValidationContext,
		MaxSolutions:      int(sr.Spec.MaxSolutions),
	})
	if err != nil {
		if errors.Is(err, matching.ErrInvalidInput) {
			r.fail(ctx, &sr, "InvalidRequest", err.Error())
			return ctrl.Result{}, nil
		}
		logger.Error(err, "failed to resolve")
		r.recordEventf(&sr, "Warning", "ResolveFailed", "Failed to resolve: %v", err)
		forgeControllerReconcileErrorTotal.WithLabelValues("SupplyRequest").Inc()
		return ctrl.Result{}, err
	}

	// 4) Store the ranked trees and drop the ones no longer ranked.
	store := &ConfigMapStore{Client: r.Client, Scheme: r.Scheme, Owner: &sr}
	solutions := make([]forgev1alpha1.SolutionStatus, 0, len(plan.Solutions))
	keep := make(map[string]struct{}, len(plan.Solutions))
	for _, sol := range plan.Solutions {
		ref, err := store.Put(ctx, sol.Tree)
		if err != nil {
			logger.Error(err, "failed to store supply tree", "tree", sol.Tree.ID)
			forgeControllerReconcileErrorTotal.WithLabelValues("SupplyRequest").Inc()
			return ctrl.Result{}, err
		}
		keep[sol.Tree.ID] = struct{}{}
		solutions = append(solutions, solutionStatus(sol, ref))
	}
	if len(plan.Solutions) > 0 {
		supplyRequestTreesStoredTotal.Add(float64(len(plan.Solutions)))
	}
	pruned, err := store.Prune(ctx, keep)
	if err != nil {
		logger.Error(err, "failed to prune tree store")
		forgeControllerReconcileErrorTotal.WithLabelValues("SupplyRequest").Inc()
		return ctrl.Result{}, err
	}
	if len(pruned) > 0 {
		supplyRequestTreesPrunedTotal.Add(float64(len(pruned)))
		logger.Info("pruned stale trees", "trees", pruned)
	}

	// 5) Surface the outcome in status.
	supplyRequestUnresolvedRequired.Set(float64(len(plan.Diagnostics.UnresolvedRequired)))
	prevPhase := sr.Status.Phase
	before := sr.DeepCopy()
	now := metav1.Now()
	sr.Status.Solutions = solutions
	sr.Status.SolutionCount = int32(len(solutions))
	sr.Status.UnresolvedRequired = requirementIssues(plan.Diagnostics.UnresolvedRequired)
	sr.Status.UnresolvedOptional = requirementIssues(plan.Diagnostics.UnresolvedOptional)
	sr.Status.RejectedCount = int32(len(plan.Diagnostics.Rejected))
	sr.Status.LastResolvedTime = &now

	validated := validatedCondition(&sr, plan)
	switch {
	case len(plan.Diagnostics.UnresolvedRequired) > 0:
		msg := summarizeUnresolved(plan.Diagnostics.UnresolvedRequired)
		if perr := r.patchSupplyRequestStatus(ctx, &sr, before, forgev1alpha1.PhaseError, msg,
			metav1.Condition{
				Type:    SupplyRequestConditionMatched,
				Status:  metav1.ConditionFalse,
				Reason:  "UnresolvedRequired",
				Message: msg,
			},
			validated,
		); perr != nil {
			logger.Error(perr, "failed to patch supply request status")
		}
		logger.Info("unresolved required requirements", "count", len(plan.Diagnostics.UnresolvedRequired))
		r.recordEventf(&sr, "Warning", "UnresolvedRequirements", "%s", msg)
		return ctrl.Result{}, nil

	case len(solutions) == 0:
		msg := fmt.Sprintf("All %d candidates failed validation under %q", len(plan.Diagnostics.Rejected), sr.Spec.ValidationContext)
		if perr := r.patchSupplyRequestStatus(ctx, &sr, before, forgev1alpha1.PhaseError, msg,
			metav1.Condition{
				Type:    SupplyRequestConditionMatched,
				Status:  metav1.ConditionTrue,
				Reason:  "Matched",
				Message: "Every required requirement has a facility",
			},
			validated,
		); perr != nil {
			logger.Error(perr, "failed to patch supply request status")
		}
		if prevPhase != forgev1alpha1.PhaseError {
			r.recordEventf(&sr, "Warning", "NoValidSolution", "%s", msg)
		}
		return ctrl.Result{}, nil
	}

	message := fmt.Sprintf("%d solutions; best uses %s", len(solutions), strings.Join(solutions[0].Facilities, ", "))
	if n := len(plan.Diagnostics.UnresolvedOptional); n > 0 {
		message = fmt.Sprintf("%s (%d optional unresolved)", message, n)
	}
	if perr := r.patchSupplyRequestStatus(ctx, &sr, before, forgev1alpha1.PhaseReady, message,
		metav1.Condition{
			Type:    SupplyRequestConditionMatched,
			Status:  metav1.ConditionTrue,
			Reason:  "Matched",
			Message: message,
		},
		validated,
	); perr != nil {
		logger.Error(perr, "failed to patch supply request status")
	}
	logger.Info("supply request resolved", "solutions", len(solutions), "rejected", len(plan.Diagnostics.Rejected))
	if prevPhase != forgev1alpha1.PhaseReady {
		r.recordEventf(&sr, "Normal", "Resolved", "%s", message)
	}
	return ctrl.Result{}, nil
}

var errInvalidSelector = errors.New("invalid facility selector")

// candidateFacilities lists the namespace's facilities of the request's domain that
// match the selector and pass the facility checks, ordered by name.
func (r *SupplyRequestReconciler) candidateFacilities(ctx context.Context, sr *forgev1alpha1.SupplyRequest) ([]resolver.Facility, error) {
	selector := labels.Everything()
	if sr.Spec.FacilitySelector != nil {
		s, err := metav1.LabelSelectorAsSelector(sr.Spec.FacilitySelector)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errInvalidSelector, err)
		}
		selector = s
	}
	var list forgev1alpha1.FacilityList
	if err := r.List(ctx, &list,
		client.InNamespace(sr.Namespace),
		client.MatchingLabelsSelector{Selector: selector},
	); err != nil {
		return nil, err
	}
	key := domain.Key(sr.Spec.Domain)
	out := make([]resolver.Facility, 0, len(list.Items))
	for i := range list.Items {
		f := &list.Items[i]
		if domain.Key(f.Spec.Domain) != key || checkFacility(f) != nil {
			continue
		}
		out = append(out, toFacility(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func solutionStatus(sol resolver.Solution, ref string) forgev1alpha1.SolutionStatus {
	out := forgev1alpha1.SolutionStatus{
		Name:                sol.Tree.ID,
		Facilities:          sol.Tree.Facilities(),
		AggregateConfidence: strconv.FormatFloat(sol.Tree.AggregateConfidence, 'f', 3, 64),
		NodeCount:           int32(sol.Tree.NodeCount()),
		StoreRef:            ref,
	}
	if sol.Outcome != nil {
		valid := sol.Outcome.Valid
		out.Valid = &valid
	}
	return out
}

func requirementIssues(in []resolver.UnresolvedRequirement) []forgev1alpha1.RequirementIssue {
	if len(in) == 0 {
		return nil
	}
	out := make([]forgev1alpha1.RequirementIssue, 0, len(in))
	for _, u := range in {
		out = append(out, forgev1alpha1.RequirementIssue{Requirement: u.Requirement, Reason: u.Reason})
	}
	return out
}

func validatedCondition(sr *forgev1alpha1.SupplyRequest, plan resolver.Plan) metav1.Condition {
	if sr.Spec.ValidationContext == "" {
		return metav1.Condition{
			Type:    SupplyRequestConditionValidated,
			Status:  metav1.ConditionTrue,
			Reason:  "NoContext",
			Message: "No validation context requested",
		}
	}
	rejected := len(plan.Diagnostics.Rejected)
	if len(plan.Solutions) == 0 && rejected > 0 {
		return metav1.Condition{
			Type:    SupplyRequestConditionValidated,
			Status:  metav1.ConditionFalse,
			Reason:  "AllRejected",
			Message: fmt.Sprintf("%d candidates rejected under %q", rejected, sr.Spec.ValidationContext),
		}
	}
	return metav1.Condition{
		Type:    SupplyRequestConditionValidated,
		Status:  metav1.ConditionTrue,
		Reason:  "Validated",
		Message: fmt.Sprintf("%d accepted, %d rejected under %q", len(plan.Solutions), rejected, sr.Spec.ValidationContext),
	}
}

func (r *SupplyRequestReconciler) fail(ctx context.Context, sr *forgev1alpha1.SupplyRequest, reason, message string) {
	prevPhase := sr.Status.Phase
	before := sr.DeepCopy()
	if perr := r.patchSupplyRequestStatus(ctx, sr, before, forgev1alpha1.PhaseError, message,
		metav1.Condition{
			Type:    SupplyRequestConditionMatched,
			Status:  metav1.ConditionFalse,
			Reason:  reason,
			Message: message,
		},
	); perr != nil {
		log.FromContext(ctx).Error(perr, "failed to patch supply request status")
	}
	if prevPhase != forgev1alpha1.PhaseError {
		r.recordEventf(sr, "Warning", reason, "%s", message)
	}
}

func (r *SupplyRequestReconciler) recordEventf(obj client.Object, eventType, reason, messageFmt string, args ...any) {
	if r.Recorder == nil || obj == nil {
		return
	}
	r.Recorder.Eventf(obj, eventType, reason, messageFmt, args...)
}

func (r *SupplyRequestReconciler) patchSupplyRequestStatus(ctx context.Context, sr, before *forgev1alpha1.SupplyRequest, phase, message string, conds ...metav1.Condition) error {
	sr.Status.ObservedGeneration = sr.Generation
	sr.Status.Phase = phase
	sr.Status.Message = message
	for _, c := range conds {
		setSupplyRequestCondition(sr, c)
	}
	return r.Status().Patch(ctx, sr, client.MergeFrom(before))
}

func summarizeUnresolved(reqs []resolver.UnresolvedRequirement) string {
	// Keep this human-readable and bounded.
	if len(reqs) == 0 {
		return ""
	}
	max := 4
	parts := make([]string, 0, min(len(reqs), max))
	for i := 0; i < len(reqs) && i < max; i++ {
		parts = append(parts, fmt.Sprintf("%s (%s)", reqs[i].Requirement, reqs[i].Reason))
	}
	if len(reqs) > max {
		parts = append(parts, fmt.Sprintf("...and %d more", len(reqs)-max))
	}
	return "Unresolved: " + strings.Join(parts, "; ")
}

func (r *SupplyRequestReconciler) SetupWithManager(mgr ctrl.Manager) error {
	if err := mgr.GetFieldIndexer().IndexField(context.Background(), &forgev1alpha1.SupplyRequest{}, indexSupplyRequestDomain, func(obj client.Object) []string {
		sr, ok := obj.(*forgev1alpha1.SupplyRequest)
		if !ok || sr.Spec.Domain == "" {
			return nil
		}
		return []string{domain.Key(sr.Spec.Domain)}
	}); err != nil {
		return err
	}

	return ctrl.NewControllerManagedBy(mgr).
		For(&forgev1alpha1.SupplyRequest{}, builder.WithPredicates(predicate.GenerationChangedPredicate{})).
		Owns(&corev1.ConfigMap{}).
		Watches(&forgev1alpha1.Facility{}, enqueueRequestsForDomain(mgr.GetClient(), true, func(obj client.Object) string {
			if f, ok := obj.(*forgev1alpha1.Facility); ok {
				return f.Spec.Domain
			}
			return ""
		})).
		// Rules are shared by every namespace. Status patches after a reload also land
		// here, so requests re-resolve once the new rules are installed.
		Watches(&forgev1alpha1.RuleSet{}, enqueueRequestsForDomain(mgr.GetClient(), false, func(obj client.Object) string {
			if rs, ok := obj.(*forgev1alpha1.RuleSet); ok {
				return rs.Spec.Domain
			}
			return ""
		})).
		Complete(r)
}

// enqueueRequestsForDomain re-resolves every SupplyRequest that shares the object's
// domain, limited to the object's namespace when namespaced is set.
func enqueueRequestsForDomain(c client.Client, namespaced bool, domainOf func(client.Object) string) handler.EventHandler {
	return handler.EnqueueRequestsFromMapFunc(func(ctx context.Context, obj client.Object) []reconcile.Request {
		key := domain.Key(domainOf(obj))
		if key == "" {
			return nil
		}
		opts := []client.ListOption{client.MatchingFields{indexSupplyRequestDomain: key}}
		if namespaced {
			opts = append(opts, client.InNamespace(obj.GetNamespace()))
		}
		var requests forgev1alpha1.SupplyRequestList
		if err := c.List(ctx, &requests, opts...); err != nil {
			return nil
		}
		out := make([]reconcile.Request, 0, len(requests.Items))
		for i := range requests.Items {
			s := &requests.Items[i]
			out = append(out, reconcile.Request{NamespacedName: types.NamespacedName{Namespace: s.Namespace, Name: s.Name}})
		}
		return out
	})
}
