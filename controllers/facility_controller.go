package controllers

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	forgev1alpha1 "github.com/anvil-platform/forge/api/v1alpha1"
	"github.com/anvil-platform/forge/internal/engine"
)

// FacilityReconciler checks Facilities and publishes their capability count. Facilities
// failing these checks are left out of builds.
//
// RBAC:
// +kubebuilder:rbac:groups=forge.platform,resources=facilities,verbs=get;list;watch
// +kubebuilder:rbac:groups=forge.platform,resources=facilities/status,verbs=get;update;patch
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch;update
type FacilityReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Engine   *engine.Engine
	Recorder record.EventRecorder
}

func (r *FacilityReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	forgeControllerReconcileTotal.WithLabelValues("Facility").Inc()

	logger := log.FromContext(ctx).WithValues(
		"controller", "Facility",
		"namespace", req.Namespace,
		"facility", req.Name,
	)

	var f forgev1alpha1.Facility
	if err := r.Get(ctx, req.NamespacedName, &f); err != nil {
		if client.IgnoreNotFound(err) == nil {
			return ctrl.Result{}, nil
		}
		forgeControllerReconcileErrorTotal.WithLabelValues("Facility").Inc()
		return ctrl.Result{}, err
	}

	phase, message := forgev1alpha1.PhaseReady, fmt.Sprintf("%d capabilities", len(f.Spec.Capabilities))
	if _, err := r.Engine.Domain(f.Spec.Domain); err != nil {
		phase, message = forgev1alpha1.PhaseError, fmt.Sprintf("Domain %q is not configured", f.Spec.Domain)
	} else if err := checkFacility(&f); err != nil {
		phase, message = forgev1alpha1.PhaseError, err.Error()
	}

	prevPhase := f.Status.Phase
	before := f.DeepCopy()
	f.Status.ObservedGeneration = f.Generation
	f.Status.Phase = phase
	f.Status.Message = message
	f.Status.CapabilityCount = int32(len(f.Spec.Capabilities))
	if err := r.Status().Patch(ctx, &f, client.MergeFrom(before)); err != nil {
		logger.Error(err, "failed to patch facility status")
		forgeControllerReconcileErrorTotal.WithLabelValues("Facility").Inc()
		return ctrl.Result{}, err
	}
	if prevPhase != phase {
		if phase == forgev1alpha1.PhaseError {
			r.recordEventf(&f, "Warning", "InvalidFacility", "%s", message)
		} else {
			r.recordEventf(&f, "Normal", "FacilityReady", "%s", message)
		}
	}
	logger.V(1).Info("facility reconciled", "phase", phase)
	return ctrl.Result{}, nil
}

func (r *FacilityReconciler) recordEventf(obj client.Object, eventType, reason, messageFmt string, args ...any) {
	if r.Recorder == nil || obj == nil {
		return
	}
	r.Recorder.Eventf(obj, eventType, reason, messageFmt, args...)
}

func (r *FacilityReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&forgev1alpha1.Facility{}, builder.WithPredicates(predicate.GenerationChangedPredicate{})).
		Complete(r)
}
