package controllers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
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
	"github.com/anvil-platform/forge/internal/metrics"
	"github.com/anvil-platform/forge/internal/rules"
)

const indexRuleSetConfigMap = ".spec.configMapRef.name"

// errRuleSource marks problems with the RuleSet itself; they are reported in status and
// not retried until the object changes.
var errRuleSource = errors.New("invalid rule source")

// RuleSetReconciler installs RuleSets into the engine's rule table. The last reconciled
// RuleSet of a domain wins; deleting it restores the domain's configured rules file.
//
// RBAC:
// +kubebuilder:rbac:groups=forge.platform,resources=rulesets,verbs=get;list;watch
// +kubebuilder:rbac:groups=forge.platform,resources=rulesets/status,verbs=get;update;patch
// +kubebuilder:rbac:groups="",resources=configmaps,verbs=get;list;watch
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch;update
type RuleSetReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Engine   *engine.Engine
	Recorder record.EventRecorder

	mu      sync.Mutex
	applied map[types.NamespacedName]string
}

func (r *RuleSetReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	forgeControllerReconcileTotal.WithLabelValues("RuleSet").Inc()

	logger := log.FromContext(ctx).WithValues(
		"controller", "RuleSet",
		"namespace", req.Namespace,
		"ruleSet", req.Name,
	)

	var rs forgev1alpha1.RuleSet
	if err := r.Get(ctx, req.NamespacedName, &rs); err != nil {
		if client.IgnoreNotFound(err) != nil {
			forgeControllerReconcileErrorTotal.WithLabelValues("RuleSet").Inc()
			return ctrl.Result{}, err
		}
		if err := r.release(ctx, req.NamespacedName); err != nil {
			logger.Error(err, "failed to restore rules after deletion")
			forgeControllerReconcileErrorTotal.WithLabelValues("RuleSet").Inc()
			return ctrl.Result{}, err
		}
		return ctrl.Result{}, nil
	}
	key := domain.Key(rs.Spec.Domain)
	logger = logger.WithValues("domain", key)

	if _, err := r.Engine.Domain(key); err != nil {
		msg := fmt.Sprintf("Domain %q is not configured", rs.Spec.Domain)
		r.reject(ctx, &rs, "UnknownDomain", msg)
		logger.Info("rule set names an unknown domain")
		return ctrl.Result{}, nil
	}

	set, err := r.ruleSource(ctx, &rs)
	if err != nil {
		if errors.Is(err, errRuleSource) {
			r.reject(ctx, &rs, "InvalidSource", err.Error())
			metrics.RuleSetLoadTotal.WithLabelValues(key, metrics.ResultError).Inc()
			return ctrl.Result{}, nil
		}
		logger.Error(err, "failed to read rule source")
		forgeControllerReconcileErrorTotal.WithLabelValues("RuleSet").Inc()
		return ctrl.Result{}, err
	}

	if err := r.Engine.Rules.Reload(ctx, key, rules.StaticSource(set)); err != nil {
		metrics.RuleSetLoadTotal.WithLabelValues(key, metrics.ResultError).Inc()
		var cfgErr *rules.ConfigurationError
		if errors.As(err, &cfgErr) {
			r.reject(ctx, &rs, "InvalidRules", err.Error())
			return ctrl.Result{}, nil
		}
		logger.Error(err, "failed to install rules")
		forgeControllerReconcileErrorTotal.WithLabelValues("RuleSet").Inc()
		return ctrl.Result{}, err
	}
	metrics.RuleSetLoadTotal.WithLabelValues(key, metrics.ResultSuccess).Inc()

	if prev := r.track(req.NamespacedName, key); prev != "" && prev != key {
		if err := r.Engine.ResetRules(ctx, prev); err != nil {
			logger.Error(err, "failed to restore rules of previous domain", "previousDomain", prev)
		}
	}

	version, _ := r.Engine.Rules.Version(key)
	message := fmt.Sprintf("Loaded %d rules at version %s", len(set.Rules), version)
	prevPhase := rs.Status.Phase
	before := rs.DeepCopy()
	rs.Status.ActiveVersion = version
	rs.Status.RuleCount = int32(len(set.Rules))
	if perr := r.patchRuleSetStatus(ctx, &rs, before, forgev1alpha1.PhaseReady, message,
		metav1.Condition{
			Type:    RuleSetConditionAccepted,
			Status:  metav1.ConditionTrue,
			Reason:  "Loaded",
			Message: message,
		},
	); perr != nil {
		logger.Error(perr, "failed to patch rule set status")
	}
	logger.Info("rule set installed", "version", version, "rules", len(set.Rules))
	if prevPhase != forgev1alpha1.PhaseReady || before.Status.ActiveVersion != version {
		r.recordEventf(&rs, "Normal", "RulesLoaded", "%s", message)
	}
	return ctrl.Result{}, nil
}

// ruleSource reads the referenced ConfigMap, or the inline rules when there is no
// reference. A file declaring another domain is rejected; the RuleSet's version wins.
func (r *RuleSetReconciler) ruleSource(ctx context.Context, rs *forgev1alpha1.RuleSet) (rules.RuleSet, error) {
	if rs.Spec.ConfigMapRef == nil {
		set, err := inlineRuleSet(rs.Spec)
		if err != nil {
			return rules.RuleSet{}, fmt.Errorf("%w: %w", errRuleSource, err)
		}
		return set, nil
	}

	ref := rs.Spec.ConfigMapRef
	var cm corev1.ConfigMap
	if err := r.Get(ctx, types.NamespacedName{Namespace: rs.Namespace, Name: ref.Name}, &cm); err != nil {
		if apierrors.IsNotFound(err) {
			return rules.RuleSet{}, fmt.Errorf("%w: ConfigMap %q not found", errRuleSource, ref.Name)
		}
		return rules.RuleSet{}, err
	}
	dataKey := ref.Key
	if dataKey == "" {
		dataKey = defaultRulesKey
	}
	data, ok := cm.Data[dataKey]
	if !ok {
		return rules.RuleSet{}, fmt.Errorf("%w: ConfigMap %q has no key %q", errRuleSource, ref.Name, dataKey)
	}
	set, err := rules.ParseYAML([]byte(data))
	if err != nil {
		return rules.RuleSet{}, fmt.Errorf("%w: %w", errRuleSource, err)
	}
	if set.Domain != "" && domain.Key(set.Domain) != domain.Key(rs.Spec.Domain) {
		return rules.RuleSet{}, fmt.Errorf("%w: ConfigMap %q declares domain %q", errRuleSource, ref.Name, set.Domain)
	}
	set.Domain = rs.Spec.Domain
	if rs.Spec.Version != "" {
		set.Version = rs.Spec.Version
	}
	return set, nil
}

func (r *RuleSetReconciler) reject(ctx context.Context, rs *forgev1alpha1.RuleSet, reason, message string) {
	prevPhase := rs.Status.Phase
	before := rs.DeepCopy()
	if perr := r.patchRuleSetStatus(ctx, rs, before, forgev1alpha1.PhaseError, message,
		metav1.Condition{
			Type:    RuleSetConditionAccepted,
			Status:  metav1.ConditionFalse,
			Reason:  reason,
			Message: message,
		},
	); perr != nil {
		log.FromContext(ctx).Error(perr, "failed to patch rule set status")
	}
	if prevPhase != forgev1alpha1.PhaseError {
		r.recordEventf(rs, "Warning", reason, "%s", message)
	}
}

// track remembers which domain a RuleSet installed and returns the one it held before.
func (r *RuleSetReconciler) track(name types.NamespacedName, key string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applied == nil {
		r.applied = make(map[types.NamespacedName]string)
	}
	prev := r.applied[name]
	r.applied[name] = key
	return prev
}

func (r *RuleSetReconciler) release(ctx context.Context, name types.NamespacedName) error {
	r.mu.Lock()
	key, ok := r.applied[name]
	delete(r.applied, name)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	log.FromContext(ctx).Info("rule set deleted; restoring configured rules", "domain", key)
	return r.Engine.ResetRules(ctx, key)
}

func (r *RuleSetReconciler) recordEventf(obj client.Object, eventType, reason, messageFmt string, args ...any) {
	if r.Recorder == nil || obj == nil {
		return
	}
	r.Recorder.Eventf(obj, eventType, reason, messageFmt, args...)
}

func (r *RuleSetReconciler) patchRuleSetStatus(ctx context.Context, rs, before *forgev1alpha1.RuleSet, phase, message string, conds ...metav1.Condition) error {
	rs.Status.ObservedGeneration = rs.Generation
	rs.Status.Phase = phase
	rs.Status.Message = message
	for _, c := range conds {
		setRuleSetCondition(rs, c)
	}
	return r.Status().Patch(ctx, rs, client.MergeFrom(before))
}

func (r *RuleSetReconciler) SetupWithManager(mgr ctrl.Manager) error {
	if err := mgr.GetFieldIndexer().IndexField(context.Background(), &forgev1alpha1.RuleSet{}, indexRuleSetConfigMap, func(obj client.Object) []string {
		rs, ok := obj.(*forgev1alpha1.RuleSet)
		if !ok || rs.Spec.ConfigMapRef == nil || rs.Spec.ConfigMapRef.Name == "" {
			return nil
		}
		return []string{rs.Spec.ConfigMapRef.Name}
	}); err != nil {
		return err
	}

	return ctrl.NewControllerManagedBy(mgr).
		For(&forgev1alpha1.RuleSet{}, builder.WithPredicates(predicate.GenerationChangedPredicate{})).
		Watches(&corev1.ConfigMap{}, enqueueRuleSetsForConfigMap(mgr.GetClient())).
		Complete(r)
}

// enqueueRuleSetsForConfigMap re-reads RuleSets whose rule file lives in the ConfigMap.
func enqueueRuleSetsForConfigMap(c client.Client) handler.EventHandler {
	return handler.EnqueueRequestsFromMapFunc(func(ctx context.Context, obj client.Object) []reconcile.Request {
		var sets forgev1alpha1.RuleSetList
		if err := c.List(ctx, &sets,
			client.InNamespace(obj.GetNamespace()),
			client.MatchingFields{indexRuleSetConfigMap: obj.GetName()},
		); err != nil {
			return nil
		}
		out := make([]reconcile.Request, 0, len(sets.Items))
		for i := range sets.Items {
			s := &sets.Items[i]
			out = append(out, reconcile.Request{NamespacedName: types.NamespacedName{Namespace: s.Namespace, Name: s.Name}})
		}
		return out
	})
}
