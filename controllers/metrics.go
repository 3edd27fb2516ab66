package controllers

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	forgeControllerReconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_controller_reconcile_total",
			Help: "Number of reconciliations by controller.",
		},
		[]string{"controller"},
	)
	forgeControllerReconcileErrorTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_controller_reconcile_error_total",
			Help: "Number of reconciliation errors by controller.",
		},
		[]string{"controller"},
	)

	supplyRequestUnresolvedRequired = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_supplyrequest_unresolved_required",
			Help: "Number of unresolved required requirements observed in the last SupplyRequest reconcile.",
		},
	)

	supplyRequestTreesStoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forge_supplyrequest_trees_stored_total",
			Help: "Total number of supply trees written to request stores.",
		},
	)
	supplyRequestTreesPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forge_supplyrequest_trees_pruned_total",
			Help: "Total number of stale supply trees removed from request stores.",
		},
	)
)

func init() {
	metrics.Registry.MustRegister(
		forgeControllerReconcileTotal,
		forgeControllerReconcileErrorTotal,
		supplyRequestUnresolvedRequired,
		supplyRequestTreesStoredTotal,
		supplyRequestTreesPrunedTotal,
	)
}
