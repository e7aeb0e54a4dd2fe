// Package metrics provides Prometheus collectors for plan generation,
// token estimation and experiment reporting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "governor"

var (
	// PlansTotal counts generated plans.
	// Labels: variant (control, optimized), intent
	PlansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plan",
			Name:      "generated_total",
			Help:      "Total number of execution plans generated",
		},
		[]string{"variant", "intent"},
	)

	// PlansOverBudget counts plans whose validation reported within_budget=false.
	PlansOverBudget = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plan",
			Name:      "over_budget_total",
			Help:      "Total number of plans that do not fit the usable budget",
		},
	)

	// UnitActions counts pruning decisions.
	// Labels: action (keep, summarize, truncate, prune)
	UnitActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prune",
			Name:      "unit_actions_total",
			Help:      "Total number of context units by assigned action",
		},
		[]string{"action"},
	)

	// TokensSaved accumulates tokens removed by filtering and pruning.
	TokensSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plan",
			Name:      "tokens_saved_total",
			Help:      "Total tokens saved relative to the baseline",
		},
	)

	// CostSavedUSD accumulates the estimated input cost saved relative to
	// the baseline.
	CostSavedUSD = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plan",
			Name:      "cost_saved_usd_total",
			Help:      "Estimated input cost saved relative to the baseline in USD",
		},
	)

	// PlanDuration tracks plan pipeline latency.
	PlanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "plan",
			Name:      "duration_seconds",
			Help:      "Duration of plan generation in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// EstimatorCache counts estimator cache lookups.
	// Labels: result (hit, miss)
	EstimatorCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokens",
			Name:      "cache_lookups_total",
			Help:      "Total token estimator cache lookups by result",
		},
		[]string{"result"},
	)

	// EstimationMethod counts estimates by the method that produced them.
	// Labels: method (tiktoken, anthropic_api, approximate)
	EstimationMethod = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokens",
			Name:      "estimates_total",
			Help:      "Total token estimates computed by method",
		},
		[]string{"method"},
	)

	// ReportsTotal counts experiment reports.
	// Labels: claim_ready (true, false)
	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "experiment",
			Name:      "reports_total",
			Help:      "Total number of experiment reports by claim readiness",
		},
		[]string{"claim_ready"},
	)

	// SessionsRecorded counts recorded sessions.
	// Labels: variant
	SessionsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "experiment",
			Name:      "sessions_recorded_total",
			Help:      "Total number of recorded sessions by variant",
		},
		[]string{"variant"},
	)
)
