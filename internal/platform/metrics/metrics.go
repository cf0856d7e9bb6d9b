// Package metrics defines the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheReads counts eligibility-cache lookups by key family and
	// outcome (hit/miss). Cache hit rate bounds stage-2 pipeline latency.
	CacheReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assignd",
		Subsystem: "cache",
		Name:      "reads_total",
		Help:      "Cache lookups by key family and outcome.",
	}, []string{"key_family", "outcome"})

	// RecomputeDuration observes end-to-end recomputation time.
	RecomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "assignd",
		Subsystem: "engine",
		Name:      "recompute_duration_seconds",
		Help:      "End-to-end assignment recomputation time in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1},
	})

	// AssignmentsTotal counts recomputation outcomes: assigned, unassigned
	// (empty eligible pool, a valid terminal state) or failed.
	AssignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assignd",
		Subsystem: "engine",
		Name:      "assignments_total",
		Help:      "Recomputation outcomes.",
	}, []string{"outcome"})

	// DispatchFallbacks counts dispatches that ran synchronously because
	// the worker queue rejected the job.
	DispatchFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "assignd",
		Subsystem: "engine",
		Name:      "dispatch_fallbacks_total",
		Help:      "Async dispatches degraded to the synchronous path.",
	})

	// SweepRuns counts periodic retry sweeps over unassigned tasks.
	SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "assignd",
		Subsystem: "engine",
		Name:      "sweep_runs_total",
		Help:      "Periodic unassigned-task retry sweeps.",
	})
)

// Outcome label values for AssignmentsTotal.
const (
	OutcomeAssigned   = "assigned"
	OutcomeUnassigned = "unassigned"
	OutcomeFailed     = "failed"
)

// Key family label values for CacheReads.
const (
	KeyFamilyEligibleUsers = "eligible_users"
	KeyFamilyActiveCount   = "active_count"
)
