// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 General Bots Contributors

package rbac

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GeneralBots/botserver-sub008/internal/rbac/types"
)

// Metrics for access-control decisions.
var (
	// checkDuration tracks the latency of CheckAccess calls.
	checkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rbac_check_duration_seconds",
		Help:    "Histogram of access check latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// decisionsTotal counts decisions by terminal reason.
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rbac_decisions_total",
		Help: "Total number of access decisions",
	}, []string{"reason"})

	// policyEvaluationsTotal counts per-policy evaluation outcomes.
	policyEvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rbac_policy_evaluations_total",
		Help: "Total number of resource policy evaluations",
	}, []string{"result"})
)

// recordDecisionMetrics records latency and outcome for a completed check.
func recordDecisionMetrics(duration time.Duration, reason types.AccessReason) {
	checkDuration.Observe(duration.Seconds())
	decisionsTotal.WithLabelValues(string(reason)).Inc()
}
