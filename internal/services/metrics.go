// Package services – pipeline metrics
//
// This file exposes Prometheus instrumentation for the mention pipeline.
// Counters are labeled by coarse outcome only so cardinality stays bounded:
//
//   - outcome: "replied", "rejected_input", "timeout", "rate_limited",
//     "upstream_error", "send_failed"
//
// Completion attempts are counted separately per model so quota pressure on
// the primary model (and spillover to fallbacks) is visible on a dashboard.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// mentionOutcomes counts handled mentions by final outcome.
	mentionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mention_pipeline_outcomes_total",
			Help: "Total number of handled mentions by outcome.",
		},
		[]string{"outcome"},
	)

	// completionAttempts counts completion attempts by model and result.
	completionAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "completion_attempts_total",
			Help: "Total number of completion attempts by model and result.",
		},
		[]string{"model", "result"},
	)

	// completionLat records completion attempt duration in seconds per model.
	completionLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "completion_duration_seconds",
			Help:    "Duration of completion attempts in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		},
		[]string{"model"},
	)
)

const (
	outcomeReplied       = "replied"
	outcomeRejected      = "rejected_input"
	outcomeTimeout       = "timeout"
	outcomeRateLimited   = "rate_limited"
	outcomeUpstreamError = "upstream_error"
	outcomeSendFailed    = "send_failed"
)

func init() {
	prometheus.MustRegister(mentionOutcomes, completionAttempts, completionLat)
}
