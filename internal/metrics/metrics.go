// Package metrics provides Prometheus exporters for application metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the quest board.
var (
	// Counters.
	LifecycleTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quest_lifecycle_transitions_total",
			Help: "Total lifecycle operations by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	RateLimitDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quest_rate_limit_denials_total",
			Help: "Total actions denied by an active cooldown",
		},
		[]string{"action"},
	)

	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quest_notifications_sent_total",
			Help: "Total notification payloads dispatched",
		},
		[]string{"action", "status"},
	)

	StatsReconciliationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quest_stats_reconciliations_total",
			Help: "Total user stats rows recomputed from progress records",
		},
		[]string{"trigger"},
	)

	// Gauges.
	OpenAttempts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quest_open_attempts",
			Help: "Current number of in-flight quest attempts",
		},
		[]string{"guild"},
	)

	// Histograms.
	ReviewLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quest_review_latency_seconds",
			Help:    "Time from completion submission to moderator review in seconds",
			Buckets: prometheus.ExponentialBuckets(60, 2, 12), // 1min to ~3days
		},
		[]string{"decision"},
	)

	AttemptDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quest_attempt_duration_seconds",
			Help:    "Time from acceptance to completion submission in seconds",
			Buckets: prometheus.ExponentialBuckets(300, 2, 12), // 5min to ~2weeks
		},
		[]string{"rank"},
	)
)

// RecordTransition records a lifecycle operation outcome.
func RecordTransition(action, outcome string) {
	LifecycleTransitionsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordRateLimitDenial records a cooldown rejection.
func RecordRateLimitDenial(action string) {
	RateLimitDenialsTotal.WithLabelValues(action).Inc()
}

// RecordNotification records a dispatch attempt.
func RecordNotification(action, status string) {
	NotificationsSentTotal.WithLabelValues(action, status).Inc()
}
