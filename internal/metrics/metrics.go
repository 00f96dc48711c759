package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommitDuration tracks the latency of checkout commits
	CommitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "checkout_commit_duration_seconds",
			Help: "Duration of checkout commits in seconds",
			Buckets: []float64{
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
				5.0,   // 5s
			},
		},
		[]string{"outcome"}, // committed, degraded, replayed, rejected, insufficient_stock, partial, failed
	)

	DiscountEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discount_evaluations_total",
			Help: "Discount evaluations by outcome",
		},
		[]string{"outcome"}, // applied, none, withheld, error
	)

	UsageGuardDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discount_usage_guard_denials_total",
			Help: "Discounts withheld by the usage guard",
		},
		[]string{"reason"}, // per_customer, total, query_error
	)

	ReconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_stream_reconnect_attempts_total",
			Help: "Event stream subscription attempts by result",
		},
		[]string{"result"},
	)

	ConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "event_stream_connection_state",
			Help: "1 for the current event stream connection state, 0 otherwise",
		},
		[]string{"state"},
	)

	NotificationsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_emitted_total",
			Help: "Notifications produced by the event watcher",
		},
		[]string{"category"},
	)
)

// RecordCommitDuration records the duration of a checkout commit
func RecordCommitDuration(outcome string, duration float64) {
	CommitDuration.WithLabelValues(outcome).Observe(duration)
}

func RecordDiscountEvaluation(outcome string) {
	DiscountEvaluations.WithLabelValues(outcome).Inc()
}

func RecordUsageDenial(reason string) {
	UsageGuardDenials.WithLabelValues(reason).Inc()
}

func RecordReconnectAttempt(result string) {
	ReconnectAttempts.WithLabelValues(result).Inc()
}

// SetConnectionState marks state as the only active connection state.
func SetConnectionState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		ConnectionState.WithLabelValues(s).Set(v)
	}
}

func RecordNotification(category string) {
	NotificationsEmitted.WithLabelValues(category).Inc()
}
