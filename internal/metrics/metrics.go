// Package metrics holds the process-wide Prometheus collectors for the call pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hotline"

var (
	// engineAttemptsTotal counts each transcription/synthesis step taken.
	engineAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_attempts_total",
			Help:      "Engine attempts by stage, engine and outcome",
		},
		[]string{"stage", "engine", "outcome"}, // outcome: ok, error, skipped
	)

	engineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_duration_seconds",
			Help:      "Duration of engine calls in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage", "engine"},
	)

	// standInTotal counts results served by the deterministic last step.
	standInTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stand_in_total",
			Help:      "Results produced by the stand-in step when no engine succeeded",
		},
		[]string{"stage"},
	)

	rateLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the rate limiter",
		},
		[]string{"scope"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live call sessions",
		},
	)

	sessionsRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_rejected_total",
			Help:      "Connections refused by the capacity ceiling",
		},
	)

	classificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Classification outcomes",
		},
		[]string{"status"}, // status: resolved, escalated
	)

	sessionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Call session state transitions by target state",
		},
		[]string{"state"},
	)

	allMetrics = []prometheus.Collector{
		engineAttemptsTotal,
		engineDuration,
		standInTotal,
		rateLimitRejectionsTotal,
		activeSessions,
		sessionsRejectedTotal,
		classificationsTotal,
		sessionTransitionsTotal,
	}
)

// NewRegistry returns a registry carrying the pipeline collectors plus Go runtime metrics.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(allMetrics...)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func RecordEngineAttempt(stage, engine, outcome string, durationSeconds float64) {
	engineAttemptsTotal.WithLabelValues(stage, engine, outcome).Inc()
	if outcome != "skipped" {
		engineDuration.WithLabelValues(stage, engine).Observe(durationSeconds)
	}
}

func RecordStandIn(stage string) {
	standInTotal.WithLabelValues(stage).Inc()
}

func RecordRateLimited(scope string) {
	rateLimitRejectionsTotal.WithLabelValues(scope).Inc()
}

func RecordSessionStart() {
	activeSessions.Inc()
}

func RecordSessionEnd() {
	activeSessions.Dec()
}

func RecordSessionRejected() {
	sessionsRejectedTotal.Inc()
}

func RecordClassification(status string) {
	classificationsTotal.WithLabelValues(status).Inc()
}

func RecordTransition(state string) {
	sessionTransitionsTotal.WithLabelValues(state).Inc()
}
