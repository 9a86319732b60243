// Package metrics exposes the bridge's Prometheus metrics on a private
// registry so tests and embedders never collide with the default one.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Delegation metrics
	DelegationsTotal  *prometheus.CounterVec
	SupervisorLatency prometheus.Histogram

	// Tool metrics
	ToolExecutions *prometheus.CounterVec

	// Retrieval metrics
	RetrieverLookups *prometheus.CounterVec

	// Rate limit metrics
	RateLimitRejections *prometheus.CounterVec
}

// New creates a Metrics instance with all metrics registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voicebridge"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live bridge sessions",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of bridge sessions by terminal status",
		},
		[]string{"status"},
	)

	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Bridge session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	delegationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegations_total",
			Help:      "Total number of supervisor delegations by outcome",
		},
		[]string{"outcome"},
	)

	supervisorLatency := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "supervisor_latency_seconds",
			Help:      "Wall time of one settled supervisor round trip",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	toolExecutions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_executions_total",
			Help:      "Total tool executions by tool and status",
		},
		[]string{"tool", "status"},
	)

	retrieverLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retriever_lookups_total",
			Help:      "Context bundle lookups by result",
		},
		[]string{"result"},
	)

	rateLimitRejections := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by rate limiting",
		},
		[]string{"limit_type"},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		delegationsTotal,
		supervisorLatency,
		toolExecutions,
		retrieverLookups,
		rateLimitRejections,
	)

	return &Metrics{
		registry:            registry,
		SessionsActive:      sessionsActive,
		SessionsTotal:       sessionsTotal,
		SessionDuration:     sessionDuration,
		DelegationsTotal:    delegationsTotal,
		SupervisorLatency:   supervisorLatency,
		ToolExecutions:      toolExecutions,
		RetrieverLookups:    retrieverLookups,
		RateLimitRejections: rateLimitRejections,
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionStart records a bridge session opening.
func (m *Metrics) RecordSessionStart() {
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a bridge session closing.
func (m *Metrics) RecordSessionEnd(status string, duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(status).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordDelegation records one supervisor delegation outcome.
func (m *Metrics) RecordDelegation(outcome string) {
	m.DelegationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSupervisorCall records the wall time of a settled supervisor round.
func (m *Metrics) ObserveSupervisorCall(duration time.Duration) {
	m.SupervisorLatency.Observe(duration.Seconds())
}

// RecordToolExecution records one tool dispatch.
func (m *Metrics) RecordToolExecution(tool, status string) {
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
}

// RecordRetrieverLookup records a bundle lookup and whether it produced
// anything to ground the turn on.
func (m *Metrics) RecordRetrieverLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.RetrieverLookups.WithLabelValues(result).Inc()
}

// RecordRateLimitRejection records a rejected request.
func (m *Metrics) RecordRateLimitRejection(limitType string) {
	m.RateLimitRejections.WithLabelValues(limitType).Inc()
}
