// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// TurnsTotal tracks processed inbound turns by resulting state.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_turns_total",
			Help: "Total inbound turns processed",
		},
		[]string{"state", "outcome"},
	)

	// TurnDuration tracks end-to-end turn handling duration.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_turn_duration_seconds",
			Help:    "End-to-end inbound turn handling duration",
			Buckets: []float64{.01, .05, .1, .5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"state"},
	)

	// AgentCallsTotal tracks external agent conversations by status.
	AgentCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_calls_total",
			Help: "Total external agent calls",
		},
		[]string{"agent_type", "status"},
	)

	// AgentCallDuration tracks the full acquire/submit/poll sequence duration.
	AgentCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_call_duration_seconds",
			Help:    "External agent call duration including polling",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"agent_type", "status"},
	)

	// AgentPollAttempts tracks how many polls a call needed before resolving.
	AgentPollAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agent_poll_attempts",
			Help:    "Poll attempts per external agent call",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 30, 60, 90},
		},
	)

	// SessionBindingsActive tracks in-process agent session bindings.
	SessionBindingsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agent_session_bindings_active",
			Help: "Agent session bindings held in the in-process cache",
		},
	)

	// EventsPublished tracks side-effect event publications.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Side-effect events published to the sink",
		},
		[]string{"type", "status"},
	)

	// StoreFallbacksTotal counts reads/writes served from the in-process
	// fallback because the durable store was unavailable.
	StoreFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_fallbacks_total",
			Help: "Session store operations served by the in-process fallback",
		},
		[]string{"op"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordTurn records metrics for a handled inbound turn.
func RecordTurn(state, outcome string, duration float64) {
	TurnsTotal.WithLabelValues(state, outcome).Inc()
	TurnDuration.WithLabelValues(state).Observe(duration)
}

// RecordAgentCall records metrics for one external agent call.
func RecordAgentCall(agentType, status string, duration float64, attempts int) {
	AgentCallsTotal.WithLabelValues(agentType, status).Inc()
	AgentCallDuration.WithLabelValues(agentType, status).Observe(duration)
	AgentPollAttempts.Observe(float64(attempts))
}
