package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the agent's Prometheus instruments. The in-process ring
// buffer in internal/metrics serves per-turn summaries; these vectors feed
// the /metrics endpoint for long-horizon dashboards.
type Metrics struct {
	// TurnDuration measures end-to-end turn latency in seconds.
	// Labels: route, cancelled (true|false)
	TurnDuration *prometheus.HistogramVec

	// ToolExecutions counts tool calls by outcome.
	// Labels: tool, outcome (ok|error|timeout|circuit_open|safety_rejected|skipped)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool call latency in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// LLMRequests counts model calls.
	// Labels: backend (router|quality), status (success|error)
	LLMRequests *prometheus.CounterVec

	// LLMTokens tracks token consumption.
	// Labels: backend
	LLMTokens *prometheus.CounterVec

	// BargeIns counts user interruptions during TTS playback.
	BargeIns prometheus.Counter

	// CancelledTurns counts turns cancelled before delivery.
	CancelledTurns prometheus.Counter

	// PendingConfirmations gauges parked confirmation prompts.
	PendingConfirmations prometheus.Gauge

	// CircuitState reports per-tool breaker state (0 closed, 1 half-open, 2 open).
	// Labels: tool
	CircuitState *prometheus.GaugeVec
}

// NewMetrics registers the instrument set on a fresh registry-compatible
// factory. Call once per process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TurnDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bantz",
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"route", "cancelled"}),
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bantz",
			Name:      "tool_executions_total",
			Help:      "Tool calls by outcome.",
		}, []string{"tool", "outcome"}),
		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bantz",
			Name:      "tool_duration_seconds",
			Help:      "Tool call latency.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"tool"}),
		LLMRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bantz",
			Name:      "llm_requests_total",
			Help:      "Model calls by backend and status.",
		}, []string{"backend", "status"}),
		LLMTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bantz",
			Name:      "llm_tokens_total",
			Help:      "Token consumption by backend.",
		}, []string{"backend"}),
		BargeIns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bantz",
			Name:      "barge_ins_total",
			Help:      "User interruptions during TTS playback.",
		}),
		CancelledTurns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bantz",
			Name:      "cancelled_turns_total",
			Help:      "Turns cancelled before delivery.",
		}),
		PendingConfirmations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bantz",
			Name:      "pending_confirmations",
			Help:      "Confirmation prompts awaiting a user decision.",
		}),
		CircuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bantz",
			Name:      "circuit_state",
			Help:      "Per-tool breaker state: 0 closed, 1 half-open, 2 open.",
		}, []string{"tool"}),
	}
}

// CircuitStateValue maps a breaker state string to its gauge value.
func CircuitStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	}
	return 0
}
