package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects engine-level Prometheus metrics.
type Metrics struct {
	// CyclesTotal counts processing cycles by outcome (completed|cancelled|error).
	CyclesTotal *prometheus.CounterVec

	// CycleDuration measures full cycle latency in seconds.
	CycleDuration prometheus.Histogram

	// PreparationIterations observes iterations used per cycle.
	PreparationIterations prometheus.Histogram

	// LLMRequestDuration measures LLM call latency by schema name.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption by schema name and type
	// (prompt|completion).
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutions counts tool invocations by tool id and status
	// (success|error|skipped).
	ToolExecutions *prometheus.CounterVec

	// EventsEmitted counts emitted events by kind.
	EventsEmitted *prometheus.CounterVec
}

// NewMetrics registers engine metrics on the given registerer (the default
// registry when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_cycles_total",
			Help: "Processing cycles by outcome.",
		}, []string{"outcome"}),

		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_cycle_duration_seconds",
			Help:    "Full processing cycle latency.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		}),

		PreparationIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_preparation_iterations",
			Help:    "Preparation iterations used per cycle.",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),

		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parley_llm_request_duration_seconds",
			Help:    "LLM call latency by schema.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"schema"}),

		LLMTokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_llm_tokens_total",
			Help: "Token consumption by schema and type.",
		}, []string{"schema", "type"}),

		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_tool_executions_total",
			Help: "Tool invocations by tool id and status.",
		}, []string{"tool_id", "status"}),

		EventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_events_emitted_total",
			Help: "Emitted session events by kind.",
		}, []string{"kind"}),
	}
}

// ObserveGeneration records usage for one LLM call.
func (m *Metrics) ObserveGeneration(schema string, durationSeconds float64, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.LLMRequestDuration.WithLabelValues(schema).Observe(durationSeconds)
	m.LLMTokensUsed.WithLabelValues(schema, "prompt").Add(float64(inputTokens))
	m.LLMTokensUsed.WithLabelValues(schema, "completion").Add(float64(outputTokens))
}
