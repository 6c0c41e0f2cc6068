// Package metrics exposes prometheus instrumentation for the task-execution
// core. Metric updates are best-effort observability and never affect the
// request outcome.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors the orchestrator and LLM layer report into.
type Metrics struct {
	registry *prometheus.Registry

	InteractionsTotal  *prometheus.CounterVec
	ActionsTotal       *prometheus.CounterVec
	VerificationsTotal *prometheus.CounterVec
	CorrectionsTotal   *prometheus.CounterVec
	LLMTokensTotal     *prometheus.CounterVec
	InteractDuration   prometheus.Histogram
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		InteractionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_interactions_total",
			Help: "Interact calls by resulting task status or error code.",
		}, []string{"result"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_actions_total",
			Help: "Actions emitted by kind.",
		}, []string{"kind"}),
		VerificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_verifications_total",
			Help: "Verification outcomes.",
		}, []string{"success"}),
		CorrectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_corrections_total",
			Help: "Self-correction attempts by strategy.",
		}, []string{"strategy"}),
		LLMTokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_llm_tokens_total",
			Help: "Token usage by kind (prompt, completion).",
		}, []string{"kind"}),
		InteractDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "copilot_interact_duration_seconds",
			Help:    "End-to-end Interact latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}

	reg.MustRegister(
		m.InteractionsTotal,
		m.ActionsTotal,
		m.VerificationsTotal,
		m.CorrectionsTotal,
		m.LLMTokensTotal,
		m.InteractDuration,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveTokens adds one generation's token usage.
func (m *Metrics) ObserveTokens(prompt, completion int) {
	m.LLMTokensTotal.WithLabelValues("prompt").Add(float64(prompt))
	m.LLMTokensTotal.WithLabelValues("completion").Add(float64(completion))
}
