package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting runtime metrics.
//
// The metrics system is built on Prometheus and tracks the surfaces
// SPEC_FULL.md §2.1 names:
//   - Agent Loop iterations and the Model Backend requests that drive them
//   - Tool dispatch latency and outcomes
//   - Guardian decisions by outcome
//   - Circuit-breaker state transitions
//   - Budget consumption (tokens, cost)
//   - Memory compaction events
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	start := time.Now()
//	// ... run one iteration ...
//	metrics.RecordIteration(time.Since(start).Seconds())
type Metrics struct {
	// LLMRequestDuration measures model backend request latency in seconds.
	// Labels: provider (anthropic|openai|bedrock), model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts model backend requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD tracks estimated cost in USD against the budget cap (§4.5).
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// ToolExecutionCounter counts tool dispatches by the Registry (§4.3).
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool dispatch latency in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// IterationCounter counts completed Agent Loop iterations (§4.5).
	// Labels: outcome (continue|completed|halted|aborted)
	IterationCounter *prometheus.CounterVec

	// IterationDuration measures one full think-act-observe iteration.
	IterationDuration prometheus.Histogram

	// GuardianDecisions counts Safety Guardian outcomes by decision (§4.4).
	// Labels: decision (approved|denied|escalated|requires_approval)
	GuardianDecisions *prometheus.CounterVec

	// CircuitBreakerTransitions counts breaker state changes (§4.4).
	// Labels: from, to
	CircuitBreakerTransitions *prometheus.CounterVec

	// BudgetIterationsUsed is a gauge tracking the current iteration count
	// against MaxIterations for the active session.
	BudgetIterationsUsed prometheus.Gauge

	// BudgetCostUSD is a gauge tracking accumulated cost against MaxCostUSD
	// for the active session.
	BudgetCostUSD prometheus.Gauge

	// CompactionCounter counts memory compaction runs by outcome (§4.2).
	// Labels: outcome (success|error)
	CompactionCounter *prometheus.CounterVec

	// CompactionDuration measures compaction latency in seconds.
	CompactionDuration prometheus.Histogram

	// CompactionTokensReclaimed tracks tokens freed per compaction.
	CompactionTokensReclaimed prometheus.Counter

	// ErrorCounter tracks errors by component and type.
	// Labels: component (loop|guardian|memory|tool), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics under the
// "agentcore_" namespace. This should be called once at application
// startup; all metrics register with Prometheus's default registry and
// are exposed via the /metrics HTTP handler (§2.1).
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_llm_request_duration_seconds",
				Help:    "Duration of model backend requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_requests_total",
				Help: "Total number of model backend requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_cost_usd_total",
				Help: "Estimated model backend cost in USD",
			},
			[]string{"provider", "model"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_tool_executions_total",
				Help: "Total number of tool dispatches by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_tool_execution_duration_seconds",
				Help:    "Duration of tool dispatches in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		IterationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_loop_iterations_total",
				Help: "Total number of Agent Loop iterations by outcome",
			},
			[]string{"outcome"},
		),

		IterationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentcore_loop_iteration_duration_seconds",
				Help:    "Duration of one think-act-observe iteration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),

		GuardianDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_guardian_decisions_total",
				Help: "Total number of Safety Guardian decisions by outcome",
			},
			[]string{"decision"},
		),

		CircuitBreakerTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_circuit_breaker_transitions_total",
				Help: "Total number of circuit breaker state transitions",
			},
			[]string{"from", "to"},
		),

		BudgetIterationsUsed: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentcore_budget_iterations_used",
				Help: "Iterations consumed by the active session against its cap",
			},
		),

		BudgetCostUSD: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentcore_budget_cost_usd",
				Help: "Cost accumulated by the active session against its cap",
			},
		),

		CompactionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_compaction_runs_total",
				Help: "Total number of memory compaction runs by outcome",
			},
			[]string{"outcome"},
		),

		CompactionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentcore_compaction_duration_seconds",
				Help:    "Duration of memory compaction runs in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
		),

		CompactionTokensReclaimed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentcore_compaction_tokens_reclaimed_total",
				Help: "Total number of tokens reclaimed by memory compaction",
			},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// RecordLLMRequest records metrics for one model backend request (§4.1).
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordLLMCost records estimated model backend cost against the budget cap.
func (m *Metrics) RecordLLMCost(provider, model string, costUSD float64) {
	m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordToolExecution records metrics for one tool dispatch (§4.3).
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordIteration records one completed Agent Loop iteration (§4.5).
func (m *Metrics) RecordIteration(outcome string, durationSeconds float64) {
	m.IterationCounter.WithLabelValues(outcome).Inc()
	m.IterationDuration.Observe(durationSeconds)
}

// RecordGuardianDecision records one Safety Guardian evaluation outcome (§4.4).
func (m *Metrics) RecordGuardianDecision(decision string) {
	m.GuardianDecisions.WithLabelValues(decision).Inc()
}

// RecordCircuitTransition records one circuit breaker state transition (§4.4).
func (m *Metrics) RecordCircuitTransition(from, to string) {
	m.CircuitBreakerTransitions.WithLabelValues(from, to).Inc()
}

// SetBudgetState updates the budget gauges for the active session (§4.5).
func (m *Metrics) SetBudgetState(iterationsUsed float64, costUSD float64) {
	m.BudgetIterationsUsed.Set(iterationsUsed)
	m.BudgetCostUSD.Set(costUSD)
}

// RecordCompaction records one memory compaction run (§4.2).
func (m *Metrics) RecordCompaction(outcome string, durationSeconds float64, tokensReclaimed int) {
	m.CompactionCounter.WithLabelValues(outcome).Inc()
	m.CompactionDuration.Observe(durationSeconds)
	if tokensReclaimed > 0 {
		m.CompactionTokensReclaimed.Add(float64(tokensReclaimed))
	}
}

// RecordError increments the error counter for a given component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
