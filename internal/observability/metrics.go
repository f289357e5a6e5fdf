package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application
// metrics, built on Prometheus. It tracks:
//   - Memory-injection volume and token-budget usage
//   - Citation extraction and usage-buffer flush activity
//   - Tier-optimizer promotions/demotions
//   - LLM request performance and token usage
//   - Agent-runner turns and orchestration fan-out
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordMemoryInjection("project-foo", "quick", 3, 1, 2, 1800)
//	defer metrics.LLMRequestDuration("anthropic", "claude-3-opus").Observe(time.Since(start).Seconds())
type Metrics struct {
	// MemoryInjections counts context-injector passes.
	// Labels: group_id, variant
	MemoryInjections *prometheus.CounterVec

	// MemoryInjectionTokens observes the total token budget consumed per
	// injection. Labels: group_id
	MemoryInjectionTokens *prometheus.HistogramVec

	// MemoryInjectionItems counts items injected by tier.
	// Labels: tier (mandate|guardrail|reference)
	MemoryInjectionItems *prometheus.CounterVec

	// CitationsResolved counts citation-prefix resolutions by outcome.
	// Labels: outcome (resolved|ambiguous|not_found)
	CitationsResolved *prometheus.CounterVec

	// UsageFlushes counts usage-buffer flush attempts by backend and
	// outcome. Labels: backend (graph|relational), outcome (success|error)
	UsageFlushes *prometheus.CounterVec

	// TierChanges counts tier-optimizer promotions/demotions.
	// Labels: change_type (promotion|demotion|correction), reason
	TierChanges *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider (anthropic|google), model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, kind (input|output|thinking)
	LLMTokensUsed *prometheus.CounterVec

	// AgentRuns counts agent-runner completions by terminal status.
	// Labels: status (success|error|max_turns)
	AgentRuns *prometheus.CounterVec

	// AgentTurns observes how many turns an agent run took.
	AgentTurns prometheus.Histogram

	// SubagentSpawns counts orchestration subagent calls by outcome.
	// Labels: status (success|error|timeout)
	SubagentSpawns *prometheus.CounterVec

	// ParallelExecutions observes parallel-executor batch sizes and
	// aggregate status. Labels: status (all_completed|partial|all_failed|timeout)
	ParallelExecutions *prometheus.CounterVec

	// RoundtableVolleys counts roundtable message volleys by target.
	// Labels: target (claude|gemini|both)
	RoundtableVolleys *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error kind.
	// Labels: component, error_kind
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics. This should be
// called once at application startup; all metrics register with the
// default registry and are exposed via a standard /metrics handler.
func NewMetrics() *Metrics {
	return &Metrics{
		MemoryInjections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenthub_memory_injections_total",
				Help: "Total number of context-injector passes by scope and variant",
			},
			[]string{"group_id", "variant"},
		),

		MemoryInjectionTokens: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agenthub_memory_injection_tokens",
				Help:    "Total tokens injected per context-injector pass",
				Buckets: []float64{250, 500, 1000, 1500, 2000, 2500, 3000, 3500, 5000},
			},
			[]string{"group_id"},
		),

		MemoryInjectionItems: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenthub_memory_injection_items_total",
				Help: "Total episodes injected by tier",
			},
			[]string{"tier"},
		),

		CitationsResolved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenthub_citations_resolved_total",
				Help: "Total citation-prefix resolutions by outcome",
			},
			[]string{"outcome"},
		),

		UsageFlushes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenthub_usage_flushes_total",
				Help: "Total usage-buffer flush attempts by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),

		TierChanges: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenthub_tier_changes_total",
				Help: "Total tier-optimizer promotions, demotions, and corrections",
			},
			[]string{"change_type", "reason"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agenthub_llm_request_duration_seconds",
				Help:    "LLM API call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenthub_llm_requests_total",
				Help: "Total LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenthub_llm_tokens_total",
				Help: "Total LLM tokens consumed by provider, model, and kind",
			},
			[]string{"provider", "model", "kind"},
		),

		AgentRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenthub_agent_runs_total",
				Help: "Total agent-runner completions by terminal status",
			},
			[]string{"status"},
		),

		AgentTurns: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agenthub_agent_turns",
				Help:    "Number of turns an agent run took before completing",
				Buckets: []float64{1, 2, 3, 5, 8, 12, 16, 20},
			},
		),

		SubagentSpawns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenthub_subagent_spawns_total",
				Help: "Total subagent spawns by outcome",
			},
			[]string{"status"},
		),

		ParallelExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenthub_parallel_executions_total",
				Help: "Total parallel-executor batches by aggregate status",
			},
			[]string{"status"},
		),

		RoundtableVolleys: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenthub_roundtable_volleys_total",
				Help: "Total roundtable message volleys by target",
			},
			[]string{"target"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenthub_errors_total",
				Help: "Total errors by component and error kind",
			},
			[]string{"component", "error_kind"},
		),
	}
}

// RecordMemoryInjection records one context-injector pass.
func (m *Metrics) RecordMemoryInjection(groupID, variant string, mandates, guardrails, reference, totalTokens int) {
	m.MemoryInjections.WithLabelValues(groupID, variant).Inc()
	m.MemoryInjectionTokens.WithLabelValues(groupID).Observe(float64(totalTokens))
	m.MemoryInjectionItems.WithLabelValues("mandate").Add(float64(mandates))
	m.MemoryInjectionItems.WithLabelValues("guardrail").Add(float64(guardrails))
	m.MemoryInjectionItems.WithLabelValues("reference").Add(float64(reference))
}

// RecordCitationResolution records one citation-prefix resolution outcome:
// "resolved", "ambiguous", or "not_found".
func (m *Metrics) RecordCitationResolution(outcome string) {
	m.CitationsResolved.WithLabelValues(outcome).Inc()
}

// RecordUsageFlush records one usage-buffer flush attempt against a
// backend ("graph" or "relational").
func (m *Metrics) RecordUsageFlush(backend string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.UsageFlushes.WithLabelValues(backend, status).Inc()
}

// RecordTierChange records one tier-optimizer promotion, demotion, or
// correction.
func (m *Metrics) RecordTierChange(changeType, reason string) {
	m.TierChanges.WithLabelValues(changeType, reason).Inc()
}

// RecordLLMRequest records metrics for an LLM API request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens, thinkingTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
	if thinkingTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "thinking").Add(float64(thinkingTokens))
	}
}

// RecordAgentRun records one agent-runner completion.
func (m *Metrics) RecordAgentRun(status string, turns int) {
	m.AgentRuns.WithLabelValues(status).Inc()
	m.AgentTurns.Observe(float64(turns))
}

// RecordSubagentSpawn records one orchestration subagent call outcome.
func (m *Metrics) RecordSubagentSpawn(status string) {
	m.SubagentSpawns.WithLabelValues(status).Inc()
}

// RecordParallelExecution records one parallel-executor batch's aggregate
// status.
func (m *Metrics) RecordParallelExecution(status string) {
	m.ParallelExecutions.WithLabelValues(status).Inc()
}

// RecordRoundtableVolley records one roundtable message volley.
func (m *Metrics) RecordRoundtableVolley(target string) {
	m.RoundtableVolleys.WithLabelValues(target).Inc()
}

// RecordError increments the error counter for a given component and
// error kind.
func (m *Metrics) RecordError(component, errorKind string) {
	m.ErrorCounter.WithLabelValues(component, errorKind).Inc()
}
