package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		MemoryInjections: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_memory_injections_total", Help: "h"},
			[]string{"group_id", "variant"}),
		MemoryInjectionTokens: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "test_memory_injection_tokens", Help: "h"},
			[]string{"group_id"}),
		MemoryInjectionItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_memory_injection_items_total", Help: "h"},
			[]string{"tier"}),
		CitationsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_citations_resolved_total", Help: "h"},
			[]string{"outcome"}),
		UsageFlushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_usage_flushes_total", Help: "h"},
			[]string{"backend", "outcome"}),
		TierChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_tier_changes_total", Help: "h"},
			[]string{"change_type", "reason"}),
		LLMRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "test_llm_request_duration_seconds", Help: "h"},
			[]string{"provider", "model"}),
		LLMRequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_llm_requests_total", Help: "h"},
			[]string{"provider", "model", "status"}),
		LLMTokensUsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_llm_tokens_total", Help: "h"},
			[]string{"provider", "model", "kind"}),
		AgentRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_agent_runs_total", Help: "h"},
			[]string{"status"}),
		AgentTurns: prometheus.NewHistogram(
			prometheus.HistogramOpts{Name: "test_agent_turns", Help: "h"}),
		SubagentSpawns: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_subagent_spawns_total", Help: "h"},
			[]string{"status"}),
		ParallelExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_parallel_executions_total", Help: "h"},
			[]string{"status"}),
		RoundtableVolleys: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_roundtable_volleys_total", Help: "h"},
			[]string{"target"}),
		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_errors_total", Help: "h"},
			[]string{"component", "error_kind"}),
	}
	reg.MustRegister(
		m.MemoryInjections, m.MemoryInjectionTokens, m.MemoryInjectionItems,
		m.CitationsResolved, m.UsageFlushes, m.TierChanges,
		m.LLMRequestDuration, m.LLMRequestCounter, m.LLMTokensUsed,
		m.AgentRuns, m.AgentTurns, m.SubagentSpawns, m.ParallelExecutions,
		m.RoundtableVolleys, m.ErrorCounter,
	)
	return m
}

func TestNewMetrics(t *testing.T) {
	// NewMetrics registers with the default registry; constructing it twice
	// in the same process would panic on duplicate registration, so this
	// just exercises the constructor once per test binary run.
	m := NewMetrics()
	if m.MemoryInjections == nil || m.LLMRequestCounter == nil || m.AgentRuns == nil {
		t.Fatal("expected NewMetrics to populate all metric fields")
	}
}

func TestRecordMemoryInjection(t *testing.T) {
	m := newTestMetrics()
	m.RecordMemoryInjection("project-foo", "quick", 3, 1, 2, 1800)

	if count := testutil.ToFloat64(m.MemoryInjections.WithLabelValues("project-foo", "quick")); count != 1 {
		t.Errorf("expected 1 injection recorded, got %v", count)
	}
	if count := testutil.ToFloat64(m.MemoryInjectionItems.WithLabelValues("mandate")); count != 3 {
		t.Errorf("expected 3 mandates, got %v", count)
	}
	if count := testutil.ToFloat64(m.MemoryInjectionItems.WithLabelValues("guardrail")); count != 1 {
		t.Errorf("expected 1 guardrail, got %v", count)
	}
	if count := testutil.ToFloat64(m.MemoryInjectionItems.WithLabelValues("reference")); count != 2 {
		t.Errorf("expected 2 reference items, got %v", count)
	}
}

func TestRecordCitationResolution(t *testing.T) {
	m := newTestMetrics()
	m.RecordCitationResolution("resolved")
	m.RecordCitationResolution("resolved")
	m.RecordCitationResolution("ambiguous")

	if count := testutil.ToFloat64(m.CitationsResolved.WithLabelValues("resolved")); count != 2 {
		t.Errorf("expected 2 resolved citations, got %v", count)
	}
	if count := testutil.ToFloat64(m.CitationsResolved.WithLabelValues("ambiguous")); count != 1 {
		t.Errorf("expected 1 ambiguous citation, got %v", count)
	}
}

func TestRecordUsageFlush(t *testing.T) {
	m := newTestMetrics()
	m.RecordUsageFlush("graph", nil)
	m.RecordUsageFlush("relational", errors.New("boom"))

	if count := testutil.ToFloat64(m.UsageFlushes.WithLabelValues("graph", "success")); count != 1 {
		t.Errorf("expected 1 successful graph flush, got %v", count)
	}
	if count := testutil.ToFloat64(m.UsageFlushes.WithLabelValues("relational", "error")); count != 1 {
		t.Errorf("expected 1 failed relational flush, got %v", count)
	}
}

func TestRecordTierChange(t *testing.T) {
	m := newTestMetrics()
	m.RecordTierChange("promotion", "usage_threshold")
	m.RecordTierChange("demotion", "staleness")

	if count := testutil.ToFloat64(m.TierChanges.WithLabelValues("promotion", "usage_threshold")); count != 1 {
		t.Errorf("expected 1 promotion, got %v", count)
	}
	if count := testutil.ToFloat64(m.TierChanges.WithLabelValues("demotion", "staleness")); count != 1 {
		t.Errorf("expected 1 demotion, got %v", count)
	}
}

func TestRecordLLMRequest(t *testing.T) {
	m := newTestMetrics()
	m.RecordLLMRequest("anthropic", "claude-sonnet-4-5", "success", 1.25, 100, 50, 0)
	m.RecordLLMRequest("google", "gemini-2.5-pro", "error", 0.5, 10, 0, 0)

	if count := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("anthropic", "claude-sonnet-4-5", "success")); count != 1 {
		t.Errorf("expected 1 successful request, got %v", count)
	}
	if count := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4-5", "input")); count != 100 {
		t.Errorf("expected 100 input tokens, got %v", count)
	}
	if count := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4-5", "output")); count != 50 {
		t.Errorf("expected 50 output tokens, got %v", count)
	}
	if count := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("google", "gemini-2.5-pro", "error")); count != 1 {
		t.Errorf("expected 1 errored request, got %v", count)
	}
}

func TestRecordAgentRun(t *testing.T) {
	m := newTestMetrics()
	m.RecordAgentRun("success", 4)
	m.RecordAgentRun("max_turns", 20)

	if count := testutil.ToFloat64(m.AgentRuns.WithLabelValues("success")); count != 1 {
		t.Errorf("expected 1 successful run, got %v", count)
	}
	if count := testutil.ToFloat64(m.AgentRuns.WithLabelValues("max_turns")); count != 1 {
		t.Errorf("expected 1 max_turns run, got %v", count)
	}
	if count := testutil.CollectAndCount(m.AgentTurns); count < 1 {
		t.Error("expected agent turns histogram to have observations")
	}
}

func TestRecordSubagentSpawnAndParallelExecution(t *testing.T) {
	m := newTestMetrics()
	m.RecordSubagentSpawn("success")
	m.RecordSubagentSpawn("timeout")
	m.RecordParallelExecution("all_completed")

	if count := testutil.ToFloat64(m.SubagentSpawns.WithLabelValues("success")); count != 1 {
		t.Errorf("expected 1 successful spawn, got %v", count)
	}
	if count := testutil.ToFloat64(m.SubagentSpawns.WithLabelValues("timeout")); count != 1 {
		t.Errorf("expected 1 timed-out spawn, got %v", count)
	}
	if count := testutil.ToFloat64(m.ParallelExecutions.WithLabelValues("all_completed")); count != 1 {
		t.Errorf("expected 1 completed batch, got %v", count)
	}
}

func TestRecordRoundtableVolley(t *testing.T) {
	m := newTestMetrics()
	m.RecordRoundtableVolley("claude")
	m.RecordRoundtableVolley("claude")
	m.RecordRoundtableVolley("gemini")

	if count := testutil.ToFloat64(m.RoundtableVolleys.WithLabelValues("claude")); count != 2 {
		t.Errorf("expected 2 claude volleys, got %v", count)
	}
	if count := testutil.ToFloat64(m.RoundtableVolleys.WithLabelValues("gemini")); count != 1 {
		t.Errorf("expected 1 gemini volley, got %v", count)
	}
}

func TestRecordError(t *testing.T) {
	m := newTestMetrics()
	m.RecordError("agentrunner", "timeout")
	m.RecordError("agentrunner", "timeout")
	m.RecordError("memory", "flush_failed")

	if count := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("agentrunner", "timeout")); count != 2 {
		t.Errorf("expected 2 agentrunner timeouts, got %v", count)
	}
	if count := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("memory", "flush_failed")); count != 1 {
		t.Errorf("expected 1 memory flush failure, got %v", count)
	}
}

func TestConcurrentMetricRecording(t *testing.T) {
	m := newTestMetrics()
	done := make(chan bool)
	iterations := 100

	go func() {
		for i := 0; i < iterations; i++ {
			m.RecordAgentRun("success", 1)
			time.Sleep(time.Microsecond)
		}
		done <- true
	}()

	go func() {
		for i := 0; i < iterations; i++ {
			m.RecordError("agentrunner", "timeout")
			time.Sleep(time.Microsecond)
		}
		done <- true
	}()

	<-done
	<-done

	if count := testutil.ToFloat64(m.AgentRuns.WithLabelValues("success")); count != float64(iterations) {
		t.Errorf("expected %d successful runs, got %v", iterations, count)
	}
}
