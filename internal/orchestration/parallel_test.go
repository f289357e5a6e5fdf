package orchestration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agenthub/agent-hub/internal/adapter"
)

// fakeOrchestrationProvider is a minimal adapter.Provider stand-in for
// exercising the parallel executor without a real LLM call.
type fakeOrchestrationProvider struct {
	name  string
	delay time.Duration
	err   error
}

func (f *fakeOrchestrationProvider) Name() string { return f.name }

func (f *fakeOrchestrationProvider) Complete(ctx context.Context, req adapter.CompletionRequest) (adapter.CompletionResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return adapter.CompletionResult{}, ctx.Err()
		}
	}
	if f.err != nil {
		return adapter.CompletionResult{}, f.err
	}
	return adapter.CompletionResult{Content: "done", Provider: f.name}, nil
}

func (f *fakeOrchestrationProvider) Stream(ctx context.Context, req adapter.CompletionRequest) (<-chan adapter.StreamEvent, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeOrchestrationProvider) CompleteWithTools(ctx context.Context, req adapter.CompletionRequest, writeEnabled, yoloMode bool, perm adapter.PermissionCallback, after adapter.AfterToolCallback) (<-chan adapter.ProviderMessage, <-chan error) {
	return nil, nil
}

func tasksFor(n int, provider string) []ParallelTask {
	tasks := make([]ParallelTask, 0, n)
	for i := 0; i < n; i++ {
		tasks = append(tasks, ParallelTask{ID: string(rune('a' + i)), Task: "do work", Config: SubagentConfig{Name: "t", Provider: provider}})
	}
	return tasks
}

func TestParallelExecuteAllCompleted(t *testing.T) {
	mgr := NewSubagentManager(ProviderSet{"claude": &fakeOrchestrationProvider{name: "claude"}})
	exec := NewParallelExecutor(mgr, 5)

	result := exec.Execute(context.Background(), tasksFor(3, "claude"), 0, false, "", "")

	if result.Status != ParallelAllCompleted {
		t.Fatalf("expected all_completed, got %q", result.Status)
	}
	if result.CompletedCount() != 3 {
		t.Fatalf("expected 3 completed results, got %d", result.CompletedCount())
	}
}

func TestParallelExecuteFailFastCancelsPendingTasks(t *testing.T) {
	providers := ProviderSet{
		"fails": &fakeOrchestrationProvider{name: "fails", err: errors.New("boom")},
		"slow":  &fakeOrchestrationProvider{name: "slow", delay: 2 * time.Second},
	}
	mgr := NewSubagentManager(providers)
	exec := NewParallelExecutor(mgr, 5)

	tasks := []ParallelTask{
		{ID: "fast-fail", Task: "x", Config: SubagentConfig{Name: "fast-fail", Provider: "fails"}},
		{ID: "slow-one", Task: "x", Config: SubagentConfig{Name: "slow-one", Provider: "slow", Timeout: 5 * time.Second}},
	}

	start := time.Now()
	result := exec.Execute(context.Background(), tasks, 0, true, "", "")
	elapsed := time.Since(start)

	if elapsed >= 2*time.Second {
		t.Fatalf("expected fail-fast to cancel the slow task well before its own 2s completion, took %s", elapsed)
	}

	foundCancelled := false
	for _, r := range result.Results {
		if r.Status == SubagentCancelled {
			foundCancelled = true
		}
	}
	if !foundCancelled {
		t.Fatalf("expected the still-pending task to be reported cancelled, got %+v", result.Results)
	}
	if result.Status == ParallelAllCompleted {
		t.Fatalf("expected a non-success status after a fail-fast abort, got %q", result.Status)
	}
}

func TestParallelExecuteWithoutFailFastWaitsForAll(t *testing.T) {
	providers := ProviderSet{
		"fails": &fakeOrchestrationProvider{name: "fails", err: errors.New("boom")},
		"ok":    &fakeOrchestrationProvider{name: "ok"},
	}
	mgr := NewSubagentManager(providers)
	exec := NewParallelExecutor(mgr, 5)

	tasks := []ParallelTask{
		{ID: "a", Task: "x", Config: SubagentConfig{Name: "a", Provider: "fails"}},
		{ID: "b", Task: "x", Config: SubagentConfig{Name: "b", Provider: "ok"}},
	}

	result := exec.Execute(context.Background(), tasks, 0, false, "", "")

	if result.Status != ParallelPartial {
		t.Fatalf("expected partial status with one failure and one success, got %q", result.Status)
	}
	if len(result.Results) != 2 {
		t.Fatalf("expected both results present without fail-fast, got %d", len(result.Results))
	}
}

func TestParallelExecuteEmptyTaskListIsAllCompleted(t *testing.T) {
	mgr := NewSubagentManager(ProviderSet{})
	exec := NewParallelExecutor(mgr, 5)

	result := exec.Execute(context.Background(), nil, 0, false, "", "")
	if result.Status != ParallelAllCompleted {
		t.Fatalf("expected all_completed for an empty task list, got %q", result.Status)
	}
	if len(result.Results) != 0 {
		t.Fatalf("expected no results for an empty task list")
	}
}

func TestParallelExecuteOverallTimeoutReportsTimeoutStatus(t *testing.T) {
	mgr := NewSubagentManager(ProviderSet{"slow": &fakeOrchestrationProvider{name: "slow", delay: time.Second}})
	exec := NewParallelExecutor(mgr, 5)

	tasks := []ParallelTask{{ID: "a", Task: "x", Config: SubagentConfig{Name: "a", Provider: "slow", Timeout: 5 * time.Second}}}

	result := exec.Execute(context.Background(), tasks, 50*time.Millisecond, false, "", "")
	if result.Status != ParallelTimeout {
		t.Fatalf("expected timeout status when the overall deadline elapses first, got %q", result.Status)
	}
}

func TestParallelMapRendersItemTemplate(t *testing.T) {
	mgr := NewSubagentManager(ProviderSet{"claude": &fakeOrchestrationProvider{name: "claude"}})
	exec := NewParallelExecutor(mgr, 5)

	result := exec.Map(context.Background(), "summarize {item}", []any{"a.go", "b.go"}, SubagentConfig{Provider: "claude"}, 0, "")
	if result.Status != ParallelAllCompleted {
		t.Fatalf("expected all_completed, got %q", result.Status)
	}
	if len(result.Results) != 2 {
		t.Fatalf("expected one result per item, got %d", len(result.Results))
	}
}
