package orchestration

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agenthub/agent-hub/internal/adapter"
)

// DefaultMaxConcurrency bounds how many subagents one ParallelExecutor
// runs at once absent an explicit override.
const DefaultMaxConcurrency = 5

// ParallelTask is one unit of work for Execute.
type ParallelTask struct {
	ID      string
	Task    string
	Config  SubagentConfig
	Context []adapter.Message
}

// ParallelStatus is the aggregate outcome of one Execute call.
type ParallelStatus string

const (
	ParallelAllCompleted ParallelStatus = "all_completed"
	ParallelPartial      ParallelStatus = "partial"
	ParallelAllFailed    ParallelStatus = "all_failed"
	ParallelTimeout      ParallelStatus = "timeout"
)

// ParallelResult aggregates every task's SubagentResult plus token totals.
type ParallelResult struct {
	Results           []SubagentResult
	Status            ParallelStatus
	TotalInputTokens  int
	TotalOutputTokens int
	StartedAt         time.Time
	CompletedAt       time.Time
}

// CompletedCount returns how many results finished successfully.
func (r ParallelResult) CompletedCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == SubagentCompleted {
			n++
		}
	}
	return n
}

// ParallelExecutor runs subagents concurrently under a semaphore,
// implementing bounded-concurrency task-parallelism.
type ParallelExecutor struct {
	manager        *SubagentManager
	maxConcurrency int
}

// NewParallelExecutor constructs an executor over one SubagentManager.
func NewParallelExecutor(manager *SubagentManager, maxConcurrency int) *ParallelExecutor {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &ParallelExecutor{manager: manager, maxConcurrency: maxConcurrency}
}

// Execute runs every task under the semaphore. With failFast, the first
// error|timeout result cancels all still-pending tasks and returns
// immediately; otherwise it waits for all and converts an overall timeout
// into a ParallelTimeout status with whatever partial results landed.
func (e *ParallelExecutor) Execute(ctx context.Context, tasks []ParallelTask, overallTimeout time.Duration, failFast bool, parentID, traceID string) ParallelResult {
	startedAt := time.Now()
	if len(tasks) == 0 {
		return ParallelResult{Status: ParallelAllCompleted, StartedAt: startedAt, CompletedAt: time.Now()}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if overallTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, overallTimeout)
		defer cancel()
	}

	sem := make(chan struct{}, e.maxConcurrency)
	resultsCh := make(chan SubagentResult, len(tasks))
	taskCtx, cancelTasks := context.WithCancel(runCtx)
	defer cancelTasks()

	var wg sync.WaitGroup
	for _, t := range tasks {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-taskCtx.Done():
				resultsCh <- SubagentResult{SubagentID: t.ID, Name: t.Config.Name, Status: SubagentCancelled, Error: taskCtx.Err().Error()}
				return
			}
			defer func() { <-sem }()

			resultsCh <- e.manager.Spawn(taskCtx, t.Task, t.Config, t.Context, parentID, traceID)
		}()
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	var results []SubagentResult
	timedOut := false
collect:
	for {
		select {
		case res, ok := <-resultsCh:
			if !ok {
				break collect
			}
			results = append(results, res)
			if failFast && (res.Status == SubagentError || res.Status == SubagentTimeout) {
				cancelTasks()
			}
		case <-runCtx.Done():
			if runCtx.Err() != nil && ctx.Err() == nil {
				timedOut = true
			}
			cancelTasks()
			// Drain whatever trickles in after cancellation so goroutines don't leak.
			go func() {
				for range resultsCh {
				}
			}()
			break collect
		}
	}

	var totalIn, totalOut int
	for _, r := range results {
		totalIn += r.InputTokens
		totalOut += r.OutputTokens
	}

	status := ParallelAllCompleted
	switch {
	case timedOut:
		status = ParallelTimeout
	case len(results) == 0:
		status = ParallelAllFailed
	default:
		completed := 0
		for _, r := range results {
			if r.Status == SubagentCompleted {
				completed++
			}
		}
		switch {
		case completed == len(tasks):
			status = ParallelAllCompleted
		case completed == 0:
			status = ParallelAllFailed
		default:
			status = ParallelPartial
		}
	}

	return ParallelResult{
		Results: results, Status: status, TotalInputTokens: totalIn, TotalOutputTokens: totalOut,
		StartedAt: startedAt, CompletedAt: time.Now(),
	}
}

// Map formats taskTemplate with each item (via fmt.Sprintf's %v through a
// simple "{item}" substitution) and fans the resulting tasks out through
// Execute.
func (e *ParallelExecutor) Map(ctx context.Context, taskTemplate string, items []any, cfg SubagentConfig, overallTimeout time.Duration, traceID string) ParallelResult {
	tasks := make([]ParallelTask, 0, len(items))
	for i, item := range items {
		itemCfg := cfg
		itemCfg.Name = fmt.Sprintf("%s_%d", cfg.Name, i)
		tasks = append(tasks, ParallelTask{
			ID:     fmt.Sprintf("%d", i),
			Task:   renderTemplate(taskTemplate, item),
			Config: itemCfg,
		})
	}
	return e.Execute(ctx, tasks, overallTimeout, false, "", traceID)
}

func renderTemplate(template string, item any) string {
	return strings.ReplaceAll(template, "{item}", fmt.Sprintf("%v", item))
}
