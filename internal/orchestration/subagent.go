// Package orchestration implements the higher-level multi-agent patterns
// built on top of the provider adapter: isolated subagent spawning,
// bounded-concurrency parallel execution, maker-checker verification, and
// streaming multi-agent roundtables.
package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenthub/agent-hub/internal/adapter"
)

// DefaultSubagentTimeout is how long one spawn() waits before the call is
// treated as timed out, 
const DefaultSubagentTimeout = 300 * time.Second

// SubagentConfig configures one spawned subagent's isolated call.
type SubagentConfig struct {
	Name          string
	Provider      string // "claude" | "gemini"
	Model         string
	SystemPrompt  string
	MaxTokens     int
	Temperature   float64
	ThinkingLevel adapter.ThinkingLevel
	Tools         []adapter.ToolDef
	Timeout       time.Duration
}

func (c SubagentConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultSubagentTimeout
}

// SubagentStatus is the terminal state of one spawned call.
type SubagentStatus string

const (
	SubagentCompleted SubagentStatus = "completed"
	SubagentError     SubagentStatus = "error"
	SubagentTimeout   SubagentStatus = "timeout"
	SubagentCancelled SubagentStatus = "cancelled"
)

// SubagentResult is what one spawn() call returns.
type SubagentResult struct {
	SubagentID      string
	Name            string
	Content         string
	Status          SubagentStatus
	Provider        string
	Model           string
	InputTokens     int
	OutputTokens    int
	ThinkingContent string
	ThinkingTokens  int
	Error           string
	StartedAt       time.Time
	CompletedAt     time.Time
	ParentID        string
	TraceID         string
}

// ProviderSet resolves a provider by name; satisfied by a small map the
// caller builds once at startup from its configured adapters.
type ProviderSet map[string]adapter.Provider

func (s ProviderSet) get(name string) (adapter.Provider, error) {
	p, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("orchestration: unknown provider %q", name)
	}
	return p, nil
}

// SubagentManager spawns isolated adapter calls and tracks background
// ones by id, using the same in-process goroutine-and-semaphore pattern
// as the parallel executor, applied here at single-task granularity.
type SubagentManager struct {
	providers ProviderSet

	mu     sync.Mutex
	active map[string]*backgroundSpawn
}

type backgroundSpawn struct {
	done   chan struct{}
	result SubagentResult
	cancel context.CancelFunc
}

// NewSubagentManager constructs a manager over the given providers.
func NewSubagentManager(providers ProviderSet) *SubagentManager {
	return &SubagentManager{providers: providers, active: make(map[string]*backgroundSpawn)}
}

// Spawn runs one isolated subagent call to completion, with its own
// message list: [system?, ...context, user=task], timeout-bounded.
// Errors and timeouts are captured as a terminal status rather than
// returned as a Go error — callers inspect Result.Status.
func (m *SubagentManager) Spawn(ctx context.Context, task string, cfg SubagentConfig, contextMessages []adapter.Message, parentID, traceID string) SubagentResult {
	subagentID := uuid.NewString()[:8]
	startedAt := time.Now()

	provider, err := m.providers.get(cfg.Provider)
	if err != nil {
		return SubagentResult{
			SubagentID: subagentID, Name: cfg.Name, Status: SubagentError, Provider: cfg.Provider, Model: cfg.Model,
			Error: err.Error(), StartedAt: startedAt, CompletedAt: time.Now(), ParentID: parentID, TraceID: traceID,
		}
	}

	messages := make([]adapter.Message, 0, len(contextMessages)+2)
	if cfg.SystemPrompt != "" {
		messages = append(messages, adapter.Message{Role: "system", Content: cfg.SystemPrompt})
	}
	messages = append(messages, contextMessages...)
	messages = append(messages, adapter.Message{Role: "user", Content: task})

	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	type outcome struct {
		result adapter.CompletionResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := provider.Complete(timeoutCtx, adapter.CompletionRequest{
			Messages: messages, Model: cfg.Model, MaxTokens: cfg.MaxTokens,
			Temperature: cfg.Temperature, ThinkingLevel: cfg.ThinkingLevel, Tools: cfg.Tools,
		})
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		completedAt := time.Now()
		if out.err != nil {
			return SubagentResult{
				SubagentID: subagentID, Name: cfg.Name, Status: SubagentError, Provider: cfg.Provider, Model: cfg.Model,
				Error: out.err.Error(), StartedAt: startedAt, CompletedAt: completedAt, ParentID: parentID, TraceID: traceID,
			}
		}
		return SubagentResult{
			SubagentID: subagentID, Name: cfg.Name, Content: out.result.Content, Status: SubagentCompleted,
			Provider: out.result.Provider, Model: out.result.Model, InputTokens: out.result.InputTokens,
			OutputTokens: out.result.OutputTokens, ThinkingContent: out.result.ThinkingContent, ThinkingTokens: out.result.ThinkingTokens,
			StartedAt: startedAt, CompletedAt: completedAt, ParentID: parentID, TraceID: traceID,
		}
	case <-timeoutCtx.Done():
		return SubagentResult{
			SubagentID: subagentID, Name: cfg.Name, Status: SubagentTimeout, Provider: cfg.Provider, Model: cfg.Model,
			Error: fmt.Sprintf("execution timed out after %s", cfg.timeout()), StartedAt: startedAt, CompletedAt: time.Now(),
			ParentID: parentID, TraceID: traceID,
		}
	}
}

// SpawnBackground starts a subagent call without waiting and returns its
// id immediately; GetResult/Cancel operate on that id.
func (m *SubagentManager) SpawnBackground(ctx context.Context, task string, cfg SubagentConfig, contextMessages []adapter.Message, parentID, traceID string) string {
	id := uuid.NewString()[:8]
	bgCtx, cancel := context.WithCancel(ctx)
	bg := &backgroundSpawn{done: make(chan struct{}), cancel: cancel}

	m.mu.Lock()
	m.active[id] = bg
	m.mu.Unlock()

	go func() {
		bg.result = m.Spawn(bgCtx, task, cfg, contextMessages, parentID, traceID)
		close(bg.done)
	}()

	return id
}

// GetResult blocks for a background spawn's result, up to timeout (0 =
// wait forever). Returns ok=false if the id is unknown or the wait timed
// out before completion (the background call keeps running either way).
func (m *SubagentManager) GetResult(id string, timeout time.Duration) (SubagentResult, bool) {
	m.mu.Lock()
	bg, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return SubagentResult{}, false
	}

	if timeout <= 0 {
		<-bg.done
	} else {
		select {
		case <-bg.done:
		case <-time.After(timeout):
			return SubagentResult{}, false
		}
	}

	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
	return bg.result, true
}

// Cancel stops a background spawn's in-flight provider call. Returns
// false if the id is unknown.
func (m *SubagentManager) Cancel(id string) bool {
	m.mu.Lock()
	bg, ok := m.active[id]
	if ok {
		delete(m.active, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	bg.cancel()
	return true
}

// ActiveCount reports how many background subagents are still tracked.
func (m *SubagentManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
