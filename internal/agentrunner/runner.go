package agentrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agenthub/agent-hub/internal/adapter"
	"github.com/agenthub/agent-hub/internal/memory"
	"github.com/agenthub/agent-hub/internal/observability"
	"github.com/agenthub/agent-hub/pkg/models"
)

// MemoryInjector is the narrow slice of memory.Manager the runner needs for
// turn-1 augmentation and post-turn citation tracking; kept as an
// interface so tests can stub it without a live backend.
type MemoryInjector interface {
	InjectContext(ctx context.Context, query string, scope models.Scope, includeGlobal bool, taskType string, cfg memory.VariantConfig, budget memory.TokenBudget, session *memory.SessionState) (memory.ProgressiveContext, error)
	ProcessCitations(ctx context.Context, responseText, groupID string) (memory.ParseResult, error)
}

// Runner executes a task through one provider's agentic loop, caching
// adapter instances and reusing them across calls within one process.
type Runner struct {
	Claude adapter.Provider
	Gemini adapter.Provider
	Memory MemoryInjector

	// Events records the run timeline for debugging and replay; nil
	// disables event recording entirely.
	Events *observability.EventRecorder

	now func() time.Time
}

// NewRunner constructs a Runner. Either provider may be nil; Run returns an
// error result if a config requests an unconfigured provider.
func NewRunner(claude, gemini adapter.Provider, mem MemoryInjector) *Runner {
	return &Runner{Claude: claude, Gemini: gemini, Memory: mem, now: time.Now}
}

// WithEvents attaches an event recorder and returns the same Runner, for
// chaining onto NewRunner at construction time.
func (r *Runner) WithEvents(events *observability.EventRecorder) *Runner {
	r.Events = events
	return r
}

func (r *Runner) providerFor(name string) (adapter.Provider, error) {
	switch name {
	case "claude":
		if r.Claude == nil {
			return nil, fmt.Errorf("agentrunner: claude provider not configured")
		}
		return r.Claude, nil
	case "gemini":
		if r.Gemini == nil {
			return nil, fmt.Errorf("agentrunner: gemini provider not configured")
		}
		return r.Gemini, nil
	default:
		return nil, fmt.Errorf("agentrunner: unknown provider %q", name)
	}
}

// Run drives one task to completion
func (r *Runner) Run(ctx context.Context, task string, cfg AgentConfig, progress ProgressCallback) AgentResult {
	agentID := uuid.NewString()
	ctx = observability.AddAgentID(ctx, agentID)
	ctx = observability.AddRunID(ctx, agentID)
	start := r.now()

	provider := cfg.Provider
	if provider == "" {
		provider = "claude"
	}

	result := AgentResult{AgentID: agentID, Status: "running", Provider: provider, Model: cfg.Model}

	if r.Events != nil {
		_ = r.Events.RecordRunStart(ctx, agentID, map[string]interface{}{"provider": provider, "model": cfg.Model})
	}

	p, err := r.providerFor(provider)
	if err != nil {
		result.Status = "error"
		result.Error = err.Error()
		if r.Events != nil {
			_ = r.Events.RecordError(ctx, observability.EventTypeRunError, "provider_unavailable", err, nil)
		}
		return result
	}

	messages := []adapter.Message{}
	if cfg.SystemPrompt != "" {
		messages = append(messages, adapter.Message{Role: "system", Content: cfg.SystemPrompt})
	}
	messages = append(messages, adapter.Message{Role: "user", Content: task})

	switch {
	case cfg.SingleShot:
		result = r.runSimpleCompletion(ctx, messages, cfg, result, p, progress)
	case provider == "claude":
		result = r.runClaudeTurnLoop(ctx, messages, cfg, result, p, progress)
	case provider == "gemini":
		result = r.runGeminiWithTools(ctx, messages, cfg, result, p, progress)
	default:
		result = r.runSimpleCompletion(ctx, messages, cfg, result, p, progress)
	}

	if result.Status == "running" {
		result.Status = "max_turns"
		result.Error = fmt.Sprintf("reached maximum turns (%d)", cfg.maxTurns())
	}

	if r.Events != nil {
		if result.Status == "error" {
			_ = r.Events.RecordError(ctx, observability.EventTypeRunError, "run_failed", fmt.Errorf("%s", result.Error), map[string]interface{}{"turns": result.Turns})
		} else {
			_ = r.Events.RecordRunEnd(ctx, r.now().Sub(start), nil)
		}
	}
	return result
}

// runSimpleCompletion is the no-tool-loop path: one call, no memory
// injection, no turn loop — only reachable via the explicit
// AgentConfig.SingleShot opt-out.
func (r *Runner) runSimpleCompletion(ctx context.Context, messages []adapter.Message, cfg AgentConfig, result AgentResult, p adapter.Provider, progress ProgressCallback) AgentResult {
	result.Turns = 1
	emit(&result, AgentProgress{Turn: 1, Status: "running", Message: fmt.Sprintf("sending to %s", cfg.Provider)}, progress)

	completion, err := p.Complete(ctx, adapter.CompletionRequest{
		Messages: messages, Model: cfg.Model, Temperature: cfg.Temperature, ThinkingLevel: cfg.ThinkingLevel,
	})
	if err != nil {
		result.Status, result.Error = "error", err.Error()
		return result
	}

	result.InputTokens, result.OutputTokens, result.ThinkingTokens = completion.InputTokens, completion.OutputTokens, completion.ThinkingTokens
	result.Status, result.Content = "success", completion.Content
	emit(&result, AgentProgress{Turn: 1, Status: "complete", Message: "completion received"}, progress)
	return result
}

// firstTurnContext runs the first-turn memory injection pipeline and augments the
// system message, returning the loaded UUIDs and the scope's group id for
// downstream citation resolution.
func (r *Runner) firstTurnContext(ctx context.Context, cfg AgentConfig, task string) (systemAddition string, loadedUUIDs []string, groupID string) {
	scope := models.Scope{Kind: models.ScopeProject, ID: cfg.ProjectID}
	groupID = resolveGroupID(cfg)
	if r.Memory == nil || !cfg.UseMemory {
		return "", nil, groupID
	}

	variant := memory.GetVariantConfig(memory.VariantBaseline, nil)
	session := memory.NewSessionState(scope, r.now())

	pc, err := r.Memory.InjectContext(ctx, task, scope, true, cfg.AgentSlug, variant, memory.DefaultTokenBudget, session)
	if err != nil {
		return "", nil, groupID
	}
	return pc.Format(), pc.LoadedUUIDs, groupID
}

// resolveGroupID maps a config onto the group_id citations resolve
// against, whether or not memory injection ran this turn.
func resolveGroupID(cfg AgentConfig) string {
	if cfg.MemoryGroupID != "" {
		return cfg.MemoryGroupID
	}
	return models.Scope{Kind: models.ScopeProject, ID: cfg.ProjectID}.GroupID()
}

func (r *Runner) trackCitations(ctx context.Context, content, groupID string) []string {
	if r.Memory == nil || content == "" {
		return nil
	}
	parsed, err := r.Memory.ProcessCitations(ctx, content, groupID)
	if err != nil {
		return nil
	}
	return parsed.UniqueUUIDs
}
