// Package agentrunner drives one provider through a turn-by-turn agentic
// loop: memory-augmented on the first turn, direct adapter calls after,
// dispatching on finish_reason until the model ends the turn, exhausts
// max_turns, or errors.
package agentrunner

import (
	"github.com/agenthub/agent-hub/internal/adapter"
)

// MaxAgentTurns is the safety ceiling on how many turns one run may take.
const MaxAgentTurns = 20

// AgentProgress is one step reported through a run's progress callback.
type AgentProgress struct {
	Turn        int
	Status      string // "running", "tool_use", "thinking", "complete", "error"
	Message     string
	ToolCalls   []adapter.ToolCall
	ToolResults []ToolResult
	Thinking    string
}

// ToolResult is one executed tool's outcome, carried on an AgentProgress
// and folded into the next turn's synthetic user message.
type ToolResult struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// AgentResult is the terminal outcome of one Run call.
type AgentResult struct {
	AgentID        string
	Status         string // "success", "error", "max_turns"
	Content        string
	Provider       string
	Model          string
	Turns          int
	InputTokens    int
	OutputTokens   int
	ThinkingTokens int
	ToolCallsCount int
	Error          string
	ProgressLog    []AgentProgress
	ContainerID    string
	SessionID      string
	MemoryUUIDs    []string
	CitedUUIDs     []string
}

// AgentConfig configures one Run call.
type AgentConfig struct {
	Provider             string // "claude" | "gemini"
	Model                string
	SystemPrompt         string
	Temperature          float64
	MaxTurns             int
	ThinkingLevel        adapter.ThinkingLevel
	EnableCodeExecution  bool // Claude: let the provider's sandbox run tools internally
	ContainerID          string
	WorkingDir           string
	Tools                []adapter.ToolDef
	ToolHandler          adapter.ToolHandler
	WriteEnabled         bool
	YoloMode             bool
	PermissionCallback   adapter.PermissionCallback
	AfterToolCallback    adapter.AfterToolCallback

	// SingleShot skips the turn loop and first-turn memory injection
	// entirely: one Complete call, no continuation, no citation tracking.
	// An explicit opt-out, not the default — the turn loop is what "Run"
	// means otherwise.
	SingleShot bool

	ProjectID     string
	UseMemory     bool
	MemoryGroupID string
	AgentSlug     string
}

func (c AgentConfig) maxTurns() int {
	if c.MaxTurns > 0 {
		return c.MaxTurns
	}
	return MaxAgentTurns
}

// ProgressCallback receives each AgentProgress as it's produced; nil is a
// valid no-op subscriber.
type ProgressCallback func(AgentProgress)

func emit(result *AgentResult, progress AgentProgress, cb ProgressCallback) {
	result.ProgressLog = append(result.ProgressLog, progress)
	if cb != nil {
		cb(progress)
	}
}
