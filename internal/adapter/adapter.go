// Package adapter implements the provider abstraction: a uniform
// complete/stream/complete_with_tools surface over heterogeneous LLM
// backends, each with its own auth mode, streaming protocol, and tool
// semantics.
package adapter

import (
	"context"
	"fmt"
)

// ThinkingLevel is the semantic reasoning-depth knob callers set instead of
// a raw token budget; each adapter maps it to whatever its own provider
// calls extended thinking.
type ThinkingLevel string

const (
	ThinkingMinimal    ThinkingLevel = "minimal"
	ThinkingLow        ThinkingLevel = "low"
	ThinkingMedium     ThinkingLevel = "medium"
	ThinkingHigh       ThinkingLevel = "high"
	ThinkingUltrathink ThinkingLevel = "ultrathink"
)

// FinishReason is the normalized stop reason every adapter must map its
// provider-native reason onto.
type FinishReason string

const (
	FinishEndTurn      FinishReason = "end_turn"
	FinishMaxTokens    FinishReason = "max_tokens"
	FinishToolUse      FinishReason = "tool_use"
	FinishStopSequence FinishReason = "stop_sequence"
)

// Message is one turn of conversation history passed to an adapter.
type Message struct {
	Role    string // "system", "user", "assistant", "tool"
	Content string
}

// ToolDef describes one tool an adapter may offer the model.
type ToolDef struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCall is a single tool invocation the model requested.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// Container is a handle to a provider-managed sandbox (Claude's code
// execution container), reused across turns of one agent run until it
// expires.
type Container struct {
	ID        string
	ExpiresAt int64 // unix seconds
}

// CacheMetrics reports prompt-cache hit/miss token counts when a provider
// supports prompt caching; zero value means the provider didn't report any.
type CacheMetrics struct {
	CacheCreationInputTokens int
	CacheReadInputTokens     int
}

// CompletionResult is the normalized response from complete().
type CompletionResult struct {
	Content         string
	Model           string
	Provider        string
	InputTokens     int
	OutputTokens    int
	FinishReason    FinishReason
	ThinkingContent string
	ThinkingTokens  int
	ToolCalls       []ToolCall
	Container       *Container
	CacheMetrics    *CacheMetrics
}

// StreamEventType classifies one event in a stream() sequence.
type StreamEventType string

const (
	EventContent  StreamEventType = "content"
	EventThinking StreamEventType = "thinking"
	EventToolCall StreamEventType = "tool_call"
	EventDone     StreamEventType = "done"
	EventError    StreamEventType = "error"
)

// StreamEvent is one unit of a streamed completion.
type StreamEvent struct {
	Type     StreamEventType
	Delta    string
	ToolCall *ToolCall
	Result   *CompletionResult // populated on EventDone
	Err      error             // populated on EventError
}

// CompletionRequest bundles every parameter complete()/stream() accept; a
// single struct keeps the three-operation interface below from sprawling
// into long positional parameter lists as fields are added.
type CompletionRequest struct {
	Messages               []Message
	Model                  string
	MaxTokens              int
	Temperature            float64
	ThinkingLevel          ThinkingLevel
	Tools                  []ToolDef
	ResponseSchema         map[string]any // non-nil requests structured JSON output
	EnableProgrammaticTools bool
	ContainerID             string
	WorkingDir              string
}

// ToolExecutionRequest is one provider-native tool invocation awaiting a
// permission decision and, for external-tool providers, caller-supplied
// execution.
type ToolExecutionRequest struct {
	Call       ToolCall
	WriteEnabled bool
	YoloMode     bool
}

// PermissionDecision is the verdict PreToolUse returns for one tool call.
type PermissionDecision struct {
	Allow  bool
	Reason string
}

// PermissionCallback is consulted for write tools when yolo_mode is false;
// nil means "deny for safety" 
type PermissionCallback func(ctx context.Context, req ToolExecutionRequest) (PermissionDecision, error)

// AfterToolCallback observes a completed tool call; it never blocks the
// conversation and its own errors are only logged.
type AfterToolCallback func(ctx context.Context, name string, input map[string]any, output string)

// ToolHandler executes one external tool call for providers (Gemini) whose
// tools run on the caller's side rather than inside a provider sandbox.
type ToolHandler interface {
	Execute(ctx context.Context, call ToolCall) (string, error)
}

// ProviderMessage is one emitted message from complete_with_tools, paired
// with the session id the provider-native loop is tracking internally
// (meaningful only for providers — Claude — that manage their own
// multi-turn tool loop).
type ProviderMessage struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	SessionID    string
}

// Provider is the uniform surface every backend implements.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)
	CompleteWithTools(ctx context.Context, req CompletionRequest, writeEnabled, yoloMode bool, perm PermissionCallback, after AfterToolCallback) (<-chan ProviderMessage, <-chan error)
}

// RateLimitError signals a provider-side throttle; RetryAfter is the
// provider's hint, zero when none was given.
type RateLimitError struct {
	Provider   string
	RetryAfter int // seconds, 0 = no hint
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %ds", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

// AuthenticationError signals the provider rejected credentials or, for
// OAuth mode, that the CLI is unauthenticated.
type AuthenticationError struct {
	Provider string
	Detail   string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %s", e.Provider, e.Detail)
}

// ProviderError wraps any other provider-side failure, tagged retriable so
// orchestration can decide whether to retry with backoff.
type ProviderError struct {
	Provider   string
	StatusCode int // 0 when not HTTP-shaped
	Retriable  bool
	Detail     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Detail)
}

// ReadTools is the fixed whitelist always allowed regardless of
// write_enabled or yolo_mode.
var ReadTools = map[string]bool{
	"read_file":            true,
	"search_code":          true,
	"list_files":            true,
	"get_project_structure": true,
}

// WriteTools require the write_enabled/yolo_mode/permission-callback gate
// in DecideToolPermission.
var WriteTools = map[string]bool{
	"write_file":      true,
	"edit_file":       true,
	"delete_file":     true,
	"create_directory": true,
}

// DecideToolPermission implements the PreToolUse gate: read tools always
// pass, write tools follow write_enabled -> yolo_mode -> callback -> deny,
// and anything not in either whitelist is allowed (the provider-side
// sandbox, not this process, is the trust boundary for unknown tools).
func DecideToolPermission(ctx context.Context, req ToolExecutionRequest, perm PermissionCallback) (PermissionDecision, error) {
	name := req.Call.Name
	if ReadTools[name] {
		return PermissionDecision{Allow: true}, nil
	}
	if WriteTools[name] {
		if !req.WriteEnabled {
			return PermissionDecision{Allow: false, Reason: "write_enabled is false"}, nil
		}
		if req.YoloMode {
			return PermissionDecision{Allow: true, Reason: "yolo_mode"}, nil
		}
		if perm != nil {
			return perm(ctx, req)
		}
		return PermissionDecision{Allow: false, Reason: "no permission callback supplied"}, nil
	}
	return PermissionDecision{Allow: true, Reason: "unknown tool, provider-side sandbox trusted"}, nil
}
