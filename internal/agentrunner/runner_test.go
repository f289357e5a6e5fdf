package agentrunner

import (
	"context"
	"testing"

	"github.com/agenthub/agent-hub/internal/adapter"
)

type fakeProvider struct {
	name       string
	completion adapter.CompletionResult
	err        error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, req adapter.CompletionRequest) (adapter.CompletionResult, error) {
	return f.completion, f.err
}

func (f *fakeProvider) Stream(ctx context.Context, req adapter.CompletionRequest) (<-chan adapter.StreamEvent, error) {
	ch := make(chan adapter.StreamEvent)
	close(ch)
	return ch, nil
}

func (f *fakeProvider) CompleteWithTools(ctx context.Context, req adapter.CompletionRequest, writeEnabled, yoloMode bool, perm adapter.PermissionCallback, after adapter.AfterToolCallback) (<-chan adapter.ProviderMessage, <-chan error) {
	msgs := make(chan adapter.ProviderMessage)
	errs := make(chan error)
	close(msgs)
	close(errs)
	return msgs, errs
}

func TestProviderForUnknown(t *testing.T) {
	r := NewRunner(nil, nil, nil)
	if _, err := r.providerFor("bedrock"); err == nil {
		t.Fatalf("expected an error for an unknown provider name")
	}
}

func TestProviderForUnconfigured(t *testing.T) {
	r := NewRunner(nil, nil, nil)
	if _, err := r.providerFor("claude"); err == nil {
		t.Fatalf("expected an error when claude is not configured")
	}
}

func TestRunReturnsErrorForUnconfiguredProvider(t *testing.T) {
	r := NewRunner(nil, nil, nil)
	result := r.Run(context.Background(), "do something", AgentConfig{Provider: "claude"}, nil)

	if result.Status != "error" {
		t.Fatalf("expected status 'error', got %q", result.Status)
	}
	if result.AgentID == "" {
		t.Fatalf("expected an agent id to be assigned even on failure")
	}
}

func TestRunSimpleCompletionSuccess(t *testing.T) {
	claude := &fakeProvider{name: "claude", completion: adapter.CompletionResult{
		Content: "done", InputTokens: 10, OutputTokens: 20,
	}}
	r := NewRunner(claude, nil, nil)

	result := r.Run(context.Background(), "summarize this", AgentConfig{Provider: "claude", SingleShot: true}, nil)

	if result.Status != "success" {
		t.Fatalf("expected success, got %q (%s)", result.Status, result.Error)
	}
	if result.Content != "done" {
		t.Fatalf("expected content 'done', got %q", result.Content)
	}
	if result.InputTokens != 10 || result.OutputTokens != 20 {
		t.Fatalf("expected token counts to propagate, got %+v", result)
	}
}

func TestRunSimpleCompletionProviderError(t *testing.T) {
	claude := &fakeProvider{name: "claude", err: context.DeadlineExceeded}
	r := NewRunner(claude, nil, nil)

	result := r.Run(context.Background(), "task", AgentConfig{Provider: "claude", SingleShot: true}, nil)
	if result.Status != "error" {
		t.Fatalf("expected status 'error', got %q", result.Status)
	}
}

func TestRunClaudeDefaultsToTurnLoop(t *testing.T) {
	claude := &fakeProvider{name: "claude", completion: adapter.CompletionResult{
		Content: "done", InputTokens: 10, OutputTokens: 20, FinishReason: adapter.FinishEndTurn,
	}}
	r := NewRunner(claude, nil, nil)

	result := r.Run(context.Background(), "summarize this", AgentConfig{Provider: "claude"}, nil)

	if result.Status != "success" {
		t.Fatalf("expected success, got %q (%s)", result.Status, result.Error)
	}
	if result.Turns != 1 {
		t.Fatalf("expected exactly one turn for an end_turn finish, got %d", result.Turns)
	}
	if result.Content != "done" {
		t.Fatalf("expected content 'done', got %q", result.Content)
	}
}

func TestRunClaudeWithoutCodeExecutionStillLoopsOnToolUse(t *testing.T) {
	claude := &fakeProvider{name: "claude", completion: adapter.CompletionResult{
		Content: "thinking", FinishReason: adapter.FinishToolUse,
	}}
	r := NewRunner(claude, nil, nil)

	result := r.Run(context.Background(), "task", AgentConfig{Provider: "claude", MaxTurns: 2}, nil)

	if result.Status != "max_turns" {
		t.Fatalf("expected max_turns once the turn budget is exhausted, got %q", result.Status)
	}
	if result.Turns != 2 {
		t.Fatalf("expected both configured turns to run, got %d", result.Turns)
	}
}

func TestWithEventsChains(t *testing.T) {
	r := NewRunner(nil, nil, nil).WithEvents(nil)
	if r == nil {
		t.Fatalf("expected WithEvents to return the same runner")
	}
}
