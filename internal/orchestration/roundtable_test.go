package orchestration

import (
	"context"
	"strings"
	"testing"

	"github.com/agenthub/agent-hub/internal/adapter"
)

// fakeStreamingProvider emits its reply as two content deltas followed by a
// done event, and records every prompt it was asked to answer.
type fakeStreamingProvider struct {
	name    string
	reply   string
	tokens  int
	prompts []string
	systems []string
}

func (f *fakeStreamingProvider) Name() string { return f.name }

func (f *fakeStreamingProvider) Complete(ctx context.Context, req adapter.CompletionRequest) (adapter.CompletionResult, error) {
	return adapter.CompletionResult{Content: f.reply, Provider: f.name}, nil
}

func (f *fakeStreamingProvider) Stream(ctx context.Context, req adapter.CompletionRequest) (<-chan adapter.StreamEvent, error) {
	for _, m := range req.Messages {
		switch m.Role {
		case "user":
			f.prompts = append(f.prompts, m.Content)
		case "system":
			f.systems = append(f.systems, m.Content)
		}
	}

	out := make(chan adapter.StreamEvent, 4)
	go func() {
		defer close(out)
		half := len(f.reply) / 2
		out <- adapter.StreamEvent{Type: adapter.EventContent, Delta: f.reply[:half]}
		out <- adapter.StreamEvent{Type: adapter.EventContent, Delta: f.reply[half:]}
		out <- adapter.StreamEvent{Type: adapter.EventDone, Result: &adapter.CompletionResult{OutputTokens: f.tokens}}
	}()
	return out, nil
}

func (f *fakeStreamingProvider) CompleteWithTools(ctx context.Context, req adapter.CompletionRequest, writeEnabled, yoloMode bool, perm adapter.PermissionCallback, after adapter.AfterToolCallback) (<-chan adapter.ProviderMessage, <-chan error) {
	return nil, nil
}

func collect(events <-chan RoundtableEvent) []RoundtableEvent {
	var out []RoundtableEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func newRoundtable(claude, gemini adapter.Provider) *RoundtableService {
	return NewRoundtableService(claude, gemini, "claude-model", "gemini-model", nil)
}

func TestRouteMessageSingleTargetAppendsTranscript(t *testing.T) {
	claude := &fakeStreamingProvider{name: "claude", reply: "claude says hi", tokens: 12}
	svc := newRoundtable(claude, &fakeStreamingProvider{name: "gemini"})
	session := svc.CreateSession(context.Background(), "proj", RoundtableQuick, false, false)

	events := collect(svc.RouteMessage(context.Background(), session, "hello", TargetClaude, nil))

	if events[len(events)-1].Type != RTEventDone {
		t.Fatalf("stream must end with done, got %+v", events[len(events)-1])
	}
	var sawVolley, sawCompletionMarker bool
	for _, ev := range events {
		if ev.Type == RTEventVolleyComplete && ev.Agent == TargetClaude {
			sawVolley = true
		}
		if ev.Type == RTEventMessage && ev.Content == "" && ev.Tokens > 0 {
			sawCompletionMarker = true
		}
	}
	if !sawVolley || !sawCompletionMarker {
		t.Fatalf("missing volley_complete or empty-content completion marker: %+v", events)
	}

	if len(session.Messages) != 2 {
		t.Fatalf("expected user + claude messages in transcript, got %d", len(session.Messages))
	}
	if session.Messages[1].Role != "claude" || session.Messages[1].Content != "claude says hi" {
		t.Fatalf("assistant reply not recorded: %+v", session.Messages[1])
	}
	if session.TotalTokens() != 12 {
		t.Fatalf("token usage not accumulated, got %d", session.TotalTokens())
	}
}

func TestRouteMessageBothHonorsExplicitSpeakerOrder(t *testing.T) {
	claude := &fakeStreamingProvider{name: "claude", reply: "claude view"}
	gemini := &fakeStreamingProvider{name: "gemini", reply: "gemini view"}
	svc := newRoundtable(claude, gemini)
	session := svc.CreateSession(context.Background(), "proj", RoundtableQuick, false, false)

	order := []RoundtableTarget{TargetGemini, TargetClaude}
	collect(svc.RouteMessage(context.Background(), session, "weigh in", TargetBoth, order))

	if session.Messages[1].Role != "gemini" || session.Messages[2].Role != "claude" {
		t.Fatalf("explicit speaker order not honored: %+v", session.Messages)
	}
}

func TestRouteMessageSecondSpeakerSeesFirstReply(t *testing.T) {
	claude := &fakeStreamingProvider{name: "claude", reply: "claude goes first"}
	gemini := &fakeStreamingProvider{name: "gemini", reply: "gemini responds"}
	svc := newRoundtable(claude, gemini)
	session := svc.CreateSession(context.Background(), "proj", RoundtableQuick, false, false)

	collect(svc.RouteMessage(context.Background(), session, "discuss", TargetBoth,
		[]RoundtableTarget{TargetClaude, TargetGemini}))

	if len(gemini.prompts) != 1 {
		t.Fatalf("expected one gemini prompt, got %d", len(gemini.prompts))
	}
	if !strings.Contains(gemini.prompts[0], "claude goes first") {
		t.Fatalf("second speaker must see the first speaker's completed reply:\n%s", gemini.prompts[0])
	}
	if !strings.Contains(gemini.prompts[0], "Claude may have already responded") {
		t.Fatalf("prompt missing the other-agent framing line:\n%s", gemini.prompts[0])
	}
}

func TestRouteMessageUnconfiguredProviderEmitsError(t *testing.T) {
	svc := NewRoundtableService(&fakeStreamingProvider{name: "claude", reply: "hi"}, nil, "", "", nil)
	session := svc.CreateSession(context.Background(), "proj", RoundtableQuick, false, false)

	events := collect(svc.RouteMessage(context.Background(), session, "hello", TargetGemini, nil))

	var sawError bool
	for _, ev := range events {
		if ev.Type == RTEventError && ev.Agent == TargetGemini {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("expected an error event for the missing provider, got %+v", events)
	}
}

func TestResolveOrderShufflesBothButCoversEachAgentOnce(t *testing.T) {
	svc := newRoundtable(&fakeStreamingProvider{name: "claude"}, &fakeStreamingProvider{name: "gemini"})

	for i := 0; i < 20; i++ {
		order := svc.resolveOrder(TargetBoth, nil)
		if len(order) != 2 || order[0] == order[1] {
			t.Fatalf("both must yield each agent exactly once, got %v", order)
		}
	}
	if got := svc.resolveOrder(TargetClaude, nil); len(got) != 1 || got[0] != TargetClaude {
		t.Fatalf("single target resolves to itself, got %v", got)
	}
}

func TestSessionMemoryContextEmbeddedInSystemPrompt(t *testing.T) {
	claude := &fakeStreamingProvider{name: "claude", reply: "ok"}
	svc := newRoundtable(claude, &fakeStreamingProvider{name: "gemini"})
	session := svc.CreateSession(context.Background(), "proj", RoundtableQuick, false, false)
	session.MemoryContext = "## Mandates\n[M:deadbeef] All I/O is async."

	collect(svc.RouteMessage(context.Background(), session, "hello", TargetClaude, nil))

	if len(claude.systems) != 1 || !strings.Contains(claude.systems[0], "[M:deadbeef]") {
		t.Fatalf("pre-fetched memory context must ride in the system prompt: %+v", claude.systems)
	}
}

func TestDeliberateRunsRoundsAndConsensus(t *testing.T) {
	claude := &fakeStreamingProvider{name: "claude", reply: "claude point"}
	gemini := &fakeStreamingProvider{name: "gemini", reply: "gemini point"}
	svc := newRoundtable(claude, gemini)
	session := svc.CreateSession(context.Background(), "proj", RoundtableDeliberation, false, false)

	collect(svc.Deliberate(context.Background(), session, "should we shard", 2))

	// Opening volley + 1 extra round + consensus volley = 3 turns each.
	if len(claude.prompts) != 3 || len(gemini.prompts) != 3 {
		t.Fatalf("expected 3 prompts per agent, got claude=%d gemini=%d", len(claude.prompts), len(gemini.prompts))
	}
	var sawConsensus bool
	for _, p := range claude.prompts {
		if strings.Contains(p, "consensus") {
			sawConsensus = true
		}
	}
	if !sawConsensus {
		t.Fatalf("deliberation must end with a consensus request:\n%v", claude.prompts)
	}
}

// blockingStreamProvider emits one delta then holds the stream open until
// its context is cancelled, never sending a done event.
type blockingStreamProvider struct {
	fakeStreamingProvider
	started chan struct{}
}

func (b *blockingStreamProvider) Stream(ctx context.Context, req adapter.CompletionRequest) (<-chan adapter.StreamEvent, error) {
	out := make(chan adapter.StreamEvent, 1)
	go func() {
		defer close(out)
		out <- adapter.StreamEvent{Type: adapter.EventContent, Delta: "partial"}
		close(b.started)
		<-ctx.Done()
	}()
	return out, nil
}

func TestCancelStreamAbortsVolleyAndDiscardsPartialMessage(t *testing.T) {
	claude := &blockingStreamProvider{started: make(chan struct{})}
	svc := newRoundtable(claude, &fakeStreamingProvider{name: "gemini"})
	session := svc.CreateSession(context.Background(), "proj", RoundtableQuick, false, false)

	events := svc.RouteMessage(context.Background(), session, "hello", TargetClaude, nil)

	<-claude.started
	if !svc.CancelStream(session.ID) {
		t.Fatalf("expected an in-flight stream to cancel")
	}

	collected := collect(events)
	for _, ev := range collected {
		if ev.Type == RTEventDone || ev.Type == RTEventVolleyComplete {
			t.Fatalf("a cancelled volley must not complete, got %+v", collected)
		}
	}
	if len(session.Messages) != 1 {
		t.Fatalf("partial assistant message must be discarded, transcript: %+v", session.Messages)
	}
	if _, ok := svc.GetSession(session.ID); !ok {
		t.Fatalf("the session itself must remain valid after cancellation")
	}
	if svc.CancelStream(session.ID) {
		t.Fatalf("no stream should remain registered after the volley ends")
	}
}

func TestEndSessionReturnsSummaryAndForgetsSession(t *testing.T) {
	svc := newRoundtable(&fakeStreamingProvider{name: "claude", reply: "hi", tokens: 5}, &fakeStreamingProvider{name: "gemini"})
	session := svc.CreateSession(context.Background(), "proj", RoundtableQuick, false, false)
	collect(svc.RouteMessage(context.Background(), session, "hello", TargetClaude, nil))

	summary := svc.EndSession(session)
	if summary.MessageCount != 2 || summary.TotalTokens != 5 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if _, ok := svc.GetSession(session.ID); ok {
		t.Fatalf("ended session must be untracked")
	}
}
