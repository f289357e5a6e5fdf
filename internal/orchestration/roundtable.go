package orchestration

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenthub/agent-hub/internal/adapter"
	"github.com/agenthub/agent-hub/internal/memory"
	"github.com/agenthub/agent-hub/pkg/models"
)

// RoundtableMode selects whether a session takes one pass per target or
// runs a multi-round deliberation ending in a consensus request.
type RoundtableMode string

const (
	RoundtableQuick        RoundtableMode = "quick"
	RoundtableDeliberation RoundtableMode = "deliberation"
)

// RoundtableTarget names who route_message addresses.
type RoundtableTarget string

const (
	TargetClaude RoundtableTarget = "claude"
	TargetGemini RoundtableTarget = "gemini"
	TargetBoth   RoundtableTarget = "both"
)

// DefaultDeliberationRounds bounds deliberate()'s back-and-forth absent an
// explicit override.
const DefaultDeliberationRounds = 3

// RoundtableMessage is one turn recorded in a session's transcript.
type RoundtableMessage struct {
	ID         string
	Role       string // "user" | "claude" | "gemini" | "system"
	Content    string
	Timestamp  time.Time
	TokensUsed int
	Model      string
}

func newRoundtableMessage(role, content string, tokensUsed int, model string) RoundtableMessage {
	return RoundtableMessage{ID: uuid.NewString()[:8], Role: role, Content: content, Timestamp: time.Now(), TokensUsed: tokensUsed, Model: model}
}

// RoundtableSession is a multi-agent collaboration session: a shared
// transcript both agents read from and append to, plus memory context
// fetched once at creation and reused for every agent prompt in the
// session (GLOBAL scope, per the one-time-injection decision).
type RoundtableSession struct {
	ID            string
	ProjectID     string
	Mode          RoundtableMode
	ToolsEnabled  bool
	Messages      []RoundtableMessage
	CreatedAt     time.Time
	MemoryContext string
}

// AddMessage appends to the session transcript.
func (s *RoundtableSession) AddMessage(m RoundtableMessage) {
	s.Messages = append(s.Messages, m)
}

// Context renders the most recent messages as a formatted transcript for
// embedding in the next agent prompt.
func (s *RoundtableSession) Context(maxMessages int) string {
	msgs := s.Messages
	if maxMessages > 0 && len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}
	var parts []string
	for _, m := range msgs {
		parts = append(parts, fmt.Sprintf("[%s]: %s", strings.ToUpper(m.Role), m.Content))
	}
	return strings.Join(parts, "\n\n")
}

// TotalTokens sums every message's token usage.
func (s *RoundtableSession) TotalTokens() int {
	total := 0
	for _, m := range s.Messages {
		total += m.TokensUsed
	}
	return total
}

// RoundtableEventType classifies one streamed event from route_message.
type RoundtableEventType string

const (
	RTEventMessage       RoundtableEventType = "message"
	RTEventThinking      RoundtableEventType = "thinking"
	RTEventToolCall      RoundtableEventType = "tool_call"
	RTEventError         RoundtableEventType = "error"
	RTEventDone          RoundtableEventType = "done"
	RTEventVolleyComplete RoundtableEventType = "volley_complete"
)

// RoundtableEvent is one unit streamed out of RouteMessage/Deliberate.
// A message event with empty Content but nonzero Tokens signals that
// agent's turn is complete, mirroring an empty-content "done" marker
// rather than a separate completion type.
type RoundtableEvent struct {
	Type      RoundtableEventType
	Agent     RoundtableTarget // "claude" | "gemini", empty for session-level events
	Content   string
	ToolName  string
	ToolInput map[string]any
	Tokens    int
	Err       string
}

// RoundtableService runs Claude/Gemini through shared, streamed,
// turn-taking conversations: route a message to one or both agents, or
// run a multi-round deliberation toward consensus.
type RoundtableService struct {
	claude      adapter.Provider
	gemini      adapter.Provider
	claudeModel string
	geminiModel string
	memory      MemoryContextSource

	mu       sync.Mutex
	sessions map[string]*RoundtableSession
	streams  map[string]context.CancelFunc
}

// MemoryContextSource is the narrow memory.Manager slice a roundtable
// session needs: a single global-scope injection at session creation,
// reused for every prompt in that session rather than re-queried per turn.
type MemoryContextSource interface {
	InjectContext(ctx context.Context, query string, scope models.Scope, includeGlobal bool, taskType string, cfg memory.VariantConfig, budget memory.TokenBudget, session *memory.SessionState) (memory.ProgressiveContext, error)
}

// NewRoundtableService constructs a service over the given providers.
// Either mem or the per-agent models may be left zero; claudeModel and
// geminiModel default to the empty string (provider default) when unset.
func NewRoundtableService(claude, gemini adapter.Provider, claudeModel, geminiModel string, mem MemoryContextSource) *RoundtableService {
	return &RoundtableService{
		claude: claude, gemini: gemini, claudeModel: claudeModel, geminiModel: geminiModel,
		memory: mem, sessions: make(map[string]*RoundtableSession),
		streams: make(map[string]context.CancelFunc),
	}
}

// CreateSession opens a new roundtable session, pre-fetching a one-time
// GLOBAL-scope memory context (per the session-scoped injection decision)
// when useMemory is set. A memory fetch failure is logged-and-ignored
// rather than failing session creation.
func (s *RoundtableService) CreateSession(ctx context.Context, projectID string, mode RoundtableMode, toolsEnabled, useMemory bool) *RoundtableSession {
	session := &RoundtableSession{
		ID: uuid.NewString()[:8], ProjectID: projectID, Mode: mode, ToolsEnabled: toolsEnabled, CreatedAt: time.Now(),
	}

	if useMemory && s.memory != nil {
		pc, err := s.memory.InjectContext(ctx, "", models.Scope{Kind: models.ScopeGlobal}, true, "", memory.GetVariantConfig(memory.VariantBaseline, nil), memory.DefaultTokenBudget, nil)
		if err == nil {
			session.MemoryContext = pc.Format()
		}
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	return session
}

// GetSession looks up a tracked session by id.
func (s *RoundtableService) GetSession(id string) (*RoundtableSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	return session, ok
}

// CancelStream aborts a session's in-flight volley: no further events are
// emitted for that volley and the provider call is best-effort aborted
// through context cancellation. The session itself remains valid — the
// partial message is discarded, not recorded. Returns false when the
// session has no stream in flight.
func (s *RoundtableService) CancelStream(sessionID string) bool {
	s.mu.Lock()
	cancel, ok := s.streams[sessionID]
	delete(s.streams, sessionID)
	s.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

func (s *RoundtableService) registerStream(sessionID string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.streams[sessionID] = cancel
	s.mu.Unlock()
}

func (s *RoundtableService) unregisterStream(sessionID string) {
	s.mu.Lock()
	delete(s.streams, sessionID)
	s.mu.Unlock()
}

func (s *RoundtableService) buildSystemPrompt(agent RoundtableTarget, memoryContext string) string {
	name := "Claude"
	if agent == TargetGemini {
		name = "Gemini"
	}
	base := fmt.Sprintf("You are %s, participating in a collaborative roundtable discussion.\n"+
		"Other agents may also provide responses. Consider their input when appropriate.\n"+
		"Be concise but thorough. Focus on the task at hand.", name)
	if memoryContext != "" {
		return base + "\n\n" + memoryContext
	}
	return base
}

func (s *RoundtableService) buildPrompt(message, context string, agent RoundtableTarget) string {
	if context == "" {
		return message
	}
	other := "Gemini"
	if agent == TargetGemini {
		other = "Claude"
	}
	return fmt.Sprintf("Previous conversation:\n%s\n\n%s may have already responded above. Consider their input if relevant.\n\nUser's message: %s",
		context, other, message)
}

// RouteMessage appends message to the session transcript, then streams
// each targeted agent's response in turn (sequentially, never
// concurrently — each agent sees the previous one's completed reply).
// For "both", the speaker order is randomized unless speakerOrder pins
// one explicitly.
func (s *RoundtableService) RouteMessage(ctx context.Context, session *RoundtableSession, message string, target RoundtableTarget, speakerOrder []RoundtableTarget) <-chan RoundtableEvent {
	out := make(chan RoundtableEvent, 8)

	volleyCtx, cancelVolley := context.WithCancel(ctx)
	s.registerStream(session.ID, cancelVolley)

	go func() {
		defer close(out)
		defer s.unregisterStream(session.ID)
		defer cancelVolley()

		session.AddMessage(newRoundtableMessage("user", message, 0, ""))

		order := s.resolveOrder(target, speakerOrder)
		for _, agent := range order {
			for ev := range s.callAgent(volleyCtx, agent, message, session.Context(20), session) {
				out <- ev
			}
			if volleyCtx.Err() != nil {
				return
			}
			out <- RoundtableEvent{Type: RTEventVolleyComplete, Agent: agent}
		}

		out <- RoundtableEvent{Type: RTEventDone}
	}()

	return out
}

// resolveOrder turns a target into a concrete speaker sequence: a single
// target is just itself, "both" honors an explicit speakerOrder or else
// is shuffled, per the randomized-order decision for undirected turns.
func (s *RoundtableService) resolveOrder(target RoundtableTarget, speakerOrder []RoundtableTarget) []RoundtableTarget {
	switch target {
	case TargetClaude, TargetGemini:
		return []RoundtableTarget{target}
	default:
		if len(speakerOrder) > 0 {
			return speakerOrder
		}
		order := []RoundtableTarget{TargetClaude, TargetGemini}
		if rand.Intn(2) == 1 {
			order[0], order[1] = order[1], order[0]
		}
		return order
	}
}

func (s *RoundtableService) providerFor(agent RoundtableTarget) (adapter.Provider, string) {
	if agent == TargetClaude {
		return s.claude, s.claudeModel
	}
	return s.gemini, s.geminiModel
}

// callAgent streams one agent's turn, appending its completed reply to
// the session transcript once the stream's done event arrives.
func (s *RoundtableService) callAgent(ctx context.Context, agent RoundtableTarget, message, context string, session *RoundtableSession) <-chan RoundtableEvent {
	out := make(chan RoundtableEvent, 8)

	go func() {
		defer close(out)

		provider, model := s.providerFor(agent)
		if provider == nil {
			out <- RoundtableEvent{Type: RTEventError, Agent: agent, Err: fmt.Sprintf("%s provider not configured", agent)}
			return
		}

		system := s.buildSystemPrompt(agent, session.MemoryContext)
		prompt := s.buildPrompt(message, context, agent)

		stream, err := provider.Stream(ctx, adapter.CompletionRequest{
			Messages: []adapter.Message{{Role: "system", Content: system}, {Role: "user", Content: prompt}},
			Model:    model,
		})
		if err != nil {
			out <- RoundtableEvent{Type: RTEventError, Agent: agent, Err: err.Error()}
			return
		}

		var content strings.Builder
		for ev := range stream {
			switch ev.Type {
			case adapter.EventContent:
				content.WriteString(ev.Delta)
				out <- RoundtableEvent{Type: RTEventMessage, Agent: agent, Content: ev.Delta}
			case adapter.EventThinking:
				out <- RoundtableEvent{Type: RTEventThinking, Agent: agent, Content: ev.Delta}
			case adapter.EventToolCall:
				if ev.ToolCall != nil {
					out <- RoundtableEvent{Type: RTEventToolCall, Agent: agent, ToolName: ev.ToolCall.Name, ToolInput: ev.ToolCall.Input}
				}
			case adapter.EventDone:
				if ctx.Err() != nil {
					return // cancelled mid-stream: discard the partial message
				}
				tokens := 0
				if ev.Result != nil {
					tokens = ev.Result.InputTokens + ev.Result.OutputTokens
				}
				session.AddMessage(newRoundtableMessage(string(agent), content.String(), tokens, model))
				out <- RoundtableEvent{Type: RTEventMessage, Agent: agent, Content: "", Tokens: tokens}
			case adapter.EventError:
				errText := "agent error"
				if ev.Err != nil {
					errText = ev.Err.Error()
				}
				out <- RoundtableEvent{Type: RTEventError, Agent: agent, Err: errText}
			}
		}
	}()

	return out
}

// Deliberate runs an opening volley to both agents, maxRounds further
// back-and-forth turns, then a final consensus request, the
// deliberation mode.
func (s *RoundtableService) Deliberate(ctx context.Context, session *RoundtableSession, topic string, maxRounds int) <-chan RoundtableEvent {
	if maxRounds <= 0 {
		maxRounds = DefaultDeliberationRounds
	}
	out := make(chan RoundtableEvent, 8)

	go func() {
		defer close(out)

		for ev := range s.RouteMessage(ctx, session, topic, TargetBoth, nil) {
			if ev.Type != RTEventDone {
				out <- ev
			}
		}

		for round := 1; round < maxRounds; round++ {
			prompt := fmt.Sprintf("Round %d: Please respond to the other agent's points.", round+1)

			context := session.Context(20)
			for ev := range s.callAgent(ctx, TargetClaude, prompt, context, session) {
				out <- ev
			}
			out <- RoundtableEvent{Type: RTEventVolleyComplete, Agent: TargetClaude}

			context = session.Context(20)
			for ev := range s.callAgent(ctx, TargetGemini, prompt, context, session) {
				out <- ev
			}
			out <- RoundtableEvent{Type: RTEventVolleyComplete, Agent: TargetGemini}
		}

		consensusPrompt := "Based on our discussion, please provide a brief consensus summary " +
			"of the key points we agree on and any remaining disagreements."
		for ev := range s.RouteMessage(ctx, session, consensusPrompt, TargetBoth, nil) {
			out <- ev
		}
	}()

	return out
}

// RoundtableSummary is the statistics EndSession returns.
type RoundtableSummary struct {
	SessionID       string
	ProjectID       string
	Mode            RoundtableMode
	MessageCount    int
	TotalTokens     int
	DurationSeconds float64
}

// EndSession removes a session from the tracked set and returns its
// summary statistics.
func (s *RoundtableService) EndSession(session *RoundtableSession) RoundtableSummary {
	summary := RoundtableSummary{
		SessionID: session.ID, ProjectID: session.ProjectID, Mode: session.Mode,
		MessageCount: len(session.Messages), TotalTokens: session.TotalTokens(),
		DurationSeconds: time.Since(session.CreatedAt).Seconds(),
	}
	s.mu.Lock()
	delete(s.sessions, session.ID)
	s.mu.Unlock()
	return summary
}
