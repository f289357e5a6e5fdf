// This file implements the event timeline: an in-process record of what
// one agent run did (turns, tool calls, subagent spawns, errors), kept for
// debugging and replay rather than metrics — Prometheus counters live in
// metrics.go.
package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// RunIDKey is the context key for run IDs (one agent run).
	RunIDKey ContextKey = "run_id"

	// ToolCallIDKey is the context key for tool call IDs.
	ToolCallIDKey ContextKey = "tool_call_id"

	// SubagentIDKey is the context key for subagent instance IDs.
	SubagentIDKey ContextKey = "subagent_id"

	// AgentIDKey is the context key for agent IDs.
	AgentIDKey ContextKey = "agent_id"
)

// AddRunID attaches a run ID to the context.
func AddRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetRunID retrieves the run ID from the context.
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(RunIDKey).(string); ok {
		return id
	}
	return ""
}

// AddToolCallID attaches a tool call ID to the context.
func AddToolCallID(ctx context.Context, toolCallID string) context.Context {
	return context.WithValue(ctx, ToolCallIDKey, toolCallID)
}

// GetToolCallID retrieves the tool call ID from the context.
func GetToolCallID(ctx context.Context) string {
	if id, ok := ctx.Value(ToolCallIDKey).(string); ok {
		return id
	}
	return ""
}

// AddSubagentID attaches a subagent ID to the context.
func AddSubagentID(ctx context.Context, subagentID string) context.Context {
	return context.WithValue(ctx, SubagentIDKey, subagentID)
}

// GetSubagentID retrieves the subagent ID from the context.
func GetSubagentID(ctx context.Context) string {
	if id, ok := ctx.Value(SubagentIDKey).(string); ok {
		return id
	}
	return ""
}

// AddAgentID attaches an agent ID to the context.
func AddAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, AgentIDKey, agentID)
}

// GetAgentID retrieves the agent ID from the context.
func GetAgentID(ctx context.Context) string {
	if id, ok := ctx.Value(AgentIDKey).(string); ok {
		return id
	}
	return ""
}

// EventType categorizes timeline events.
type EventType string

const (
	EventTypeRunStart  EventType = "run.start"
	EventTypeRunEnd    EventType = "run.end"
	EventTypeRunError  EventType = "run.error"
	EventTypeTurn      EventType = "run.turn"

	EventTypeToolStart EventType = "tool.start"
	EventTypeToolEnd   EventType = "tool.end"
	EventTypeToolError EventType = "tool.error"

	EventTypeSubagentSpawn    EventType = "subagent.spawn"
	EventTypeSubagentComplete EventType = "subagent.complete"

	EventTypeInjection EventType = "memory.injection"
	EventTypeVolley    EventType = "roundtable.volley"
)

// Event is one timeline entry. Correlation IDs are filled from the
// context at record time; Data carries type-specific detail.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	RunID      string         `json:"run_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	SubagentID string         `json:"subagent_id,omitempty"`
	AgentID    string         `json:"agent_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Duration   time.Duration  `json:"duration_ns,omitempty"`
	Error      string         `json:"error,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	SpanID     string         `json:"span_id,omitempty"`
}

// EventStore persists and queries timeline events.
type EventStore interface {
	Record(event *Event) error
	ByRunID(runID string) []*Event
	BySessionID(sessionID string) []*Event
	ByType(eventType EventType, limit int) []*Event
	Prune(olderThan time.Duration) int
}

// MemoryEventStore keeps the timeline in memory, bounded by capacity.
// Insertion order doubles as time order, so eviction drops from the front
// rather than re-sorting the whole store.
type MemoryEventStore struct {
	mu       sync.RWMutex
	ordered  []*Event
	capacity int
}

// NewMemoryEventStore constructs a store holding at most capacity events
// (10000 when <= 0).
func NewMemoryEventStore(capacity int) *MemoryEventStore {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryEventStore{capacity: capacity}
}

// Record appends one event, evicting the oldest tenth when full.
func (s *MemoryEventStore) Record(event *Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}
	if event.ID == "" {
		event.ID = nextEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ordered) >= s.capacity {
		drop := s.capacity / 10
		if drop < 1 {
			drop = 1
		}
		s.ordered = append([]*Event{}, s.ordered[drop:]...)
	}
	s.ordered = append(s.ordered, event)
	return nil
}

func (s *MemoryEventStore) filter(keep func(*Event) bool) []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Event, 0, 8)
	for _, e := range s.ordered {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// ByRunID returns a run's events in time order.
func (s *MemoryEventStore) ByRunID(runID string) []*Event {
	return s.filter(func(e *Event) bool { return e.RunID == runID })
}

// BySessionID returns a session's events in time order.
func (s *MemoryEventStore) BySessionID(sessionID string) []*Event {
	return s.filter(func(e *Event) bool { return e.SessionID == sessionID })
}

// ByType returns the most recent events of one type, newest first.
func (s *MemoryEventStore) ByType(eventType EventType, limit int) []*Event {
	matched := s.filter(func(e *Event) bool { return e.Type == eventType })
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// Prune drops events older than the given age, returning how many were
// removed.
func (s *MemoryEventStore) Prune(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.ordered[:0]
	removed := 0
	for _, e := range s.ordered {
		if e.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.ordered = kept
	return removed
}

// EventRecorder is the write-side facade collaborators hold: it stamps
// correlation IDs from the context and mirrors each record to the debug
// log.
type EventRecorder struct {
	store  EventStore
	logger *Logger
}

// NewEventRecorder constructs a recorder; logger may be nil.
func NewEventRecorder(store EventStore, logger *Logger) *EventRecorder {
	return &EventRecorder{store: store, logger: logger}
}

func (r *EventRecorder) build(ctx context.Context, eventType EventType, name string, data map[string]any) *Event {
	return &Event{
		ID:         nextEventID(),
		Type:       eventType,
		Timestamp:  time.Now(),
		RunID:      GetRunID(ctx),
		SessionID:  GetSessionID(ctx),
		ToolCallID: GetToolCallID(ctx),
		SubagentID: GetSubagentID(ctx),
		AgentID:    GetAgentID(ctx),
		Name:       name,
		Data:       data,
		TraceID:    GetTraceID(ctx),
		SpanID:     GetSpanID(ctx),
	}
}

// Record stores one event with correlation IDs pulled from the context.
func (r *EventRecorder) Record(ctx context.Context, eventType EventType, name string, data map[string]any) error {
	event := r.build(ctx, eventType, name, data)
	if r.logger != nil {
		r.logger.Debug(ctx, "event recorded", "event_type", string(eventType), "event_name", name, "event_id", event.ID)
	}
	return r.store.Record(event)
}

// RecordError stores one error event.
func (r *EventRecorder) RecordError(ctx context.Context, eventType EventType, name string, err error, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	data["error"] = err.Error()

	event := r.build(ctx, eventType, name, data)
	event.Error = err.Error()
	if r.logger != nil {
		r.logger.Error(ctx, "error event recorded", "event_type", string(eventType), "event_name", name, "error", err)
	}
	return r.store.Record(event)
}

// RecordRunStart stamps the run ID into the context and records the start.
func (r *EventRecorder) RecordRunStart(ctx context.Context, runID string, data map[string]any) error {
	return r.Record(AddRunID(ctx, runID), EventTypeRunStart, "run_start", data)
}

// RecordRunEnd records a run's terminal event, error or clean end.
func (r *EventRecorder) RecordRunEnd(ctx context.Context, duration time.Duration, err error) error {
	data := map[string]any{"duration_ms": duration.Milliseconds()}
	if err != nil {
		return r.RecordError(ctx, EventTypeRunError, "run_error", err, data)
	}
	return r.Record(ctx, EventTypeRunEnd, "run_end", data)
}

// RecordToolStart records one tool invocation's start, with its input
// JSON-encoded into Data.
func (r *EventRecorder) RecordToolStart(ctx context.Context, toolName string, input any) error {
	data := map[string]any{"tool_name": toolName}
	if input != nil {
		if b, err := json.Marshal(input); err == nil {
			data["input"] = string(b)
		}
	}
	return r.Record(ctx, EventTypeToolStart, toolName, data)
}

// RecordToolEnd records a tool invocation's outcome; a non-nil err turns
// the event into tool.error.
func (r *EventRecorder) RecordToolEnd(ctx context.Context, toolName string, duration time.Duration, output any, err error) error {
	data := map[string]any{"tool_name": toolName, "duration_ms": duration.Milliseconds()}
	if output != nil {
		if b, merr := json.Marshal(output); merr == nil {
			data["output"] = string(b)
		}
	}
	if err != nil {
		return r.RecordError(ctx, EventTypeToolError, toolName, err, data)
	}
	return r.Record(ctx, EventTypeToolEnd, toolName, data)
}

// RecordSubagentEvent records a subagent lifecycle event under the given
// subagent ID.
func (r *EventRecorder) RecordSubagentEvent(ctx context.Context, eventType EventType, subagentID string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	data["subagent_id"] = subagentID
	return r.Record(AddSubagentID(ctx, subagentID), eventType, string(eventType), data)
}

// RunSummary aggregates one run's timeline.
type RunSummary struct {
	RunID      string
	Events     int
	Errors     int
	ToolCalls  int
	Subagents  int
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
}

// SummarizeRun folds a run's events into counts and a wall-clock span.
func SummarizeRun(runID string, events []*Event) RunSummary {
	summary := RunSummary{RunID: runID, Events: len(events)}
	if len(events) == 0 {
		return summary
	}
	summary.StartTime = events[0].Timestamp
	summary.EndTime = events[len(events)-1].Timestamp
	summary.Duration = summary.EndTime.Sub(summary.StartTime)

	for _, e := range events {
		if e.Error != "" {
			summary.Errors++
		}
		switch e.Type {
		case EventTypeToolStart:
			summary.ToolCalls++
		case EventTypeSubagentSpawn:
			summary.Subagents++
		}
	}
	return summary
}

var eventIDCounter atomic.Int64

func nextEventID() string {
	return fmt.Sprintf("evt_%d_%d", time.Now().UnixNano(), eventIDCounter.Add(1))
}
