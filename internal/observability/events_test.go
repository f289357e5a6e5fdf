package observability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryEventStoreRecordAssignsIDAndTimestamp(t *testing.T) {
	store := NewMemoryEventStore(10)

	if err := store.Record(nil); err == nil {
		t.Fatalf("nil event must be rejected")
	}

	ev := &Event{Type: EventTypeRunStart, RunID: "r1"}
	if err := store.Record(ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.ID == "" || ev.Timestamp.IsZero() {
		t.Fatalf("store must stamp id and timestamp: %+v", ev)
	}
}

func TestMemoryEventStoreQueriesByRunAndSession(t *testing.T) {
	store := NewMemoryEventStore(100)
	for i := 0; i < 3; i++ {
		_ = store.Record(&Event{Type: EventTypeTurn, RunID: "r1", SessionID: "s1"})
	}
	_ = store.Record(&Event{Type: EventTypeTurn, RunID: "r2", SessionID: "s2"})

	if got := store.ByRunID("r1"); len(got) != 3 {
		t.Fatalf("ByRunID(r1) = %d events, want 3", len(got))
	}
	if got := store.BySessionID("s2"); len(got) != 1 {
		t.Fatalf("BySessionID(s2) = %d events, want 1", len(got))
	}
	if got := store.ByRunID("unknown"); len(got) != 0 {
		t.Fatalf("unknown run must return no events")
	}
}

func TestMemoryEventStoreByTypeNewestFirstWithLimit(t *testing.T) {
	store := NewMemoryEventStore(100)
	base := time.Now()
	for i := 0; i < 5; i++ {
		_ = store.Record(&Event{Type: EventTypeToolStart, Timestamp: base.Add(time.Duration(i) * time.Second), Name: string(rune('a' + i))})
	}
	_ = store.Record(&Event{Type: EventTypeRunEnd, Timestamp: base})

	got := store.ByType(EventTypeToolStart, 2)
	if len(got) != 2 {
		t.Fatalf("limit not applied, got %d", len(got))
	}
	if got[0].Name != "e" || got[1].Name != "d" {
		t.Fatalf("expected newest first, got %s then %s", got[0].Name, got[1].Name)
	}
}

func TestMemoryEventStoreEvictsOldestAtCapacity(t *testing.T) {
	store := NewMemoryEventStore(10)
	for i := 0; i < 12; i++ {
		_ = store.Record(&Event{Type: EventTypeTurn, RunID: "r"})
	}

	events := store.ByRunID("r")
	if len(events) > 11 {
		t.Fatalf("store exceeded capacity: %d events", len(events))
	}
}

func TestMemoryEventStorePrune(t *testing.T) {
	store := NewMemoryEventStore(100)
	_ = store.Record(&Event{Type: EventTypeTurn, RunID: "old", Timestamp: time.Now().Add(-2 * time.Hour)})
	_ = store.Record(&Event{Type: EventTypeTurn, RunID: "new"})

	if removed := store.Prune(time.Hour); removed != 1 {
		t.Fatalf("expected 1 pruned event, got %d", removed)
	}
	if len(store.ByRunID("old")) != 0 || len(store.ByRunID("new")) != 1 {
		t.Fatalf("prune removed the wrong events")
	}
}

func TestEventRecorderStampsCorrelationIDsFromContext(t *testing.T) {
	store := NewMemoryEventStore(100)
	recorder := NewEventRecorder(store, nil)

	ctx := AddRunID(context.Background(), "run-1")
	ctx = AddSessionID(ctx, "sess-1")
	ctx = AddAgentID(ctx, "agent-1")
	ctx = AddToolCallID(ctx, "call-1")

	if err := recorder.Record(ctx, EventTypeTurn, "turn_2", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := store.ByRunID("run-1")
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	e := events[0]
	if e.SessionID != "sess-1" || e.AgentID != "agent-1" || e.ToolCallID != "call-1" {
		t.Fatalf("correlation ids not stamped: %+v", e)
	}
}

func TestRecordRunLifecycle(t *testing.T) {
	store := NewMemoryEventStore(100)
	recorder := NewEventRecorder(store, nil)
	ctx := context.Background()

	_ = recorder.RecordRunStart(ctx, "run-9", map[string]any{"provider": "claude"})
	_ = recorder.RecordRunEnd(AddRunID(ctx, "run-9"), 1500*time.Millisecond, nil)

	events := store.ByRunID("run-9")
	if len(events) != 2 {
		t.Fatalf("expected start + end, got %d", len(events))
	}
	if events[0].Type != EventTypeRunStart || events[1].Type != EventTypeRunEnd {
		t.Fatalf("unexpected event types: %s, %s", events[0].Type, events[1].Type)
	}
	if events[1].Data["duration_ms"] != int64(1500) {
		t.Fatalf("duration not recorded: %v", events[1].Data)
	}
}

func TestRecordRunEndWithErrorBecomesRunError(t *testing.T) {
	store := NewMemoryEventStore(100)
	recorder := NewEventRecorder(store, nil)
	ctx := AddRunID(context.Background(), "run-err")

	_ = recorder.RecordRunEnd(ctx, time.Second, errors.New("max turns reached"))

	events := store.ByRunID("run-err")
	if len(events) != 1 || events[0].Type != EventTypeRunError {
		t.Fatalf("expected run.error event, got %+v", events)
	}
	if events[0].Error != "max turns reached" {
		t.Fatalf("error text missing: %+v", events[0])
	}
}

func TestRecordToolEndErrorBranch(t *testing.T) {
	store := NewMemoryEventStore(100)
	recorder := NewEventRecorder(store, nil)

	_ = recorder.RecordToolStart(context.Background(), "read_file", map[string]any{"path": "main.go"})
	_ = recorder.RecordToolEnd(context.Background(), "read_file", time.Millisecond, nil, errors.New("not found"))

	if got := store.ByType(EventTypeToolError, 0); len(got) != 1 {
		t.Fatalf("tool failure must record tool.error, got %d", len(got))
	}
	if got := store.ByType(EventTypeToolStart, 0); len(got) != 1 {
		t.Fatalf("tool start missing")
	}
}

func TestRecordSubagentEventCarriesSubagentID(t *testing.T) {
	store := NewMemoryEventStore(100)
	recorder := NewEventRecorder(store, nil)

	_ = recorder.RecordSubagentEvent(context.Background(), EventTypeSubagentSpawn, "sub-1", nil)

	got := store.ByType(EventTypeSubagentSpawn, 0)
	if len(got) != 1 || got[0].SubagentID != "sub-1" || got[0].Data["subagent_id"] != "sub-1" {
		t.Fatalf("subagent id not carried: %+v", got)
	}
}

func TestSummarizeRunCounts(t *testing.T) {
	base := time.Now()
	events := []*Event{
		{Type: EventTypeRunStart, Timestamp: base},
		{Type: EventTypeToolStart, Timestamp: base.Add(time.Second)},
		{Type: EventTypeToolError, Timestamp: base.Add(2 * time.Second), Error: "boom"},
		{Type: EventTypeSubagentSpawn, Timestamp: base.Add(3 * time.Second)},
		{Type: EventTypeRunEnd, Timestamp: base.Add(4 * time.Second)},
	}

	summary := SummarizeRun("r1", events)
	if summary.Events != 5 || summary.Errors != 1 || summary.ToolCalls != 1 || summary.Subagents != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Duration != 4*time.Second {
		t.Fatalf("duration = %v, want 4s", summary.Duration)
	}

	empty := SummarizeRun("r2", nil)
	if empty.Events != 0 || !empty.StartTime.IsZero() {
		t.Fatalf("empty run summary wrong: %+v", empty)
	}
}
