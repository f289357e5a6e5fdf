package memory

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeGraphCounterUpdater struct {
	calls   []map[string]UsageDelta
	failN   int
	updated int
	err     error
}

func (f *fakeGraphCounterUpdater) FlushUsageCounters(ctx context.Context, updates map[string]UsageDelta, now time.Time) (int, error) {
	f.calls = append(f.calls, updates)
	if f.failN > 0 {
		f.failN--
		return 0, errors.New("graph unavailable")
	}
	if f.err != nil {
		return 0, f.err
	}
	return f.updated, nil
}

func TestUsageBufferFlushIsIdempotentOnEmptyBuffer(t *testing.T) {
	graph := &fakeGraphCounterUpdater{}
	buf := NewUsageBuffer(graph, nil, nil, time.Minute)

	if err := buf.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected error flushing empty buffer: %v", err)
	}
	if len(graph.calls) != 0 {
		t.Fatalf("expected no graph call for an empty buffer, got %d", len(graph.calls))
	}
}

func TestUsageBufferFlushDrainsExactlyOnce(t *testing.T) {
	graph := &fakeGraphCounterUpdater{updated: 1}
	buf := NewUsageBuffer(graph, nil, nil, time.Minute)

	buf.TrackLoaded("ep-1")
	buf.TrackLoaded("ep-1")
	buf.TrackReferenced("ep-1")
	buf.TrackSuccess("ep-1")

	if err := buf.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(graph.calls) != 1 {
		t.Fatalf("expected exactly one graph flush call, got %d", len(graph.calls))
	}
	delta := graph.calls[0]["ep-1"]
	if delta.Loaded != 2 || delta.Referenced != 1 || delta.Success != 1 {
		t.Fatalf("unexpected accumulated delta: %+v", delta)
	}

	// A second flush with no new activity must not resend the same counts.
	if err := buf.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected error on second flush: %v", err)
	}
	if len(graph.calls) != 1 {
		t.Fatalf("expected no graph call for a drained buffer, got %d total calls", len(graph.calls))
	}
}

func TestUsageBufferFlushRequeuesOnGraphFailure(t *testing.T) {
	graph := &fakeGraphCounterUpdater{failN: 10, updated: 1}
	buf := NewUsageBuffer(graph, nil, nil, time.Minute)

	buf.TrackLoaded("ep-1")

	if err := buf.Flush(context.Background()); err == nil {
		t.Fatalf("expected flush to surface the graph error")
	}

	// The failed counters must still be present for the next flush attempt,
	// not silently dropped.
	graph.failN = 0
	if err := buf.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected error on retry flush: %v", err)
	}
	if len(graph.calls) != 2 {
		t.Fatalf("expected a requeued retry to produce a second graph call, got %d", len(graph.calls))
	}
	delta, ok := graph.calls[1]["ep-1"]
	if !ok {
		t.Fatalf("expected ep-1's counters to survive the failed attempt into the retry")
	}
	if delta.Loaded != 1 {
		t.Fatalf("expected the requeued delta to retain its original count, got %+v", delta)
	}
}

func TestUsageBufferFlushMergesConcurrentIncrementsDuringFailure(t *testing.T) {
	graph := &fakeGraphCounterUpdater{failN: 10, updated: 1}
	buf := NewUsageBuffer(graph, nil, nil, time.Minute)

	buf.TrackLoaded("ep-1")
	if err := buf.Flush(context.Background()); err == nil {
		t.Fatalf("expected first flush to fail")
	}

	// Activity recorded after the failed flush but before the retry.
	buf.TrackLoaded("ep-1")
	buf.TrackReferenced("ep-1")

	graph.failN = 0
	if err := buf.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	delta := graph.calls[len(graph.calls)-1]["ep-1"]
	if delta.Loaded != 2 {
		t.Fatalf("expected requeued and new loads to merge into 2, got %d", delta.Loaded)
	}
	if delta.Referenced != 1 {
		t.Fatalf("expected new referenced count to carry through, got %d", delta.Referenced)
	}
}

func TestUsageBufferStopPerformsFinalFlush(t *testing.T) {
	graph := &fakeGraphCounterUpdater{updated: 1}
	buf := NewUsageBuffer(graph, nil, nil, time.Hour)
	buf.StartPeriodicFlush(context.Background())

	buf.TrackLoaded("ep-1")
	buf.Stop(context.Background())

	if len(graph.calls) != 1 {
		t.Fatalf("expected Stop to trigger exactly one final flush, got %d", len(graph.calls))
	}
}
