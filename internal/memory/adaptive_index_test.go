package memory

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestApplyDemotionFloorProtectsLowSampleEntries(t *testing.T) {
	threshold := 0.5
	entries := []IndexEntry{
		{UUID: "low-sample", RelevanceRatio: 0.01, LoadedCount: MinSamplesForDemotion - 1},
		{UUID: "at-floor-below-threshold", RelevanceRatio: 0.1, LoadedCount: MinSamplesForDemotion},
		{UUID: "at-floor-above-threshold", RelevanceRatio: 0.9, LoadedCount: MinSamplesForDemotion},
		{UUID: "well-sampled-below-threshold", RelevanceRatio: 0.2, LoadedCount: 500},
	}

	got := ApplyDemotion(entries, &threshold)

	if got[0].Demoted {
		t.Fatalf("entry below MinSamplesForDemotion must never be demoted regardless of ratio, got demoted=%v", got[0].Demoted)
	}
	if !got[1].Demoted {
		t.Fatalf("entry at the sample floor with ratio below threshold should be demoted")
	}
	if got[2].Demoted {
		t.Fatalf("entry at the sample floor with ratio above threshold should not be demoted")
	}
	if !got[3].Demoted {
		t.Fatalf("well-sampled entry below threshold should be demoted")
	}
}

func TestApplyDemotionNilThresholdLeavesEntriesUntouched(t *testing.T) {
	entries := []IndexEntry{
		{UUID: "a", RelevanceRatio: 0.01, LoadedCount: 1000, Demoted: true},
		{UUID: "b", RelevanceRatio: 0.99, LoadedCount: 1000},
	}

	got := ApplyDemotion(entries, nil)

	if !got[0].Demoted {
		t.Fatalf("nil threshold must leave existing Demoted state untouched")
	}
	if got[1].Demoted {
		t.Fatalf("nil threshold must not demote an untouched entry")
	}
}

func TestCalculateDemotionThresholdRequiresThreeEligibleEntries(t *testing.T) {
	entries := []IndexEntry{
		{RelevanceRatio: 0.1, LoadedCount: MinSamplesForDemotion},
		{RelevanceRatio: 0.2, LoadedCount: MinSamplesForDemotion},
		{RelevanceRatio: 0.9, LoadedCount: MinSamplesForDemotion - 1},
	}

	if threshold := CalculateDemotionThreshold(entries); threshold != nil {
		t.Fatalf("expected nil threshold with only 2 eligible entries, got %v", *threshold)
	}

	entries = append(entries, IndexEntry{RelevanceRatio: 0.3, LoadedCount: MinSamplesForDemotion})
	threshold := CalculateDemotionThreshold(entries)
	if threshold == nil {
		t.Fatalf("expected a threshold once 3 entries are eligible")
	}
	if *threshold < 0 {
		t.Fatalf("threshold should never go negative, got %v", *threshold)
	}
}

func TestBuildIndexSkipsIncompleteGoldenStandards(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	idx := BuildIndex([]GoldenStandard{
		{UUID: "", Content: "missing uuid"},
		{UUID: "x", Content: ""},
		{UUID: "abcdef1234567890", Content: "run tests with pytest before committing", LoadedCount: 4, ReferencedCount: 2},
	}, 0, now)

	if len(idx.Entries) != 1 {
		t.Fatalf("expected incomplete golden standards to be skipped, got %d entries", len(idx.Entries))
	}
	entry := idx.Entries[0]
	if entry.ShortID != "abcdef12" {
		t.Fatalf("expected short id truncated to 8 chars, got %q", entry.ShortID)
	}
	if entry.Category != "Testing" {
		t.Fatalf("expected category Testing for pytest content, got %q", entry.Category)
	}
	if entry.RelevanceRatio != 0.5 {
		t.Fatalf("expected relevance ratio 2/4=0.5, got %v", entry.RelevanceRatio)
	}
	if idx.TTL != DefaultIndexTTL {
		t.Fatalf("expected zero ttl to fall back to DefaultIndexTTL, got %v", idx.TTL)
	}
}

func TestIndexFormatForInjectionGroupsByCategory(t *testing.T) {
	idx := Index{Entries: []IndexEntry{
		{Category: "Git", Summary: "always branch before committing", ShortID: "aaaa1111"},
		{Category: "Testing", Summary: "use pytest fixtures", ShortID: "bbbb2222"},
		{Category: "Git", Summary: "squash before merge", ShortID: "cccc3333", Demoted: true},
	}}

	out := idx.FormatForInjection()
	if out == "" {
		t.Fatalf("expected non-empty output with active entries present")
	}
	if want := "[M:cccc3333]"; containsSubstring(out, want) {
		t.Fatalf("demoted entry must not appear in injected output, got %q", out)
	}
	if !containsSubstring(out, "[M:aaaa1111]") || !containsSubstring(out, "[M:bbbb2222]") {
		t.Fatalf("expected both active entries cited in output, got %q", out)
	}
}

func TestIndexFormatForInjectionEmptyWhenAllDemoted(t *testing.T) {
	idx := Index{Entries: []IndexEntry{{Category: "Git", Summary: "x", ShortID: "a", Demoted: true}}}
	if out := idx.FormatForInjection(); out != "" {
		t.Fatalf("expected empty string when every entry is demoted, got %q", out)
	}
}

func containsSubstring(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

type fakeMandateSource struct {
	golden []GoldenStandard
	err    error
	calls  int
}

func (f *fakeMandateSource) GlobalMandates(ctx context.Context) ([]GoldenStandard, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.golden, nil
}

func TestIndexCacheGetRebuildsOnceWithinTTL(t *testing.T) {
	source := &fakeMandateSource{golden: []GoldenStandard{{UUID: "a", Content: "commit early"}}}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewIndexCache(source, time.Hour)
	cache.nowFunc = func() time.Time { return now }

	if _, err := cache.Get(context.Background(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := cache.Get(context.Background(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source.calls != 1 {
		t.Fatalf("expected a single fetch while cache is fresh, got %d", source.calls)
	}
}

func TestIndexCacheGetFallsBackToStaleOnFetchError(t *testing.T) {
	source := &fakeMandateSource{golden: []GoldenStandard{{UUID: "a", Content: "commit early"}}}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewIndexCache(source, time.Minute)
	cache.nowFunc = func() time.Time { return now }

	if _, err := cache.Get(context.Background(), false); err != nil {
		t.Fatalf("unexpected error on first fetch: %v", err)
	}

	source.err = errors.New("graph unavailable")
	now = now.Add(2 * time.Minute)
	idx, err := cache.Get(context.Background(), false)
	if err != nil {
		t.Fatalf("expected stale cache to be returned instead of an error, got %v", err)
	}
	if len(idx.Entries) != 1 {
		t.Fatalf("expected stale index contents preserved, got %d entries", len(idx.Entries))
	}
}

func TestIndexCacheGetColdCacheSurfacesFetchError(t *testing.T) {
	source := &fakeMandateSource{err: errors.New("graph unavailable")}
	cache := NewIndexCache(source, time.Minute)

	if _, err := cache.Get(context.Background(), false); err == nil {
		t.Fatalf("expected error from a cold cache with a failing fetch")
	}
}

func TestIndexCacheRefreshIfSignificantSkipsSmallDeltas(t *testing.T) {
	source := &fakeMandateSource{golden: []GoldenStandard{{UUID: "a", Content: "commit early"}}}
	cache := NewIndexCache(source, time.Hour)

	refreshed, err := cache.RefreshIfSignificant(context.Background(), map[string]float64{"a": 0.01})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refreshed {
		t.Fatalf("expected no refresh for a delta below IndexChangeThreshold")
	}
	if source.calls != 0 {
		t.Fatalf("expected no fetch when nothing is significant, got %d calls", source.calls)
	}
}

func TestIndexCacheRefreshIfSignificantRebuildsOnLargeDelta(t *testing.T) {
	source := &fakeMandateSource{golden: []GoldenStandard{{UUID: "a", Content: "commit early"}}}
	cache := NewIndexCache(source, time.Hour)

	refreshed, err := cache.RefreshIfSignificant(context.Background(), map[string]float64{"a": -0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !refreshed {
		t.Fatalf("expected a refresh for a delta exceeding IndexChangeThreshold")
	}
	if source.calls != 1 {
		t.Fatalf("expected exactly one fetch after invalidation, got %d", source.calls)
	}
}
