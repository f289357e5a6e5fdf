package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agenthub/agent-hub/pkg/models"
)

type fakeTierCandidateSource struct {
	demotionCandidates  []TierCandidate
	promotionCandidates []TierCandidate
	demotionErr         error
	promotionErr        error
	setTierErr          error
	setTierCalls        []string
}

func (f *fakeTierCandidateSource) DemotionCandidates(ctx context.Context, minLoads int, minAge time.Duration) ([]TierCandidate, error) {
	return f.demotionCandidates, f.demotionErr
}

func (f *fakeTierCandidateSource) PromotionCandidates(ctx context.Context, minRefs int, minAge time.Duration) ([]TierCandidate, error) {
	return f.promotionCandidates, f.promotionErr
}

func (f *fakeTierCandidateSource) SetEpisodeTier(ctx context.Context, uuid string, newTier models.InjectionTier, reason string, demoted bool, now time.Time) error {
	f.setTierCalls = append(f.setTierCalls, uuid)
	return f.setTierErr
}

func TestFindDemotionCandidatesSkipsPinnedRegardlessOfRatio(t *testing.T) {
	source := &fakeTierCandidateSource{demotionCandidates: []TierCandidate{
		{UUID: "pinned-low-utility", CurrentTier: models.TierMandate, LoadedCount: 1000, ReferencedCount: 0, Pinned: true},
		{UUID: "unpinned-low-utility", CurrentTier: models.TierMandate, LoadedCount: 1000, ReferencedCount: 0, Pinned: false},
	}}

	got, err := FindDemotionCandidates(context.Background(), source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one candidate after pinned is excluded, got %d", len(got))
	}
	if got[0].UUID != "unpinned-low-utility" {
		t.Fatalf("expected only the unpinned candidate to remain, got %q", got[0].UUID)
	}
}

func TestFindDemotionCandidatesClassifiesLowUtilityAndGhost(t *testing.T) {
	source := &fakeTierCandidateSource{demotionCandidates: []TierCandidate{
		{UUID: "low-utility", LoadedCount: 100, ReferencedCount: 1},
		{UUID: "ghost", LoadedCount: 200, ReferencedCount: 18},
		{UUID: "healthy", LoadedCount: 100, ReferencedCount: 50},
	}}

	got, err := FindDemotionCandidates(context.Background(), source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates (low-utility, ghost), got %d: %+v", len(got), got)
	}
	for _, c := range got {
		if c.UUID == "healthy" {
			t.Fatalf("healthy candidate should not be flagged for demotion")
		}
	}
}

func TestFindDemotionCandidatesHarmfulRatingsNeedNoLoads(t *testing.T) {
	source := &fakeTierCandidateSource{demotionCandidates: []TierCandidate{
		{UUID: "harmful-rarely-loaded", CurrentTier: models.TierGuardrail, LoadedCount: 2, ReferencedCount: 1, HarmfulCount: HarmfulThreshold},
		{UUID: "below-harmful-threshold", CurrentTier: models.TierGuardrail, LoadedCount: 2, ReferencedCount: 1, HarmfulCount: HarmfulThreshold - 1},
	}}

	got, err := FindDemotionCandidates(context.Background(), source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].UUID != "harmful-rarely-loaded" {
		t.Fatalf("expected only the at-threshold candidate flagged regardless of loads, got %+v", got)
	}
	if got[0].Reason != "harmful_ratings:3" {
		t.Fatalf("reason = %q, want harmful_ratings:3", got[0].Reason)
	}
}

func TestFindDemotionCandidatesHarmfulTakesPriorityOverRatios(t *testing.T) {
	source := &fakeTierCandidateSource{demotionCandidates: []TierCandidate{
		{UUID: "harmful-and-low-utility", CurrentTier: models.TierMandate, LoadedCount: 100, ReferencedCount: 1, HarmfulCount: 5},
	}}

	got, err := FindDemotionCandidates(context.Background(), source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Reason != "harmful_ratings:5" {
		t.Fatalf("harmful ratings must win over the ratio reasons, got %+v", got)
	}
}

func TestFindDemotionCandidatesRatioReasonsRequireMinLoads(t *testing.T) {
	source := &fakeTierCandidateSource{demotionCandidates: []TierCandidate{
		{UUID: "under-loaded", CurrentTier: models.TierMandate, LoadedCount: MinLoadsForDemotion - 1, ReferencedCount: 0},
	}}

	got, err := FindDemotionCandidates(context.Background(), source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("low-utility/zombie must not fire below the load floor, got %+v", got)
	}
}

func TestTierOptimizerRunDemotesHarmfulGuardrailToReference(t *testing.T) {
	source := &fakeTierCandidateSource{demotionCandidates: []TierCandidate{
		{UUID: "h1", CurrentTier: models.TierGuardrail, LoadedCount: 5, ReferencedCount: 2, HarmfulCount: HarmfulThreshold},
	}}
	opt := NewTierOptimizer(source, nil, nil)

	result, err := opt.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Demotions != 1 {
		t.Fatalf("expected the harmful guardrail demoted, got %+v", result)
	}
	if len(source.setTierCalls) != 1 || source.setTierCalls[0] != "h1" {
		t.Fatalf("expected a tier change applied to h1, got %v", source.setTierCalls)
	}
}

func TestFindPromotionCandidatesRequiresUtilityAboveThreshold(t *testing.T) {
	source := &fakeTierCandidateSource{promotionCandidates: []TierCandidate{
		{UUID: "high-utility", LoadedCount: 100, ReferencedCount: 80},
		{UUID: "at-threshold", LoadedCount: 100, ReferencedCount: 70},
		{UUID: "low-utility", LoadedCount: 100, ReferencedCount: 10},
	}}

	got, err := FindPromotionCandidates(context.Background(), source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].UUID != "high-utility" {
		t.Fatalf("expected only high-utility to clear the promotion threshold, got %+v", got)
	}
}

func TestTierOptimizerRunAppliesDemotionsThenPromotions(t *testing.T) {
	source := &fakeTierCandidateSource{
		demotionCandidates: []TierCandidate{
			{UUID: "d1", CurrentTier: models.TierGuardrail, LoadedCount: 100, ReferencedCount: 1},
		},
		promotionCandidates: []TierCandidate{
			{UUID: "p1", CurrentTier: models.TierReference, LoadedCount: 100, ReferencedCount: 90},
		},
	}
	opt := NewTierOptimizer(source, nil, nil)

	result, err := opt.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Demotions != 1 || result.Promotions != 1 {
		t.Fatalf("expected 1 demotion and 1 promotion, got %+v", result)
	}
	if len(source.setTierCalls) != 2 || source.setTierCalls[0] != "d1" || source.setTierCalls[1] != "p1" {
		t.Fatalf("expected demotion applied before promotion, got order %v", source.setTierCalls)
	}
}

func TestTierOptimizerRunSkipsChangeAtTierHierarchyEdge(t *testing.T) {
	source := &fakeTierCandidateSource{
		demotionCandidates: []TierCandidate{
			{UUID: "already-lowest", CurrentTier: models.TierReference, LoadedCount: 100, ReferencedCount: 1},
		},
	}
	opt := NewTierOptimizer(source, nil, nil)

	result, err := opt.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Demotions != 0 {
		t.Fatalf("expected no demotion applied when already at the lowest tier, got %+v", result)
	}
	if len(source.setTierCalls) != 0 {
		t.Fatalf("expected SetEpisodeTier never called at the hierarchy edge")
	}
}

func TestTierOptimizerRunCountsErrorsWithoutAborting(t *testing.T) {
	source := &fakeTierCandidateSource{
		demotionCandidates: []TierCandidate{
			{UUID: "d1", CurrentTier: models.TierGuardrail, LoadedCount: 100, ReferencedCount: 1},
		},
		promotionCandidates: []TierCandidate{
			{UUID: "p1", CurrentTier: models.TierReference, LoadedCount: 100, ReferencedCount: 90},
		},
		setTierErr: errors.New("write failed"),
	}
	opt := NewTierOptimizer(source, nil, nil)

	result, err := opt.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected top-level error: %v", err)
	}
	if result.Errors != 2 {
		t.Fatalf("expected both the demotion and promotion write failures counted, got %+v", result)
	}
	if result.Demotions != 0 || result.Promotions != 0 {
		t.Fatalf("expected no successful changes recorded, got %+v", result)
	}
}

func TestNextTierDownAndUpAtHierarchyEdges(t *testing.T) {
	if got := NextTierDown(models.TierReference); got != "" {
		t.Fatalf("expected empty string one below the lowest tier, got %q", got)
	}
	if got := NextTierUp(models.TierMandate); got != "" {
		t.Fatalf("expected empty string one above the highest tier, got %q", got)
	}
	if got := NextTierDown(models.TierMandate); got != models.TierGuardrail {
		t.Fatalf("expected mandate to step down to guardrail, got %q", got)
	}
	if got := NextTierUp(models.TierReference); got != models.TierGuardrail {
		t.Fatalf("expected reference to step up to guardrail, got %q", got)
	}
}
