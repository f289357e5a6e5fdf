package memory

import (
	"fmt"
	"testing"
)

func TestGetVariantConfigFallsBackToBaseline(t *testing.T) {
	cfg := GetVariantConfig(Variant("NOT_A_VARIANT"), nil)
	if cfg.Variant != VariantBaseline {
		t.Fatalf("expected fallback to BASELINE, got %v", cfg.Variant)
	}
}

func TestGetVariantConfigKnownVariant(t *testing.T) {
	cfg := GetVariantConfig(VariantAggressive, nil)
	if cfg.Variant != VariantAggressive {
		t.Fatalf("expected AGGRESSIVE config, got %v", cfg.Variant)
	}
}

func TestAssignVariantDeterministic(t *testing.T) {
	first := AssignVariant("ext-1", "proj-a", nil)
	second := AssignVariant("ext-1", "proj-a", nil)
	if first != second {
		t.Fatalf("expected identical inputs to produce identical variants, got %v and %v", first, second)
	}
}

func TestAssignVariantOverrideWins(t *testing.T) {
	override := VariantMinimal
	got := AssignVariant("ext-1", "proj-a", &override)
	if got != VariantMinimal {
		t.Fatalf("expected override to bypass hashing, got %v", got)
	}
}

func TestAssignVariantInvalidOverrideFallsBackToBaseline(t *testing.T) {
	override := Variant("BOGUS")
	got := AssignVariant("ext-1", "proj-a", &override)
	if got != VariantBaseline {
		t.Fatalf("expected invalid override to fall back to BASELINE, got %v", got)
	}
}

func TestAssignVariantEmptyInputsIsBaseline(t *testing.T) {
	if got := AssignVariant("", "", nil); got != VariantBaseline {
		t.Fatalf("expected empty externalID/projectID to resolve to BASELINE, got %v", got)
	}
}

func TestAssignVariantDistributionMatchesBuckets(t *testing.T) {
	counts := map[Variant]int{}
	const n = 20000
	for i := 0; i < n; i++ {
		counts[AssignVariant(fmt.Sprintf("ext-%d", i), "proj", nil)]++
	}

	declared := map[Variant]float64{
		VariantBaseline:   0.50,
		VariantEnhanced:   0.30,
		VariantMinimal:    0.10,
		VariantAggressive: 0.10,
	}
	for variant, want := range declared {
		got := float64(counts[variant]) / n
		if got < want-0.03 || got > want+0.03 {
			t.Fatalf("variant %v: %.1f%% of assignments, declared %.0f%% (±3%%)", variant, got*100, want*100)
		}
	}
}

func TestScoringWeightsSumToOne(t *testing.T) {
	for variant, cfg := range variantConfigs {
		sum := cfg.Weights.Semantic + cfg.Weights.Usage + cfg.Weights.Confidence + cfg.Weights.Recency
		if sum < 0.999 || sum > 1.001 {
			t.Fatalf("variant %v: expected weights to sum to 1.0, got %v", variant, sum)
		}
	}
}
