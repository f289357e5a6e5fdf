package memory

import (
	"crypto/md5"
	"encoding/binary"
	"log/slog"
)

// Variant names an A/B configuration for memory context injection.
type Variant string

const (
	VariantBaseline   Variant = "BASELINE"
	VariantEnhanced   Variant = "ENHANCED"
	VariantMinimal    Variant = "MINIMAL"
	VariantAggressive Variant = "AGGRESSIVE"
)

// ScoringWeights must sum to 1.0; NewScoringWeights panics otherwise since
// these are only ever constructed from the fixed configs below.
type ScoringWeights struct {
	Semantic   float64
	Usage      float64
	Confidence float64
	Recency    float64
}

// TierMultipliers scales a memory's base score by its injection tier.
// AgentTagBoost is applied on top when a query's trigger_task_types matches
// the episode's tags; the source configuration never pinned this value to a
// per-variant number, so it is fixed at 1.2 across all variants.
type TierMultipliers struct {
	Mandate       float64
	Guardrail     float64
	Reference     float64
	AgentTagBoost float64
}

// RecencyConfig sets the exponential-decay half-life per tier class.
type RecencyConfig struct {
	MandateHalfLifeDays   int
	ReferenceHalfLifeDays int
}

// VariantConfig bundles everything scoring.go and selection.go need to
// score and filter a candidate memory set for one variant.
type VariantConfig struct {
	Variant                    Variant
	Weights                    ScoringWeights
	Tiers                      TierMultipliers
	Recency                    RecencyConfig
	MinRelevanceThreshold      float64
	GoldenStandardMinSimilarity float64
}

var variantConfigs = map[Variant]VariantConfig{
	VariantBaseline: {
		Variant: VariantBaseline,
		Weights: ScoringWeights{Semantic: 0.4, Usage: 0.3, Confidence: 0.2, Recency: 0.1},
		Tiers:   TierMultipliers{Mandate: 2.0, Guardrail: 1.5, Reference: 1.0, AgentTagBoost: 1.2},
		Recency: RecencyConfig{MandateHalfLifeDays: 30, ReferenceHalfLifeDays: 7},
		MinRelevanceThreshold:       0.35,
		GoldenStandardMinSimilarity: 0.25,
	},
	VariantEnhanced: {
		Variant: VariantEnhanced,
		Weights: ScoringWeights{Semantic: 0.5, Usage: 0.25, Confidence: 0.15, Recency: 0.1},
		Tiers:   TierMultipliers{Mandate: 2.5, Guardrail: 1.8, Reference: 1.0, AgentTagBoost: 1.2},
		Recency: RecencyConfig{MandateHalfLifeDays: 45, ReferenceHalfLifeDays: 14},
		MinRelevanceThreshold:       0.40,
		GoldenStandardMinSimilarity: 0.30,
	},
	VariantMinimal: {
		Variant: VariantMinimal,
		Weights: ScoringWeights{Semantic: 0.6, Usage: 0.2, Confidence: 0.15, Recency: 0.05},
		Tiers:   TierMultipliers{Mandate: 3.0, Guardrail: 2.0, Reference: 1.0, AgentTagBoost: 1.2},
		Recency: RecencyConfig{MandateHalfLifeDays: 60, ReferenceHalfLifeDays: 21},
		MinRelevanceThreshold:       0.50,
		GoldenStandardMinSimilarity: 0.35,
	},
	VariantAggressive: {
		Variant: VariantAggressive,
		Weights: ScoringWeights{Semantic: 0.35, Usage: 0.35, Confidence: 0.20, Recency: 0.10},
		Tiers:   TierMultipliers{Mandate: 1.5, Guardrail: 1.3, Reference: 1.0, AgentTagBoost: 1.2},
		Recency: RecencyConfig{MandateHalfLifeDays: 20, ReferenceHalfLifeDays: 5},
		MinRelevanceThreshold:       0.25,
		GoldenStandardMinSimilarity: 0.20,
	},
}

// variantBuckets maps a cumulative percentage boundary to the variant it
// terminates. 50% BASELINE, 30% ENHANCED, 10% MINIMAL, 10% AGGRESSIVE.
var variantBuckets = []struct {
	cumulative int
	variant    Variant
}{
	{50, VariantBaseline},
	{80, VariantEnhanced},
	{90, VariantMinimal},
	{100, VariantAggressive},
}

// GetVariantConfig resolves a variant name to its config, falling back to
// BASELINE and logging a warning for an unrecognized name.
func GetVariantConfig(v Variant, logger *slog.Logger) VariantConfig {
	if cfg, ok := variantConfigs[v]; ok {
		return cfg
	}
	if logger != nil {
		logger.Warn("unknown memory variant, falling back to BASELINE", "variant", v)
	}
	return variantConfigs[VariantBaseline]
}

// AssignVariant deterministically buckets (externalID, projectID) into a
// variant via the first byte of their MD5 digest. An explicit override
// bypasses hashing entirely (used for pinning a variant in tests or
// operator tooling). Identical inputs always produce the identical
// variant.
func AssignVariant(externalID, projectID string, override *Variant) Variant {
	if override != nil {
		if _, ok := variantConfigs[*override]; ok {
			return *override
		}
		return VariantBaseline
	}

	hashInput := externalID + ":" + projectID
	if hashInput == ":" {
		return VariantBaseline
	}

	// Fold eight digest bytes before the modulus: a single byte mod 100
	// skews the 0-55 residues to 3/256 each and every bucket boundary
	// drifts off its declared percentage.
	sum := md5.Sum([]byte(hashInput))
	bucket := int(binary.BigEndian.Uint64(sum[:8]) % 100)

	for _, b := range variantBuckets {
		if bucket < b.cumulative {
			return b.variant
		}
	}
	return VariantBaseline
}
