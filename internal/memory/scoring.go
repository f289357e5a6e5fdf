package memory

import (
	"math"
	"sort"
	"time"

	"github.com/agenthub/agent-hub/pkg/models"
)

// ScoreInput carries the raw signals scoring needs for one candidate
// episode or entity edge; semantic similarity comes from the vector
// backend, the rest from the episode's own stored counters.
type ScoreInput struct {
	SemanticSimilarity float64 // 0.0-1.0
	Confidence         float64 // 0.0-100.0

	LoadedCount     int
	ReferencedCount int

	CreatedAt  time.Time
	LastUsedAt time.Time

	Tier models.InjectionTier

	HasTagMatch bool
}

// Score is the breakdown of one candidate's weighted score, kept so
// callers can explain a ranking decision.
type Score struct {
	Final              float64
	SemanticComponent  float64
	UsageComponent     float64
	ConfidenceComponent float64
	RecencyComponent   float64
	TierMultiplier     float64
	TagBoost           float64
	PassesThreshold    bool
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// RecencyDecay is an exponential decay anchored on the more recent of
// createdAt/lastUsedAt: 1.0 for a fresh item, halving every halfLifeDays.
// A zero reference time (never created, never used) defaults to 0.5, the
// neutral midpoint, rather than biasing ranking either way.
func RecencyDecay(createdAt, lastUsedAt time.Time, halfLifeDays int, now time.Time) float64 {
	var reference time.Time
	if !lastUsedAt.IsZero() {
		reference = lastUsedAt
	}
	if !createdAt.IsZero() && (reference.IsZero() || createdAt.After(reference)) {
		reference = createdAt
	}
	if reference.IsZero() {
		return 0.5
	}

	ageDays := now.Sub(reference).Hours() / 24
	if ageDays <= 0 {
		return 1.0
	}

	decay := math.Pow(0.5, ageDays/float64(halfLifeDays))
	return clamp01(decay)
}

// UsageEffectiveness measures how often a loaded memory is actually cited.
// An item never loaded defaults to 0.5 (neutral) rather than 0, so a brand
// new episode isn't penalized for lacking usage history.
func UsageEffectiveness(loadedCount, referencedCount int) float64 {
	if loadedCount <= 0 {
		return 0.5
	}
	effectiveness := float64(referencedCount) / float64(loadedCount)
	if effectiveness > 1.0 {
		return 1.0
	}
	return effectiveness
}

// ScoreCandidate combines the four weighted factors, applies the tier
// multiplier and tag boost, and checks it against the variant's minimum
// relevance threshold.
func ScoreCandidate(in ScoreInput, cfg VariantConfig, now time.Time) Score {
	semantic := clamp01(in.SemanticSimilarity)
	usage := UsageEffectiveness(in.LoadedCount, in.ReferencedCount)
	confidence := clamp01(in.Confidence / 100.0)

	halfLife := cfg.Recency.ReferenceHalfLifeDays
	if in.Tier == models.TierMandate {
		halfLife = cfg.Recency.MandateHalfLifeDays
	}
	recency := RecencyDecay(in.CreatedAt, in.LastUsedAt, halfLife, now)

	base := semantic*cfg.Weights.Semantic +
		usage*cfg.Weights.Usage +
		confidence*cfg.Weights.Confidence +
		recency*cfg.Weights.Recency

	tierMultiplier := cfg.Tiers.Reference
	switch in.Tier {
	case models.TierMandate:
		tierMultiplier = cfg.Tiers.Mandate
	case models.TierGuardrail:
		tierMultiplier = cfg.Tiers.Guardrail
	}

	tagBoost := 1.0
	if in.HasTagMatch {
		tagBoost = cfg.Tiers.AgentTagBoost
	}

	final := base * tierMultiplier * tagBoost

	return Score{
		Final:               final,
		SemanticComponent:   semantic,
		UsageComponent:      usage,
		ConfidenceComponent: confidence,
		RecencyComponent:    recency,
		TierMultiplier:      tierMultiplier,
		TagBoost:            tagBoost,
		PassesThreshold:     final >= cfg.MinRelevanceThreshold,
	}
}

// ScoreGoldenStandard scores a mandate candidate against the dedicated
// golden-standard gate: a semantic similarity below
// GoldenStandardMinSimilarity fails outright regardless of confidence,
// confidence=100 only ever grants a 1.5x multiplier, never an automatic
// pass.
func ScoreGoldenStandard(semanticSimilarity, confidence float64, cfg VariantConfig) (score float64, passes bool) {
	if semanticSimilarity < cfg.GoldenStandardMinSimilarity {
		return 0, false
	}
	confidenceMultiplier := 1.0 + (confidence/100.0)*0.5
	score = semanticSimilarity * confidenceMultiplier
	return score, score >= cfg.MinRelevanceThreshold
}

// Ranked pairs a candidate of any type T with its computed Score.
type Ranked[T any] struct {
	Item  T
	Score Score
}

// RankCandidates sorts by final score descending, dropping anything below
// threshold unless includeBelowThreshold is set (used by operator
// inspection tooling that wants to see the full ranked set).
func RankCandidates[T any](scored []Ranked[T], includeBelowThreshold bool) []Ranked[T] {
	out := scored
	if !includeBelowThreshold {
		out = make([]Ranked[T], 0, len(scored))
		for _, s := range scored {
			if s.Score.PassesThreshold {
				out = append(out, s)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score.Final > out[j].Score.Final
	})
	return out
}
