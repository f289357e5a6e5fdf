package memory

import (
	"time"

	"github.com/agenthub/agent-hub/pkg/models"
)

// Candidate is a single search hit to be scored: either an Episode or an
// EntityEdge, normalized to the fields scoring needs.
type Candidate struct {
	UUID               string
	Tier               models.InjectionTier
	SemanticSimilarity float64
	Confidence         float64
	LoadedCount        int
	ReferencedCount    int
	CreatedAt          time.Time
	LastUsedAt         time.Time
}

// SelectionDebug mirrors the operator-facing counters the source logs on
// every selection call.
type SelectionDebug struct {
	TotalScored    int
	SelectedCount  int
	ExcludedCount  int
	Threshold      float64
	MandatesCount  int
	GuardrailsCount int
	ReferencesCount int
}

// SelectMemories scores mandates, guardrails, and references together and
// lets them compete purely on final_score (Decision d6): tier separation is
// only used to pick the right half-life and multiplier during scoring, not
// to hard-gate which tier wins a slot. A high-scoring guardrail can and
// does outrank a low-scoring mandate here.
func SelectMemories(mandates, guardrails, references []Candidate, cfg VariantConfig, tagMatches map[string]bool, now time.Time) ([]Ranked[Candidate], SelectionDebug) {
	scored := make([]Ranked[Candidate], 0, len(mandates)+len(guardrails)+len(references))

	scoreGroup := func(group []Candidate, tier models.InjectionTier) {
		for _, c := range group {
			c.Tier = tier
			s := ScoreCandidate(ScoreInput{
				SemanticSimilarity: c.SemanticSimilarity,
				Confidence:         c.Confidence,
				LoadedCount:        c.LoadedCount,
				ReferencedCount:    c.ReferencedCount,
				CreatedAt:          c.CreatedAt,
				LastUsedAt:         c.LastUsedAt,
				Tier:               tier,
				HasTagMatch:        tagMatches[c.UUID],
			}, cfg, now)
			scored = append(scored, Ranked[Candidate]{Item: c, Score: s})
		}
	}

	scoreGroup(mandates, models.TierMandate)
	scoreGroup(guardrails, models.TierGuardrail)
	scoreGroup(references, models.TierReference)

	selected := RankCandidates(scored, false)

	debug := SelectionDebug{
		TotalScored:   len(scored),
		SelectedCount: len(selected),
		ExcludedCount: len(scored) - len(selected),
		Threshold:     cfg.MinRelevanceThreshold,
	}
	for _, s := range selected {
		switch s.Item.Tier {
		case models.TierMandate:
			debug.MandatesCount++
		case models.TierGuardrail:
			debug.GuardrailsCount++
		case models.TierReference:
			debug.ReferencesCount++
		}
	}

	return selected, debug
}

// HighScoringGuardrailBeatsMandate is the testable-property check backing
// Decision d6: tier multipliers bias scoring, they never guarantee a
// mandate wins a head-to-head against a guardrail.
func HighScoringGuardrailBeatsMandate(guardrail, mandate Candidate, cfg VariantConfig, now time.Time) bool {
	g := ScoreCandidate(ScoreInput{
		SemanticSimilarity: guardrail.SemanticSimilarity,
		Confidence:         guardrail.Confidence,
		LoadedCount:        guardrail.LoadedCount,
		ReferencedCount:    guardrail.ReferencedCount,
		CreatedAt:          guardrail.CreatedAt,
		LastUsedAt:         guardrail.LastUsedAt,
		Tier:               models.TierGuardrail,
	}, cfg, now)
	m := ScoreCandidate(ScoreInput{
		SemanticSimilarity: mandate.SemanticSimilarity,
		Confidence:         mandate.Confidence,
		LoadedCount:        mandate.LoadedCount,
		ReferencedCount:    mandate.ReferencedCount,
		CreatedAt:          mandate.CreatedAt,
		LastUsedAt:         mandate.LastUsedAt,
		Tier:               models.TierMandate,
	}, cfg, now)
	return g.Final > m.Final
}

// SelectForContext regroups a SelectMemories result back by tier, for
// callers (the progressive-disclosure context injector) that need the
// three-block layout rather than one flat ranked list.
func SelectForContext(mandates, guardrails, references []Candidate, cfg VariantConfig, tagMatches map[string]bool, now time.Time) (selMandates, selGuardrails, selReferences []Candidate, debug SelectionDebug) {
	selected, debug := SelectMemories(mandates, guardrails, references, cfg, tagMatches, now)
	for _, s := range selected {
		switch s.Item.Tier {
		case models.TierMandate:
			selMandates = append(selMandates, s.Item)
		case models.TierGuardrail:
			selGuardrails = append(selGuardrails, s.Item)
		case models.TierReference:
			selReferences = append(selReferences, s.Item)
		}
	}
	return selMandates, selGuardrails, selReferences, debug
}
