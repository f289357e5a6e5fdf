package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ReinforcementSimilarityThreshold is the minimum search score for treating
// a new learning as matching an existing one, slightly looser than the
// canonical-clustering threshold since reinforcement only updates a
// confidence number rather than merging content.
const ReinforcementSimilarityThreshold = 0.8

// ProvisionalThreshold and CanonicalThreshold are the two-state confidence
// boundaries (per the decision to keep "provisional"/"canonical" as the
// only two learning statuses): below ProvisionalThreshold a learning isn't
// stored at all, at or above CanonicalThreshold it's trusted outright.
const (
	ProvisionalThreshold = 70.0
	CanonicalThreshold   = 90.0
)

// ReinforcementResult is the outcome of checking a new learning against
// existing provisional learnings.
type ReinforcementResult struct {
	FoundMatch    bool
	Promoted      bool
	MatchedUUID   string
	NewConfidence float64
}

// PromotionResult is the outcome of a manual promotion request.
type PromotionResult struct {
	Success         bool
	Promoted        bool
	EpisodeUUID     string
	Message         string
	PreviousStatus  string
	NewStatus       string
}

// SimilaritySearcher finds edges/episodes semantically close to a query,
// scoped to a group_id; satisfied by GraphBackend.
type SimilaritySearcher interface {
	SearchBySimilarity(ctx context.Context, query, groupID string, numResults int) ([]SimilarityMatch, error)
}

// SimilarityMatch is one candidate returned by a similarity search, carrying
// just enough to drive reinforcement and canonical-context filtering.
type SimilarityMatch struct {
	UUID              string
	Score             float64
	SourceDescription string
	Fact              string
}

// SourceDescriptionUpdater applies a new raw source_description string to an
// existing episode or edge; satisfied by GraphBackend.
type SourceDescriptionUpdater interface {
	UpdateSourceDescription(ctx context.Context, uuid, newSourceDescription string) error
	GetSourceDescription(ctx context.Context, uuid string) (string, bool, error)
}

// PromotionService implements reinforcement-based promotion of learnings
// from provisional to canonical status: a new learning that semantically
// matches an existing provisional one bumps its confidence instead of
// creating a duplicate entry, and promotes it once the bump clears the
// canonical threshold.
type PromotionService struct {
	search  SimilaritySearcher
	updater SourceDescriptionUpdater
	log     *slog.Logger
}

// NewPromotionService constructs a PromotionService.
func NewPromotionService(search SimilaritySearcher, updater SourceDescriptionUpdater, logger *slog.Logger) *PromotionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PromotionService{search: search, updater: updater, log: logger}
}

// CheckAndPromoteDuplicate searches for a provisional learning matching
// content; if found, it reinforces (and possibly promotes) that learning
// instead of the caller creating a new episode. Only the first matching
// provisional learning is processed, mirroring the single-match-wins
// behavior of the function this is grounded on. A search or update failure
// is logged and returns a zero-value result rather than propagating the
// error, since a failed reinforcement check should never block the
// caller's fallback path of creating a fresh episode.
func (s *PromotionService) CheckAndPromoteDuplicate(ctx context.Context, content string, confidence float64, groupID string) ReinforcementResult {
	result := ReinforcementResult{}

	matches, err := s.search.SearchBySimilarity(ctx, content, groupID, 5)
	if err != nil {
		s.log.Error("failed to check for duplicate learnings", "error", err)
		return result
	}

	for _, m := range matches {
		if m.Score < ReinforcementSimilarityThreshold {
			continue
		}
		if !strings.Contains(m.SourceDescription, "status:provisional") {
			continue
		}

		result.FoundMatch = true
		result.MatchedUUID = m.UUID

		existingConf := extractConfidence(m.SourceDescription)
		newConf := (existingConf + confidence) / 2
		newConf += 10
		if newConf > 100 {
			newConf = 100
		}
		result.NewConfidence = newConf

		var newDesc string
		if newConf >= CanonicalThreshold {
			newDesc = strings.Replace(m.SourceDescription, "status:provisional", "status:canonical", 1)
			newDesc = strings.Replace(newDesc,
				fmt.Sprintf("confidence:%.0f", existingConf),
				fmt.Sprintf("confidence:%.0f", newConf), 1)
			if err := s.updater.UpdateSourceDescription(ctx, m.UUID, newDesc); err != nil {
				s.log.Error("failed to promote learning", "uuid", m.UUID, "error", err)
				return ReinforcementResult{}
			}
			result.Promoted = true
			s.log.Info("promoted learning from provisional to canonical",
				"uuid", m.UUID, "old_confidence", existingConf, "new_confidence", newConf)
		} else {
			newDesc = strings.Replace(m.SourceDescription,
				fmt.Sprintf("confidence:%.0f", existingConf),
				fmt.Sprintf("confidence:%.0f", newConf), 1)
			if err := s.updater.UpdateSourceDescription(ctx, m.UUID, newDesc); err != nil {
				s.log.Error("failed to reinforce learning", "uuid", m.UUID, "error", err)
				return ReinforcementResult{}
			}
			s.log.Info("reinforced provisional learning",
				"uuid", m.UUID, "old_confidence", existingConf, "new_confidence", newConf)
		}

		return result
	}

	return result
}

// PromoteLearning manually promotes an episode to canonical status,
// regardless of its current confidence, optionally recording a reason.
func (s *PromotionService) PromoteLearning(ctx context.Context, episodeUUID, reason string) PromotionResult {
	sourceDesc, found, err := s.updater.GetSourceDescription(ctx, episodeUUID)
	if err != nil {
		return PromotionResult{Success: false, Message: fmt.Sprintf("promotion failed: %v", err)}
	}
	if !found {
		return PromotionResult{Success: false, Message: fmt.Sprintf("episode not found: %s", episodeUUID)}
	}

	if strings.Contains(sourceDesc, "status:canonical") {
		return PromotionResult{
			Success: true, Promoted: false, EpisodeUUID: episodeUUID,
			Message: "learning is already canonical",
			PreviousStatus: "canonical", NewStatus: "canonical",
		}
	}

	var newDesc, previousStatus string
	if strings.Contains(sourceDesc, "status:provisional") {
		newDesc = strings.Replace(sourceDesc, "status:provisional", "status:canonical", 1)
		previousStatus = "provisional"
	} else {
		newDesc = sourceDesc + " status:canonical"
		previousStatus = "unknown"
	}
	if reason != "" {
		newDesc = newDesc + " promoted:" + reason
	}

	if err := s.updater.UpdateSourceDescription(ctx, episodeUUID, newDesc); err != nil {
		return PromotionResult{Success: false, Message: fmt.Sprintf("promotion failed: %v", err)}
	}

	s.log.Info("manually promoted learning to canonical", "uuid", episodeUUID, "reason", reason)

	return PromotionResult{
		Success: true, Promoted: true, EpisodeUUID: episodeUUID,
		Message: "learning promoted to canonical",
		PreviousStatus: previousStatus, NewStatus: "canonical",
	}
}

// CanonicalContext returns facts from canonical (and optionally
// provisional) learnings matching query, for callers building context
// outside the normal progressive-disclosure path.
func (s *PromotionService) CanonicalContext(ctx context.Context, query, groupID string, maxFacts int, includeProvisional bool) ([]string, error) {
	facts := make([]string, 0, maxFacts)

	matches, err := s.search.SearchBySimilarity(ctx, query, groupID, maxFacts*2)
	if err != nil {
		return nil, fmt.Errorf("canonical context search: %w", err)
	}

	for _, m := range matches {
		if len(facts) >= maxFacts {
			break
		}
		isCanonical := strings.Contains(m.SourceDescription, "status:canonical")
		isProvisional := strings.Contains(m.SourceDescription, "status:provisional")
		if isCanonical || (includeProvisional && isProvisional) {
			if m.Fact != "" {
				facts = append(facts, m.Fact)
			}
		}
	}

	return facts, nil
}

// extractConfidence reads the confidence:<n> token out of a raw
// source_description string, defaulting to the provisional threshold if the
// token is missing or malformed.
func extractConfidence(sourceDesc string) float64 {
	sd := ParseSourceDescription(sourceDesc)
	if sd.Confidence > 0 {
		return sd.Confidence
	}
	return ProvisionalThreshold
}
