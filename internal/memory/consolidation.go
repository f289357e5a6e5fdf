package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agenthub/agent-hub/pkg/models"
)

// TaskScope returns the scope a task's working memory lives in while the
// task is running. Task memory is namespaced under the project grammar
// ("project-task-<sanitized-id>") so the group-id shape stays uniform
// across every graph query.
func TaskScope(taskID string) models.Scope {
	return models.Scope{Kind: models.ScopeProject, ID: "task-" + taskID}
}

// maxConsolidationEpisodes bounds how many task-scoped episodes one
// consolidation pass will examine.
const maxConsolidationEpisodes = 100

// ConsolidationRequest describes one completed task whose scoped memory
// should be promoted or cleaned up.
type ConsolidationRequest struct {
	TaskID      string
	Success     bool
	ProjectID   string // promotion target; "default" when empty
	TaskSummary string // optional outcome summary, crystallized on success
}

// ConsolidationResult reports what one consolidation pass did.
type ConsolidationResult struct {
	TaskID            string
	Success           bool
	PromotedCount     int
	DeletedCount      int
	CrystallizedCount int
	Message           string
}

// TaskEpisodeSource lists a task scope's episodes; satisfied by GraphBackend.
type TaskEpisodeSource interface {
	RetrieveEpisodes(ctx context.Context, referenceTime time.Time, lastN int, groupIDs []string) ([]models.Episode, error)
}

// EpisodeRemover deletes an episode by UUID; satisfied by GraphBackend.
type EpisodeRemover interface {
	RemoveEpisode(ctx context.Context, uuid string) error
}

// ConsolidationService folds a finished task's scoped episodes back into
// durable project memory. A successful task promotes its valuable episodes
// to project scope and crystallizes the outcome; a failed task preserves
// its gotchas and deletes the ephemeral rest, so failed-task noise never
// accumulates in search results.
//
// Promotion re-enters through the ingestion funnel rather than mutating
// group_id in place: the funnel's dedup guard is what keeps a task retried
// three times from writing the same lesson three times.
type ConsolidationService struct {
	episodes TaskEpisodeSource
	remover  EpisodeRemover
	writer   EpisodeWriter
	dedup    DuplicateFinder
	log      *slog.Logger
	now      func() time.Time
}

// NewConsolidationService constructs a service over the graph backend.
func NewConsolidationService(episodes TaskEpisodeSource, remover EpisodeRemover, writer EpisodeWriter, dedup DuplicateFinder, logger *slog.Logger) *ConsolidationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsolidationService{episodes: episodes, remover: remover, writer: writer, dedup: dedup, log: logger, now: time.Now}
}

// consolidationProfile writes promoted episodes at their original tier,
// deduplicated without a time window: a lesson promoted by an earlier run
// of the same task is a duplicate no matter how long ago it was written.
func consolidationProfile(tier models.InjectionTier) IngestionProfile {
	return IngestionProfile{
		Name: "CONSOLIDATION", Validate: false, Deduplicate: true, DedupWindow: 0,
		Tier: tier, Origin: "consolidation", Confidence: 80,
	}
}

// Consolidate runs one pass over a completed task's scoped episodes.
func (s *ConsolidationService) Consolidate(ctx context.Context, req ConsolidationRequest) ConsolidationResult {
	taskGroup := TaskScope(req.TaskID).GroupID()

	episodes, err := s.episodes.RetrieveEpisodes(ctx, s.now(), maxConsolidationEpisodes, []string{taskGroup})
	if err != nil {
		s.log.Error("failed to list task episodes", "task_id", req.TaskID, "error", err)
		return ConsolidationResult{TaskID: req.TaskID, Success: false, Message: fmt.Sprintf("failed to list episodes: %v", err)}
	}

	projectID := req.ProjectID
	if projectID == "" {
		projectID = "default"
	}
	creator := NewEpisodeCreator(models.Scope{Kind: models.ScopeProject, ID: projectID}, s.writer, s.dedup)

	if req.Success {
		return s.consolidateSuccess(ctx, req, episodes, creator)
	}
	return s.consolidateFailure(ctx, req, episodes, creator)
}

// consolidateSuccess promotes the task's mandate- and guardrail-tier
// episodes to project scope and crystallizes the task outcome when a
// summary was supplied and anything was worth promoting.
func (s *ConsolidationService) consolidateSuccess(ctx context.Context, req ConsolidationRequest, episodes []models.Episode, creator *EpisodeCreator) ConsolidationResult {
	result := ConsolidationResult{TaskID: req.TaskID, Success: true}

	for _, ep := range episodes {
		if !promotableTier(ep.InjectionTier) {
			continue
		}
		sourceDesc := fmt.Sprintf("promoted from task:%s - %s", req.TaskID, ep.SourceDescription)
		created := creator.Create(ctx, ep.Content, ep.Name, consolidationProfile(ep.InjectionTier), sourceDesc)
		if !created.Success {
			s.log.Warn("failed to promote task episode", "uuid", ep.UUID, "error", created.ValidationError)
			continue
		}
		if !created.Deduplicated {
			result.PromotedCount++
			s.log.Debug("promoted episode to project scope", "uuid", ep.UUID, "new_uuid", created.UUID)
		}
	}

	if req.TaskSummary != "" && result.PromotedCount > 0 {
		created := creator.Create(ctx, "Task outcome: "+req.TaskSummary, "task-outcome-"+req.TaskID,
			consolidationProfile(models.TierReference), "task_outcome reference source:consolidation confidence:80")
		if created.Success && !created.Deduplicated {
			result.CrystallizedCount++
			s.log.Info("crystallized task outcome", "task_id", req.TaskID)
		}
	}

	result.Message = fmt.Sprintf("Promoted %d memories, crystallized %d patterns", result.PromotedCount, result.CrystallizedCount)
	return result
}

// consolidateFailure preserves the task's guardrails and mandates (a
// failure is exactly when a gotcha earns its keep) and deletes the
// ephemeral reference-tier episodes so failed-task noise doesn't linger.
func (s *ConsolidationService) consolidateFailure(ctx context.Context, req ConsolidationRequest, episodes []models.Episode, creator *EpisodeCreator) ConsolidationResult {
	result := ConsolidationResult{TaskID: req.TaskID, Success: true}

	for _, ep := range episodes {
		if promotableTier(ep.InjectionTier) {
			sourceDesc := "preserved from failed task - " + ep.SourceDescription
			content := fmt.Sprintf("From failed task %s: %s", req.TaskID, ep.Content)
			created := creator.Create(ctx, content, ep.Name, consolidationProfile(ep.InjectionTier), sourceDesc)
			if !created.Success {
				s.log.Warn("failed to preserve task episode", "uuid", ep.UUID, "error", created.ValidationError)
				continue
			}
			if !created.Deduplicated {
				result.PromotedCount++
			}
			continue
		}
		if err := s.remover.RemoveEpisode(ctx, ep.UUID); err != nil {
			s.log.Warn("failed to delete ephemeral task episode", "uuid", ep.UUID, "error", err)
			continue
		}
		result.DeletedCount++
	}

	result.Message = fmt.Sprintf("Preserved %d memories, deleted %d ephemeral memories", result.PromotedCount, result.DeletedCount)
	return result
}

// promotableTier reports whether an episode's tier survives task
// completion: mandates and guardrails carry durable rules and gotchas,
// reference-tier task memory is working state.
func promotableTier(tier models.InjectionTier) bool {
	return tier == models.TierMandate || tier == models.TierGuardrail
}

// CrystallizePattern writes a pattern observed across task executions
// directly to project scope, with its supporting evidence folded into the
// content body.
func (s *ConsolidationService) CrystallizePattern(ctx context.Context, projectID, patternDescription string, supportingEvidence []string) (string, error) {
	parts := []string{"Pattern: " + patternDescription}
	if len(supportingEvidence) > 0 {
		parts = append(parts, "Evidence:")
		for _, evidence := range supportingEvidence {
			parts = append(parts, "- "+evidence)
		}
	}

	creator := NewEpisodeCreator(models.Scope{Kind: models.ScopeProject, ID: projectID}, s.writer, s.dedup)
	created := creator.Create(ctx, strings.Join(parts, "\n"), "",
		consolidationProfile(models.TierReference), "pattern reference source:consolidation confidence:80")
	if !created.Success {
		return "", fmt.Errorf("crystallize pattern: %s", created.ValidationError)
	}
	return created.UUID, nil
}
