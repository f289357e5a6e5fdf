package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/agenthub/agent-hub/pkg/models"
)

// verbosePatterns flags conversational filler that has no place in a
// declarative knowledge store; content matching any of these is rejected
// at ingestion rather than cleaned up after the fact.
var verbosePatterns = []string{
	"you should",
	"i recommend",
	"please",
	"thank you",
	"let me know",
	"feel free",
	"i suggest",
	"you might want",
	"consider using",
	"it would be",
	"it's important to",
}

// IngestionProfile is a named preset controlling validation,
// deduplication, default tier, and the synthesized source-description
// tags for one ingestion path.
type IngestionProfile struct {
	Name        string
	Validate    bool
	Deduplicate bool
	DedupWindow time.Duration
	Tier        models.InjectionTier
	IsGolden    bool
	Origin      string // source:<origin> tag value
	Confidence  int    // confidence:<0-100> tag value
}

var (
	// GoldenStandardProfile is for golden standards: highest confidence,
	// always injected, no dedup window (a golden standard is unique by
	// definition, not just recently-unique).
	GoldenStandardProfile = IngestionProfile{
		Name: "GOLDEN_STANDARD", Validate: true, Deduplicate: true, DedupWindow: 0,
		Tier: models.TierMandate, IsGolden: true, Origin: "golden_standard", Confidence: 100,
	}
	// ChatStreamProfile is for chat/stream content: minimal validation, a
	// short dedup window to absorb the LLM repeating itself mid-stream.
	ChatStreamProfile = IngestionProfile{
		Name: "CHAT_STREAM", Validate: false, Deduplicate: true, DedupWindow: time.Minute,
		Tier: models.TierReference, IsGolden: false, Origin: "user", Confidence: 50,
	}
	// LearningProfile is for runtime learnings extracted from transcripts.
	LearningProfile = IngestionProfile{
		Name: "LEARNING", Validate: true, Deduplicate: true, DedupWindow: 5 * time.Minute,
		Tier: models.TierReference, IsGolden: false, Origin: "learning", Confidence: 70,
	}
	// ToolDiscoveryProfile is for facts learned about the codebase.
	ToolDiscoveryProfile = IngestionProfile{
		Name: "TOOL_DISCOVERY", Validate: true, Deduplicate: true, DedupWindow: 5 * time.Minute,
		Tier: models.TierReference, IsGolden: false, Origin: "learning", Confidence: 70,
	}
	// ToolGotchaProfile is for gotchas/pitfalls, stored as guardrails so
	// the same mistake is flagged before it's repeated.
	ToolGotchaProfile = IngestionProfile{
		Name: "TOOL_GOTCHA", Validate: true, Deduplicate: true, DedupWindow: 5 * time.Minute,
		Tier: models.TierGuardrail, IsGolden: false, Origin: "learning", Confidence: 80,
	}
)

// CreateResult is the outcome of one EpisodeCreator.Create call.
type CreateResult struct {
	Success         bool
	UUID            string
	Deduplicated    bool
	ValidationError string
}

// DuplicateFinder checks whether content matching the given hash already
// exists within a time window, scoped to a group_id; satisfied by
// GraphBackend.
type DuplicateFinder interface {
	FindDuplicateByHash(ctx context.Context, groupID, contentHash string, since time.Time) (string, bool, error)
}

// EpisodeWriter is the sole write path into the backend; satisfied by
// GraphBackend.
type EpisodeWriter interface {
	AddEpisode(ctx context.Context, ep models.Episode) (models.Episode, error)
}

// EpisodeCreator is the single funnel all episode ingestion passes
// through: validation, deduplication, and tag construction happen here so
// no other package is allowed to call EpisodeWriter.AddEpisode directly.
type EpisodeCreator struct {
	scope  models.Scope
	writer EpisodeWriter
	dedup  DuplicateFinder
	now    func() time.Time
}

// NewEpisodeCreator builds a creator bound to one scope.
func NewEpisodeCreator(scope models.Scope, writer EpisodeWriter, dedup DuplicateFinder) *EpisodeCreator {
	return &EpisodeCreator{scope: scope, writer: writer, dedup: dedup, now: time.Now}
}

// Create validates, deduplicates, and writes content as a new episode.
// sourceDescription, when empty, is synthesized from the profile via
// buildSourceDescription.
func (c *EpisodeCreator) Create(ctx context.Context, content, name string, profile IngestionProfile, sourceDescription string) CreateResult {
	referenceTime := c.now()

	if profile.Validate {
		if verr := validateContent(content); verr != "" {
			return CreateResult{Success: false, ValidationError: verr}
		}
	}

	if profile.Deduplicate && c.dedup != nil {
		hash := ContentHash(content)
		since := time.Time{}
		if profile.DedupWindow > 0 {
			since = referenceTime.Add(-profile.DedupWindow)
		}
		if uuid, found, err := c.dedup.FindDuplicateByHash(ctx, c.scope.GroupID(), hash, since); err == nil && found {
			return CreateResult{Success: true, UUID: uuid, Deduplicated: true}
		}
	}

	if sourceDescription == "" {
		sourceDescription = buildSourceDescription(profile)
	}

	ep := models.Episode{
		Name:              name,
		Content:           content,
		GroupID:           c.scope.GroupID(),
		SourceDescription: sourceDescription,
		InjectionTier:     profile.Tier,
		AutoInject:        profile.Tier != models.TierReference,
		VectorIndexed:     true,
		CreatedAt:         referenceTime,
		ValidAt:           referenceTime,
	}

	created, err := c.writer.AddEpisode(ctx, ep)
	if err != nil {
		return CreateResult{Success: false, ValidationError: fmt.Sprintf("backend error: %v", err)}
	}

	return CreateResult{Success: true, UUID: created.UUID}
}

// validateContent rejects conversational filler so the store stays a
// declarative fact base rather than accumulating chat transcript debris.
func validateContent(content string) string {
	lower := strings.ToLower(content)
	var detected []string
	for _, p := range verbosePatterns {
		if strings.Contains(lower, p) {
			detected = append(detected, p)
		}
	}
	if len(detected) == 0 {
		return ""
	}
	return fmt.Sprintf(
		"content is too verbose, write declarative facts not conversational advice; detected patterns: %s",
		strings.Join(detected, ", "),
	)
}

// buildSourceDescription synthesizes the tag grammar from a profile:
// bare category and tier tokens, then source:/confidence: key:value
// tokens, all four always present so ParseSourceDescription never reads
// a zero confidence off a profile-written episode.
func buildSourceDescription(profile IngestionProfile) string {
	return fmt.Sprintf("%s %s source:%s confidence:%d",
		strings.ToLower(profile.Name), profile.Tier, profile.Origin, profile.Confidence)
}

// NormalizeContent collapses whitespace and lowercases content so
// near-identical text hashes identically regardless of formatting.
func NormalizeContent(content string) string {
	return strings.ToLower(strings.TrimSpace(strings.Join(strings.Fields(content), " ")))
}

// ContentHash is the SHA-256 hex digest of normalized content, used for
// exact-duplicate detection within a time window.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(content)))
	return hex.EncodeToString(sum[:])
}
