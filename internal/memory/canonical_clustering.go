package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

// CanonicalSimilarityThreshold is the minimum similarity to an existing
// golden standard before an LLM is consulted at all; below this, the new
// content is distinct enough to write as-is.
const CanonicalSimilarityThreshold = 0.85

// PairClassification is the LLM's verdict on a near-duplicate golden
// standard pair.
type PairClassification string

const (
	ClassificationRephrase  PairClassification = "rephrase"
	ClassificationVariation PairClassification = "variation"
)

// PairClassifier asks a cheap LLM whether two near-identical golden
// standards are the same meaning restated ("rephrase") or one adding
// nuance to the other ("variation"). Parsing is defensive by design (see
// ClassifyPairResponse): an unrecognized response must never be treated
// as "rephrase," since that would silently discard information.
type PairClassifier interface {
	ClassifyPair(ctx context.Context, existing, candidate string) (string, error)
}

// GeminiPairClassifier implements PairClassifier against a cheap Gemini
// model, grounded on the same genai.Client request shape the provider
// adapter uses for completions.
type GeminiPairClassifier struct {
	client *genai.Client
	model  string
}

// NewGeminiPairClassifier constructs a classifier. model should be the
// cheapest available Gemini tier — this call runs on every near-duplicate
// golden-standard write, not just occasionally.
func NewGeminiPairClassifier(client *genai.Client, model string) *GeminiPairClassifier {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiPairClassifier{client: client, model: model}
}

func classificationPrompt(existing, candidate string) string {
	return fmt.Sprintf(`Compare these two statements of a coding standard.

Existing: %q
New: %q

Are they the same rule restated ("rephrase"), or does the new one add
nuance or a different condition ("variation")? Reply with exactly one
word: rephrase or variation.`, existing, candidate)
}

// ClassifyPair calls the model and returns its raw text response for
// ClassifyPairResponse to parse defensively.
func (c *GeminiPairClassifier) ClassifyPair(ctx context.Context, existing, candidate string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		genai.Text(classificationPrompt(existing, candidate)), nil)
	if err != nil {
		return "", fmt.Errorf("classify pair: %w", err)
	}
	return resp.Text(), nil
}

// ClassifyPairResponse parses a classifier's free-text response by
// substring match rather than requiring an exact token, since LLM output
// formatting is never fully reliable. An unrecognized response defaults to
// "variation" — the information-preserving choice, since a spurious
// "rephrase" verdict would silently drop the new content's nuance.
func ClassifyPairResponse(raw string) PairClassification {
	lower := strings.ToLower(raw)
	if strings.Contains(lower, "rephrase") {
		return ClassificationRephrase
	}
	return ClassificationVariation
}

// CanonicalCandidate is the existing golden standard nearest a new
// ingestion, with enough context to classify and, if needed, link.
type CanonicalCandidate struct {
	UUID              string
	Content           string
	SourceDescription string
	Similarity        float64
}

// CanonicalSource finds the nearest existing golden standard within a
// scope; satisfied by GraphBackend via SearchBySimilarity, narrowed to
// golden-standard results by the caller.
type CanonicalSource interface {
	NearestGoldenStandard(ctx context.Context, content, groupID string) (CanonicalCandidate, bool, error)
}

// SynonymAppender and RefinesLinker are the two possible write outcomes of
// clustering; satisfied by GraphBackend.
type SynonymAppender interface {
	AppendSynonym(ctx context.Context, uuid, newContent string, maxLen int) error
}

type RefinesLinker interface {
	CreateRefinesEdge(ctx context.Context, newUUID, canonicalUUID string, now time.Time) error
}

// MaxSynonymLength bounds how much of a rephrased variant gets appended to
// the canonical episode's synonyms list.
const MaxSynonymLength = 500

// ClusterOutcome records what CanonicalCluster decided and did.
type ClusterOutcome struct {
	Merged        bool // true => rephrase, no new episode
	CanonicalUUID string
	Classification PairClassification
}

// CanonicalClusterer gates golden-standard ingestion: near-duplicates are
// classified by a cheap LLM into "rephrase" (merge into the existing
// episode's synonyms) or "variation" (write a new episode linked to the
// canonical one by a REFINES edge).
type CanonicalClusterer struct {
	source     CanonicalSource
	classifier PairClassifier
	synonyms   SynonymAppender
	log        *slog.Logger
}

// NewCanonicalClusterer constructs a clusterer. classifier may be nil, in
// which case any candidate at or above the similarity threshold is
// treated as a "variation" (the safe default) without consulting an LLM —
// useful for offline/no-LLM deployments.
func NewCanonicalClusterer(source CanonicalSource, classifier PairClassifier, synonyms SynonymAppender, logger *slog.Logger) *CanonicalClusterer {
	if logger == nil {
		logger = slog.Default()
	}
	return &CanonicalClusterer{source: source, classifier: classifier, synonyms: synonyms, log: logger}
}

// Cluster runs the canonical-clustering algorithm for one new golden-standard ingestion.
// A nil outcome with no error means: no near-duplicate found, write the
// new episode as-is (the caller's normal EpisodeCreator.Create path).
func (c *CanonicalClusterer) Cluster(ctx context.Context, content, groupID string) (*ClusterOutcome, error) {
	candidate, found, err := c.source.NearestGoldenStandard(ctx, content, groupID)
	if err != nil {
		return nil, fmt.Errorf("find nearest golden standard: %w", err)
	}
	if !found || candidate.Similarity < CanonicalSimilarityThreshold {
		return nil, nil
	}

	classification := ClassificationVariation
	if c.classifier != nil {
		raw, err := c.classifier.ClassifyPair(ctx, candidate.Content, content)
		if err != nil {
			c.log.Warn("pair classification failed, defaulting to variation", "error", err)
		} else {
			classification = ClassifyPairResponse(raw)
		}
	}

	if classification == ClassificationRephrase {
		if err := c.synonyms.AppendSynonym(ctx, candidate.UUID, content, MaxSynonymLength); err != nil {
			return nil, fmt.Errorf("append synonym: %w", err)
		}
		c.log.Info("merged rephrased golden standard", "canonical_uuid", candidate.UUID)
		return &ClusterOutcome{Merged: true, CanonicalUUID: candidate.UUID, Classification: classification}, nil
	}

	return &ClusterOutcome{Merged: false, CanonicalUUID: candidate.UUID, Classification: classification}, nil
}
