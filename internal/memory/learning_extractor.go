package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// MaxTranscriptChars is the trailing-window size a transcript is
// truncated to before extraction; a session transcript can run far
// longer than any reasonable extraction prompt budget.
const MaxTranscriptChars = 12000

// TranscriptTruncationThreshold is the length above which truncation
// kicks in at all; short transcripts pass through untouched.
const TranscriptTruncationThreshold = 15000

// MaxExtractedLearnings bounds how many items one extraction call can
// return, regardless of how much the LLM tries to hand back.
const MaxExtractedLearnings = 10

// LearningType classifies how an extracted fact was derived.
type LearningType string

const (
	LearningVerified  LearningType = "verified"
	LearningInference LearningType = "inference"
	LearningPattern   LearningType = "pattern"
)

// ExtractedLearning is one item the LLM proposed from a session
// transcript, prior to any confidence-floor or reinforcement decision.
type ExtractedLearning struct {
	Content      string       `json:"content"`
	LearningType LearningType `json:"learning_type"`
	Confidence   float64      `json:"confidence"`
	SourceQuote  string       `json:"source_quote,omitempty"`
	Category     string       `json:"category"`
}

// TranscriptSummarizer calls an LLM to propose learnings from a session
// transcript; satisfied by a thin wrapper over the provider adapter's
// complete() operation, kept here as a narrow interface so the
// extractor never depends on the full provider surface.
type TranscriptSummarizer interface {
	SummarizeLearnings(ctx context.Context, transcript string) (string, error)
}

// GeminiTranscriptSummarizer implements TranscriptSummarizer against a
// cheap Gemini model, same grounding as GeminiPairClassifier.
type GeminiTranscriptSummarizer struct {
	client *genai.Client
	model  string
}

// NewGeminiTranscriptSummarizer constructs a summarizer.
func NewGeminiTranscriptSummarizer(client *genai.Client, model string) *GeminiTranscriptSummarizer {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiTranscriptSummarizer{client: client, model: model}
}

const extractionPrompt = `Review this conversation transcript and extract any
durable, reusable facts a future session should know: verified technical
facts, inferences drawn from evidence in the conversation, or recurring
patterns in how a task was solved.

Return a JSON array of up to 10 objects, each shaped exactly as:
{"content": "...", "learning_type": "verified|inference|pattern", "confidence": 0-100, "source_quote": "...", "category": "..."}

Return ONLY the JSON array, no other text.

Transcript:
%s`

// SummarizeLearnings asks the model for the raw JSON-array response.
func (s *GeminiTranscriptSummarizer) SummarizeLearnings(ctx context.Context, transcript string) (string, error) {
	resp, err := s.client.Models.GenerateContent(ctx, s.model,
		genai.Text(fmt.Sprintf(extractionPrompt, transcript)), nil)
	if err != nil {
		return "", fmt.Errorf("summarize learnings: %w", err)
	}
	return resp.Text(), nil
}

// TruncateTranscript keeps only the trailing MaxTranscriptChars of a
// transcript once it exceeds TranscriptTruncationThreshold — the most
// recent exchanges are the ones most likely to contain what was actually
// learned or corrected during the session.
func TruncateTranscript(transcript string) string {
	if len(transcript) <= TranscriptTruncationThreshold {
		return transcript
	}
	return transcript[len(transcript)-MaxTranscriptChars:]
}

// ExtractLearningsJSON defensively parses the LLM's response : try
// the whole text as JSON, then fall back to the largest "[...]"
// substring, skipping malformed items rather than failing the whole
// batch. Never returns more than MaxExtractedLearnings items.
func ExtractLearningsJSON(raw string) []ExtractedLearning {
	candidates := jsonArrayCandidates(raw)

	for _, candidate := range candidates {
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(candidate), &items); err != nil {
			continue
		}
		out := make([]ExtractedLearning, 0, len(items))
		for _, item := range items {
			var l ExtractedLearning
			if err := json.Unmarshal(item, &l); err != nil {
				continue // skip malformed items, don't fail the batch
			}
			if l.Content == "" {
				continue
			}
			out = append(out, l)
			if len(out) >= MaxExtractedLearnings {
				break
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// jsonArrayCandidates tries the whole trimmed text first, then the
// largest bracket-delimited substring, mirroring the same JSON-extraction
// fallback order used elsewhere (whole -> fenced -> largest substring).
// Transcript extraction responses are asked to be JSON-only, so no
// fenced-code-block stage is needed here.
func jsonArrayCandidates(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	candidates := []string{trimmed}

	start := strings.Index(trimmed, "[")
	end := strings.LastIndex(trimmed, "]")
	if start >= 0 && end > start {
		candidates = append(candidates, trimmed[start:end+1])
	}
	return candidates
}

// LearningIngester is the narrow funnel back into EpisodeCreator; a
// learning is always written through it, never directly.
type LearningIngester interface {
	Create(ctx context.Context, content, name string, profile IngestionProfile, sourceDescription string) CreateResult
}

// LearningExtractor turns a session transcript into stored learnings: skip
// below the provisional confidence floor, reinforce a matching existing
// provisional learning instead of duplicating it, otherwise write fresh at
// provisional or canonical status depending on confidence.
type LearningExtractor struct {
	summarizer TranscriptSummarizer
	promotion  *PromotionService
	ingester   LearningIngester
	log        *slog.Logger
}

// NewLearningExtractor constructs an extractor.
func NewLearningExtractor(summarizer TranscriptSummarizer, promotion *PromotionService, ingester LearningIngester, logger *slog.Logger) *LearningExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LearningExtractor{summarizer: summarizer, promotion: promotion, ingester: ingester, log: logger}
}

// ExtractionOutcome summarizes what happened to one extracted learning.
type ExtractionOutcome struct {
	Learning  ExtractedLearning
	Skipped   bool
	SkipReason string
	Reinforced bool
	Written    bool
	UUID       string
	Status     string // "provisional" | "canonical"
}

// ExtractAndStore runs the full the pipeline for one session transcript.
func (e *LearningExtractor) ExtractAndStore(ctx context.Context, transcript, groupID string) ([]ExtractionOutcome, error) {
	truncated := TruncateTranscript(transcript)

	raw, err := e.summarizer.SummarizeLearnings(ctx, truncated)
	if err != nil {
		return nil, fmt.Errorf("summarize learnings: %w", err)
	}

	learnings := ExtractLearningsJSON(raw)
	outcomes := make([]ExtractionOutcome, 0, len(learnings))

	for _, l := range learnings {
		if l.Confidence < ProvisionalThreshold {
			outcomes = append(outcomes, ExtractionOutcome{Learning: l, Skipped: true, SkipReason: "below provisional floor"})
			continue
		}

		reinforcement := e.promotion.CheckAndPromoteDuplicate(ctx, l.Content, l.Confidence, groupID)
		if reinforcement.FoundMatch {
			status := "provisional"
			if reinforcement.Promoted {
				status = "canonical"
			}
			outcomes = append(outcomes, ExtractionOutcome{
				Learning: l, Reinforced: true, UUID: reinforcement.MatchedUUID, Status: status,
			})
			continue
		}

		status := "provisional"
		if l.Confidence >= CanonicalThreshold {
			status = "canonical"
		}
		sourceDesc := fmt.Sprintf("%s reference source:learning_extractor confidence:%.0f status:%s",
			l.Category, l.Confidence, status)

		result := e.ingester.Create(ctx, l.Content, "", LearningProfile, sourceDesc)
		if !result.Success {
			e.log.Warn("failed to write extracted learning", "error", result.ValidationError)
			outcomes = append(outcomes, ExtractionOutcome{Learning: l, Skipped: true, SkipReason: result.ValidationError})
			continue
		}
		outcomes = append(outcomes, ExtractionOutcome{Learning: l, Written: true, UUID: result.UUID, Status: status})
	}

	return outcomes, nil
}
