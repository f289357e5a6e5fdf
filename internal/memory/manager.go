package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/agenthub/agent-hub/pkg/models"
)

// Manager wires every memory subsystem into one service, constructed once
// at application startup and handed to collaborators by reference — no
// subsystem here constructs its own backend connection. Global mutable
// state is replaced by explicit services owned by the application
// lifecycle.
type Manager struct {
	Backend       *GraphBackend
	Usage         *UsageBuffer
	Index         *IndexCache
	Tier          *TierOptimizer
	Promotion     *PromotionService
	Cluster       *CanonicalClusterer
	Extractor     *LearningExtractor
	Consolidation *ConsolidationService
	Sessions      *SessionStore
	Metrics       *InjectionMetricsLog

	log *slog.Logger
	now func() time.Time
}

// Config bundles everything Manager needs to construct its subsystems.
type Config struct {
	Backend         *GraphBackend
	RelationalDB    *sql.DB // nil disables relational audit/usage logging
	Classifier      PairClassifier
	Summarizer      TranscriptSummarizer
	AppName         string // session-state dotfile directory name
	FlushInterval   time.Duration
	IndexTTL        time.Duration
	Logger          *slog.Logger
}

// NewManager constructs every subsystem from one backend and wires them
// together, matching the construction order each subsystem's own
// constructor expects (usage buffer and index cache before anything that
// reads from them).
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("memory: backend is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sessions, err := NewSessionStore(cfg.AppName, "")
	if err != nil {
		return nil, fmt.Errorf("memory: session store: %w", err)
	}

	usage := NewUsageBuffer(cfg.Backend, cfg.RelationalDB, logger, cfg.FlushInterval)
	index := NewIndexCache(cfg.Backend, cfg.IndexTTL)
	tier := NewTierOptimizer(cfg.Backend, cfg.RelationalDB, logger)
	promotion := NewPromotionService(cfg.Backend, cfg.Backend, logger)
	cluster := NewCanonicalClusterer(cfg.Backend, cfg.Classifier, cfg.Backend, logger)
	consolidation := NewConsolidationService(cfg.Backend, cfg.Backend, cfg.Backend, cfg.Backend, logger)
	metrics := NewInjectionMetricsLog(cfg.RelationalDB, logger)

	var extractor *LearningExtractor
	if cfg.Summarizer != nil {
		creator := NewEpisodeCreator(models.Scope{Kind: models.ScopeGlobal}, cfg.Backend, cfg.Backend)
		extractor = NewLearningExtractor(cfg.Summarizer, promotion, extractorIngester{creator: creator}, logger)
	}

	return &Manager{
		Backend: cfg.Backend, Usage: usage, Index: index, Tier: tier,
		Promotion: promotion, Cluster: cluster, Extractor: extractor,
		Consolidation: consolidation, Sessions: sessions, Metrics: metrics,
		log: logger, now: time.Now,
	}, nil
}

// extractorIngester rebinds EpisodeCreator to whatever scope a given
// transcript's group_id names, since a single global-scoped creator built
// at startup can't know every project scope in advance.
type extractorIngester struct {
	creator *EpisodeCreator
}

func (e extractorIngester) Create(ctx context.Context, content, name string, profile IngestionProfile, sourceDescription string) CreateResult {
	return e.creator.Create(ctx, content, name, profile, sourceDescription)
}

// Start launches the manager's background loops: periodic usage-buffer
// flush. The tier optimizer is registered separately via
// TierOptimizer.ScheduleCron — it runs on its own cron schedule, not tied
// to Manager's lifetime, since tier optimization is not a hot-path call.
func (m *Manager) Start(ctx context.Context) {
	m.Usage.StartPeriodicFlush(ctx)
}

// Stop flushes any pending usage counters and ends the periodic flush
// loop. Call this on graceful shutdown so the last window of increments
// isn't lost.
func (m *Manager) Stop(ctx context.Context) {
	m.Usage.Stop(ctx)
}

// Ingest is the single call site application code should use to create an
// episode: it routes golden standards through canonical clustering first,
// then falls through to the plain ingestion funnel for everything else
// and for variations that clear clustering.
func (m *Manager) Ingest(ctx context.Context, content, name string, profile IngestionProfile, scope models.Scope, sourceDescription string) (CreateResult, error) {
	creator := NewEpisodeCreator(scope, m.Backend, m.Backend)

	if profile.IsGolden {
		outcome, err := m.Cluster.Cluster(ctx, content, scope.GroupID())
		if err != nil {
			return CreateResult{}, err
		}
		if outcome != nil {
			if outcome.Merged {
				return CreateResult{Success: true, Deduplicated: true, UUID: outcome.CanonicalUUID}, nil
			}
			result := creator.Create(ctx, content, name, profile, sourceDescription)
			if result.Success && !result.Deduplicated {
				if err := m.Backend.CreateRefinesEdge(ctx, result.UUID, outcome.CanonicalUUID, m.now()); err != nil {
					m.log.Warn("failed to link REFINES edge after canonical clustering", "error", err)
				}
			}
			return result, nil
		}
	}

	return creator.Create(ctx, content, name, profile, sourceDescription), nil
}

// InjectContext runs the full progressive-disclosure pipeline for one
// query: search mandate/guardrail/reference candidates from the backend,
// score and select them against the given variant, budget-fill, format,
// record the loaded UUIDs into session state, and enqueue usage-buffer
// increments for every injected item.
func (m *Manager) InjectContext(ctx context.Context, query string, scope models.Scope, includeGlobal bool, taskType string, cfg VariantConfig, budget TokenBudget, session *SessionState) (ProgressiveContext, error) {
	start := m.now()
	groupIDs := SanitizeGroupIDFilter(scope, includeGlobal)

	mandates, guardrails, references, err := m.searchTiers(ctx, query, groupIDs)
	if err != nil {
		return ProgressiveContext{}, err
	}

	tagMatches := map[string]bool{} // populated by callers that track trigger_task_types matches upstream of scoring

	result, err := BuildProgressiveContext(ctx, m.Backend, mandates, guardrails, references, cfg, tagMatches, budget, taskType, m.now())
	if err != nil {
		return ProgressiveContext{}, err
	}

	m.Usage.TrackLoadedBatch(result.LoadedUUIDs)
	sessionID := ""
	if session != nil {
		session.RecordInjection(result.LoadedUUIDs, m.now())
		sessionID = session.SessionID
	}

	m.Metrics.Record(ctx, metricsFor(result, query, sessionID, scope.GroupID(), cfg.Variant, m.now().Sub(start)))

	return result, nil
}

// searchTiers runs three explicit tier-filtered searches rather than one
// generic search bucketed by tag afterward, matching
// fetch_episodes_filtered's database-level injection_tier filter.
func (m *Manager) searchTiers(ctx context.Context, query string, groupIDs []string) (mandates, guardrails, references []Candidate, err error) {
	mandates, err = m.Backend.SearchByTier(ctx, query, groupIDs, models.TierMandate, 50)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("search tiers: %w", err)
	}
	guardrails, err = m.Backend.SearchByTier(ctx, query, groupIDs, models.TierGuardrail, 50)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("search tiers: %w", err)
	}
	references, err = m.Backend.SearchByTier(ctx, query, groupIDs, models.TierReference, 50)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("search tiers: %w", err)
	}
	return mandates, guardrails, references, nil
}

// ProcessCitations parses a completed assistant turn, resolves its
// citation prefixes to full UUIDs scoped to the active group_id, and
// enqueues a `referenced` increment for each resolved UUID.
// Ambiguous prefixes propagate as an AmbiguousPrefixError; unmatched
// prefixes are silently ignored.
func (m *Manager) ProcessCitations(ctx context.Context, responseText, groupID string) (ParseResult, error) {
	parsed := ParseCitations(responseText)
	if len(parsed.UniqueUUIDs) == 0 {
		return parsed, nil
	}

	resolved, err := ResolvePrefixes(ctx, m.Backend, parsed.UniqueUUIDs, groupID)
	if err != nil {
		return parsed, err
	}

	for _, uuid := range resolved {
		m.Usage.TrackReferenced(uuid)
	}
	return parsed, nil
}

// Rate implements the external rating API: mark a cited episode
// helpful, harmful, or used, bypassing the usage buffer's own increment
// methods only in naming — they still go through the same buffer.
func (m *Manager) Rate(episodeUUID string, rating string) error {
	switch rating {
	case "helpful":
		m.Usage.TrackHelpful(episodeUUID)
	case "harmful":
		m.Usage.TrackHarmful(episodeUUID)
	case "used":
		m.Usage.TrackReferenced(episodeUUID)
	default:
		return fmt.Errorf("unknown rating: %q", rating)
	}
	return nil
}

// ApplyHarmfulCorrection implements the harmful-correction replacement:
// write a correction episode, link it to the original, and mark the
// original excluded from future search.
func (m *Manager) ApplyHarmfulCorrection(ctx context.Context, originalUUID, correctionContent, groupID string) (string, error) {
	return m.Backend.ApplyHarmfulCorrection(ctx, originalUUID, correctionContent, groupID, m.now())
}
