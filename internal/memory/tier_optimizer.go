package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	robfigcron "github.com/robfig/cron/v3"

	"github.com/agenthub/agent-hub/pkg/models"
)

// Tier-optimizer thresholds from Decision d5. Only this configurable-
// constants variant is implemented; no hardcoded-literal duplicate path
// is carried forward.
const (
	DemotionThreshold   = 0.15
	PromotionThreshold  = 0.70
	MinLoadsForDemotion = 50
	MinRefsForPromotion = 20
	MinAgeForChange     = 7 * 24 * time.Hour
	GracePeriod         = 48 * time.Hour
	GhostRatioThreshold = 10.0
	HarmfulThreshold    = 3
)

// LoadReferenceRatio is the tier optimizer's own local demotion/promotion
// signal (referenced/loaded), distinct from Episode.UtilityScore
// (success/referenced). The two "utility score" meanings in the source
// are kept separate rather than merged, per the decision not to guess
// away that drift.
func LoadReferenceRatio(loaded, referenced int) float64 {
	if loaded <= 0 {
		return 0.5
	}
	ratio := float64(referenced) / float64(loaded)
	if ratio > 1.0 {
		return 1.0
	}
	return ratio
}

// GhostRatio flags episodes loaded far more often than they're referenced
// — injected into context repeatedly but never actually cited.
func GhostRatio(loaded, referenced int) float64 {
	return float64(loaded) / float64(referenced+1)
}

// TierCandidate is one episode under consideration for a tier change.
type TierCandidate struct {
	UUID            string
	Name            string
	CurrentTier     models.InjectionTier
	LoadedCount     int
	ReferencedCount int
	HarmfulCount    int
	UtilityScore    float64
	GhostRatio      float64
	Age             time.Duration
	Reason          string
	Pinned          bool
}

// TierCandidateSource queries the graph backend for demotion/promotion
// candidates; satisfied by GraphBackend.
type TierCandidateSource interface {
	DemotionCandidates(ctx context.Context, minLoads int, minAge time.Duration) ([]TierCandidate, error)
	PromotionCandidates(ctx context.Context, minRefs int, minAge time.Duration) ([]TierCandidate, error)
	SetEpisodeTier(ctx context.Context, uuid string, newTier models.InjectionTier, reason string, demoted bool, now time.Time) error
}

// NextTierDown returns the tier one step below current, or "" if current
// is already the lowest.
func NextTierDown(current models.InjectionTier) models.InjectionTier {
	for i, t := range models.TierHierarchy {
		if t == current && i < len(models.TierHierarchy)-1 {
			return models.TierHierarchy[i+1]
		}
	}
	return ""
}

// NextTierUp returns the tier one step above current, or "" if current is
// already the highest.
func NextTierUp(current models.InjectionTier) models.InjectionTier {
	for i, t := range models.TierHierarchy {
		if t == current && i > 0 {
			return models.TierHierarchy[i-1]
		}
	}
	return ""
}

// FindDemotionCandidates identifies episodes eligible for demotion:
// harmful ratings past threshold, sustained low utility, or "zombie"
// status (loaded often, almost never referenced). Harmful ratings take
// priority and carry no load-count precondition — the other two criteria
// only apply once an episode has MinLoadsForDemotion loads. Episodes
// younger than the grace period are excluded upstream by the backend's
// age filter, never demoted regardless of their ratios. Pinned episodes
// are skipped here too, as a second line of defense alongside the backend
// query's own pinned=false filter.
func FindDemotionCandidates(ctx context.Context, source TierCandidateSource) ([]TierCandidate, error) {
	raw, err := source.DemotionCandidates(ctx, MinLoadsForDemotion, MinAgeForChange)
	if err != nil {
		return nil, fmt.Errorf("find demotion candidates: %w", err)
	}

	out := make([]TierCandidate, 0, len(raw))
	for _, c := range raw {
		if c.Pinned {
			continue
		}
		c.UtilityScore = LoadReferenceRatio(c.LoadedCount, c.ReferencedCount)
		c.GhostRatio = GhostRatio(c.LoadedCount, c.ReferencedCount)

		switch {
		case c.HarmfulCount >= HarmfulThreshold:
			c.Reason = fmt.Sprintf("harmful_ratings:%d", c.HarmfulCount)
		case c.LoadedCount >= MinLoadsForDemotion && c.UtilityScore < DemotionThreshold:
			c.Reason = fmt.Sprintf("low_utility:%.2f", c.UtilityScore)
		case c.LoadedCount >= MinLoadsForDemotion && c.GhostRatio > GhostRatioThreshold:
			c.Reason = fmt.Sprintf("zombie:ghost_ratio=%.1f", c.GhostRatio)
		default:
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// FindPromotionCandidates identifies episodes eligible for promotion:
// sustained high utility with enough reference volume to be meaningful.
func FindPromotionCandidates(ctx context.Context, source TierCandidateSource) ([]TierCandidate, error) {
	raw, err := source.PromotionCandidates(ctx, MinRefsForPromotion, MinAgeForChange)
	if err != nil {
		return nil, fmt.Errorf("find promotion candidates: %w", err)
	}

	out := make([]TierCandidate, 0, len(raw))
	for _, c := range raw {
		c.UtilityScore = LoadReferenceRatio(c.LoadedCount, c.ReferencedCount)
		c.GhostRatio = GhostRatio(c.LoadedCount, c.ReferencedCount)
		if c.UtilityScore <= PromotionThreshold {
			continue
		}
		c.Reason = fmt.Sprintf("high_utility:%.2f", c.UtilityScore)
		out = append(out, c)
	}
	return out, nil
}

// TierChange is one applied demotion or promotion, for the audit log and
// the cycle summary.
type TierChange struct {
	UUID   string
	Action string // "demote" | "promote"
	From   models.InjectionTier
	To     models.InjectionTier
	Reason string
}

// OptimizationResult summarizes one tier-optimizer cycle.
type OptimizationResult struct {
	Demotions  int
	Promotions int
	Errors     int
	Details    []TierChange
}

// TierOptimizer periodically demotes low-utility episodes and promotes
// high-utility ones, logging every change to the relational audit table.
type TierOptimizer struct {
	source TierCandidateSource
	db     *sql.DB
	log    *slog.Logger
	now    func() time.Time
}

// NewTierOptimizer constructs an optimizer. db may be nil to disable audit
// logging (tests, or a deployment with no relational store configured).
func NewTierOptimizer(source TierCandidateSource, db *sql.DB, logger *slog.Logger) *TierOptimizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TierOptimizer{source: source, db: db, log: logger, now: time.Now}
}

// Run executes one full optimization cycle: find demotion candidates,
// apply them, find promotion candidates, apply them, logging every
// successful change. Demotion runs before promotion so an episode can't
// be demoted and promoted in the same cycle from stale candidate data.
func (o *TierOptimizer) Run(ctx context.Context) (OptimizationResult, error) {
	result := OptimizationResult{}
	now := o.now()

	demotions, err := FindDemotionCandidates(ctx, o.source)
	if err != nil {
		return result, err
	}
	for _, c := range demotions {
		newTier := NextTierDown(c.CurrentTier)
		if newTier == "" {
			continue
		}
		if err := o.source.SetEpisodeTier(ctx, c.UUID, newTier, c.Reason, true, now); err != nil {
			o.log.Error("failed to demote episode", "uuid", c.UUID, "error", err)
			result.Errors++
			continue
		}
		o.logTierChange(ctx, c.UUID, c.CurrentTier, newTier, c.Reason, "demotion")
		result.Demotions++
		result.Details = append(result.Details, TierChange{UUID: c.UUID, Action: "demote", From: c.CurrentTier, To: newTier, Reason: c.Reason})
	}

	promotions, err := FindPromotionCandidates(ctx, o.source)
	if err != nil {
		return result, err
	}
	for _, c := range promotions {
		newTier := NextTierUp(c.CurrentTier)
		if newTier == "" {
			continue
		}
		if err := o.source.SetEpisodeTier(ctx, c.UUID, newTier, c.Reason, false, now); err != nil {
			o.log.Error("failed to promote episode", "uuid", c.UUID, "error", err)
			result.Errors++
			continue
		}
		o.logTierChange(ctx, c.UUID, c.CurrentTier, newTier, c.Reason, "promotion")
		result.Promotions++
		result.Details = append(result.Details, TierChange{UUID: c.UUID, Action: "promote", From: c.CurrentTier, To: newTier, Reason: c.Reason})
	}

	o.log.Info("tier optimization cycle complete", "demotions", result.Demotions, "promotions", result.Promotions, "errors", result.Errors)
	return result, nil
}

// logTierChange writes directly via database/sql rather than through any
// higher-level repository, mirroring the source's raw-driver audit
// insert. A logging failure is swallowed — losing an audit row must never
// block the tier change it describes.
func (o *TierOptimizer) logTierChange(ctx context.Context, uuid string, oldTier, newTier models.InjectionTier, reason, changeType string) {
	if o.db == nil {
		return
	}
	_, err := o.db.ExecContext(ctx,
		`INSERT INTO tier_change_log (episode_uuid, old_tier, new_tier, reason, change_type, created_at) VALUES ($1, $2, $3, $4, $5, NOW())`,
		uuid, oldTier, newTier, reason, changeType)
	if err != nil {
		o.log.Error("failed to log tier change", "uuid", uuid, "error", err)
	}
}

// ScheduleCron registers Run on the given cron.Cron instance using the
// supplied schedule expression, returning the registered entry id so the
// caller can remove it later.
func (o *TierOptimizer) ScheduleCron(c *robfigcron.Cron, spec string) (robfigcron.EntryID, error) {
	return c.AddFunc(spec, func() {
		ctx := context.Background()
		if _, err := o.Run(ctx); err != nil {
			o.log.Error("tier optimization cycle failed", "error", err)
		}
	})
}
