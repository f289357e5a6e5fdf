package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultIndexTTL is how long a built index is trusted before a stale
// check forces a rebuild.
const DefaultIndexTTL = 300 * time.Second

// MinSamplesForDemotion is the load count an entry needs before its
// relevance ratio is considered statistically meaningful enough to demote.
const MinSamplesForDemotion = 10

// IndexChangeThreshold is the minimum |Δutility| that justifies an
// eager cache invalidation outside the TTL.
const IndexChangeThreshold = 0.1

// IndexEntry is one compressed, always-injected summary of a mandate.
type IndexEntry struct {
	UUID           string
	ShortID        string // first 8 hex chars, for [M:xxxxxxxx] citations
	Summary        string
	Category       string
	RelevanceRatio float64
	LoadedCount    int
	ReferencedCount int
	Demoted        bool
}

// Index is the full adaptive index: every mandate's compressed summary,
// with low-signal entries marked demoted rather than removed so a
// recovering item can be reinstated without rebuilding from scratch.
type Index struct {
	Entries          []IndexEntry
	LastRefresh       time.Time
	TTL               time.Duration
	DemotionThreshold *float64
}

// IsStale reports whether the index should be rebuilt before use.
func (idx *Index) IsStale(now time.Time) bool {
	if idx.LastRefresh.IsZero() {
		return true
	}
	ttl := idx.TTL
	if ttl == 0 {
		ttl = DefaultIndexTTL
	}
	return now.Sub(idx.LastRefresh) > ttl
}

// ActiveEntries returns the non-demoted subset, which is all that's
// actually injected into context.
func (idx *Index) ActiveEntries() []IndexEntry {
	active := make([]IndexEntry, 0, len(idx.Entries))
	for _, e := range idx.Entries {
		if !e.Demoted {
			active = append(active, e)
		}
	}
	return active
}

// FormatForInjection renders the index grouped by category, sorted
// alphabetically, one line per category with comma-joined cited entries.
// Returns "" when nothing is active, so callers can skip an empty section
// entirely rather than injecting a bare header.
func (idx *Index) FormatForInjection() string {
	active := idx.ActiveEntries()
	if len(active) == 0 {
		return ""
	}

	byCategory := make(map[string][]IndexEntry)
	for _, e := range active {
		byCategory[e.Category] = append(byCategory[e.Category], e)
	}

	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var b strings.Builder
	b.WriteString("## Adaptive Index")
	for _, category := range categories {
		items := make([]string, 0, len(byCategory[category]))
		for _, e := range byCategory[category] {
			items = append(items, fmt.Sprintf("%s [M:%s]", e.Summary, e.ShortID))
		}
		fmt.Fprintf(&b, "\n**%s**: %s", category, strings.Join(items, ", "))
	}
	return b.String()
}

// CalculateDemotionThreshold derives median(ratios) - stdev(ratios) from
// entries with enough samples to be meaningful. Fewer than 3 eligible
// entries means there isn't enough data for a stable statistic, so no
// threshold is set and nothing gets demoted this cycle.
func CalculateDemotionThreshold(entries []IndexEntry) *float64 {
	eligible := make([]float64, 0, len(entries))
	for _, e := range entries {
		if e.LoadedCount >= MinSamplesForDemotion {
			eligible = append(eligible, e.RelevanceRatio)
		}
	}
	if len(eligible) < 3 {
		return nil
	}

	sort.Float64s(eligible)
	median := medianOf(eligible)
	stdev := stdevOf(eligible)

	threshold := median - stdev
	if threshold < 0 {
		threshold = 0
	}
	return &threshold
}

func medianOf(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func stdevOf(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

// ApplyDemotion marks entries below threshold as demoted, provided they
// have enough samples. A nil threshold (not enough data yet) leaves every
// entry untouched.
func ApplyDemotion(entries []IndexEntry, threshold *float64) []IndexEntry {
	if threshold == nil {
		return entries
	}
	for i := range entries {
		if entries[i].LoadedCount >= MinSamplesForDemotion {
			entries[i].Demoted = entries[i].RelevanceRatio < *threshold
		} else {
			entries[i].Demoted = false
		}
	}
	return entries
}

var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{"Testing", []string{"test", "pytest", "mock", "fixture", "aaa"}},
	{"Git", []string{"git", "commit", "push", "branch", "merge"}},
	{"Errors", []string{"error", "exception", "fail", "bug"}},
	{"CLI", []string{"cli", "command", "terminal", "bash"}},
	{"Commands", []string{"/", "st ", "dt ", "slash"}},
	{"Coding", []string{"async", "await", "function", "class"}},
	{"Architecture", []string{"architect", "design", "pattern", "system"}},
}

// CategorizeContent infers a display category from keyword matches,
// falling back to "General" when nothing matches.
func CategorizeContent(content string) string {
	lower := strings.ToLower(content)
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c.category
			}
		}
	}
	return "General"
}

// SummarizeContent produces a one-line summary: the first sentence if it
// fits within maxLength, else a word-boundary truncation with an ellipsis.
func SummarizeContent(content string, maxLength int) string {
	content = strings.TrimSpace(strings.ReplaceAll(content, "\n", " "))

	for _, delim := range []string{".", "!", "?"} {
		if idx := strings.Index(content, delim); idx >= 0 {
			first := strings.TrimSpace(content[:idx])
			if len(first) <= maxLength {
				return first
			}
			break
		}
	}

	if len(content) > maxLength {
		cut := content[:maxLength-3]
		if sp := strings.LastIndex(cut, " "); sp > 0 {
			cut = cut[:sp]
		}
		return cut + "..."
	}
	return content
}

// GoldenStandard is the minimal shape adaptive-index building needs from a
// mandate episode.
type GoldenStandard struct {
	UUID            string
	Content         string
	LoadedCount     int
	ReferencedCount int
}

// BuildIndex assembles an Index from a set of mandate episodes, computing
// and applying the demotion threshold in the same pass.
func BuildIndex(goldenStandards []GoldenStandard, ttl time.Duration, now time.Time) Index {
	entries := make([]IndexEntry, 0, len(goldenStandards))
	for _, gs := range goldenStandards {
		if gs.UUID == "" || gs.Content == "" {
			continue
		}
		ratio := 0.5
		if gs.LoadedCount > 0 {
			ratio = float64(gs.ReferencedCount) / float64(gs.LoadedCount)
		}
		short := gs.UUID
		if len(short) > 8 {
			short = short[:8]
		}
		entries = append(entries, IndexEntry{
			UUID:            gs.UUID,
			ShortID:         short,
			Summary:         SummarizeContent(gs.Content, 60),
			Category:        CategorizeContent(gs.Content),
			RelevanceRatio:  ratio,
			LoadedCount:     gs.LoadedCount,
			ReferencedCount: gs.ReferencedCount,
		})
	}

	threshold := CalculateDemotionThreshold(entries)
	entries = ApplyDemotion(entries, threshold)

	return Index{
		Entries:           entries,
		LastRefresh:       now,
		TTL:               ttl,
		DemotionThreshold: threshold,
	}
}

// MandateSource fetches the current set of global mandates with their
// usage counters; satisfied by GraphBackend.
type MandateSource interface {
	GlobalMandates(ctx context.Context) ([]GoldenStandard, error)
}

// IndexCache guards a single shared Index behind a TTL, so repeated
// injections within the same window reuse one build instead of re-querying
// the graph backend on every turn.
type IndexCache struct {
	mu      sync.Mutex
	index   *Index
	source  MandateSource
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewIndexCache constructs a cache backed by source, using DefaultIndexTTL
// unless ttl is non-zero.
func NewIndexCache(source MandateSource, ttl time.Duration) *IndexCache {
	if ttl == 0 {
		ttl = DefaultIndexTTL
	}
	return &IndexCache{source: source, ttl: ttl, nowFunc: time.Now}
}

// Get returns the cached index, rebuilding it if stale or forceRefresh is
// set. On a rebuild failure, a still-present stale cache is returned rather
// than surfacing the error, since a stale index beats an empty one; only a
// cold cache with a failing fetch returns the error.
func (c *IndexCache) Get(ctx context.Context, forceRefresh bool) (Index, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	if c.index != nil && !forceRefresh && !c.index.IsStale(now) {
		return *c.index, nil
	}

	golden, err := c.source.GlobalMandates(ctx)
	if err != nil {
		if c.index != nil {
			return *c.index, nil
		}
		return Index{}, fmt.Errorf("fetch mandates: %w", err)
	}

	built := BuildIndex(golden, c.ttl, now)
	c.index = &built
	return built, nil
}

// Invalidate drops the cached index, forcing the next Get to rebuild.
func (c *IndexCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = nil
}

// RefreshIfSignificant invalidates and eagerly rebuilds the cache when any
// utility-score delta meets IndexChangeThreshold; small drifts don't
// justify an out-of-band graph query.
func (c *IndexCache) RefreshIfSignificant(ctx context.Context, utilityScoreChanges map[string]float64) (bool, error) {
	significant := false
	for _, delta := range utilityScoreChanges {
		if math.Abs(delta) >= IndexChangeThreshold {
			significant = true
			break
		}
	}
	if !significant {
		return false, nil
	}

	c.Invalidate()
	if _, err := c.Get(ctx, true); err != nil {
		return false, err
	}
	return true, nil
}
