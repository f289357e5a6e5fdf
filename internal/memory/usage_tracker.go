package memory

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultFlushInterval is the usage-buffer flush cadence. It is bounded at
// 60s to limit data loss on an ungraceful shutdown; this default sits at
// half that.
const DefaultFlushInterval = 30 * time.Second

const (
	metricLoaded     = "loaded"
	metricReferenced = "referenced"
	metricSuccess    = "success"
	metricHelpful    = "helpful"
	metricHarmful    = "harmful"
)

// counterSet is the per-episode tally accumulated between flushes.
type counterSet struct {
	loaded, referenced, success, helpful, harmful int
}

// GraphCounterUpdater applies a batch of usage deltas to the graph
// backend's counter properties and recomputes utility_score; satisfied by
// GraphBackend.
type GraphCounterUpdater interface {
	FlushUsageCounters(ctx context.Context, updates map[string]UsageDelta, now time.Time) (updated int, err error)
}

// UsageDelta is one episode's accumulated counters for a single flush.
type UsageDelta struct {
	Loaded, Referenced, Success, Helpful, Harmful int
}

// UsageBuffer is a mutex-guarded in-memory accumulator for per-episode
// usage counters, flushed periodically to the graph backend (source of
// truth for live counters) and a relational store (historical log, for
// analytics only).
type UsageBuffer struct {
	mu       sync.Mutex
	counters map[string]*counterSet

	graph GraphCounterUpdater
	db    *sql.DB
	log   *slog.Logger

	flushInterval time.Duration
	stop          chan struct{}
	stopped       chan struct{}
	now           func() time.Time
}

// NewUsageBuffer constructs a buffer. db may be nil, in which case
// relational flushing is a no-op (useful for local/no-Postgres setups).
func NewUsageBuffer(graph GraphCounterUpdater, db *sql.DB, logger *slog.Logger, flushInterval time.Duration) *UsageBuffer {
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageBuffer{
		counters:      make(map[string]*counterSet),
		graph:         graph,
		db:            db,
		log:           logger,
		flushInterval: flushInterval,
		now:           time.Now,
	}
}

func (b *UsageBuffer) increment(episodeUUID string, pick func(*counterSet)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.counters[episodeUUID]
	if !ok {
		c = &counterSet{}
		b.counters[episodeUUID] = c
	}
	pick(c)
}

// TrackLoaded records that an episode was injected into context.
func (b *UsageBuffer) TrackLoaded(episodeUUID string) {
	b.increment(episodeUUID, func(c *counterSet) { c.loaded++ })
}

// TrackReferenced records that an episode was cited in an LLM response.
func (b *UsageBuffer) TrackReferenced(episodeUUID string) {
	b.increment(episodeUUID, func(c *counterSet) { c.referenced++ })
}

// TrackSuccess records that an episode was associated with a successful
// outcome.
func (b *UsageBuffer) TrackSuccess(episodeUUID string) {
	b.increment(episodeUUID, func(c *counterSet) { c.success++ })
}

// TrackHelpful records an agent rating this episode as helpful.
func (b *UsageBuffer) TrackHelpful(episodeUUID string) {
	b.increment(episodeUUID, func(c *counterSet) { c.helpful++ })
}

// TrackHarmful records an agent rating this episode as harmful.
func (b *UsageBuffer) TrackHarmful(episodeUUID string) {
	b.increment(episodeUUID, func(c *counterSet) { c.harmful++ })
}

// TrackLoadedBatch is a convenience wrapper over TrackLoaded for a UUID
// slice.
func (b *UsageBuffer) TrackLoadedBatch(uuids []string) {
	for _, u := range uuids {
		b.TrackLoaded(u)
	}
}

// TrackReferencedBatch is a convenience wrapper over TrackReferenced for a
// UUID slice.
func (b *UsageBuffer) TrackReferencedBatch(uuids []string) {
	for _, u := range uuids {
		b.TrackReferenced(u)
	}
}

// swap atomically takes the current counters and resets the buffer,
// so concurrent increments during a flush land in the next cycle instead
// of being lost or double-counted.
func (b *UsageBuffer) swap() map[string]*counterSet {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.counters) == 0 {
		return nil
	}
	out := b.counters
	b.counters = make(map[string]*counterSet)
	return out
}

// readd merges counters back in after a failed flush, so increments that
// happened during the failed attempt aren't silently dropped.
func (b *UsageBuffer) readd(counters map[string]*counterSet) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for uuid, c := range counters {
		existing, ok := b.counters[uuid]
		if !ok {
			existing = &counterSet{}
			b.counters[uuid] = existing
		}
		existing.loaded += c.loaded
		existing.referenced += c.referenced
		existing.success += c.success
		existing.helpful += c.helpful
		existing.harmful += c.harmful
	}
}

// Flush drains the buffer and writes to the graph backend, then the
// relational store. A graph-flush failure re-queues the counters (via
// backoff/v5 retry, then re-add on exhaustion) because the graph holds
// the live source of truth for utility_score. A relational-flush failure
// is logged and counted but NOT re-queued — the relational log is for
// analytics, and the graph side has already been updated, so replaying it
// would double-count history. This asymmetry is intentional, not a bug.
func (b *UsageBuffer) Flush(ctx context.Context) error {
	counters := b.swap()
	if counters == nil {
		return nil
	}

	deltas := make(map[string]UsageDelta, len(counters))
	for uuid, c := range counters {
		deltas[uuid] = UsageDelta{
			Loaded: c.loaded, Referenced: c.referenced, Success: c.success,
			Helpful: c.helpful, Harmful: c.harmful,
		}
	}

	now := b.now()

	_, err := backoff.Retry(ctx, func() (int, error) {
		return b.graph.FlushUsageCounters(ctx, deltas, now)
	}, backoff.WithMaxTries(3))
	if err != nil {
		b.log.Error("failed to flush usage counters to graph backend, re-queueing", "error", err, "episodes", len(counters))
		b.readd(counters)
		return err
	}

	if err := b.flushToRelational(ctx, counters, now); err != nil {
		b.log.Error("failed to flush usage counters to relational store, NOT re-queued", "error", err, "episodes", len(counters))
	}

	return nil
}

func (b *UsageBuffer) flushToRelational(ctx context.Context, counters map[string]*counterSet, now time.Time) error {
	if b.db == nil {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO usage_stats (episode_uuid, metric_type, value, recorded_at) VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	write := func(uuid, metric string, value int) error {
		if value <= 0 {
			return nil
		}
		_, err := stmt.ExecContext(ctx, uuid, metric, value, now)
		return err
	}

	for uuid, c := range counters {
		if err := write(uuid, metricLoaded, c.loaded); err != nil {
			return err
		}
		if err := write(uuid, metricReferenced, c.referenced); err != nil {
			return err
		}
		if err := write(uuid, metricSuccess, c.success); err != nil {
			return err
		}
		if err := write(uuid, metricHelpful, c.helpful); err != nil {
			return err
		}
		if err := write(uuid, metricHarmful, c.harmful); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// StartPeriodicFlush launches the flush loop; call Stop to end it. A
// second call while already running is a no-op.
func (b *UsageBuffer) StartPeriodicFlush(ctx context.Context) {
	b.mu.Lock()
	if b.stop != nil {
		b.mu.Unlock()
		return
	}
	b.stop = make(chan struct{})
	b.stopped = make(chan struct{})
	b.mu.Unlock()

	go func() {
		defer close(b.stopped)
		ticker := time.NewTicker(b.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-b.stop:
				return
			case <-ticker.C:
				if err := b.Flush(ctx); err != nil {
					b.log.Warn("periodic usage flush failed", "error", err)
				}
			}
		}
	}()
}

// Stop ends the periodic flush loop and performs one final flush so
// counters accumulated right before shutdown aren't lost.
func (b *UsageBuffer) Stop(ctx context.Context) {
	b.mu.Lock()
	stop := b.stop
	stopped := b.stopped
	b.stop = nil
	b.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-stopped

	if err := b.Flush(ctx); err != nil {
		b.log.Warn("final usage flush on shutdown failed", "error", err)
	}
}
