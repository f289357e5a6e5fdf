package memory

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// InjectionMetrics is one context-injection event, logged to the
// relational store for analytics on injection latency, block sizes, and
// which memories actually get cited downstream.
type InjectionMetrics struct {
	SessionID       string
	ProjectID       string
	ExternalID      string
	LatencyMS       int64
	MandatesCount   int
	GuardrailsCount int
	ReferenceCount  int
	TotalTokens     int
	Query           string
	Variant         Variant
	TaskSucceeded   *bool // nil until the surrounding task reports an outcome
	Retries         int
	MemoriesCited   []string
	MemoriesLoaded  []string
}

// InjectionMetricsLog writes injection events to memory_injection_metrics.
// Like the usage buffer's relational side, this is an analytics log, not a
// source of truth: a write failure is logged and dropped, never retried.
type InjectionMetricsLog struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

// NewInjectionMetricsLog constructs a log. db may be nil, making Record a
// no-op.
func NewInjectionMetricsLog(db *sql.DB, logger *slog.Logger) *InjectionMetricsLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &InjectionMetricsLog{db: db, log: logger, now: time.Now}
}

// Record inserts one injection event. Failures never propagate to the
// injection hot path.
func (l *InjectionMetricsLog) Record(ctx context.Context, m InjectionMetrics) {
	if l.db == nil {
		return
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO memory_injection_metrics
			(session_id, project_id, external_id, injection_latency_ms,
			 mandates_count, guardrails_count, reference_count, total_tokens,
			 query, variant, task_succeeded, retries, memories_cited, memories_loaded, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		m.SessionID, m.ProjectID, m.ExternalID, m.LatencyMS,
		m.MandatesCount, m.GuardrailsCount, m.ReferenceCount, m.TotalTokens,
		m.Query, string(m.Variant), m.TaskSucceeded, m.Retries,
		pq.Array(m.MemoriesCited), pq.Array(m.MemoriesLoaded), l.now())
	if err != nil {
		l.log.Warn("failed to record injection metrics, dropping", "error", err, "session_id", m.SessionID)
	}
}

// metricsFor flattens one ProgressiveContext into its analytics row.
func metricsFor(pc ProgressiveContext, query string, sessionID, projectID string, variant Variant, latency time.Duration) InjectionMetrics {
	return InjectionMetrics{
		SessionID:       sessionID,
		ProjectID:       projectID,
		LatencyMS:       latency.Milliseconds(),
		MandatesCount:   len(pc.Mandates),
		GuardrailsCount: len(pc.Guardrails),
		ReferenceCount:  len(pc.Reference),
		TotalTokens:     pc.TotalTokens,
		Query:           query,
		Variant:         variant,
		MemoriesLoaded:  pc.LoadedUUIDs,
	}
}
