// Package observability is the gateway's monitoring surface: Prometheus
// metrics, redacting structured logs, OpenTelemetry traces, and an
// in-process event timeline for replaying agent runs.
//
// The four pieces share one correlation model. IDs travel on the context
// (request, session, group, agent, run, tool-call, subagent) and every
// sink pulls what it needs from there, so call sites attach an ID once
// and never thread it by hand:
//
//	ctx = observability.AddRunID(ctx, runID)
//	logger.Info(ctx, "turn complete", "turns", n) // run_id appears automatically
//	recorder.Record(ctx, observability.EventTypeTurn, "turn_2", nil)
//
// Metrics (metrics.go) count what the gateway does: episodes ingested,
// injections and their token budgets, citation resolutions (with an
// ambiguous label), usage-flush outcomes, tier changes, provider latency,
// agent-run terminals, subagent and roundtable activity.
//
// Logging (logging.go) wraps slog with credential redaction; anything
// shaped like a provider API key, bearer token, or JWT is replaced before
// it reaches a handler. Components that only need plain slog take
// Logger.Slog().
//
// Tracing (tracing.go) exports OTLP/gRPC spans when an endpoint is
// configured and degrades to in-process no-ops when it isn't, so
// instrumented code never branches on "is tracing on".
//
// The event timeline (events.go) records each run's turns, tool calls,
// and subagent spawns into a bounded in-memory store, queryable by run,
// session, or type — the debugging view the CLI reads when a run
// misbehaves.
package observability
