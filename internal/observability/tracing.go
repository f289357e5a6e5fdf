// This file implements OpenTelemetry tracing: one trace per agent run,
// child spans per memory injection, provider call, subagent spawn, and
// graph query, exported over OTLP/gRPC.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TraceConfig configures trace export. An empty Endpoint disables export
// entirely — spans are still created but never leave the process, so
// instrumented code needs no "is tracing on" branches.
type TraceConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Endpoint is the OTLP/gRPC collector address ("localhost:4317").
	Endpoint string

	// SamplingRate in [0,1]; 0 means "unset" and defaults to 1.0.
	SamplingRate float64

	// Insecure disables TLS on the collector connection.
	Insecure bool
}

// Tracer wraps an OTel tracer with span helpers named for this gateway's
// operations.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer constructs a tracer and returns it with a shutdown function
// that flushes the span batcher. With no endpoint, or if the exporter
// cannot be constructed, the returned tracer is a recording no-op and
// shutdown does nothing.
func NewTracer(cfg TraceConfig) (*Tracer, func(context.Context) error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "agent-hub"
	}
	noop := func(context.Context) error { return nil }

	if cfg.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(cfg.ServiceName)}, noop
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return &Tracer{tracer: otel.Tracer(cfg.ServiceName)}, noop
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	rate := cfg.SamplingRate
	if rate == 0 {
		rate = 1.0
	}
	var sampler sdktrace.Sampler
	switch {
	case rate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case rate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(rate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	return &Tracer{tracer: provider.Tracer(cfg.ServiceName)}, provider.Shutdown
}

// Start opens a span; the caller must End it.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError records err on span and marks the span failed; nil is a
// no-op.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceRun opens the root span for one agent run.
func (t *Tracer) TraceRun(ctx context.Context, agentID, provider string) (context.Context, trace.Span) {
	return t.Start(ctx, "agent.run",
		attribute.String("agent.id", agentID),
		attribute.String("agent.provider", provider),
	)
}

// TraceMemoryInjection opens a span for one context-injector pass.
func (t *Tracer) TraceMemoryInjection(ctx context.Context, groupID, variant string) (context.Context, trace.Span) {
	return t.Start(ctx, "memory.inject",
		attribute.String("memory.group_id", groupID),
		attribute.String("memory.variant", variant),
	)
}

// TraceLLMRequest opens a client span for one provider call.
func (t *Tracer) TraceLLMRequest(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("llm.%s", provider),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
		))
	return ctx, span
}

// TraceSubagentSpawn opens a span for one orchestration subagent call.
func (t *Tracer) TraceSubagentSpawn(ctx context.Context, provider, traceID string) (context.Context, trace.Span) {
	return t.Start(ctx, "orchestration.subagent",
		attribute.String("subagent.provider", provider),
		attribute.String("subagent.trace_id", traceID),
	)
}

// TraceGraphQuery opens a client span for one graph/vector backend call.
func (t *Tracer) TraceGraphQuery(ctx context.Context, operation, groupID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("graph.%s", operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("graph.operation", operation),
			attribute.String("graph.group_id", groupID),
		))
	return ctx, span
}

// GetTraceID returns the active trace ID, empty when no trace is
// recording.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// GetSpanID returns the active span ID, empty when no span is recording.
func GetSpanID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.SpanID().String()
}
