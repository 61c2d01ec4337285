// Package telemetry provides OpenTelemetry tracing for the search engine.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for every span
const TracerName = "github.com/dshills/codesearch"

// TracingConfig configures the OpenTelemetry tracing.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, tracing is disabled.
	OTLPEndpoint string

	// SampleRate is the trace sampling rate (0.0 to 1.0)
	SampleRate float64
}

// DefaultTracingConfig returns a default tracing configuration.
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "codesearch",
		ServiceVersion: "0.1.0",
		SampleRate:     1.0,
	}
}

// TracerProvider wraps the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing initializes OpenTelemetry tracing.
// Returns a no-op tracer if OTLPEndpoint is empty.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}

	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{
			tracer: otel.Tracer(TracerName),
		}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(TracerName),
	}, nil
}

// Shutdown flushes pending spans and stops the exporter.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the underlying tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// StartSearchSpan starts a span covering one query end to end
func StartSearchSpan(ctx context.Context, limit int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "search",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.Int("search.limit", limit)),
	)
}

// StartEmbedSpan starts a span around an embedder call
func StartEmbedSpan(ctx context.Context, provider, model string, texts int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "embed",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("embed.provider", provider),
			attribute.String("embed.model", model),
			attribute.Int("embed.texts", texts),
		),
	)
}

// StartIndexSearchSpan starts a span around a nearest-neighbor lookup
func StartIndexSearchSpan(ctx context.Context, indexType string, generation uint64, k int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "index.search",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("index.type", indexType),
			attribute.Int64("index.generation", int64(generation)),
			attribute.Int("index.k", k),
		),
	)
}

// StartBuildSpan starts a span around an index build
func StartBuildSpan(ctx context.Context, generation uint64, roots []string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "index.build",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int64("index.generation", int64(generation)),
			attribute.StringSlice("index.roots", roots),
		),
	)
}

// RecordSearchResult annotates a search span with its outcome
func RecordSearchResult(span trace.Span, results int, cacheHit bool, generation uint64) {
	span.SetAttributes(
		attribute.Int("search.results", results),
		attribute.Bool("search.cache_hit", cacheHit),
		attribute.Int64("index.generation", int64(generation)),
	)
}

// RecordBuildResult annotates a build span with corpus size
func RecordBuildResult(span trace.Span, files, units int) {
	span.SetAttributes(
		attribute.Int("build.files", files),
		attribute.Int("build.units", units),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
