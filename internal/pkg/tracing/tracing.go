// Package tracing provides OpenTelemetry distributed tracing for the
// analytics backend. Tracing is disabled when no OTLP endpoint is
// configured; all helpers degrade to no-ops.
package tracing

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "fraudlens-backend"

var tracer trace.Tracer = otel.Tracer(tracerName)

// Init configures the global tracer provider against an OTLP endpoint.
// An empty endpoint disables tracing. Returns a shutdown function.
func Init(serviceName, endpoint string, samplingRate float64) (func(), error) {
	if endpoint == "" {
		return func() {}, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	var exp sdktrace.SpanExporter
	if isGRPC(endpoint) {
		exp, err = otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
	} else {
		exp, err = otlptracehttp.New(context.Background(),
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case samplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case samplingRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(samplingRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	tracer = tp.Tracer(tracerName)

	return func() { _ = tp.Shutdown(context.Background()) }, nil
}

// StartRunSpan opens a span for one detection run phase (fetch, detect,
// persist) tagged with the detector and run identifiers.
func StartRunSpan(ctx context.Context, phase, detectorID, runID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "detection."+phase,
		trace.WithAttributes(
			attribute.String("detector.id", detectorID),
			attribute.String("run.id", runID),
		),
	)
}

// TraceIDFromContext returns the current trace ID, or empty string when no
// span is recording.
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// isGRPC guesses the exporter protocol from the endpoint: the conventional
// OTLP gRPC port is 4317, HTTP 4318.
func isGRPC(endpoint string) bool {
	return strings.HasSuffix(endpoint, ":4317")
}
