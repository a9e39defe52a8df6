// Package tracing sets up the process tracer provider.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config configures span export.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP gRPC collector address. Tracing is disabled when
	// it is empty.
	Endpoint string
	Insecure bool

	// SampleRatio is the fraction of traces recorded, 1 when zero.
	SampleRatio float64
}

// Setup returns the tracer provider described by cfg and a shutdown func
// that flushes pending spans. With no endpoint it returns a no-op provider.
func Setup(ctx context.Context, cfg Config) (trace.TracerProvider, func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(newResource(cfg)),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return provider, provider.Shutdown, nil
}

func newResource(cfg Config) *resource.Resource {
	name := cfg.ServiceName
	if name == "" {
		name = "wafflegram"
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceName(name),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return resource.Default()
	}
	return res
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio == 0 || ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio < 0:
		return sdktrace.NeverSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
