// Package telemetry wires OpenTelemetry tracing for normalization runs.
// Spans are exported over OTLP gRPC; when Init is never called every
// Tracer handed out is the no-op tracer, so callers never guard for it.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config configures the OTLP trace exporter.
type Config struct {
	// Endpoint is the OTLP gRPC collector address.
	Endpoint string

	// ServiceName and ServiceVersion identify this binary in traces.
	ServiceName    string
	ServiceVersion string

	// Environment tags spans with the deployment environment.
	Environment string

	// Insecure disables TLS toward the collector. Local collectors only.
	Insecure bool

	// SampleRatio is the fraction of traces kept, 0 to 1.
	SampleRatio float64
}

// DefaultConfig returns the local-collector defaults.
func DefaultConfig(service string) Config {
	return Config{
		Endpoint:    "localhost:4317",
		ServiceName: service,
		Environment: "development",
		Insecure:    true,
		SampleRatio: 1.0,
	}
}

// Init installs a global tracer provider exporting to cfg.Endpoint and
// returns a shutdown function that flushes pending spans.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRatio >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRatio <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRatio)
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

	return provider.Shutdown, nil
}

// Tracer returns a named tracer from the installed provider. Before Init
// (or when telemetry is disabled) this is the no-op tracer.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
