package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerPrefix = "github.com/patrickwarner/adrotator/"

// TracingOptions configures the OTLP exporter.
type TracingOptions struct {
	ServiceName string
	Endpoint    string
	SampleRate  float64
	Version     string
}

// InitTracing installs a global tracer provider exporting over OTLP gRPC.
// The returned func flushes pending spans and must run before exit.
func InitTracing(ctx context.Context, logger *zap.Logger, opts TracingOptions) (func(), error) {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	res := resource.NewWithAttributes(
		"", // no schema URL; avoids merge conflicts with the default resource
		semconv.ServiceName(opts.ServiceName),
		semconv.ServiceVersion(opts.Version),
		attribute.String("component", "ad-rotation"),
	)

	exporter, err := otlptrace.New(ctx,
		otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(opts.Endpoint),
			otlptracegrpc.WithInsecure(),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(opts.SampleRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("Tracing initialized",
		zap.String("endpoint", opts.Endpoint),
		zap.Float64("sample_rate", opts.SampleRate),
	)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}, nil
}

// samplerFor honours an upstream sampling decision carried by traceparent
// and applies rate only to root spans.
func samplerFor(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate >= 1.0:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

// Tracer returns a tracer for the given component name. Until InitTracing
// runs, the global provider is a no-op so spans cost nothing.
func Tracer(componentName string) trace.Tracer {
	return otel.Tracer(tracerPrefix + componentName)
}
