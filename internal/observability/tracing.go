package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TraceConfig configures OTLP tracing. An empty endpoint disables export
// and yields a no-op tracer.
type TraceConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Endpoint is the OTLP gRPC collector, e.g. "localhost:4317".
	Endpoint string

	// SamplingRate in [0,1]; defaults to 1.
	SamplingRate float64

	// Insecure disables TLS for dev collectors.
	Insecure bool
}

// Tracer wraps the configured OpenTelemetry tracer.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewTracer builds the tracer and returns a shutdown func that flushes
// pending spans.
func NewTracer(ctx context.Context, cfg TraceConfig) (*Tracer, func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("bantz")},
			func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("otlp exporter: %w", err)
	}

	rate := cfg.SamplingRate
	if rate <= 0 || rate > 1 {
		rate = 1
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return &Tracer{tracer: provider.Tracer("bantz"), provider: provider},
		provider.Shutdown, nil
}

// StartTurn opens the root span for one turn.
func (t *Tracer) StartTurn(ctx context.Context, turnID string, turnNumber int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "turn",
		trace.WithAttributes(
			attribute.String("turn.id", turnID),
			attribute.Int("turn.number", turnNumber),
		))
}

// StartPhase opens a child span for one orchestrator phase.
func (t *Tracer) StartPhase(ctx context.Context, phase string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "phase."+phase)
}

// StartTool opens a child span for one tool call.
func (t *Tracer) StartTool(ctx context.Context, tool string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "tool.execute",
		trace.WithAttributes(attribute.String("tool.name", tool)))
}
