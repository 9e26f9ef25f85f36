// Package tracing wires an OpenTelemetry TracerProvider exporting over
// OTLP/HTTP, and provides the span helpers used around Agent Executor
// spawns and Task Queue dispatch.
package tracing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/agentsvc/agentsvcd"

// Config controls TracerProvider construction.
type Config struct {
	ServiceName   string
	Version       string
	OTLPEndpoint  string
	Enabled       bool
	SamplingRatio float64
}

// Provider wraps the process's TracerProvider. A nil *Provider is
// valid: Shutdown and the span helpers all tolerate it, so tracing can be
// entirely disabled without special-casing callers.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// New constructs and installs the global TracerProvider. If cfg.Enabled
// is false, New returns nil without error.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(
		otlptracehttp.WithEndpoint(stripProtocol(cfg.OTLPEndpoint)),
		otlptracehttp.WithInsecure(),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.Version),
		),
		resource.WithProcess(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	sampler := samplerFor(cfg.SamplingRatio)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{tp: tp, tracer: tp.Tracer(tracerName)}, nil
}

func samplerFor(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1.0:
		return sdktrace.AlwaysSample()
	case ratio <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(ratio)
	}
}

// Shutdown flushes and stops the provider, tolerating a nil Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.tp.Shutdown(shutdownCtx)
}

// StartExecutorSpan opens a span around one Agent Executor spawn.
func (p *Provider) StartExecutorSpan(ctx context.Context, model string) (context.Context, trace.Span) {
	if p == nil || p.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.tracer.Start(ctx, "executor.execute", trace.WithAttributes(
		attribute.String("agentsvcd.model", model),
	))
}

// StartTaskSpan opens a span around one Task Queue dispatch.
func (p *Provider) StartTaskSpan(ctx context.Context, taskID string, priority int) (context.Context, trace.Span) {
	if p == nil || p.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.tracer.Start(ctx, "taskqueue.dispatch", trace.WithAttributes(
		attribute.String("agentsvcd.task_id", taskID),
		attribute.Int("agentsvcd.priority", priority),
	))
}

func stripProtocol(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return endpoint
}
