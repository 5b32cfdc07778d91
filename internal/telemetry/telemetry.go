// Package telemetry gives gatekeep an ambient OpenTelemetry home: one span
// per tools/call and a counter of security denials by event type, both
// written to stdout exporters pointed at the diagnostic stream rather than
// a second network listener.
package telemetry

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls whether telemetry is active and where its stdout
// exporters write.
type Config struct {
	// Enabled turns tracing/metrics on. When false, New returns a Provider
	// whose methods are no-ops.
	Enabled bool
	// Writer is the diagnostic stream exporters write JSON to (normally
	// os.Stderr; never os.Stdout, which carries protocol JSON-RPC lines).
	Writer io.Writer
	// ServiceName/ServiceVersion populate the OTel resource attributes.
	ServiceName    string
	ServiceVersion string
}

// Provider owns the tracer and meter providers and the one counter
// instrument gatekeep needs: security denials by event type.
type Provider struct {
	tp            *sdktrace.TracerProvider
	mp            *sdkmetric.MeterProvider
	tracer        trace.Tracer
	denialCounter metric.Int64Counter
}

// New builds a Provider. With cfg.Enabled false it returns a Provider whose
// StartToolCall/RecordDenial are harmless no-ops, the same shape callers
// use regardless of configuration.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: otel.Tracer(cfg.ServiceName)}, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(cfg.Writer))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.Writer))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(cfg.ServiceName)
	denialCounter, err := meter.Int64Counter(
		"gatekeep.security.denials",
		metric.WithDescription("count of tool calls denied by a security control, by event_type"),
	)
	if err != nil {
		return nil, err
	}

	return &Provider{
		tp:            tp,
		mp:            mp,
		tracer:        tp.Tracer(cfg.ServiceName),
		denialCounter: denialCounter,
	}, nil
}

// Shutdown flushes and closes both providers. Safe to call on a disabled
// Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			return err
		}
	}
	if p.mp != nil {
		return p.mp.Shutdown(ctx)
	}
	return nil
}

// StartToolCall opens one span for a tools/call invocation and returns the
// derived context plus a function the caller must invoke with the call's
// outcome to close the span.
func (p *Provider) StartToolCall(ctx context.Context, toolName string) (context.Context, func(isError bool)) {
	ctx, span := p.tracer.Start(ctx, "tools/call",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("tool.name", toolName)),
	)
	return ctx, func(isError bool) {
		if isError {
			span.SetStatus(codes.Error, "tool call failed")
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// RecordDenial increments the security-denial counter for eventType. A
// no-op on a disabled Provider, so callers never need to guard on whether
// telemetry is configured.
func (p *Provider) RecordDenial(ctx context.Context, eventType string) {
	if p.denialCounter == nil {
		return
	}
	p.denialCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}
