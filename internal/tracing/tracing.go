// Package tracing sets up the OTel tracer provider used to emit one span
// per agentic-loop iteration and per tool dispatch, per spec.md §9's
// observability carry-over. Grounded on
// with-shrey-modular-monolith-template-golang's pkg/telemetry/telemetry.go
// Setup function, trimmed to the trace half only (this runtime exposes
// metrics through internal/metrics/prometheus client_golang directly
// rather than the OTel metrics bridge, which go.mod does not carry).
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Shutdown flushes and stops the tracer provider.
type Shutdown func(context.Context) error

// Setup installs a global TracerProvider. When otlpEndpoint is empty, spans
// are recorded in-process but never exported — exercising the same span
// API in every environment without requiring a collector for local runs.
func Setup(ctx context.Context, serviceName, serviceVersion, otlpEndpoint string) (Shutdown, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: building resource: %w", err)
	}

	var opts []sdktrace.TracerProviderOption
	opts = append(opts, sdktrace.WithResource(res))
	if otlpEndpoint != "" {
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(otlpEndpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("tracing: building otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns the named tracer callers should use to start spans —
// internal/agent uses "agentrtd/agent" for both its iteration and its
// tool-call spans.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
