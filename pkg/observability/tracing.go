// Package observability installs OpenTelemetry tracing for the bridge.
//
// Tracing is opt-in. Until Init runs, the package-level tracer delegates
// to the otel no-op provider, so instrumented paths cost nothing when
// tracing is disabled.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/geobridge/geobridge/pkg/config"
	"github.com/geobridge/geobridge/pkg/errors"
)

const instrumentationName = "github.com/geobridge/geobridge"

var tracer = otel.Tracer(instrumentationName)

// Init installs the global tracer provider from cfg.Tracing and returns
// a shutdown function that flushes buffered spans. When tracing is
// disabled it returns a no-op shutdown and leaves the default provider
// in place.
func Init(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	if !cfg.Tracing.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	name := cfg.Name
	if name == "" {
		name = "geobridge"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(name),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to build trace resource")
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create trace exporter")
	}

	var sampler sdktrace.Sampler
	switch rate := cfg.Tracing.SampleRate; {
	case rate <= 0:
		sampler = sdktrace.NeverSample()
	case rate >= 1:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(rate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// StartUnit opens a span covering one unit of work.
func StartUnit(ctx context.Context, provenance string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "bridge.unit",
		trace.WithAttributes(attribute.String("unit.provenance", provenance)),
	)
}

// EndUnit closes a unit span, recording the outcome and the number of
// records committed before any fault.
func EndUnit(span trace.Span, status string, records int64, err error) {
	span.SetAttributes(
		attribute.String("unit.status", status),
		attribute.Int64("unit.records", records),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
