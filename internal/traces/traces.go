// Package traces wires OpenTelemetry tracing for the settlement engine. Every
// host invocation gets a span; payment and escrow paths add their own
// attributes on top.
package traces

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/zapspay/settlement"

// Config selects the exporter. An empty Endpoint leaves the global no-op
// provider in place.
type Config struct {
	Endpoint    string
	ServiceName string
	Version     string
}

// Init installs the OTLP/gRPC tracer provider and returns its shutdown func.
func Init(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		logger.Info("tracing disabled (no OTEL_EXPORTER_OTLP_ENDPOINT set)")
		return func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "zaps-settlement"
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", cfg.Endpoint, "service", cfg.ServiceName, "version", cfg.Version)
	return tp.Shutdown, nil
}

// StartSpan starts a span on the global provider.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError marks span failed when err is non-nil.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Finish records err and ends span.
func Finish(span trace.Span, err error) {
	RecordError(span, err)
	span.End()
}

func Invocation(id string) attribute.KeyValue {
	return attribute.String("zaps.invocation", id)
}

func Outcome(outcome string) attribute.KeyValue {
	return attribute.String("zaps.outcome", outcome)
}

func Merchant(id string) attribute.KeyValue {
	return attribute.String("zaps.merchant.id", id)
}

func Asset(asset string) attribute.KeyValue {
	return attribute.String("zaps.asset", asset)
}

func Amount(amount string) attribute.KeyValue {
	return attribute.String("zaps.amount", amount)
}

func PaymentPath(path string) attribute.KeyValue {
	return attribute.String("zaps.payment.path", path)
}
