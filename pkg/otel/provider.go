package otel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	//nolint:gochecknoglobals // Provider is process-wide and shut down from main
	provider   *sdktrace.TracerProvider
	providerMu sync.Mutex
)

// InitTracer installs the global tracer provider and W3C propagators and
// returns a tracer for the service. Propagation is installed even when
// exporting is off so inbound trace ids still reach the logs.
func InitTracer(cfg Config) (trace.Tracer, error) {
	providerMu.Lock()
	defer providerMu.Unlock()

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.exporting() {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp.Tracer(cfg.ServiceName), nil
	}

	ctx := context.Background()

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(cfg.resourceAttributes()...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)

	provider = tp
	return tp.Tracer(cfg.ServiceName), nil
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		return sdktrace.NeverSample()
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	if endpoint, ok := strings.CutPrefix(cfg.EndpointURL, "grpc://"); ok {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP gRPC exporter: %w", err)
		}
		return exporter, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(cfg.EndpointURL)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP HTTP exporter: %w", err)
	}
	return exporter, nil
}

// Shutdown flushes pending spans. It is a no-op when exporting was off.
func Shutdown(ctx context.Context) error {
	providerMu.Lock()
	defer providerMu.Unlock()

	if provider == nil {
		return nil
	}
	if err := provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}
	provider = nil
	return nil
}
