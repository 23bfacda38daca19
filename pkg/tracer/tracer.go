// Package tracer holds the service-wide tracer. Start works before
// InitTracer and then produces non-recording spans.
package tracer

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/cenie/accessd/pkg/otel"
)

var (
	//nolint:gochecknoglobals // Global tracer is intentional for application-wide spans
	defaultTracer trace.Tracer
	//nolint:gochecknoglobals // Global once is intentional for thread-safe initialization
	initOnce sync.Once
	errInit  error
	//nolint:gochecknoglobals // Fallback used before initialization
	fallback = noop.NewTracerProvider().Tracer("noop")
)

func InitTracer(serviceName string, cfg otel.Config) error {
	initOnce.Do(func() {
		cfg.ServiceName = serviceName
		t, err := otel.InitTracer(cfg)
		if err != nil {
			errInit = err
			return
		}
		defaultTracer = t
	})
	return errInit
}

func Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if defaultTracer == nil {
		return fallback.Start(ctx, spanName, opts...)
	}
	return defaultTracer.Start(ctx, spanName, opts...)
}
