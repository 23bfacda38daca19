package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

var (
	//nolint:gochecknoglobals // Global logger is intentional for application-wide logging
	defaultLogger *slog.Logger
	//nolint:gochecknoglobals // Global initOnce is intentional for thread-safe initialization
	initOnce sync.Once
	//nolint:gochecknoglobals // Global addSource is intentional for configuration
	addSource bool
)

// traceHandler decorates records with the active span's trace and span ids.
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if spanCtx.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
		if spanCtx.IsSampled() {
			r.AddAttrs(slog.Bool("trace_sampled", true))
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

// InitLogger initializes the global logger writing to stdout.
// Only the first call takes effect.
func InitLogger(level, format string, enableSource bool) {
	initOnce.Do(func() {
		defaultLogger = newLogger(os.Stdout, level, format, enableSource)
		addSource = enableSource
		slog.SetDefault(defaultLogger)
	})
}

func newLogger(w io.Writer, level, format string, enableSource bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: enableSource,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		opts.ReplaceAttr = func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{Key: "timestamp", Value: a.Value}
			}
			return a
		}
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(&traceHandler{Handler: handler})
}

// Logger returns the global logger, or slog's default before InitLogger runs.
// Libraries that take a *slog.Logger (supervisor hooks, pub/sub adapters)
// get it from here.
func Logger() *slog.Logger {
	if defaultLogger == nil {
		return slog.Default()
	}
	return defaultLogger
}

func DebugContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	log(ctx, slog.LevelDebug, msg, attrs...)
}

func InfoContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	log(ctx, slog.LevelInfo, msg, attrs...)
}

func WarnContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	log(ctx, slog.LevelWarn, msg, attrs...)
}

func ErrorContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	log(ctx, slog.LevelError, msg, attrs...)
}

func log(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	if defaultLogger == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !addSource {
		//nolint:sloglint // Using global logger is intentional for this package API
		defaultLogger.LogAttrs(ctx, level, msg, attrs...)
		return
	}

	handler := defaultLogger.Handler()
	if !handler.Enabled(ctx, level) {
		return
	}

	// Skip runtime.Callers, log and the exported helper.
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.AddAttrs(attrs...)
	_ = handler.Handle(ctx, r)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
