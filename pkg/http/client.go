// Package http is the shared outbound HTTP client. Every request gets a
// client span and carries the caller's trace context.
package http

import (
	"context"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cenie/accessd/pkg/tracer"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultRetry   = 2
)

var (
	//nolint:gochecknoglobals // Global HTTP client is intentional for application-wide requests
	client *resty.Client
	//nolint:gochecknoglobals // Global once is intentional for thread-safe initialization
	once sync.Once
)

func getClient() *resty.Client {
	once.Do(func() {
		client = resty.New().
			SetTimeout(DefaultTimeout).
			SetRetryCount(DefaultRetry).
			SetRetryWaitTime(100 * time.Millisecond).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json").
			SetJSONMarshaler(json.Marshal).
			SetJSONUnmarshaler(json.Unmarshal)
	})
	return client
}

// Client returns the shared HTTP client instance.
func Client() *resty.Client {
	return getClient()
}

// Configure overrides the shared client's timeout and retry count.
func Configure(timeout time.Duration, retries int) {
	c := getClient()
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	if retries >= 0 {
		c.SetRetryCount(retries)
	}
}

type RequestOption func(*resty.Request)

func WithBody(body any) RequestOption {
	return func(r *resty.Request) {
		r.SetBody(body)
	}
}

func WithQueryParam(key, value string) RequestOption {
	return func(r *resty.Request) {
		if value != "" {
			r.SetQueryParam(key, value)
		}
	}
}

func Request(ctx context.Context, method, url string, opts ...RequestOption) (*resty.Response, error) {
	ctx, span := startClientSpan(ctx, method, url)
	defer span.End()

	request := getClient().R().SetContext(ctx)
	for _, opt := range opts {
		opt(request)
	}
	injectTracingHeaders(ctx, request)

	resp, err := request.Execute(method, url)
	recordSpan(span, resp, err)
	return resp, err
}

func startClientSpan(ctx context.Context, method, url string) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return tracer.Start(ctx, "HTTP "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", url),
		),
	)
}

func recordSpan(span trace.Span, resp *resty.Response, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	if resp == nil {
		return
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))
	if resp.IsError() {
		span.SetStatus(codes.Error, resp.Status())
		return
	}
	span.SetStatus(codes.Ok, "")
}
