package http

import (
	"context"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

// requestCarrier adapts a resty request to propagation.TextMapCarrier.
type requestCarrier struct {
	r *resty.Request
}

func (c requestCarrier) Get(key string) string {
	return c.r.Header.Get(key)
}

func (c requestCarrier) Set(key, value string) {
	c.r.SetHeader(key, value)
}

func (c requestCarrier) Keys() []string {
	keys := make([]string, 0, len(c.r.Header))
	for k := range c.r.Header {
		keys = append(keys, k)
	}
	return keys
}

func injectTracingHeaders(ctx context.Context, r *resty.Request) {
	otel.GetTextMapPropagator().Inject(ctx, requestCarrier{r: r})
}
