package rpc

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"connectrpc.com/connect"

	"github.com/cenie/accessd/pkg/logger"
)

func recoveryInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (resp connect.AnyResponse, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "panic recovered",
						slog.Any("panic", r),
						slog.String("method", req.Spec().Procedure),
					)
					resp = nil
					err = connect.NewError(connect.CodeInternal, errors.New("internal error"))
				}
			}()
			return next(ctx, req)
		}
	}
}

func loggingInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			duration := time.Since(start)

			if err != nil {
				logger.WarnContext(ctx, "request failed",
					slog.String("method", req.Spec().Procedure),
					slog.String("code", connect.CodeOf(err).String()),
					slog.Duration("duration", duration),
					slog.String("error", err.Error()),
				)
			} else {
				logger.DebugContext(ctx, "request completed",
					slog.String("method", req.Spec().Procedure),
					slog.Duration("duration", duration),
				)
			}

			return resp, err
		}
	}
}

var errInvalidServiceToken = errors.New("invalid service token")

// serviceTokenInterceptor admits calls whose Authorization header carries
// token as a bearer credential.
func serviceTokenInterceptor(token string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			presented, ok := strings.CutPrefix(req.Header().Get("Authorization"), "Bearer ")
			if !ok || token == "" ||
				subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), []byte(token)) != 1 {
				return nil, connect.NewError(connect.CodeUnauthenticated, errInvalidServiceToken)
			}
			return next(ctx, req)
		}
	}
}
