package server

import (
	"context"
	"crypto/subtle"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"go.uber.org/zap"
)

// APIKeyHeader carries the shared secret on HTTP requests.
const APIKeyHeader = "X-API-Key"

// ApiSecretMiddleware validates the X-API-Key header. An empty secret
// disables authentication. Routes that never call ctx.Middleware (health,
// swagger, metrics) are not covered.
func ApiSecretMiddleware(secret string) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req any) (any, error) {
			if secret == "" {
				return handler(ctx, req)
			}

			tr, ok := transport.FromServerContext(ctx)
			if !ok {
				return nil, errors.InternalServer("NO_TRANSPORT", "no transport in context")
			}

			key := tr.RequestHeader().Get(APIKeyHeader)
			if key == "" {
				return nil, errors.Unauthorized("MISSING_API_KEY", "missing X-API-Key header")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(secret)) != 1 {
				return nil, errors.Unauthorized("INVALID_API_KEY", "invalid X-API-Key")
			}

			return handler(ctx, req)
		}
	}
}

// LoggingMiddleware logs every operation that fails.
func LoggingMiddleware(log *zap.Logger) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req any) (any, error) {
			reply, err := handler(ctx, req)
			if err != nil {
				op := ""
				if tr, ok := transport.FromServerContext(ctx); ok {
					op = tr.Operation()
				}
				se := errors.FromError(err)
				if se.Code >= 500 {
					log.Error("request failed", zap.String("operation", op), zap.Error(err))
				} else {
					log.Debug("request rejected", zap.String("operation", op), zap.String("reason", se.Reason))
				}
			}
			return reply, err
		}
	}
}
