package middleware

import (
	"context"
	"log/slog"
	"time"

	"dcvext/message"
)

func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			duration := time.Since(start)
			if err != nil {
				logger.WarnContext(ctx, "request failed", "kind", req.Kind, "duration", duration, "error", err)
				return resp, err
			}
			logger.DebugContext(ctx, "request completed", "kind", req.Kind, "id", resp.RequestID, "duration", duration)
			return resp, nil
		}
	}
}
