package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"dcvext/message"
)

// Retryable reports whether a failed request may succeed when sent again.
// A host refusal or a timeout may be transient; a closed session or a
// protocol violation is not.
func Retryable(err error) bool {
	var failed *message.RequestFailedError
	return errors.As(err, &failed) || errors.Is(err, ErrTimeout)
}

// RetryMiddleware resends a failed request up to maxRetries times with
// exponential backoff. Each attempt is a new request with a new id.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			resp, err := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if err == nil || !Retryable(err) {
					return resp, err
				}
				logger.InfoContext(ctx, "retrying request", "kind", req.Kind, "attempt", i+1, "error", err)

				timer := time.NewTimer(baseDelay * time.Duration(1<<i)) // Exponential backoff
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil, ctx.Err()
				case <-timer.C:
				}
				resp, err = next(ctx, req)
			}
			return resp, err
		}
	}
}
