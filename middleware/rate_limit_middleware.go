package middleware

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"dcvext/message"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitMiddleware rejects requests beyond r per second with a token
// bucket of size burst.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			if !limiter.Allow() {
				return nil, fmt.Errorf("%w: %s", ErrRateLimited, req.Kind)
			}
			return next(ctx, req)
		}
	}
}

// ThrottleMiddleware delays requests instead of rejecting them, so a polling
// loop never sends more than r requests per second.
func ThrottleMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrRateLimited, req.Kind, err)
			}
			return next(ctx, req)
		}
	}
}
