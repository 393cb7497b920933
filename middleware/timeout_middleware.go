package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dcvext/message"
)

// ErrTimeout is returned when a request does not complete in time. The
// request itself stays pending on the session.
var ErrTimeout = errors.New("request timed out")

type result struct {
	resp *message.Response
	err  error
}

func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan result, 1)
			go func() {
				resp, err := next(ctx, req)
				done <- result{resp, err}
			}()

			select {
			case r := <-done:
				if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
					return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, req.Kind, timeout)
				}
				return r.resp, r.err
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, req.Kind, timeout)
				}
				return nil, ctx.Err()
			}
		}
	}
}
