// Package middleware wraps request handlers: the blocking request path of a
// client.Processor and the per-kind handlers of a host.
//
// A HandlerFunc turns one request into its response. Middlewares
// compose in onion order: Chain(a, b)(h) runs a, then b, then h.
package middleware

import (
	"context"

	"dcvext/message"
)

type HandlerFunc func(ctx context.Context, req *message.Request) (*message.Response, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one. The first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
