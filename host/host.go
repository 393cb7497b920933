// Package host plays the DCV side of the extension protocol.
//
// Request processing pipeline:
//
//	Serve → read loop (one goroutine reads frames)
//	  → for each request: go handleRequest
//	    → Codec.Decode → Middleware Chain → kind handler → Codec.Encode → Writer.Send
//
// Events are written with Emit at any time, on the same Writer as responses,
// so frames never interleave.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"dcvext/codec"
	"dcvext/message"
	"dcvext/middleware"
	"dcvext/protocol"
	"dcvext/transport"
)

// ErrNoReply tells Serve not to answer a request. Tests use it to model a
// host that never responds.
var ErrNoReply = errors.New("no reply")

// ErrNotServing is returned by Emit before Serve has started.
var ErrNotServing = errors.New("host is not serving")

// Option configures a Host.
type Option func(*Host)

func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.logger = l }
}

func WithCodec(c codec.Codec) Option {
	return func(h *Host) { h.codec = c }
}

func WithMaxFrameSize(n uint32) Option {
	return func(h *Host) { h.maxFrameSize = n }
}

// WithSequential answers requests one at a time in arrival order instead of
// one goroutine per request.
func WithSequential() Option {
	return func(h *Host) { h.sequential = true }
}

// Host serves one extension session.
type Host struct {
	handlers     map[message.RequestKind]middleware.HandlerFunc
	middlewares  []middleware.Middleware
	handler      middleware.HandlerFunc // middleware(middleware(...(dispatch)))
	codec        codec.Codec
	logger       *slog.Logger
	maxFrameSize uint32
	sequential   bool

	mu       sync.Mutex // guards w, in, and wg.Add against shutdown
	w        *transport.Writer
	in       io.Reader
	wg       sync.WaitGroup // in-flight requests
	shutdown atomic.Bool
}

// New creates a Host with no handlers. Unhandled kinds are answered with an
// error status.
func New(opts ...Option) *Host {
	h := &Host{
		handlers: make(map[message.RequestKind]middleware.HandlerFunc),
		codec:    codec.Default(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "host")
	return h
}

// Handle registers fn for requests of the given kind, replacing any previous
// handler.
func (h *Host) Handle(kind message.RequestKind, fn middleware.HandlerFunc) {
	h.handlers[kind] = fn
}

// Use registers a middleware. Middlewares are applied in the order they are
// added.
func (h *Host) Use(mw middleware.Middleware) {
	h.middlewares = append(h.middlewares, mw)
}

// Serve reads requests from r and writes responses to w until r ends, ctx is
// done or Shutdown is called. A clean end of stream returns nil.
func (h *Host) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	h.handler = middleware.Chain(h.middlewares...)(h.dispatch)

	h.mu.Lock()
	h.w = transport.NewWriter(w, h.codec)
	h.in = r
	h.mu.Unlock()

	stop := context.AfterFunc(ctx, h.stop)
	defer stop()

	var opts []protocol.ReaderOption
	if h.maxFrameSize > 0 {
		opts = append(opts, protocol.WithMaxFrameSize(h.maxFrameSize))
	}
	reader := protocol.NewReader(r, opts...)

	for {
		payload, err := reader.ReadFrame()
		if err != nil {
			if h.shutdown.Load() || errors.Is(err, protocol.ErrTransportClosed) {
				return nil
			}
			return err
		}

		var req message.Request
		if err := h.codec.Decode(payload, &req); err != nil {
			h.logger.Warn("dropping undecodable request", "error", err, "bytes", len(payload))
			continue
		}

		// Add and the shutdown flag change under mu, so no Add can overlap
		// the Wait in Shutdown.
		h.mu.Lock()
		if h.shutdown.Load() {
			h.mu.Unlock()
			h.logger.Debug("dropping request received after shutdown", "id", req.ID, "kind", req.Kind)
			return nil
		}
		h.wg.Add(1)
		h.mu.Unlock()

		if h.sequential {
			h.handleRequest(ctx, &req)
		} else {
			go h.handleRequest(ctx, &req)
		}
	}
}

// handleRequest runs one request through the chain and writes its response.
func (h *Host) handleRequest(ctx context.Context, req *message.Request) {
	defer h.wg.Done()

	resp, err := h.handler(ctx, req)
	if errors.Is(err, ErrNoReply) {
		h.logger.Debug("withholding response", "id", req.ID, "kind", req.Kind)
		return
	}
	if err != nil {
		h.logger.Warn("request failed", "id", req.ID, "kind", req.Kind, "error", err)
		// The body is empty but keeps the kind, so a by-kind extension can
		// still match it.
		resp = &message.Response{Status: message.StatusError, Kind: req.Kind}
	}
	resp.RequestID = req.ID

	if err := h.send(message.ResponseEnvelope(resp)); err != nil {
		h.logger.Error("failed to write response", "id", req.ID, "kind", req.Kind, "error", err)
	}
}

// dispatch is the innermost handler of the middleware chain.
func (h *Host) dispatch(ctx context.Context, req *message.Request) (*message.Response, error) {
	fn, ok := h.handlers[req.Kind]
	if !ok {
		return nil, fmt.Errorf("no handler for %s", req.Kind)
	}
	resp, err := fn(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &message.Response{Status: message.StatusSuccess}
	}
	if resp.Kind == message.KindUnknown {
		resp.Kind = req.Kind
	}
	return resp, nil
}

// Emit writes an unsolicited event to the extension.
func (h *Host) Emit(ev *message.Event) error {
	return h.send(message.EventEnvelope(ev))
}

func (h *Host) send(env *message.Envelope) error {
	h.mu.Lock()
	w := h.w
	h.mu.Unlock()
	if w == nil {
		return ErrNotServing
	}
	return w.Send(env)
}

// stop marks the host as shutting down and unblocks the read loop.
func (h *Host) stop() {
	h.mu.Lock()
	h.shutdown.Store(true)
	h.mu.Unlock()
	h.closeInput()
}

func (h *Host) closeInput() {
	h.mu.Lock()
	in := h.in
	h.mu.Unlock()
	if c, ok := in.(io.Closer); ok {
		c.Close()
	}
}

// Shutdown performs graceful shutdown:
//  1. Set the shutdown flag so the read error is recognized as intentional.
//  2. Close the input if it can be closed.
//  3. Wait for in-flight requests to finish (with timeout).
func (h *Host) Shutdown(timeout time.Duration) error {
	h.stop()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}
