// Package client is the extension side of the DCV extension protocol.
//
// A Processor offers one method per request kind. The ...Async forms send the
// request and return a Future immediately; the blocking forms go through the
// configured middleware chain and wait for the response. Events from the
// host are delivered to subscriptions, and the latest streaming views seen
// on the session are kept as a snapshot.
package client

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"dcvext/codec"
	"dcvext/message"
	"dcvext/middleware"
	"dcvext/transport"
)

// ErrChannelClosed is returned while waiting for a virtual channel that the
// host closed before it became ready.
var ErrChannelClosed = transport.ErrChannelClosed

// Option configures a Processor.
type Option func(*Processor)

func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

func WithIDGenerator(g IDGenerator) Option {
	return func(p *Processor) { p.ids = g }
}

func WithCodec(c codec.Codec) Option {
	return func(p *Processor) { p.codec = c }
}

func WithCorrelation(c transport.Correlation) Option {
	return func(p *Processor) { p.dispatcherOpts = append(p.dispatcherOpts, transport.WithCorrelation(c)) }
}

func WithMaxFrameSize(n uint32) Option {
	return func(p *Processor) { p.dispatcherOpts = append(p.dispatcherOpts, transport.WithMaxFrameSize(n)) }
}

func WithViolationHandler(fn func(error)) Option {
	return func(p *Processor) { p.dispatcherOpts = append(p.dispatcherOpts, transport.WithViolationHandler(fn)) }
}

func WithCloseTimeout(timeout time.Duration) Option {
	return func(p *Processor) { p.dispatcherOpts = append(p.dispatcherOpts, transport.WithCloseTimeout(timeout)) }
}

// WithMiddleware wraps the blocking request methods. The Async methods
// bypass middleware.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(p *Processor) { p.middlewares = append(p.middlewares, mws...) }
}

// WithEventBuffer sets the default buffer of subscriptions.
func WithEventBuffer(n int) Option {
	return func(p *Processor) { p.eventBuffer = n }
}

// Processor issues requests to the DCV host and tracks their responses.
type Processor struct {
	d       *transport.Dispatcher
	w       *transport.Writer
	ids     IDGenerator
	codec   codec.Codec
	logger  *slog.Logger
	handler middleware.HandlerFunc

	dispatcherOpts []transport.Option
	middlewares    []middleware.Middleware
	eventBuffer    int

	mu       sync.RWMutex
	views    message.StreamingViews
	hasViews bool
}

// New starts a session that reads host messages from in and writes requests
// to out. For an extension these are os.Stdin and os.Stdout.
func New(in io.Reader, out io.Writer, opts ...Option) *Processor {
	p := &Processor{
		ids:         &CounterIDs{},
		codec:       codec.Default(),
		logger:      slog.Default(),
		eventBuffer: 16,
	}
	for _, opt := range opts {
		opt(p)
	}

	dopts := append([]transport.Option{
		transport.WithCodec(p.codec),
		transport.WithLogger(p.logger),
		transport.WithObserver(p),
	}, p.dispatcherOpts...)
	p.d = transport.NewDispatcher(in, dopts...)
	p.w = transport.NewWriter(out, p.codec)
	p.logger = p.logger.With("component", "processor")
	p.handler = middleware.Chain(p.middlewares...)(p.roundTrip)
	return p
}

// start assigns a fresh id to a copy of req, registers it and writes it.
// The pending call is registered BEFORE writing so the response cannot
// arrive first.
func (p *Processor) start(req *message.Request) *transport.Call {
	r := *req
	r.ID = p.ids.Next()

	call, err := p.d.Register(r.ID, r.Kind)
	if err != nil {
		return failedCall(&r, err)
	}
	if err := p.w.Send(&r); err != nil {
		p.d.Forget(call, err)
		return call
	}
	p.logger.Debug("request sent", "id", r.ID, "kind", r.Kind)
	return call
}

// roundTrip is the innermost handler of the middleware chain.
func (p *Processor) roundTrip(ctx context.Context, req *message.Request) (*message.Response, error) {
	return p.start(req).Wait(ctx)
}

func do[T any](ctx context.Context, p *Processor, req *message.Request, extract func(*message.Response) T) (T, error) {
	resp, err := p.handler(ctx, req)
	if err != nil {
		var zero T
		return zero, err
	}
	return extract(resp), nil
}

// GetManifestAsync asks for the path of the extension's manifest.
func (p *Processor) GetManifestAsync() *Future[string] {
	return newFuture(p.start(&message.Request{Kind: message.GetManifest}), manifestPath)
}

func (p *Processor) GetManifest(ctx context.Context) (string, error) {
	return do(ctx, p, &message.Request{Kind: message.GetManifest}, manifestPath)
}

// GetDcvInfoAsync asks whether the extension runs next to a DCV server or
// client.
func (p *Processor) GetDcvInfoAsync() *Future[message.DcvInfo] {
	return newFuture(p.start(&message.Request{Kind: message.GetDcvInfo}), dcvInfo)
}

func (p *Processor) GetDcvInfo(ctx context.Context) (message.DcvInfo, error) {
	return do(ctx, p, &message.Request{Kind: message.GetDcvInfo}, dcvInfo)
}

// CloseVirtualChannelAsync asks the host to tear down the named channel. The
// future yields the name the host confirmed.
func (p *Processor) CloseVirtualChannelAsync(name string) *Future[string] {
	req := &message.Request{Kind: message.CloseVirtualChannel, VirtualChannelName: name}
	return newFuture(p.start(req), channelName)
}

func (p *Processor) CloseVirtualChannel(ctx context.Context, name string) (string, error) {
	req := &message.Request{Kind: message.CloseVirtualChannel, VirtualChannelName: name}
	return do(ctx, p, req, channelName)
}

// SetCursorPointAsync moves the remote cursor to pt.
func (p *Processor) SetCursorPointAsync(pt message.Point) *Future[struct{}] {
	return newFuture(p.start(&message.Request{Kind: message.SetCursorPoint, Point: pt}), nothing)
}

func (p *Processor) SetCursorPoint(ctx context.Context, pt message.Point) error {
	_, err := do(ctx, p, &message.Request{Kind: message.SetCursorPoint, Point: pt}, nothing)
	return err
}

// GetStreamingViewsAsync asks for the current streaming views. A successful
// answer also replaces the snapshot returned by StreamingViews.
func (p *Processor) GetStreamingViewsAsync() *Future[message.StreamingViews] {
	return newFuture(p.start(&message.Request{Kind: message.GetStreamingViews}), streamingViews)
}

func (p *Processor) GetStreamingViews(ctx context.Context) (message.StreamingViews, error) {
	return do(ctx, p, &message.Request{Kind: message.GetStreamingViews}, streamingViews)
}

// IsPointInsideStreamingViewsAsync asks which streaming view contains pt.
// The result is negative when pt is outside every view.
func (p *Processor) IsPointInsideStreamingViewsAsync(pt message.Point) *Future[int32] {
	req := &message.Request{Kind: message.IsPointInsideStreamingViews, Point: pt}
	return newFuture(p.start(req), viewID)
}

func (p *Processor) IsPointInsideStreamingViews(ctx context.Context, pt message.Point) (int32, error) {
	req := &message.Request{Kind: message.IsPointInsideStreamingViews, Point: pt}
	return do(ctx, p, req, viewID)
}

// StreamingViews returns the latest streaming views received on the session,
// from either a GetStreamingViews response or a StreamingViewsChanged event.
// ok is false until one has arrived.
func (p *Processor) StreamingViews() (views message.StreamingViews, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.views.Clone(), p.hasViews
}

// ObserveResponse implements transport.Observer.
func (p *Processor) ObserveResponse(resp *message.Response) {
	if resp.Kind == message.GetStreamingViews {
		p.setViews(resp.StreamingViews)
	}
}

// ObserveEvent implements transport.Observer.
func (p *Processor) ObserveEvent(ev *message.Event) {
	if ev.Kind == message.EventStreamingViewsChanged {
		p.setViews(ev.StreamingViews)
	}
}

func (p *Processor) setViews(views message.StreamingViews) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.views = views.Clone()
	p.hasViews = true
}

// Subscribe returns a subscription to host events. A buffer of zero or less
// uses the configured default.
func (p *Processor) Subscribe(buffer int) *transport.Subscription {
	if buffer <= 0 {
		buffer = p.eventBuffer
	}
	return p.d.Subscribe(buffer)
}

// Pending returns the number of requests waiting for a response.
func (p *Processor) Pending() int {
	return p.d.Pending()
}

// Done is closed when the session has ended.
func (p *Processor) Done() <-chan struct{} {
	return p.d.Done()
}

// Err returns why the session ended, or nil while it runs.
func (p *Processor) Err() error {
	return p.d.Err()
}

// Close ends the session. Pending requests fail with
// protocol.ErrTransportClosed. Close is idempotent.
func (p *Processor) Close() error {
	return p.d.Close()
}
