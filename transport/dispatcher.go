// Package transport correlates host responses with the requests that caused
// them over a single framed duplex stream.
//
// A Dispatcher owns the input side. One background goroutine (recvLoop) reads
// frames, decodes them, and routes each one: responses resolve the pending
// Call they answer, events go to subscribers and to any virtual channel
// waiting to become ready. A Writer owns the output side and serializes
// frames from concurrent callers.
//
//	goroutine-1 ──Register(id=1)+Send──┐
//	goroutine-2 ──Register(id=2)+Send──┼──→ stdout ──→ DCV host
//	goroutine-3 ──Register(id=3)+Send──┘
//
//	recvLoop:  ←── stdin ←── response(id=2) → pending["2"] → goroutine-2 wakes up
//	                     ←── event         → subscriptions, ready signals
package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"dcvext/codec"
	"dcvext/message"
	"dcvext/protocol"
)

var (
	// ErrDuplicateRequestID is returned by Register when the id is already
	// pending.
	ErrDuplicateRequestID = errors.New("duplicate request id")
	// ErrChannelClosed fails a ready signal when the host reports the virtual
	// channel closed before it became ready.
	ErrChannelClosed = errors.New("virtual channel closed before it became ready")
)

// Correlation selects how a response finds its pending call.
type Correlation int

const (
	// CorrelateByRequestID matches a response to the call with the same
	// request id. Any number of calls of one kind may be outstanding.
	CorrelateByRequestID Correlation = iota
	// CorrelateByKind keeps one slot per request kind. Registering a second
	// call of a kind replaces the first, which then never resolves.
	CorrelateByKind
)

func (c Correlation) String() string {
	switch c {
	case CorrelateByRequestID:
		return "request_id"
	case CorrelateByKind:
		return "kind"
	default:
		return fmt.Sprintf("Correlation(%d)", int(c))
	}
}

// ParseCorrelation is the inverse of Correlation.String.
func ParseCorrelation(s string) (Correlation, error) {
	switch s {
	case "", "request_id":
		return CorrelateByRequestID, nil
	case "kind":
		return CorrelateByKind, nil
	default:
		return 0, fmt.Errorf("unknown correlation mode %q", s)
	}
}

// State is the lifecycle of a Dispatcher: Running -> Closing -> Closed.
type State int32

const (
	Running State = iota
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Call is one outstanding request. It resolves exactly once, with the
// host's response or an error.
type Call struct {
	ID   string
	Kind message.RequestKind

	*Future[*message.Response]
}

// Observer sees every successful response and every event before callers
// and subscribers do. It runs on the receive goroutine and must not block or
// call back into the Dispatcher.
type Observer interface {
	ObserveResponse(resp *message.Response)
	ObserveEvent(ev *message.Event)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithCodec(c codec.Codec) Option {
	return func(d *Dispatcher) { d.codec = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

func WithCorrelation(c Correlation) Option {
	return func(d *Dispatcher) { d.correlation = c }
}

// WithMaxFrameSize treats frames longer than n bytes as malformed.
func WithMaxFrameSize(n uint32) Option {
	return func(d *Dispatcher) { d.maxFrameSize = n }
}

// WithViolationHandler receives protocol violations that do not end the
// session, i.e. unsolicited responses. The default logs them.
func WithViolationHandler(fn func(error)) Option {
	return func(d *Dispatcher) { d.onViolation = fn }
}

func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observers = append(d.observers, o) }
}

// WithCloseTimeout bounds how long Close waits for the receive goroutine to
// exit. A read blocked on a stream that cannot be interrupted is abandoned
// after this long.
func WithCloseTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.closeTimeout = timeout }
}

// Dispatcher runs the receive loop over one input stream and owns the table
// of pending calls.
type Dispatcher struct {
	input        io.Reader
	codec        codec.Codec
	logger       *slog.Logger
	correlation  Correlation
	maxFrameSize uint32
	onViolation  func(error)
	observers    []Observer
	closeTimeout time.Duration

	mu      sync.Mutex
	state   State
	err     error                         // why the session ended
	pending map[string]*Call              // by request id
	byKind  map[message.RequestKind]*Call // CorrelateByKind only
	ready   map[string]*Future[struct{}]  // by virtual channel name
	subs    map[*Subscription]struct{}

	done chan struct{} // closed when recvLoop exits
}

// NewDispatcher starts the receive loop on in.
func NewDispatcher(in io.Reader, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		input:        in,
		codec:        codec.Default(),
		logger:       slog.Default(),
		closeTimeout: time.Second,
		pending:      make(map[string]*Call),
		byKind:       make(map[message.RequestKind]*Call),
		ready:        make(map[string]*Future[struct{}]),
		subs:         make(map[*Subscription]struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatcher")
	if d.onViolation == nil {
		d.onViolation = func(err error) {
			d.logger.Error("protocol violation", "error", err)
		}
	}

	reader := protocol.NewReader(in, protocol.WithMaxFrameSize(d.maxFrameSize))
	go d.recvLoop(reader)
	return d
}

// Register adds a pending call. It must happen BEFORE the request is written,
// otherwise a fast host could answer before the call exists.
func (d *Dispatcher) Register(id string, kind message.RequestKind) (*Call, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != Running {
		return nil, d.closedErrLocked()
	}
	if _, dup := d.pending[id]; dup {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateRequestID, id)
	}

	call := &Call{ID: id, Kind: kind, Future: NewFuture[*message.Response]()}
	if d.correlation == CorrelateByKind {
		if prev, ok := d.byKind[kind]; ok {
			// The previous caller is orphaned: its future never resolves.
			delete(d.pending, prev.ID)
			d.logger.Warn("pending call replaced by a newer call of the same kind",
				"kind", kind, "orphaned_id", prev.ID, "id", id)
		}
		d.byKind[kind] = call
	}
	d.pending[id] = call
	return call, nil
}

// Forget removes call from the table and resolves it with err. It is used
// when the request could not be written.
func (d *Dispatcher) Forget(call *Call, err error) {
	d.mu.Lock()
	d.removeLocked(call)
	d.mu.Unlock()
	call.Resolve(nil, err)
}

// Pending returns the number of calls waiting for a response.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// ExpectReady returns the signal resolved by the VirtualChannelReady event for
// name. Like Register, it must be called before the request that provokes the
// event is written. A second call for the same name returns the same signal.
func (d *Dispatcher) ExpectReady(name string) (*Future[struct{}], error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != Running {
		return nil, d.closedErrLocked()
	}
	if sig, ok := d.ready[name]; ok {
		return sig, nil
	}
	sig := NewFuture[struct{}]()
	d.ready[name] = sig
	return sig, nil
}

// CancelReady fails the ready signal for name with err, if one is waiting.
func (d *Dispatcher) CancelReady(name string, err error) {
	d.mu.Lock()
	sig, ok := d.ready[name]
	delete(d.ready, name)
	d.mu.Unlock()
	if ok {
		sig.Resolve(struct{}{}, err)
	}
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Err returns why the session ended, or nil while it is running.
func (d *Dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Done is closed when the receive loop has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Close stops the session. Every pending call and ready signal fails with
// ErrTransportClosed, subscriptions are closed, and nothing is delivered
// once Close returns. If the input is an io.Closer it is closed to unblock the
// receive loop. Calling Close again is a no-op.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.state != Running {
		d.mu.Unlock()
		return nil
	}
	d.state = Closing
	d.err = protocol.ErrTransportClosed
	d.drainLocked(protocol.ErrTransportClosed)
	d.mu.Unlock()

	var closeErr error
	if c, ok := d.input.(io.Closer); ok {
		closeErr = c.Close()
	}

	timer := time.NewTimer(d.closeTimeout)
	defer timer.Stop()
	select {
	case <-d.done:
	case <-timer.C:
		d.logger.Warn("receive loop still blocked in read, abandoning it", "timeout", d.closeTimeout)
	}

	d.mu.Lock()
	d.state = Closed
	d.mu.Unlock()
	return closeErr
}

// recvLoop runs in a dedicated goroutine and is the only reader of the input
// stream: frame boundaries are lost if two goroutines read it.
func (d *Dispatcher) recvLoop(reader *protocol.Reader) {
	defer close(d.done)

	for {
		payload, err := reader.ReadFrame()
		if err != nil {
			d.terminate(err)
			return
		}

		var env message.Envelope
		if err := d.codec.Decode(payload, &env); err != nil {
			d.terminate(protocol.NewViolation(protocol.Malformed, err))
			return
		}

		if violation := d.route(&env); violation != nil {
			d.onViolation(violation)
		}
	}
}

// terminate ends the session from the receive side. After an unreadable frame
// no further correlation is possible, so every pending call gets err.
func (d *Dispatcher) terminate(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == Running {
		d.err = err
		d.drainLocked(err)
		if errors.Is(err, protocol.ErrProtocolViolation) {
			d.logger.Error("session terminated", "error", err)
		} else {
			d.logger.Info("session ended", "reason", err)
		}
	}
	d.state = Closed
}

// route delivers one envelope. It returns a violation to report, if any.
func (d *Dispatcher) route(env *message.Envelope) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != Running {
		return nil
	}

	switch env.Type {
	case message.EnvelopeResponse:
		return d.deliverResponseLocked(env.Response)
	case message.EnvelopeEvent:
		d.deliverEventLocked(env.Event)
	default:
		d.logger.Debug("ignoring unrecognized message")
	}
	return nil
}

func (d *Dispatcher) deliverResponseLocked(resp *message.Response) error {
	call := d.lookupLocked(resp)
	if call == nil {
		return protocol.NewViolation(protocol.Unsolicited,
			fmt.Errorf("%s response %q (status %s) matches no pending request", resp.Kind, resp.RequestID, resp.Status))
	}
	d.removeLocked(call)

	switch {
	case !resp.Success():
		call.Resolve(nil, &message.RequestFailedError{Kind: call.Kind, RequestID: call.ID, Status: resp.Status})
	case resp.Kind == message.KindUnknown:
		call.Resolve(nil, protocol.NewViolation(protocol.Malformed,
			fmt.Errorf("successful response %q carries no %s payload", resp.RequestID, call.Kind)))
	case resp.Kind != call.Kind:
		call.Resolve(nil, protocol.NewViolation(protocol.Malformed,
			fmt.Errorf("%s request %q answered with a %s response", call.Kind, call.ID, resp.Kind)))
	default:
		for _, o := range d.observers {
			o.ObserveResponse(resp)
		}
		call.Resolve(resp, nil)
	}
	return nil
}

func (d *Dispatcher) lookupLocked(resp *message.Response) *Call {
	if d.correlation == CorrelateByKind && resp.Kind != message.KindUnknown {
		return d.byKind[resp.Kind]
	}
	return d.pending[resp.RequestID]
}

func (d *Dispatcher) removeLocked(call *Call) {
	if d.pending[call.ID] == call {
		delete(d.pending, call.ID)
	}
	if d.byKind[call.Kind] == call {
		delete(d.byKind, call.Kind)
	}
}

func (d *Dispatcher) deliverEventLocked(ev *message.Event) {
	for _, o := range d.observers {
		o.ObserveEvent(ev)
	}

	switch ev.Kind {
	case message.EventVirtualChannelReady:
		if sig, ok := d.ready[ev.VirtualChannelName]; ok {
			delete(d.ready, ev.VirtualChannelName)
			sig.Resolve(struct{}{}, nil)
		}
	case message.EventVirtualChannelClosed:
		if sig, ok := d.ready[ev.VirtualChannelName]; ok {
			delete(d.ready, ev.VirtualChannelName)
			sig.Resolve(struct{}{}, fmt.Errorf("%w: %q", ErrChannelClosed, ev.VirtualChannelName))
		}
	}

	for sub := range d.subs {
		sub.deliver(ev, d.logger)
	}
}

// drainLocked fails everything that is waiting and closes subscriptions.
func (d *Dispatcher) drainLocked(err error) {
	for id, call := range d.pending {
		call.Resolve(nil, err)
		delete(d.pending, id)
	}
	clear(d.byKind)
	for name, sig := range d.ready {
		sig.Resolve(struct{}{}, err)
		delete(d.ready, name)
	}
	for sub := range d.subs {
		close(sub.ch)
		delete(d.subs, sub)
	}
}

func (d *Dispatcher) closedErrLocked() error {
	switch {
	case d.err == nil:
		return protocol.ErrTransportClosed
	case errors.Is(d.err, protocol.ErrTransportClosed):
		return d.err
	default:
		return fmt.Errorf("%w: session ended: %w", protocol.ErrTransportClosed, d.err)
	}
}
