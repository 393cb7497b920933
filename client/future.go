package client

import (
	"context"

	"dcvext/message"
	"dcvext/transport"
)

// Future is the pending result of one request. The value is derived from the
// host's response once it arrives.
type Future[T any] struct {
	call    *transport.Call
	extract func(*message.Response) T
}

func newFuture[T any](call *transport.Call, extract func(*message.Response) T) *Future[T] {
	return &Future[T]{call: call, extract: extract}
}

// ID returns the request id the future waits on.
func (f *Future[T]) ID() string {
	return f.call.ID
}

// Done is closed when the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.call.Done()
}

// Wait blocks until the response arrives or ctx is done. A context error
// leaves the request pending.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	resp, err := f.call.Wait(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return f.extract(resp), nil
}

// failedCall is a call that never reached the wire.
func failedCall(req *message.Request, err error) *transport.Call {
	call := &transport.Call{ID: req.ID, Kind: req.Kind, Future: transport.NewFuture[*message.Response]()}
	call.Resolve(nil, err)
	return call
}

// resolvedCall wraps a response obtained through the middleware chain.
func resolvedCall(resp *message.Response) *transport.Call {
	call := &transport.Call{ID: resp.RequestID, Kind: resp.Kind, Future: transport.NewFuture[*message.Response]()}
	call.Resolve(resp, nil)
	return call
}

func manifestPath(resp *message.Response) string { return resp.ManifestPath }
func dcvInfo(resp *message.Response) message.DcvInfo { return resp.DcvInfo }
func virtualChannel(resp *message.Response) message.VirtualChannel { return resp.VirtualChannel }
func channelName(resp *message.Response) string { return resp.VirtualChannel.Name }
func streamingViews(resp *message.Response) message.StreamingViews { return resp.StreamingViews }
func viewID(resp *message.Response) int32 { return resp.ViewID }
func nothing(*message.Response) struct{} { return struct{}{} }
