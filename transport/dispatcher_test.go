package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcvext/message"
	"dcvext/protocol"
)

// session is a Dispatcher wired to an in-memory host end.
type session struct {
	d    *Dispatcher
	host *Writer
	pw   *io.PipeWriter
}

func newSession(t *testing.T, opts ...Option) *session {
	t.Helper()
	pr, pw := io.Pipe()
	d := NewDispatcher(pr, append([]Option{WithCloseTimeout(time.Second)}, opts...)...)
	t.Cleanup(func() {
		d.Close()
		pw.Close()
	})
	return &session{d: d, host: NewWriter(pw, nil), pw: pw}
}

func (s *session) respond(t *testing.T, resp *message.Response) {
	t.Helper()
	require.NoError(t, s.host.Send(message.ResponseEnvelope(resp)))
}

func (s *session) emit(t *testing.T, ev *message.Event) {
	t.Helper()
	require.NoError(t, s.host.Send(message.EventEnvelope(ev)))
}

func (s *session) register(t *testing.T, id string, kind message.RequestKind) *Call {
	t.Helper()
	call, err := s.d.Register(id, kind)
	require.NoError(t, err)
	return call
}

func wait[T any](t *testing.T, f *Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case <-f.Done():
	case <-ctx.Done():
		t.Fatal("future did not resolve")
	}
	return f.Result()
}

func manifestResponse(id, path string) *message.Response {
	return &message.Response{RequestID: id, Status: message.StatusSuccess, Kind: message.GetManifest, ManifestPath: path}
}

func TestDispatcherResolvesManifest(t *testing.T) {
	s := newSession(t)
	call := s.register(t, "1", message.GetManifest)

	s.respond(t, manifestResponse("1", "/tmp/m.json"))

	resp, err := wait(t, call.Future)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/m.json", resp.ManifestPath)
	assert.Equal(t, 0, s.d.Pending())
}

func TestDispatcherOutOfOrderResponses(t *testing.T) {
	s := newSession(t)
	first := s.register(t, "1", message.GetManifest)
	second := s.register(t, "2", message.GetManifest)
	info := s.register(t, "3", message.GetDcvInfo)

	s.respond(t, &message.Response{
		RequestID: "3", Status: message.StatusSuccess, Kind: message.GetDcvInfo,
		DcvInfo: message.DcvInfo{Role: message.RoleServer},
	})
	s.respond(t, manifestResponse("2", "/b"))
	s.respond(t, manifestResponse("1", "/a"))

	resp, err := wait(t, info.Future)
	require.NoError(t, err)
	assert.Equal(t, message.RoleServer, resp.DcvInfo.Role)

	resp, err = wait(t, second.Future)
	require.NoError(t, err)
	assert.Equal(t, "/b", resp.ManifestPath)

	resp, err = wait(t, first.Future)
	require.NoError(t, err)
	assert.Equal(t, "/a", resp.ManifestPath)
}

// In kind mode a second call of the same kind takes over the slot; the first
// caller is orphaned and never resolves, not even on Close.
func TestDispatcherCorrelateByKindOrphansEarlierCall(t *testing.T) {
	s := newSession(t, WithCorrelation(CorrelateByKind))
	a := s.register(t, "1", message.GetManifest)
	b := s.register(t, "2", message.GetManifest)
	assert.Equal(t, 1, s.d.Pending())

	s.respond(t, manifestResponse("2", "/tmp/m.json"))

	resp, err := wait(t, b.Future)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/m.json", resp.ManifestPath)
	assert.Never(t, a.Resolved, 100*time.Millisecond, 10*time.Millisecond)

	require.NoError(t, s.d.Close())
	assert.False(t, a.Resolved())
}

func TestDispatcherCorrelateByKindIgnoresResponseID(t *testing.T) {
	s := newSession(t, WithCorrelation(CorrelateByKind))
	call := s.register(t, "7", message.GetManifest)

	s.respond(t, manifestResponse("99", "/x"))

	resp, err := wait(t, call.Future)
	require.NoError(t, err)
	assert.Equal(t, "/x", resp.ManifestPath)
}

func TestDispatcherStatusMapping(t *testing.T) {
	s := newSession(t)
	failed := s.register(t, "1", message.GetManifest)
	other := s.register(t, "2", message.GetDcvInfo)

	s.respond(t, &message.Response{RequestID: "1", Status: message.StatusError, Kind: message.GetManifest})

	resp, err := wait(t, failed.Future)
	assert.Nil(t, resp)
	var rf *message.RequestFailedError
	require.ErrorAs(t, err, &rf)
	assert.Equal(t, message.StatusError, rf.Status)
	assert.Equal(t, "1", rf.RequestID)
	assert.Equal(t, message.GetManifest, rf.Kind)

	// A status-only failure, without a response body, still correlates.
	s.respond(t, &message.Response{RequestID: "2", Status: message.StatusUnknown})
	_, err = wait(t, other.Future)
	require.ErrorAs(t, err, &rf)
	assert.Equal(t, message.StatusUnknown, rf.Status)
	assert.Equal(t, Running, s.d.State())
}

func TestDispatcherEventsBypassPendingTable(t *testing.T) {
	s := newSession(t)
	a := s.register(t, "1", message.GetManifest)
	b := s.register(t, "2", message.GetStreamingViews)
	sub := s.d.Subscribe(16)

	events := []*message.Event{
		{Kind: message.EventVirtualChannelReady, VirtualChannelName: "echo"},
		{Kind: message.EventStreamingViewsChanged, StreamingViews: message.StreamingViews{HasFocus: true}},
		{Kind: message.EventVirtualChannelClosed, VirtualChannelName: "echo"},
		{Kind: message.EventStreamingViewsChanged},
	}
	for _, ev := range events {
		s.emit(t, ev)
	}
	// A message of a kind this version does not know is skipped.
	require.NoError(t, protocol.WriteFrame(s.pw, []byte{0x7a, 0x00}))

	for _, want := range events {
		select {
		case got := <-sub.C:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered")
		}
	}

	assert.False(t, a.Resolved())
	assert.False(t, b.Resolved())
	assert.Equal(t, 2, s.d.Pending())
	assert.Equal(t, Running, s.d.State())
}

func TestDispatcherCloseDrainsPending(t *testing.T) {
	s := newSession(t)
	a := s.register(t, "1", message.GetManifest)
	b := s.register(t, "2", message.GetDcvInfo)
	sub := s.d.Subscribe(1)
	ready, err := s.d.ExpectReady("echo")
	require.NoError(t, err)

	require.NoError(t, s.d.Close())

	for _, call := range []*Call{a, b} {
		require.True(t, call.Resolved())
		_, err := call.Result()
		assert.ErrorIs(t, err, protocol.ErrTransportClosed)
	}
	_, err = ready.Result()
	assert.ErrorIs(t, err, protocol.ErrTransportClosed)

	_, open := <-sub.C
	assert.False(t, open)

	assert.Equal(t, Closed, s.d.State())
	assert.NoError(t, s.d.Close())

	_, err = s.d.Register("3", message.GetManifest)
	assert.ErrorIs(t, err, protocol.ErrTransportClosed)
	_, err = s.d.ExpectReady("other")
	assert.ErrorIs(t, err, protocol.ErrTransportClosed)

	closedSub := s.d.Subscribe(1)
	_, open = <-closedSub.C
	assert.False(t, open)
}

func TestDispatcherConcurrentClose(t *testing.T) {
	s := newSession(t)
	call := s.register(t, "1", message.GetManifest)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.d.Close()
		}()
	}
	wg.Wait()

	_, err := wait(t, call.Future)
	assert.ErrorIs(t, err, protocol.ErrTransportClosed)
}

func TestDispatcherPeerEndsStream(t *testing.T) {
	s := newSession(t)
	call := s.register(t, "1", message.GetManifest)

	require.NoError(t, s.pw.Close())

	_, err := wait(t, call.Future)
	assert.ErrorIs(t, err, protocol.ErrTransportClosed)
	<-s.d.Done()
	assert.Equal(t, Closed, s.d.State())
	assert.ErrorIs(t, s.d.Err(), protocol.ErrTransportClosed)
}

func TestDispatcherIncompleteFrame(t *testing.T) {
	s := newSession(t)
	call := s.register(t, "1", message.GetManifest)

	_, err := s.pw.Write([]byte{0x10, 0x00})
	require.NoError(t, err)
	require.NoError(t, s.pw.Close())

	_, err = wait(t, call.Future)
	assert.ErrorIs(t, err, protocol.ErrProtocolViolation)
	assert.ErrorIs(t, err, protocol.ErrIncomplete)
}

func TestDispatcherMalformedPayloadTerminates(t *testing.T) {
	s := newSession(t)
	call := s.register(t, "1", message.GetManifest)

	require.NoError(t, protocol.WriteFrame(s.pw, []byte{0x0a, 0x05, 0x0a}))

	_, err := wait(t, call.Future)
	var violation *protocol.ViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, protocol.Malformed, violation.Violation)

	<-s.d.Done()
	_, err = s.d.Register("2", message.GetManifest)
	assert.ErrorIs(t, err, protocol.ErrTransportClosed)
	assert.ErrorIs(t, err, protocol.ErrMalformed)
}

func TestDispatcherMaxFrameSize(t *testing.T) {
	s := newSession(t, WithMaxFrameSize(8))
	call := s.register(t, "1", message.GetManifest)

	// The loop stops reading after the header, so the write never completes.
	go s.host.Send(message.ResponseEnvelope(manifestResponse("1", "/a/path/longer/than/eight/bytes")))

	_, err := wait(t, call.Future)
	assert.ErrorIs(t, err, protocol.ErrMalformed)
}

func TestDispatcherUnsolicitedResponse(t *testing.T) {
	violations := make(chan error, 4)
	s := newSession(t, WithViolationHandler(func(err error) { violations <- err }))

	s.respond(t, manifestResponse("42", "/nobody/asked"))

	select {
	case err := <-violations:
		assert.ErrorIs(t, err, protocol.ErrUnsolicited)
		assert.ErrorIs(t, err, protocol.ErrProtocolViolation)
	case <-time.After(2 * time.Second):
		t.Fatal("violation not reported")
	}

	// The session survives.
	call := s.register(t, "1", message.GetManifest)
	s.respond(t, manifestResponse("1", "/tmp/m.json"))
	_, err := wait(t, call.Future)
	assert.NoError(t, err)
}

func TestDispatcherResponseKindMismatch(t *testing.T) {
	s := newSession(t)
	mismatch := s.register(t, "1", message.GetManifest)
	empty := s.register(t, "2", message.GetDcvInfo)

	s.respond(t, &message.Response{RequestID: "1", Status: message.StatusSuccess, Kind: message.GetDcvInfo})
	s.respond(t, &message.Response{RequestID: "2", Status: message.StatusSuccess})

	_, err := wait(t, mismatch.Future)
	assert.ErrorIs(t, err, protocol.ErrMalformed)
	_, err = wait(t, empty.Future)
	assert.ErrorIs(t, err, protocol.ErrMalformed)
	assert.Equal(t, Running, s.d.State())
}

func TestDispatcherDuplicateRequestID(t *testing.T) {
	s := newSession(t)
	s.register(t, "1", message.GetManifest)

	_, err := s.d.Register("1", message.GetDcvInfo)
	assert.ErrorIs(t, err, ErrDuplicateRequestID)
}

func TestDispatcherForget(t *testing.T) {
	s := newSession(t)
	call := s.register(t, "1", message.GetManifest)
	writeErr := errors.New("broken pipe")

	s.d.Forget(call, writeErr)

	_, err := call.Result()
	assert.ErrorIs(t, err, writeErr)
	assert.Equal(t, 0, s.d.Pending())
}

func TestDispatcherReadySignals(t *testing.T) {
	s := newSession(t)

	echo, err := s.d.ExpectReady("echo")
	require.NoError(t, err)
	again, err := s.d.ExpectReady("echo")
	require.NoError(t, err)
	assert.Same(t, echo, again)

	other, err := s.d.ExpectReady("other")
	require.NoError(t, err)
	cancelled, err := s.d.ExpectReady("cancelled")
	require.NoError(t, err)

	s.emit(t, &message.Event{Kind: message.EventVirtualChannelReady, VirtualChannelName: "echo"})
	s.emit(t, &message.Event{Kind: message.EventVirtualChannelClosed, VirtualChannelName: "other"})
	s.d.CancelReady("cancelled", io.ErrUnexpectedEOF)

	_, err = wait(t, echo)
	assert.NoError(t, err)
	_, err = wait(t, other)
	assert.ErrorIs(t, err, ErrChannelClosed)
	_, err = wait(t, cancelled)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

type recordingObserver struct {
	mu        sync.Mutex
	responses []*message.Response
	events    []*message.Event
}

func (o *recordingObserver) ObserveResponse(resp *message.Response) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.responses = append(o.responses, resp)
}

func (o *recordingObserver) ObserveEvent(ev *message.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func TestDispatcherObserver(t *testing.T) {
	obs := &recordingObserver{}
	s := newSession(t, WithObserver(obs))
	ok := s.register(t, "1", message.GetManifest)
	failed := s.register(t, "2", message.GetManifest)

	s.respond(t, manifestResponse("1", "/a"))
	s.respond(t, &message.Response{RequestID: "2", Status: message.StatusError, Kind: message.GetManifest})
	s.emit(t, &message.Event{Kind: message.EventStreamingViewsChanged})

	wait(t, ok.Future)
	wait(t, failed.Future)
	require.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return len(obs.events) == 1
	}, 2*time.Second, 5*time.Millisecond)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.responses, 1)
	assert.Equal(t, "1", obs.responses[0].RequestID)
}

func TestSubscriptionDropsOldest(t *testing.T) {
	s := newSession(t)
	sub := s.d.Subscribe(1)

	for _, name := range []string{"a", "b", "c"} {
		s.emit(t, &message.Event{Kind: message.EventVirtualChannelReady, VirtualChannelName: name})
	}
	require.Eventually(t, func() bool { return sub.Dropped() == 2 }, 2*time.Second, 5*time.Millisecond)

	ev := <-sub.C
	assert.Equal(t, "c", ev.VirtualChannelName)

	sub.Unsubscribe()
	sub.Unsubscribe()
	_, open := <-sub.C
	assert.False(t, open)
}

func TestParseCorrelation(t *testing.T) {
	for _, c := range []Correlation{CorrelateByRequestID, CorrelateByKind} {
		parsed, err := ParseCorrelation(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}
	_, err := ParseCorrelation("fifo")
	assert.Error(t, err)
}
