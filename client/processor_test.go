package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcvext/config"
	"dcvext/host"
	"dcvext/message"
	"dcvext/middleware"
	"dcvext/protocol"
	"dcvext/transport"
)

// connect starts a session between a new Processor and h over in-memory
// pipes.
func connect(t testing.TB, h *host.Host, opts ...Option) *Processor {
	t.Helper()
	toHostR, toHostW := io.Pipe()
	toExtR, toExtW := io.Pipe()

	go h.Serve(context.Background(), toHostR, toExtW)
	p := New(toExtR, toHostW, opts...)
	t.Cleanup(func() {
		p.Close()
		toHostW.Close()
		toExtW.Close()
	})
	return p
}

func simConfig() config.HostConfig {
	return config.HostConfig{
		ManifestPath: "/tmp/m.json",
		Role:         "server",
		RelayPath:    "dcvt",
		Views: []config.ViewConfig{
			{ID: 0, X: 0, Y: 0, Width: 1920, Height: 1080, Zoom: 1, HasFocus: true},
		},
	}
}

func newSim(t testing.TB) *host.Simulator {
	t.Helper()
	sim, err := host.NewSimulator(simConfig())
	require.NoError(t, err)
	t.Cleanup(func() { sim.Close() })
	return sim
}

func testCtx(t testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGetManifestResolves(t *testing.T) {
	h := host.New()
	h.Handle(message.GetManifest, func(ctx context.Context, req *message.Request) (*message.Response, error) {
		return &message.Response{Status: message.StatusSuccess, ManifestPath: "/tmp/m.json"}, nil
	})
	p := connect(t, h)

	f := p.GetManifestAsync()
	assert.Equal(t, "1", f.ID())

	path, err := f.Wait(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/m.json", path)
	assert.Equal(t, 0, p.Pending())
}

func TestEveryKindAgainstSimulator(t *testing.T) {
	sim := newSim(t)
	p := connect(t, sim.Host)
	ctx := testCtx(t)

	path, err := p.GetManifest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/m.json", path)

	info, err := p.GetDcvInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, message.RoleServer, info.Role)

	_, ok := p.StreamingViews()
	assert.False(t, ok)

	views, err := p.GetStreamingViews(ctx)
	require.NoError(t, err)
	require.Len(t, views.Views, 1)
	assert.Equal(t, int32(1920), views.Views[0].LocalArea.Width)

	snapshot, ok := p.StreamingViews()
	require.True(t, ok)
	assert.Equal(t, views, snapshot)

	id, err := p.IsPointInsideStreamingViews(ctx, message.Point{X: 100, Y: 100})
	require.NoError(t, err)
	assert.Equal(t, int32(0), id)

	id, err = p.IsPointInsideStreamingViews(ctx, message.Point{X: -5, Y: 100})
	require.NoError(t, err)
	assert.Less(t, id, int32(0))

	require.NoError(t, p.SetCursorPoint(ctx, message.Point{X: 10, Y: 20}))
	pt, ok := sim.Cursor()
	require.True(t, ok)
	assert.Equal(t, message.Point{X: 10, Y: 20}, pt)
}

func TestRequestFailedCarriesStatus(t *testing.T) {
	sim := newSim(t)
	p := connect(t, sim.Host)

	_, err := p.CloseVirtualChannelAsync("missing").Wait(testCtx(t))
	var failed *message.RequestFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, message.StatusError, failed.Status)
	assert.Equal(t, message.CloseVirtualChannel, failed.Kind)
	assert.Equal(t, "1", failed.RequestID)
}

func TestConcurrentRequests(t *testing.T) {
	sim := newSim(t)
	p := connect(t, sim.Host)
	ctx := testCtx(t)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := p.IsPointInsideStreamingViews(ctx, message.Point{X: int32(i * 200), Y: 1})
			if assert.NoError(t, err) {
				if i*200 < 1920 {
					assert.Equal(t, int32(0), id)
				} else {
					assert.Equal(t, int32(-1), id)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, p.Pending())
}

func TestKindCorrelationKeepsOneCallPerKind(t *testing.T) {
	h := host.New(host.WithSequential())
	h.Handle(message.GetManifest, func(ctx context.Context, req *message.Request) (*message.Response, error) {
		if req.ID == "1" {
			return nil, host.ErrNoReply
		}
		return &message.Response{Status: message.StatusSuccess, ManifestPath: "/b"}, nil
	})
	p := connect(t, h, WithCorrelation(transport.CorrelateByKind))

	a := p.GetManifestAsync()
	b := p.GetManifestAsync()

	path, err := b.Wait(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "/b", path)
	assert.Equal(t, 0, p.Pending())

	require.NoError(t, p.Close())
	select {
	case <-a.Done():
		t.Fatal("orphaned call resolved")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventsBypassPendingTable(t *testing.T) {
	sim := newSim(t)
	p := connect(t, sim.Host)
	ctx := testCtx(t)

	_, err := p.GetDcvInfo(ctx)
	require.NoError(t, err)

	sub := p.Subscribe(0)
	defer sub.Unsubscribe()

	changed := message.StreamingViews{
		Views:    []message.StreamingView{{ViewID: 3, LocalArea: message.Rect{X: 10, Y: 10, Width: 100, Height: 100}, ZoomFactor: 1.5}},
		HasFocus: true,
	}
	require.NoError(t, sim.SetStreamingViews(changed))

	select {
	case ev := <-sub.C:
		assert.Equal(t, message.EventStreamingViewsChanged, ev.Kind)
		assert.Equal(t, changed, ev.StreamingViews)
	case <-ctx.Done():
		t.Fatal("no event delivered")
	}

	snapshot, ok := p.StreamingViews()
	require.True(t, ok)
	assert.Equal(t, changed, snapshot)
	assert.Equal(t, 0, p.Pending())
}

func TestCloseFailsPendingRequests(t *testing.T) {
	h := host.New()
	h.Handle(message.GetManifest, func(ctx context.Context, req *message.Request) (*message.Response, error) {
		return nil, host.ErrNoReply
	})
	h.Handle(message.GetDcvInfo, func(ctx context.Context, req *message.Request) (*message.Response, error) {
		return nil, host.ErrNoReply
	})
	p := connect(t, h)
	sub := p.Subscribe(1)

	manifest := p.GetManifestAsync()
	info := p.GetDcvInfoAsync()
	assert.Equal(t, 2, p.Pending())

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err := manifest.Wait(testCtx(t))
	assert.ErrorIs(t, err, protocol.ErrTransportClosed)
	_, err = info.Wait(testCtx(t))
	assert.ErrorIs(t, err, protocol.ErrTransportClosed)

	_, open := <-sub.C
	assert.False(t, open)

	_, err = p.GetManifest(testCtx(t))
	assert.ErrorIs(t, err, protocol.ErrTransportClosed)
	assert.ErrorIs(t, p.Err(), protocol.ErrTransportClosed)
}

type brokenPipe struct{}

func (brokenPipe) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestSendFailureFailsFuture(t *testing.T) {
	in, inW := io.Pipe()
	defer inW.Close()
	p := New(in, brokenPipe{})
	defer p.Close()

	_, err := p.GetManifestAsync().Wait(testCtx(t))
	assert.ErrorIs(t, err, protocol.ErrTransportClosed)
	assert.Equal(t, 0, p.Pending())
}

func TestRetryUsesFreshRequestIDs(t *testing.T) {
	var mu sync.Mutex
	var ids []string
	h := host.New()
	h.Handle(message.GetManifest, func(ctx context.Context, req *message.Request) (*message.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		ids = append(ids, req.ID)
		if len(ids) == 1 {
			return nil, errors.New("not ready yet")
		}
		return &message.Response{Status: message.StatusSuccess, ManifestPath: "/m"}, nil
	})
	p := connect(t, h, WithMiddleware(middleware.RetryMiddleware(2, time.Millisecond, nil)))

	path, err := p.GetManifest(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "/m", path)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"1", "2"}, ids)
}

func TestTimeoutLeavesRequestPending(t *testing.T) {
	h := host.New()
	h.Handle(message.GetManifest, func(ctx context.Context, req *message.Request) (*message.Response, error) {
		return nil, host.ErrNoReply
	})
	p := connect(t, h, WithMiddleware(middleware.TimeoutMiddleware(20*time.Millisecond)))

	_, err := p.GetManifest(testCtx(t))
	assert.ErrorIs(t, err, middleware.ErrTimeout)
	assert.Equal(t, 1, p.Pending())
}

func TestUUIDRequestIDs(t *testing.T) {
	sim := newSim(t)
	p := connect(t, sim.Host, WithIDGenerator(UUIDIDs{}))

	f := p.GetDcvInfoAsync()
	_, err := uuid.Parse(f.ID())
	require.NoError(t, err)

	info, err := f.Wait(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, message.RoleServer, info.Role)
}

func TestNewIDGenerator(t *testing.T) {
	g, err := NewIDGenerator("counter")
	require.NoError(t, err)
	assert.Equal(t, "1", g.Next())
	assert.Equal(t, "2", g.Next())

	g, err = NewIDGenerator("uuid")
	require.NoError(t, err)
	assert.NotEqual(t, g.Next(), g.Next())

	_, err = NewIDGenerator("snowflake")
	assert.Error(t, err)
}
