package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"dcvext/config"
	"dcvext/message"
	"dcvext/vchannel"
)

// relay is the host end of one virtual channel.
type relay struct {
	name  string
	path  string
	token []byte
	ln    net.Listener

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

func (r *relay) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.ln.Close()
	if r.conn != nil {
		r.conn.Close()
	}
}

// Simulator is a Host that answers every request kind from configuration.
// Virtual channels are backed by real relays that echo whatever the
// extension writes.
type Simulator struct {
	*Host

	cfg  config.HostConfig
	role message.DcvRole

	mu       sync.Mutex
	views    message.StreamingViews
	cursor   *message.Point
	channels map[string]*relay
	relayWG  sync.WaitGroup
}

// NewSimulator creates a simulator serving cfg.
func NewSimulator(cfg config.HostConfig, opts ...Option) (*Simulator, error) {
	role, err := message.ParseDcvRole(cfg.Role)
	if err != nil {
		return nil, err
	}

	s := &Simulator{
		Host:     New(opts...),
		cfg:      cfg,
		role:     role,
		views:    cfg.StreamingViews(),
		channels: make(map[string]*relay),
	}
	s.Handle(message.GetManifest, s.getManifest)
	s.Handle(message.GetDcvInfo, s.getDcvInfo)
	s.Handle(message.SetupVirtualChannel, s.setupVirtualChannel)
	s.Handle(message.CloseVirtualChannel, s.closeVirtualChannel)
	s.Handle(message.SetCursorPoint, s.setCursorPoint)
	s.Handle(message.GetStreamingViews, s.getStreamingViews)
	s.Handle(message.IsPointInsideStreamingViews, s.isPointInside)
	return s, nil
}

func (s *Simulator) getManifest(ctx context.Context, req *message.Request) (*message.Response, error) {
	return &message.Response{Status: message.StatusSuccess, ManifestPath: s.cfg.ManifestPath}, nil
}

func (s *Simulator) getDcvInfo(ctx context.Context, req *message.Request) (*message.Response, error) {
	return &message.Response{Status: message.StatusSuccess, DcvInfo: message.DcvInfo{Role: s.role}}, nil
}

func (s *Simulator) getStreamingViews(ctx context.Context, req *message.Request) (*message.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &message.Response{Status: message.StatusSuccess, StreamingViews: s.views.Clone()}, nil
}

func (s *Simulator) isPointInside(ctx context.Context, req *message.Request) (*message.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := int32(-1)
	if v, ok := s.views.ViewAt(req.Point); ok {
		id = v.ViewID
	}
	return &message.Response{Status: message.StatusSuccess, ViewID: id}, nil
}

func (s *Simulator) setCursorPoint(ctx context.Context, req *message.Request) (*message.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pt := req.Point
	s.cursor = &pt
	return &message.Response{Status: message.StatusSuccess}, nil
}

// Cursor returns the last point set with SetCursorPoint.
func (s *Simulator) Cursor() (message.Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor == nil {
		return message.Point{}, false
	}
	return *s.cursor, true
}

// relayPath returns a fresh relay address for the named channel.
func (s *Simulator) relayPath(name string) string {
	base := fmt.Sprintf("%s-%s-%s", s.cfg.RelayPath, name, uuid.NewString()[:8])
	if runtime.GOOS != "linux" && !filepath.IsAbs(base) {
		return filepath.Join(os.TempDir(), base)
	}
	return base
}

func (s *Simulator) setupVirtualChannel(ctx context.Context, req *message.Request) (*message.Response, error) {
	name := req.VirtualChannelName
	if name == "" {
		return nil, errors.New("empty virtual channel name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[name]; ok {
		return nil, fmt.Errorf("virtual channel %q already exists", name)
	}

	path := s.relayPath(name)
	ln, err := vchannel.Listen(path)
	if err != nil {
		return nil, fmt.Errorf("open relay for %q: %w", name, err)
	}
	r := &relay{name: name, path: path, token: []byte(uuid.NewString()), ln: ln}
	s.channels[name] = r

	s.relayWG.Add(1)
	go s.serveRelay(r)

	s.logger.Info("virtual channel created", "name", name, "relay_path", path, "relay_client_pid", req.RelayClientProcessID)
	return &message.Response{
		Status:         message.StatusSuccess,
		VirtualChannel: message.VirtualChannel{Name: name, RelayPath: path, AuthToken: r.token},
	}, nil
}

// serveRelay accepts the extension's connection, checks its token, reports
// the channel ready and echoes bytes until either side closes.
func (s *Simulator) serveRelay(r *relay) {
	defer s.relayWG.Done()

	conn, err := r.ln.Accept()
	r.ln.Close()
	if err != nil {
		s.logger.Debug("relay stopped before a connection", "name", r.name, "error", err)
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		conn.Close()
		return
	}
	r.conn = conn
	r.mu.Unlock()

	if err := vchannel.VerifyToken(conn, r.token); err != nil {
		s.logger.Warn("rejecting relay connection", "name", r.name, "error", err)
		conn.Close()
		return
	}

	if err := s.Emit(&message.Event{Kind: message.EventVirtualChannelReady, VirtualChannelName: r.name}); err != nil {
		s.logger.Error("failed to emit channel ready", "name", r.name, "error", err)
	}

	n, err := io.Copy(conn, conn)
	s.logger.Debug("relay finished", "name", r.name, "bytes", n, "error", err)
}

func (s *Simulator) closeVirtualChannel(ctx context.Context, req *message.Request) (*message.Response, error) {
	if err := s.CloseChannel(req.VirtualChannelName); err != nil {
		return nil, err
	}
	return &message.Response{
		Status:         message.StatusSuccess,
		VirtualChannel: message.VirtualChannel{Name: req.VirtualChannelName},
	}, nil
}

// CloseChannel tears down the named channel and emits VirtualChannelClosed.
// It models the host closing a channel on its own.
func (s *Simulator) CloseChannel(name string) error {
	s.mu.Lock()
	r, ok := s.channels[name]
	delete(s.channels, name)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown virtual channel %q", name)
	}

	r.close()
	return s.Emit(&message.Event{Kind: message.EventVirtualChannelClosed, VirtualChannelName: name})
}

// SetStreamingViews replaces the views and emits StreamingViewsChanged.
func (s *Simulator) SetStreamingViews(views message.StreamingViews) error {
	s.mu.Lock()
	s.views = views.Clone()
	s.mu.Unlock()
	return s.Emit(&message.Event{Kind: message.EventStreamingViewsChanged, StreamingViews: views.Clone()})
}

// Channels returns the names of the open virtual channels.
func (s *Simulator) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	return names
}

// Close tears down every relay without emitting events.
func (s *Simulator) Close() error {
	s.mu.Lock()
	channels := s.channels
	s.channels = make(map[string]*relay)
	s.mu.Unlock()

	for _, r := range channels {
		r.close()
	}
	s.relayWG.Wait()
	return nil
}
