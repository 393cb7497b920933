// Package vchannel is the data plane of a DCV virtual channel.
//
// After SetupVirtualChannel the host returns a relay path and an auth token.
// The extension connects to the relay, writes the token as the very first
// bytes, and from then on the channel is a raw byte stream with no framing.
// The relay is an abstract unix socket on Linux, a filesystem unix socket on
// macOS and a named pipe on Windows.
package vchannel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
)

var (
	ErrInvalidRelayPath = errors.New("invalid relay path")
	ErrUnsupported      = errors.New("virtual channels are not supported on this platform")
)

// Channel is a connected, authenticated virtual channel.
type Channel struct {
	RelayPath string

	conn io.ReadWriteCloser
}

// Connect dials the relay at relayPath and authenticates with token.
func Connect(ctx context.Context, relayPath string, token []byte, logger *slog.Logger) (*Channel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if relayPath == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidRelayPath)
	}

	conn, err := dial(ctx, relayPath, logger)
	if err != nil {
		return nil, fmt.Errorf("connect relay %q: %w", relayPath, err)
	}
	logger.Info("connected to virtual channel relay", "relay_path", relayPath)

	if err := Authenticate(conn, token); err != nil {
		conn.Close()
		return nil, err
	}
	logger.Debug("sent virtual channel auth token", "bytes", len(token))

	return &Channel{RelayPath: relayPath, conn: conn}, nil
}

type flusher interface {
	Flush() error
}

// Authenticate writes token to w and flushes it.
func Authenticate(w io.Writer, token []byte) error {
	if len(token) == 0 {
		return errors.New("empty virtual channel auth token")
	}
	if _, err := w.Write(token); err != nil {
		return fmt.Errorf("write auth token: %w", err)
	}
	if f, ok := w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush auth token: %w", err)
		}
	}
	return nil
}

// VerifyToken reads len(token) bytes from r and checks that they match. It
// is the relay side of Authenticate.
func VerifyToken(r io.Reader, token []byte) error {
	got := make([]byte, len(token))
	if _, err := io.ReadFull(r, got); err != nil {
		return fmt.Errorf("read auth token: %w", err)
	}
	if string(got) != string(token) {
		return errors.New("virtual channel auth token mismatch")
	}
	return nil
}

func (c *Channel) Read(p []byte) (int, error) {
	return c.conn.Read(p)
}

func (c *Channel) Write(p []byte) (int, error) {
	return c.conn.Write(p)
}

func (c *Channel) Close() error {
	return c.conn.Close()
}

// Listen opens the relay end of a virtual channel at relayPath. The host
// simulator uses it to play the role of DCV.
func Listen(relayPath string) (net.Listener, error) {
	if relayPath == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidRelayPath)
	}
	return listen(relayPath)
}
