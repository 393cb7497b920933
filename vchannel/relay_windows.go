package vchannel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/windows"
)

const (
	pipePrefix     = `\\.\pipe\`
	minPipePathLen = 17
	pipeBusyDelay  = 50 * time.Millisecond
)

func validatePipePath(relayPath string) error {
	if len(relayPath) < minPipePathLen || !strings.HasPrefix(relayPath, pipePrefix) {
		return fmt.Errorf("%w: %q is not a named pipe path", ErrInvalidRelayPath, relayPath)
	}
	return nil
}

// dial opens the named pipe, waiting while every pipe instance is busy.
func dial(ctx context.Context, relayPath string, logger *slog.Logger) (io.ReadWriteCloser, error) {
	if err := validatePipePath(relayPath); err != nil {
		return nil, err
	}
	for {
		f, err := os.OpenFile(relayPath, os.O_RDWR, 0)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, windows.ERROR_PIPE_BUSY) {
			return nil, err
		}
		logger.Info("pipe is busy, waiting", "relay_path", relayPath)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pipeBusyDelay):
		}
	}
}

func listen(relayPath string) (net.Listener, error) {
	if err := validatePipePath(relayPath); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("listen on %q: %w", relayPath, ErrUnsupported)
}
