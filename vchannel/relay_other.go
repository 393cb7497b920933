//go:build !linux && !darwin && !windows

package vchannel

import (
	"context"
	"io"
	"log/slog"
	"net"
)

func dial(context.Context, string, *slog.Logger) (io.ReadWriteCloser, error) {
	return nil, ErrUnsupported
}

func listen(string) (net.Listener, error) {
	return nil, ErrUnsupported
}
