package vchannel

import (
	"context"
	"log/slog"
	"net"
)

func dial(ctx context.Context, relayPath string, _ *slog.Logger) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", relayPath)
}

func listen(relayPath string) (net.Listener, error) {
	return net.Listen("unix", relayPath)
}
