package vchannel

import (
	"context"
	"log/slog"
	"net"
	"strings"
)

// Linux relays live in the abstract socket namespace.
func socketAddress(relayPath string) string {
	if strings.HasPrefix(relayPath, "@") {
		return relayPath
	}
	return "@" + relayPath
}

func dial(ctx context.Context, relayPath string, _ *slog.Logger) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", socketAddress(relayPath))
}

func listen(relayPath string) (net.Listener, error) {
	return net.Listen("unix", socketAddress(relayPath))
}
