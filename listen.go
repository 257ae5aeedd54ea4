package torrent

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
)

func LoopbackListenHost(network string) string {
	if strings.Contains(network, "6") {
		return "::1"
	} else {
		return "127.0.0.1"
	}
}

// Binds a TCP listener on host, letting the system pick the port if it's zero. The listener holds
// the port for the life of the Client.
func listenTcp(ctx context.Context, host string, port int) (net.Listener, error) {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("listening on tcp: %w", err)
	}
	return l, nil
}

func listenerPort(l net.Listener) int {
	return l.Addr().(*net.TCPAddr).Port
}
