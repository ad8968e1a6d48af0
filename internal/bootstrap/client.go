package bootstrap

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/overlaynet/overlaynet/internal/errs"
	"github.com/overlaynet/overlaynet/internal/wire"
)

// dialTimeout bounds the connection attempt to the bootstrap service.
const dialTimeout = 5 * time.Second

// readTimeout bounds how long a client waits for the neighbour reply.
const readTimeout = 5 * time.Second

// Query connects to the bootstrap service at addr ("host:port"), sends
// the fixed hello greeting, and returns the parsed neighbour list. An
// unreachable bootstrap service or an ERROR/empty reply is a fatal
// startup condition for the caller to act on.
func Query(ctx context.Context, addr string) ([]string, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bootstrap unreachable at %s: %w: %w", addr, errs.ErrBootstrapFailed, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(wire.BootstrapHello)); err != nil {
		return nil, fmt.Errorf("bootstrap hello send to %s: %w: %w", addr, errs.ErrBootstrapFailed, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("bootstrap response read from %s: %w: %w", addr, errs.ErrBootstrapFailed, err)
	}

	neighbours, ok := wire.ParseBootstrapResponse(string(buf[:n]))
	if !ok {
		return nil, fmt.Errorf("bootstrap service at %s has no configured neighbours: %w", addr, errs.ErrBootstrapFailed)
	}
	return neighbours, nil
}
