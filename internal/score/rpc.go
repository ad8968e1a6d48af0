package score

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/overlaynet/overlaynet/internal/wire"
)

// RPCResponder answers LATENCY_REQUEST datagrams from clients with this
// node's own best-known upstream latency and catalogue. Served by PoPs
// only (ClientRPC capability).
type RPCResponder struct {
	log   *slog.Logger
	port  int
	table *Table
}

// NewRPCResponder creates a responder bound to port, answering from table.
func NewRPCResponder(port int, table *Table) *RPCResponder {
	return &RPCResponder{
		log:   slog.With("component", "client-rpc"),
		port:  port,
		table: table,
	}
}

// Run listens until ctx is cancelled.
func (r *RPCResponder) Run(ctx context.Context) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: r.port})
	if err != nil {
		return err
	}
	defer conn.Close()
	context.AfterFunc(ctx, func() { conn.Close() })

	r.log.Info("listening", "port", r.port)

	buf := make([]byte, 256)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Debug("read error", "error", err)
			continue
		}
		r.handle(conn, addr, string(buf[:n]))
	}
}

func (r *RPCResponder) handle(conn *net.UDPConn, addr *net.UDPAddr, payload string) {
	if payload != wire.LatencyRequest {
		return
	}

	now := time.Now()
	best, ok := r.table.Best(now)
	body := wire.EncodeLatencyResponse(wire.LatencyResponse{
		LatencyMillis: best.LatencyMillis,
		Now:           float64(now.UnixNano()) / 1e9,
		Catalogue:     best.Catalogue,
	}, ok)

	if _, err := conn.WriteToUDP([]byte(body), addr); err != nil {
		r.log.Debug("response send failed", "client", addr, "error", err)
	}
}
