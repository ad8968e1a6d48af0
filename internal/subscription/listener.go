package subscription

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/overlaynet/overlaynet/internal/wire"
)

// maxControlBytes bounds a single inbound control message read.
const maxControlBytes = 1024

// maxUDPDatagram bounds a single inbound control datagram read, sized
// well above any real control message.
const maxUDPDatagram = 1024

// Listener accepts control-plane connections and datagrams
// (START_STREAM/STOP_STREAM/HEARTBEAT) and applies them to a Table. It
// listens on both TCP and UDP on the same port: TCP is the normal
// path, while UDP is what transport.Pool falls back to once a
// destination's TCP sends keep failing, so a downgraded sender's
// messages still reach this node. Grounded on ingest/srt/server.go's
// accept-loop-plus-goroutine-per-connection shape.
type Listener struct {
	log  *slog.Logger
	port int
	tbl  *Table
}

// NewListener creates a control-plane Listener bound to port, applying
// commands to tbl.
func NewListener(port int, tbl *Table) *Listener {
	return &Listener{
		log:  slog.With("component", "control-listener"),
		port: port,
		tbl:  tbl,
	}
}

// Run accepts control connections and datagrams until ctx is
// cancelled. Each TCP command is terminated by connection close, per
// the wire format; each UDP datagram is one complete command.
func (l *Listener) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.runTCP(ctx) })
	g.Go(func() error { return l.runUDP(ctx) })
	return g.Wait()
}

func (l *Listener) runTCP(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", l.port))
	if err != nil {
		return fmt.Errorf("control listener: %w", err)
	}
	defer ln.Close()

	l.log.Info("listening", "transport", "tcp", "port", l.port)
	context.AfterFunc(ctx, func() { ln.Close() })

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.log.Debug("accept error", "error", err)
			continue
		}
		go l.handleTCP(conn)
	}
}

func (l *Listener) handleTCP(conn net.Conn) {
	defer conn.Close()

	senderIP, _, _ := net.SplitHostPort(conn.RemoteAddr().String())

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	data, err := io.ReadAll(io.LimitReader(conn, maxControlBytes))
	if err != nil && len(data) == 0 {
		return
	}

	l.apply(senderIP, string(data))
}

func (l *Listener) runUDP(ctx context.Context) error {
	lc := net.ListenConfig{}
	pconn, err := lc.ListenPacket(ctx, "udp", fmt.Sprintf(":%d", l.port))
	if err != nil {
		return fmt.Errorf("control datagram listener: %w", err)
	}
	defer pconn.Close()

	l.log.Info("listening", "transport", "udp", "port", l.port)
	context.AfterFunc(ctx, func() { pconn.Close() })

	buf := make([]byte, maxUDPDatagram)
	for {
		n, remote, err := pconn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.log.Debug("udp read error", "error", err)
			continue
		}
		senderIP, _, _ := net.SplitHostPort(remote.String())
		payload := make([]byte, n)
		copy(payload, buf[:n])
		go l.apply(senderIP, string(payload))
	}
}

// apply parses raw and, if well-formed, applies it to tbl as coming
// from senderIP. Shared by the TCP and UDP receive paths.
func (l *Listener) apply(senderIP, raw string) {
	msg, perr := wire.ParseControl(raw)
	if perr != nil {
		l.log.Debug("malformed control message", "sender", senderIP, "error", perr)
		return
	}

	now := time.Now()
	switch msg.Kind {
	case wire.ControlStartStream:
		l.tbl.Subscribe(msg.Video, senderIP, now)
	case wire.ControlStopStream:
		l.tbl.Unsubscribe(msg.Video, senderIP)
	case wire.ControlHeartbeat:
		l.tbl.Touch(senderIP, now)
	}
}

// RunSweep runs the 1 Hz heartbeat sweep until ctx is cancelled.
func RunSweep(ctx context.Context, tbl *Table) error {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tbl.SweepHeartbeats(time.Now())
		}
	}
}
