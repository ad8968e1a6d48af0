// Package fanout implements the data plane: a relay's inbound UDP
// demultiplexer/fan-out and an origin's per-video frame emitter.
// Grounded on distribution/relay.go's BroadcastVideo — copy the
// subscriber set out under the lock, then do all I/O after releasing
// it — generalized from a fixed viewer-session fan-out to a raw UDP
// datagram re-send keyed by the embedded video ID.
package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/overlaynet/overlaynet/internal/wire"
)

// SubscriberSource supplies the current subscriber set for a video.
// Satisfied by *subscription.Table.
type SubscriberSource interface {
	Subscribers(video string) []string
}

// Demux listens on a single UDP socket and fans each inbound datagram
// out verbatim to every locally-known subscriber of the video ID
// embedded in its header. Unknown video IDs are dropped silently.
type Demux struct {
	log      *slog.Logger
	port     int // listen port
	sendPort int // port datagrams are re-sent on; equal to port except in tests, since every real node shares one streaming port
	subs     SubscriberSource
	conn     *net.UDPConn
}

// NewDemux creates a Demux bound to port, looking up subscribers in subs.
func NewDemux(port int, subs SubscriberSource) *Demux {
	return &Demux{
		log:      slog.With("component", "fanout-demux"),
		port:     port,
		sendPort: port,
		subs:     subs,
	}
}

// Run listens until ctx is cancelled, fanning out every recognized
// inbound datagram.
func (d *Demux) Run(ctx context.Context) error {
	addr := &net.UDPAddr{Port: d.port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("fanout demux listen: %w", err)
	}
	defer conn.Close()
	d.conn = conn

	d.log.Info("listening", "port", d.port)
	context.AfterFunc(ctx, func() { conn.Close() })

	buf := make([]byte, wire.MaxDatagram)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.log.Debug("read error", "error", err)
			continue
		}
		d.handle(conn, buf[:n])
	}
}

func (d *Demux) handle(conn *net.UDPConn, datagram []byte) {
	if len(datagram) < wire.VideoIDSize {
		return
	}
	videoID := wire.DecodeVideoID(datagram[:wire.VideoIDSize])
	subscribers := d.subs.Subscribers(videoID)
	if len(subscribers) == 0 {
		return
	}

	// datagram is reused by the next ReadFromUDP call, so each send
	// must copy it; net.UDPConn.WriteToUDP does this internally via
	// the kernel write, so passing the slice directly is safe only
	// because sends happen synchronously before the next read.
	for _, ip := range subscribers {
		dst := &net.UDPAddr{IP: net.ParseIP(ip), Port: d.sendPort}
		if _, err := conn.WriteToUDP(datagram, dst); err != nil {
			d.log.Debug("fanout send failed", "subscriber", ip, "error", err)
		}
	}
}
