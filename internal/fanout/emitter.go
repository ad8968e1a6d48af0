package fanout

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/overlaynet/overlaynet/internal/wire"
)

// FrameSource produces successive JPEG-encoded frames for one video at
// its native frame rate. Decode/encode itself is an external
// collaborator; only this wire contract lives here.
type FrameSource interface {
	// NextFrame blocks until the next frame is ready or ctx is
	// cancelled, returning its compressed JPEG bytes.
	NextFrame(ctx context.Context) ([]byte, error)
}

// SubscriberRemover is notified when a send to a subscriber fails hard,
// so the caller can drop it the same as an explicit STOP_STREAM.
// internal/node supplies a closure over subscription.Table.Unsubscribe.
type SubscriberRemover func(video, subscriberIP string)

// Emitter drives one video's frame generation loop: pull a frame from
// source, split it into chunks, and send each chunk to every current
// subscriber. Grounded on distribution/relay.go's BroadcastVideo for
// the copy-then-send discipline, generalized to per-subscriber UDP
// sends instead of a shared session fan-out.
type Emitter struct {
	log    *slog.Logger
	video  string
	source FrameSource
	subs   SubscriberSource
	remove SubscriberRemover
	port   int

	mu   sync.Mutex
	conn *net.UDPConn
}

// NewEmitter creates an Emitter for video, reading frames from source,
// fanning chunks out to subs' current subscriber set on port, and
// reporting hard send failures via remove.
func NewEmitter(video string, source FrameSource, subs SubscriberSource, remove SubscriberRemover, port int) *Emitter {
	return &Emitter{
		log:    slog.With("component", "fanout-emitter", "video", video),
		video:  video,
		source: source,
		subs:   subs,
		remove: remove,
		port:   port,
	}
}

// Run pulls and emits frames until ctx is cancelled or source.NextFrame
// returns a terminal error.
func (e *Emitter) Run(ctx context.Context) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return err
	}
	defer conn.Close()
	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return nil
		}
		data, err := e.source.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.log.Debug("frame source error", "error", err)
			return err
		}
		e.emit(conn, data)
	}
}

func (e *Emitter) emit(conn *net.UDPConn, data []byte) {
	subscribers := e.subs.Subscribers(e.video)
	if len(subscribers) == 0 {
		return
	}

	packets := wire.SplitFrame(e.video, data)
	for _, ip := range subscribers {
		dst := &net.UDPAddr{IP: net.ParseIP(ip), Port: e.port}
		for _, pkt := range packets {
			if _, err := conn.WriteToUDP(wire.EncodeFrame(pkt), dst); err != nil {
				e.log.Debug("emit failed, dropping subscriber", "subscriber", ip, "error", err)
				if e.remove != nil {
					e.remove(e.video, ip)
				}
				break
			}
		}
	}
}

