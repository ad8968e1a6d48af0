package clientapp

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/overlaynet/overlaynet/internal/wire"
)

// FrameSink receives fully reassembled frames for display. Rendering
// itself lives outside this package; this is its wire contract.
type FrameSink interface {
	DisplayFrame(videoID string, data []byte)
}

// buffer accumulates chunks for one in-progress frame.
type buffer struct {
	frameSize uint32
	chunks    map[uint16][]byte
	total     int
}

// Receiver listens on a fixed UDP port for frame chunks, accepting
// datagrams only from the currently-selected PoP, and reassembles
// them: chunks keyed by packet_id, a frame completes when accumulated
// payload length reaches frame_size, and a frame_size change before
// completion resets the buffer (tolerating loss/reorder by dropping
// the incomplete frame).
type Receiver struct {
	log  *slog.Logger
	port int
	sink FrameSink

	mu       sync.Mutex
	sourceIP string // "" accepts from any source, until a PoP is selected
	buffers  map[string]*buffer
}

// NewReceiver creates a Receiver bound to port, delivering completed
// frames to sink.
func NewReceiver(port int, sink FrameSink) *Receiver {
	return &Receiver{
		log:     slog.With("component", "client-reassembly"),
		port:    port,
		sink:    sink,
		buffers: make(map[string]*buffer),
	}
}

// SetSource restricts accepted datagrams to ip, rebinding the receiver
// to accept only datagrams whose source IP equals the new PoP. Any
// in-progress reassembly state is discarded, since a PoP switch means
// in-flight chunks from the old source may never complete.
func (r *Receiver) SetSource(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sourceIP = ip
	r.buffers = make(map[string]*buffer)
}

// Run listens until ctx is cancelled.
func (r *Receiver) Run(ctx context.Context) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: r.port})
	if err != nil {
		return err
	}
	defer conn.Close()
	context.AfterFunc(ctx, func() { conn.Close() })

	buf := make([]byte, wire.MaxDatagram)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Debug("read error", "error", err)
			continue
		}
		r.handle(addr.IP.String(), buf[:n])
	}
}

func (r *Receiver) handle(senderIP string, datagram []byte) {
	r.mu.Lock()
	if r.sourceIP != "" && senderIP != r.sourceIP {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	pkt, err := wire.DecodeFrame(datagram)
	if err != nil {
		return
	}

	r.mu.Lock()
	b, ok := r.buffers[pkt.VideoID]
	if !ok || b.frameSize != pkt.FrameSize {
		b = &buffer{frameSize: pkt.FrameSize, chunks: make(map[uint16][]byte)}
		r.buffers[pkt.VideoID] = b
	}
	if _, dup := b.chunks[pkt.PacketID]; !dup {
		payload := make([]byte, len(pkt.Payload))
		copy(payload, pkt.Payload)
		b.chunks[pkt.PacketID] = payload
		b.total += len(payload)
	}

	complete := b.total >= int(b.frameSize) && b.frameSize > 0
	var assembled []byte
	if complete {
		assembled = assemble(b)
		delete(r.buffers, pkt.VideoID)
	}
	r.mu.Unlock()

	if complete && r.sink != nil {
		r.sink.DisplayFrame(pkt.VideoID, assembled)
	}
}

// assemble concatenates a completed buffer's chunks in packet_id order.
func assemble(b *buffer) []byte {
	out := make([]byte, 0, b.frameSize)
	for id := uint16(0); ; id++ {
		chunk, ok := b.chunks[id]
		if !ok {
			break
		}
		out = append(out, chunk...)
	}
	return out
}
