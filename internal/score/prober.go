package score

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/overlaynet/overlaynet/internal/wire"
)

// dialTimeout bounds every outbound probe connection attempt.
const dialTimeout = 5 * time.Second

// readTimeout bounds how long the receiver waits for a probe payload
// once a connection is accepted.
const readTimeout = 5 * time.Second

// emitInterval is how often a ProbeEmitter sends a fresh probe to every
// neighbour.
const emitInterval = 10 * time.Second

// forwardPacing is the delay between successive forwarded sends, so a
// relay with many neighbours doesn't burst all of them at once.
const forwardPacing = 1 * time.Second

// maxProbeBytes bounds a single inbound probe read.
const maxProbeBytes = 1024

// CatalogueFunc returns the current catalogue to advertise in outbound
// probes (static for an origin, or the relay's own advertised union).
type CatalogueFunc func() []string

// Emitter periodically opens a short TCP connection to each neighbour
// and sends a timestamped probe, grounded on the original
// LatencyHandler.forward_timestamp_to_neighbours dial-per-message style.
type Emitter struct {
	log        *slog.Logger
	neighbours []string
	probePort  int
	catalogue  CatalogueFunc
	table      *Table // so failed sends can mark the neighbour unreachable
}

// NewEmitter creates an Emitter that probes neighbours on probePort
// every emitInterval, advertising whatever catalogue() returns.
func NewEmitter(neighbours []string, probePort int, catalogue CatalogueFunc, table *Table) *Emitter {
	return &Emitter{
		log:        slog.With("component", "prober-emitter"),
		neighbours: neighbours,
		probePort:  probePort,
		catalogue:  catalogue,
		table:      table,
	}
}

// Run blocks, emitting probes every emitInterval until ctx is cancelled.
func (e *Emitter) Run(ctx context.Context) error {
	ticker := time.NewTicker(emitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.emitOnce(ctx)
		}
	}
}

func (e *Emitter) emitOnce(ctx context.Context) {
	payload := wire.EncodeProbe(wire.Probe{SentAt: time.Now(), Catalogue: e.catalogue()})
	for _, ip := range e.neighbours {
		if err := sendProbe(ctx, ip, e.probePort, payload); err != nil {
			e.log.Debug("probe send failed", "ip", ip, "error", err)
			if e.table != nil {
				e.table.MarkUnreachable(ip, time.Now())
			}
		}
	}
}

func sendProbe(ctx context.Context, ip string, port int, payload string) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Write([]byte(payload))
	return err
}

// Receiver listens for inbound probe connections, records latency and
// catalogue in the Table, and — when Forward is set — floods the exact
// received payload to every neighbour except the originating IP.
type Receiver struct {
	log        *slog.Logger
	listenPort int
	table      *Table
	neighbours []string // nil/empty disables forwarding regardless of Forward
	Forward    bool
}

// NewReceiver creates a Receiver bound to listenPort. If forward is
// true, it floods received probes to neighbours (relay behaviour);
// origins pass forward=false.
func NewReceiver(listenPort int, table *Table, neighbours []string, forward bool) *Receiver {
	return &Receiver{
		log:        slog.With("component", "prober-receiver"),
		listenPort: listenPort,
		table:      table,
		neighbours: neighbours,
		Forward:    forward,
	}
}

// Run accepts probe connections until ctx is cancelled.
func (r *Receiver) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", r.listenPort))
	if err != nil {
		return fmt.Errorf("probe receiver listen: %w", err)
	}
	defer ln.Close()

	r.log.Info("listening", "port", r.listenPort)

	context.AfterFunc(ctx, func() { ln.Close() })

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Debug("accept error", "error", err)
			continue
		}
		go r.handle(ctx, conn)
	}
}

func (r *Receiver) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	senderIP, _, _ := net.SplitHostPort(conn.RemoteAddr().String())

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	data, err := readAtMost(conn, maxProbeBytes)
	now := time.Now()

	if err != nil {
		r.log.Debug("probe read failed", "sender", senderIP, "error", err)
		r.table.MarkUnreachable(senderIP, now)
		return
	}

	probe, perr := wire.ParseProbe(string(data))
	if perr != nil {
		r.log.Debug("malformed probe", "sender", senderIP, "error", perr)
		r.table.MarkUnreachable(senderIP, now)
		return
	}

	latency := wire.LatencyMillis(probe, now)
	r.table.Update(senderIP, latency, probe.Catalogue, now)

	if r.Forward {
		go r.forward(ctx, string(data), senderIP)
	}
}

// forwardTargets returns the configured neighbours minus the
// originating sender, preserving order. Loop avoidance relies entirely
// on this sender-suppression; duplicate delivery paths are tolerated
// because Table.Update overwrites idempotently.
func forwardTargets(neighbours []string, senderIP string) []string {
	targets := make([]string, 0, len(neighbours))
	for _, ip := range neighbours {
		if ip != senderIP {
			targets = append(targets, ip)
		}
	}
	return targets
}

// forward re-emits the exact received payload to every neighbour whose
// IP differs from the originating sender, pacing sends by forwardPacing
// so a single flood doesn't open every outbound connection at once.
func (r *Receiver) forward(ctx context.Context, payload string, senderIP string) {
	for _, ip := range forwardTargets(r.neighbours, senderIP) {
		if err := sendProbe(ctx, ip, r.listenPort, payload); err != nil {
			r.log.Debug("forward failed", "ip", ip, "error", err)
			r.table.MarkUnreachable(ip, time.Now())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(forwardPacing):
		}
	}
}

func readAtMost(r io.Reader, n int) ([]byte, error) {
	br := bufio.NewReaderSize(r, n)
	buf := make([]byte, n)
	read, err := br.Read(buf)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:read], nil
}
