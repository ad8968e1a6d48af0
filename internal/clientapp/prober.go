// Package clientapp implements the end-client orchestrator: one prober
// per known PoP, best-PoP reselection, a heartbeat emitter, the
// one-time interactive video choice, and UDP frame reassembly. The
// probing/reselection shape mirrors internal/score's origin-facing
// Emitter/Receiver pair, generalized to the client's many-PoP fan-in.
package clientapp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/overlaynet/overlaynet/internal/wire"
)

// probeInterval is how often a Prober sends LATENCY_REQUEST to its PoP.
const probeInterval = 30 * time.Second

// probeTimeout bounds a single LATENCY_REQUEST round trip.
const probeTimeout = 5 * time.Second

// maxAttemptsAveraged bounds how many successful round trips feed the
// rolling average latency estimate for a PoP.
const maxAttemptsAveraged = 5

// PoPObservation is a point-in-time read of one PoP's advertised
// latency and catalogue.
type PoPObservation struct {
	PoP           string
	LatencyMillis float64
	Catalogue     []string
	HasData       bool
}

// Prober repeatedly queries a single PoP's client-RPC port and
// maintains a rolling average of its reported latency.
type Prober struct {
	log     *slog.Logger
	pop     string
	rpcPort int

	mu        sync.Mutex
	samples   []float64
	catalogue []string
	hasData   bool
}

// NewProber creates a Prober targeting pop's client-RPC port rpcPort.
func NewProber(pop string, rpcPort int) *Prober {
	return &Prober{
		log:     slog.With("component", "client-prober", "pop", pop),
		pop:     pop,
		rpcPort: rpcPort,
	}
}

// Run queries the PoP every probeInterval until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) error {
	p.probeOnce(ctx)
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.probeOnce(ctx)
		}
	}
}

func (p *Prober) probeOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(probeCtx, "udp", fmt.Sprintf("%s:%d", p.pop, p.rpcPort))
	if err != nil {
		p.log.Debug("dial failed", "error", err)
		return
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(probeTimeout))
	if _, err := conn.Write([]byte(wire.LatencyRequest)); err != nil {
		p.log.Debug("request send failed", "error", err)
		return
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		p.log.Debug("response read failed", "error", err)
		return
	}

	resp, hasData, perr := wire.ParseLatencyResponse(string(buf[:n]))
	if perr != nil {
		p.log.Debug("malformed response", "error", perr)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.hasData = hasData
	if !hasData {
		p.catalogue = nil
		return
	}
	p.catalogue = resp.Catalogue
	p.samples = append(p.samples, resp.LatencyMillis)
	if len(p.samples) > maxAttemptsAveraged {
		p.samples = p.samples[len(p.samples)-maxAttemptsAveraged:]
	}
}

// Observation returns the Prober's current rolling-average latency and
// last-seen catalogue.
func (p *Prober) Observation() PoPObservation {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasData || len(p.samples) == 0 {
		return PoPObservation{PoP: p.pop, HasData: false}
	}
	var sum float64
	for _, s := range p.samples {
		sum += s
	}
	cat := make([]string, len(p.catalogue))
	copy(cat, p.catalogue)
	return PoPObservation{
		PoP:           p.pop,
		LatencyMillis: sum / float64(len(p.samples)),
		Catalogue:     cat,
		HasData:       true,
	}
}
