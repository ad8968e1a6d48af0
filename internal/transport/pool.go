// Package transport provides a pooled control-plane sender: one reused
// TCP connection per destination, recycled on error and downgraded to
// raw UDP after a run of consecutive failures.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// maxConsecutiveFailures is how many back-to-back TCP send failures to
// a destination trigger a downgrade to UDP for that destination.
const maxConsecutiveFailures = 3

// dialTimeout bounds opening a fresh pooled connection.
const dialTimeout = 5 * time.Second

// idleEvict closes and forgets a pooled connection that has not been
// used in this long, so a neighbour that goes away doesn't leak a
// half-open socket forever.
const idleEvict = 2 * time.Minute

type entry struct {
	conn     net.Conn
	lastUsed time.Time
	failures int
	useUDP   bool
}

// Pool maintains one pooled connection per destination ("host:port")
// and the per-destination TCP/UDP fallback state.
type Pool struct {
	log *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty Pool.
func New() *Pool {
	return &Pool{
		log:     slog.With("component", "transport-pool"),
		entries: make(map[string]*entry),
	}
}

// Send delivers payload to addr, reusing a pooled TCP connection when
// the destination has not exceeded maxConsecutiveFailures, or sending
// a single UDP datagram once it has. Errors are logged, not returned to
// the caller's caller in most use sites, since every message on this
// plane is fire-and-forget and tolerant of loss — but Send itself does
// return the error so callers that care (e.g. tests) can observe it.
func (p *Pool) Send(ctx context.Context, addr, payload string) error {
	p.mu.Lock()
	e, ok := p.entries[addr]
	if !ok {
		e = &entry{}
		p.entries[addr] = e
	}
	p.mu.Unlock()

	if e.useUDP {
		err := p.sendUDP(ctx, addr, payload)
		if err == nil {
			// UDP is fire-and-forget; it never demonstrates recovery,
			// so a destination only returns to TCP after an operator
			// restart clears the pool, or explicitly via Promote.
			return nil
		}
		return fmt.Errorf("udp fallback send to %s: %w", addr, err)
	}

	if err := p.sendTCP(ctx, addr, e, payload); err != nil {
		p.mu.Lock()
		e.failures++
		downgrade := e.failures >= maxConsecutiveFailures
		if downgrade {
			e.useUDP = true
			if e.conn != nil {
				e.conn.Close()
				e.conn = nil
			}
		}
		p.mu.Unlock()

		if downgrade {
			p.log.Info("downgrading destination to UDP", "addr", addr, "failures", e.failures)
			udpErr := p.sendUDP(ctx, addr, payload)
			if udpErr != nil {
				return fmt.Errorf("tcp send to %s failed (%v), udp fallback also failed: %w", addr, err, udpErr)
			}
			return nil
		}
		return fmt.Errorf("tcp send to %s: %w", addr, err)
	}

	p.mu.Lock()
	e.failures = 0
	p.mu.Unlock()
	return nil
}

func (p *Pool) sendTCP(ctx context.Context, addr string, e *entry, payload string) error {
	p.mu.Lock()
	conn := e.conn
	p.mu.Unlock()

	if conn == nil {
		var d net.Dialer
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		newConn, err := d.DialContext(dialCtx, "tcp", addr)
		if err != nil {
			return err
		}
		conn = newConn
		p.mu.Lock()
		e.conn = conn
		p.mu.Unlock()
	}

	_ = conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	_, err := conn.Write([]byte(payload))
	if err != nil {
		p.mu.Lock()
		if e.conn == conn {
			e.conn = nil
		}
		p.mu.Unlock()
		conn.Close()
		return err
	}

	p.mu.Lock()
	e.lastUsed = time.Now()
	p.mu.Unlock()
	return nil
}

func (p *Pool) sendUDP(ctx context.Context, addr, payload string) error {
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, err := d.DialContext(dialCtx, "udp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write([]byte(payload))
	return err
}

// Promote forces addr back to attempting TCP on its next Send, e.g.
// after an operator confirms the destination is reachable again.
func (p *Pool) Promote(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[addr]; ok {
		e.useUDP = false
		e.failures = 0
	}
}

// EvictIdle closes and forgets pooled connections unused for longer
// than idleEvict. Intended to run on a slow periodic tick alongside the
// other sweep tasks.
func (p *Pool) EvictIdle(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, e := range p.entries {
		if e.conn != nil && now.Sub(e.lastUsed) > idleEvict {
			e.conn.Close()
			e.conn = nil
		}
		if e.conn == nil && !e.useUDP && e.failures == 0 && now.Sub(e.lastUsed) > idleEvict {
			delete(p.entries, addr)
		}
	}
}

// Close closes every pooled connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.conn != nil {
			e.conn.Close()
			e.conn = nil
		}
	}
	return nil
}
