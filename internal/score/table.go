// Package score maintains the NeighbourScore table: one-way latency and
// advertised catalogue per known upstream, refreshed by the probe plane
// and consulted by the upstream selector. Entries are written by the
// probe plane (received probes, and failed outbound probe sends) and
// removed by the staleness sweep; everything else only reads.
package score

import (
	"math"
	"sync"
	"time"
)

// StaleTimeout is how long a neighbour can go without a probe before it
// is treated as unreachable (+Inf latency) and evicted on the next sweep.
const StaleTimeout = 15 * time.Second

// Entry is a snapshot of one neighbour's score, safe to read after
// Table has released its lock.
type Entry struct {
	IP              string
	LatencyMillis   float64
	Catalogue       []string
	LastUpdateTime  time.Time
	insertionOrder  int
}

type row struct {
	latencyMillis  float64
	catalogue      []string
	lastUpdateTime time.Time
	insertionOrder int
}

// Table is the set of currently known neighbours and their scores,
// guarded by a single mutex held only for the duration of a table
// read/mutate — never across socket I/O.
type Table struct {
	mu      sync.Mutex
	rows    map[string]*row
	nextSeq int
}

// NewTable creates an empty neighbour score table.
func NewTable() *Table {
	return &Table{rows: make(map[string]*row)}
}

// Update records a fresh observation for ip, creating the entry on first
// sight. Called by the probe plane, directly or via MarkUnreachable.
func (t *Table) Update(ip string, latencyMillis float64, catalogue []string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.rows[ip]
	if !ok {
		r = &row{insertionOrder: t.nextSeq}
		t.nextSeq++
		t.rows[ip] = r
	}
	r.latencyMillis = latencyMillis
	r.catalogue = catalogue
	r.lastUpdateTime = now
}

// MarkUnreachable records a failed probe attempt to ip (connect timeout,
// malformed payload) as +Inf latency with no catalogue, per the
// transient-network-fault error policy. The entry's lastUpdateTime is
// still refreshed, since a failure is itself an observation.
func (t *Table) MarkUnreachable(ip string, now time.Time) {
	t.Update(ip, math.Inf(1), []string{"NO_DATA"}, now)
}

// sweepLocked removes entries whose lastUpdateTime is older than
// StaleTimeout, relative to now. Caller must hold t.mu.
func (t *Table) sweepLocked(now time.Time) {
	for ip, r := range t.rows {
		if now.Sub(r.lastUpdateTime) > StaleTimeout {
			delete(t.rows, ip)
		}
	}
}

// Sweep evicts stale entries. Safe to call from any goroutine; it is
// invoked lazily before every best-upstream query.
func (t *Table) Sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked(now)
}

// Best runs the staleness sweep and returns the neighbour with the
// lowest finite latency, ties broken by first-seen (insertion order).
// ok is false if no entry with a finite latency remains after sweeping.
func (t *Table) Best(now time.Time) (entry Entry, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked(now)

	bestIP := ""
	var best *row
	for ip, r := range t.rows {
		if math.IsInf(r.latencyMillis, 0) || math.IsNaN(r.latencyMillis) {
			continue
		}
		if best == nil ||
			r.latencyMillis < best.latencyMillis ||
			(r.latencyMillis == best.latencyMillis && r.insertionOrder < best.insertionOrder) {
			best = r
			bestIP = ip
		}
	}
	if best == nil {
		return Entry{}, false
	}
	return toEntry(bestIP, best), true
}

// Get returns a snapshot of ip's current entry, if known.
func (t *Table) Get(ip string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rows[ip]
	if !ok {
		return Entry{}, false
	}
	return toEntry(ip, r), true
}

// Snapshot returns every current entry, for diagnostics/admin use.
func (t *Table) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.rows))
	for ip, r := range t.rows {
		out = append(out, toEntry(ip, r))
	}
	return out
}

func toEntry(ip string, r *row) Entry {
	cat := make([]string, len(r.catalogue))
	copy(cat, r.catalogue)
	return Entry{
		IP:             ip,
		LatencyMillis:  r.latencyMillis,
		Catalogue:      cat,
		LastUpdateTime: r.lastUpdateTime,
		insertionOrder: r.insertionOrder,
	}
}
