// Package subscription maintains the per-video subscriber set and the
// per-downstream heartbeat table, and runs the control-plane listener
// and sweep task that keep them current. Grounded on
// internal/distribution/relay.go's snapshot-then-iterate discipline for
// safe fan-out under concurrent mutation.
package subscription

import (
	"sync"
	"time"
)

// HeartbeatTimeout is how long a downstream can go without a HEARTBEAT
// before it is evicted from every video's subscriber set.
const HeartbeatTimeout = 6 * time.Second

// UpstreamSink is notified when a video's subscriber set transitions
// between empty and non-empty, so the caller can issue the
// corresponding upstream START_STREAM / STOP_STREAM.
type UpstreamSink interface {
	StartUpstream(video string)
	StopUpstream(video string)
}

// Table is the VideoSubscriptionTable plus the HeartbeatTable, guarded
// by one mutex. They are kept together because every mutation of one
// potentially mutates the other (a heartbeat timeout removes a
// subscriber from every video it was subscribed to).
type Table struct {
	mu   sync.Mutex
	subs map[string]map[string]struct{} // video -> set of subscriber IPs
	hb   map[string]time.Time           // subscriber IP -> last heartbeat

	sink UpstreamSink
}

// NewTable creates an empty subscription/heartbeat table. sink receives
// StartUpstream/StopUpstream calls on empty<->non-empty transitions.
// The calls are made after the lock is released, so a sink may block
// (the in-tree sinks do: network sends, or waiting for an emitter to
// exit); the caller of the mutating method waits for it.
func NewTable(sink UpstreamSink) *Table {
	return &Table{
		subs: make(map[string]map[string]struct{}),
		hb:   make(map[string]time.Time),
		sink: sink,
	}
}

// Subscribe adds subscriberIP to video's subscriber set and touches its
// heartbeat. If this is the first subscriber for video, sink.StartUpstream
// is invoked after the lock is released.
func (t *Table) Subscribe(video, subscriberIP string, now time.Time) {
	t.mu.Lock()
	set, ok := t.subs[video]
	wasEmpty := !ok || len(set) == 0
	if !ok {
		set = make(map[string]struct{})
		t.subs[video] = set
	}
	set[subscriberIP] = struct{}{}
	t.hb[subscriberIP] = now
	t.mu.Unlock()

	if wasEmpty && t.sink != nil {
		t.sink.StartUpstream(video)
	}
}

// Unsubscribe removes subscriberIP from video's subscriber set. If the
// set becomes empty, the video key is deleted (empty-set entries must
// be absent, so membership test == "has subscribers") and
// sink.StopUpstream is invoked after the lock is released.
func (t *Table) Unsubscribe(video, subscriberIP string) {
	t.mu.Lock()
	becameEmpty := t.removeLocked(video, subscriberIP)
	t.mu.Unlock()

	if becameEmpty && t.sink != nil {
		t.sink.StopUpstream(video)
	}
}

// removeLocked removes subscriberIP from video's set, deleting the key
// if the set becomes empty. Returns true if the set transitioned to
// empty (and was therefore deleted). Caller must hold t.mu.
func (t *Table) removeLocked(video, subscriberIP string) bool {
	set, ok := t.subs[video]
	if !ok {
		return false
	}
	if _, present := set[subscriberIP]; !present {
		return false
	}
	delete(set, subscriberIP)
	if len(set) == 0 {
		delete(t.subs, video)
		return true
	}
	return false
}

// Touch records a HEARTBEAT from subscriberIP without altering its
// subscriptions.
func (t *Table) Touch(subscriberIP string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hb[subscriberIP] = now
}

// Subscribers returns a snapshot of the current subscriber set for
// video, safe to iterate after the lock is released.
func (t *Table) Subscribers(video string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.subs[video]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for ip := range set {
		out = append(out, ip)
	}
	return out
}

// ActiveVideos returns every video name with at least one subscriber —
// i.e. the set a relay's upstream must be subscribed to (§8 invariant).
func (t *Table) ActiveVideos() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.subs))
	for video := range t.subs {
		out = append(out, video)
	}
	return out
}

// SweepHeartbeats removes any subscriber whose last heartbeat is older
// than HeartbeatTimeout from every video's subscriber set, as if it had
// sent STOP_STREAM for each, and returns the videos whose subscriber
// set became empty as a result so the caller can issue upstream
// STOP_STREAM for them. Run once per second.
func (t *Table) SweepHeartbeats(now time.Time) []string {
	t.mu.Lock()

	var stale []string
	for ip, last := range t.hb {
		if now.Sub(last) > HeartbeatTimeout {
			stale = append(stale, ip)
		}
	}

	var emptied []string
	for _, ip := range stale {
		delete(t.hb, ip)
		for video := range t.subs {
			if t.removeLocked(video, ip) {
				emptied = append(emptied, video)
			}
		}
	}
	t.mu.Unlock()

	for _, video := range emptied {
		if t.sink != nil {
			t.sink.StopUpstream(video)
		}
	}
	return emptied
}

// Snapshot returns the full subscription table as video -> subscriber
// IPs, for admin/diagnostics use.
func (t *Table) Snapshot() map[string][]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string][]string, len(t.subs))
	for video, set := range t.subs {
		ips := make([]string, 0, len(set))
		for ip := range set {
			ips = append(ips, ip)
		}
		out[video] = ips
	}
	return out
}
