// Package node composes the shared overlay node core: every background
// task a role (origin/relay/PoP) can run, gated by a Capabilities set
// rather than by role-specific inheritance.
package node

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/overlaynet/overlaynet/internal/catalog"
	"github.com/overlaynet/overlaynet/internal/errs"
	"github.com/overlaynet/overlaynet/internal/fanout"
	"github.com/overlaynet/overlaynet/internal/score"
	"github.com/overlaynet/overlaynet/internal/subscription"
	"github.com/overlaynet/overlaynet/internal/transport"
	"github.com/overlaynet/overlaynet/internal/upstream"
)

// Capabilities selects which background tasks a Node runs. A role is
// just a particular combination of these flags; there is no separate
// Origin/Relay/Client type.
type Capabilities struct {
	ProbeEmit    bool // origins, and any node advertising a catalogue
	ProbeForward bool // relays: flood probes hop-by-hop
	FrameEmit    bool // origins: per-video frame generator
	FrameFanout  bool // relays: demux + fan out inbound datagrams
	ClientRPC    bool // PoPs: answer LATENCY_REQUEST from clients
}

// Config is every port and static input a Node's capabilities might
// need. Fields irrelevant to the configured Capabilities are ignored.
type Config struct {
	Neighbours []string // probe-plane peers (ProbeEmit/ProbeForward)

	ProbePort   int // TCP, latency probe plane
	ControlPort int // TCP, START_STREAM/STOP_STREAM/HEARTBEAT
	DataPort    int // UDP, FramePacket plane
	RPCPort     int // UDP, client LATENCY_REQUEST/RESPONSE

	Catalogue *catalog.Catalogue // required if FrameEmit
	Source    EmitterSourceFunc  // required if FrameEmit
}

// EmitterSourceFunc builds the FrameSource a newly-demanded video should
// read from. Lets cmd/origin choose the concrete source (looped files,
// SRT ingest) without this package depending on either.
type EmitterSourceFunc func(video string) (fanout.FrameSource, error)

// Node is the running instance of a capability set: every table,
// session, and background task it implies, wired together.
type Node struct {
	log  *slog.Logger
	caps Capabilities
	cfg  Config

	Scores    *score.Table
	Subs      *subscription.Table
	Pool      *transport.Pool
	Upstream  *upstream.Session
	ActiveSet *catalog.ActiveSet
	RPC       *score.RPCResponder

	probeEmit *score.Emitter
	probeRecv *score.Receiver
	demux     *fanout.Demux
	listener  *subscription.Listener
}

// New builds a Node for caps with the given configuration. Only the
// pieces the capability set needs are constructed; the rest are left
// nil.
func New(caps Capabilities, cfg Config) *Node {
	n := &Node{
		log:    slog.With("component", "node"),
		caps:   caps,
		cfg:    cfg,
		Scores: score.NewTable(),
		Pool:   transport.New(),
	}

	switch {
	case caps.FrameEmit:
		// An origin drives its subscription table's sink straight into
		// its own per-video emitter lifecycle; it has no upstream.
		n.ActiveSet = catalog.NewActiveSet(n.emitterFactory)
		n.Subs = subscription.NewTable(n.ActiveSet)

	case caps.FrameFanout || caps.ClientRPC || caps.ProbeForward:
		// A relay/PoP holds an upstream, and the two are mutually
		// referential: the table's sink drives the session, and the
		// session reads demand from the table. sink is constructed
		// first holding a nil Session and patched once the Session
		// exists, since NewTable needs a sink up front.
		sink := &upstreamSink{}
		n.Subs = subscription.NewTable(sink)
		n.Upstream = upstream.New(n.Scores, n.Subs, n.Pool, cfg.ControlPort)
		sink.session = n.Upstream

	default:
		n.Subs = subscription.NewTable(nil)
	}

	if caps.ProbeEmit {
		n.probeEmit = score.NewEmitter(cfg.Neighbours, cfg.ProbePort, n.catalogueFunc, n.Scores)
	}
	if caps.ProbeForward || caps.ProbeEmit {
		n.probeRecv = score.NewReceiver(cfg.ProbePort, n.Scores, cfg.Neighbours, caps.ProbeForward)
	}
	if caps.FrameFanout {
		n.demux = fanout.NewDemux(cfg.DataPort, n.Subs)
	}
	if caps.ClientRPC {
		n.RPC = score.NewRPCResponder(cfg.RPCPort, n.Scores)
	}

	n.listener = subscription.NewListener(cfg.ControlPort, n.Subs)

	return n
}

// emitterFactory adapts a demanded video name into a running
// fanout.Emitter, satisfying catalog.EmitterFactory. Only meaningful
// when Capabilities.FrameEmit is set.
func (n *Node) emitterFactory(ctx context.Context, video string) error {
	if n.cfg.Catalogue != nil && !n.cfg.Catalogue.Has(video) {
		return fmt.Errorf("start emitter for %s: %w", video, errs.ErrUnknownVideo)
	}
	source, err := n.cfg.Source(video)
	if err != nil {
		return err
	}
	// Unsubscribe runs on its own goroutine: removing the last subscriber
	// makes ActiveSet.StopUpstream wait for this very emitter to exit.
	remove := func(video, subscriberIP string) { go n.Subs.Unsubscribe(video, subscriberIP) }
	emitter := fanout.NewEmitter(video, source, n.Subs, remove, n.cfg.DataPort)
	return emitter.Run(ctx)
}

// catalogueFunc supplies the Catalogue an outbound probe advertises.
func (n *Node) catalogueFunc() []string {
	if n.cfg.Catalogue != nil {
		return n.cfg.Catalogue.Names()
	}
	return nil
}

// Run starts every background task this Node's Capabilities require
// and blocks until ctx is cancelled or one of them returns an error. A
// panic in any one task is recovered and reported as an error rather
// than crashing the node.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(n.guard("control-listener", func() error { return n.listener.Run(ctx) }))
	g.Go(n.guard("heartbeat-sweep", func() error { return subscription.RunSweep(ctx, n.Subs) }))

	if n.probeEmit != nil {
		g.Go(n.guard("probe-emitter", func() error { return n.probeEmit.Run(ctx) }))
	}
	if n.probeRecv != nil {
		g.Go(n.guard("probe-receiver", func() error { return n.probeRecv.Run(ctx) }))
	}
	if n.demux != nil {
		g.Go(n.guard("fanout-demux", func() error { return n.demux.Run(ctx) }))
	}
	if n.RPC != nil {
		g.Go(n.guard("client-rpc", func() error { return n.RPC.Run(ctx) }))
	}
	if n.Upstream != nil {
		g.Go(n.guard("upstream-switchover", func() error { return n.Upstream.RunSwitchover(ctx) }))
		g.Go(n.guard("upstream-heartbeat", func() error { return n.Upstream.RunHeartbeat(ctx) }))
	}

	n.log.Info("running", "capabilities", n.caps)

	err := g.Wait()
	if n.ActiveSet != nil {
		n.ActiveSet.Shutdown()
	}
	return err
}

// guard wraps a background task so a panic is recovered and logged as
// an error return instead of taking down the whole node.
func (n *Node) guard(task string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				n.log.Error("task panicked, recovered", "task", task, "panic", r)
				err = fmt.Errorf("task %s panicked: %v", task, r)
			}
		}()
		return fn()
	}
}

// upstreamSink adapts *upstream.Session to subscription.UpstreamSink,
// issuing an immediate control-plane notification with a background
// context since Table calls Start/StopUpstream outside any request
// context of its own.
type upstreamSink struct {
	session *upstream.Session
}

func (s *upstreamSink) StartUpstream(video string) {
	s.session.NotifyStart(context.Background(), video)
}

func (s *upstreamSink) StopUpstream(video string) {
	s.session.NotifyStop(context.Background(), video)
}
