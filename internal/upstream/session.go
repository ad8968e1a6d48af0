// Package upstream tracks the current upstream selection for an overlay
// node and runs the switchover and heartbeat tasks that keep it aligned
// with the score table's best-latency pick, covering the full set of
// locally-demanded videos rather than a single stream.
package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/overlaynet/overlaynet/internal/score"
	"github.com/overlaynet/overlaynet/internal/transport"
	"github.com/overlaynet/overlaynet/internal/wire"
)

// switchInterval is how often the switchover task re-evaluates the
// best upstream.
const switchInterval = 10 * time.Second

// heartbeatInterval is how often a HEARTBEAT is sent to the current
// upstream.
const heartbeatInterval = 2 * time.Second

// controlSendTimeout bounds a single best-effort STOP_STREAM/START_STREAM
// send during switchover.
const controlSendTimeout = 5 * time.Second

// VideoSource supplies the set of videos this node currently demands
// from an upstream — i.e. every video with a non-empty local subscriber
// set. Satisfied by *subscription.Table.
type VideoSource interface {
	ActiveVideos() []string
}

// Session tracks the single current upstream IP (or none) for a node,
// and issues the control-plane commands needed to keep that upstream
// subscribed to exactly the videos this node currently demands.
type Session struct {
	log         *slog.Logger
	scores      *score.Table
	videos      VideoSource
	pool        *transport.Pool
	controlPort int

	mu      sync.Mutex
	current string
}

// New creates a Session that selects among scores, tracks demand via
// videos, and sends control commands to controlPort over pool.
func New(scores *score.Table, videos VideoSource, pool *transport.Pool, controlPort int) *Session {
	return &Session{
		log:         slog.With("component", "upstream-session"),
		scores:      scores,
		videos:      videos,
		pool:        pool,
		controlPort: controlPort,
	}
}

// Current returns the presently selected upstream IP, or "" if none.
func (s *Session) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// RunSwitchover wakes every switchInterval and re-selects the best
// upstream, performing a stop-old/swap/start-new sequence when the
// selection changes. Best-effort and non-transactional: a failure in
// any one send is logged, not retried, and corrected (if still wrong)
// on the next tick.
func (s *Session) RunSwitchover(ctx context.Context) error {
	ticker := time.NewTicker(switchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.switchOnce(ctx)
		}
	}
}

func (s *Session) switchOnce(ctx context.Context) {
	best, ok := s.scores.Best(time.Now())
	if !ok || best.IP == s.Current() {
		return
	}

	s.mu.Lock()
	old := s.current
	s.current = best.IP
	s.mu.Unlock()

	demanded := s.videos.ActiveVideos()

	if old != "" {
		for _, video := range demanded {
			s.sendControl(ctx, old, wire.ControlMsg{Kind: wire.ControlStopStream, Video: video})
		}
		s.log.Info("switched upstream", "from", old, "to", best.IP)
	} else {
		s.log.Info("selected upstream", "upstream", best.IP)
	}

	for _, video := range demanded {
		s.sendControl(ctx, best.IP, wire.ControlMsg{Kind: wire.ControlStartStream, Video: video})
	}
}

// NotifyStart is called when a video transitions to having local
// subscribers; it issues START_STREAM to the current upstream
// immediately rather than waiting for the next switchover tick.
func (s *Session) NotifyStart(ctx context.Context, video string) {
	upstream := s.Current()
	if upstream == "" {
		return
	}
	s.sendControl(ctx, upstream, wire.ControlMsg{Kind: wire.ControlStartStream, Video: video})
}

// NotifyStop is called when a video's local subscriber set becomes
// empty; it issues STOP_STREAM to the current upstream immediately.
func (s *Session) NotifyStop(ctx context.Context, video string) {
	upstream := s.Current()
	if upstream == "" {
		return
	}
	s.sendControl(ctx, upstream, wire.ControlMsg{Kind: wire.ControlStopStream, Video: video})
}

func (s *Session) sendControl(ctx context.Context, ip string, msg wire.ControlMsg) {
	sendCtx, cancel := context.WithTimeout(ctx, controlSendTimeout)
	defer cancel()
	addr := fmt.Sprintf("%s:%d", ip, s.controlPort)
	if err := s.pool.Send(sendCtx, addr, wire.EncodeControl(msg)); err != nil {
		s.log.Debug("control send failed", "upstream", ip, "command", msg.Kind, "error", err)
	}
}

// RunHeartbeat sends HEARTBEAT to the current upstream's control port
// every heartbeatInterval until ctx is cancelled.
func (s *Session) RunHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sendHeartbeat(ctx)
		}
	}
}

func (s *Session) sendHeartbeat(ctx context.Context) {
	upstream := s.Current()
	if upstream == "" {
		return
	}
	s.sendControl(ctx, upstream, wire.ControlMsg{Kind: wire.ControlHeartbeat})
}
