// Package catalog tracks an origin's named video library and the
// lifecycle of each video's active frame-emitter task, started on
// first subscriber and stopped once the last one leaves. Grounded on
// internal/stream/manager.go's create/remove/list lifecycle tracker,
// generalized from one goroutine-per-ingest-connection to one
// goroutine-per-actively-demanded-video.
package catalog

import (
	"context"
	"log/slog"
	"sync"
)

// Catalogue is the static set of video names an origin can serve.
// Built once at startup from configuration; never mutated at runtime.
type Catalogue struct {
	names []string
}

// New creates a Catalogue advertising exactly names.
func New(names []string) *Catalogue {
	cp := make([]string, len(names))
	copy(cp, names)
	return &Catalogue{names: cp}
}

// Names returns the full advertised catalogue, in configured order.
func (c *Catalogue) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Has reports whether video is a known catalogue entry.
func (c *Catalogue) Has(video string) bool {
	for _, n := range c.names {
		if n == video {
			return true
		}
	}
	return false
}

// EmitterFactory starts the background task that generates and fans
// out frames for video, returning when ctx is cancelled or the source
// is exhausted.
type EmitterFactory func(ctx context.Context, video string) error

// ActiveSet tracks, for each video with at least one subscriber,
// the goroutine running its frame emitter — started exactly once on
// the first subscriber and cancelled once the last leaves, mirroring
// stream.Manager's Create/Remove but keyed by demand rather than by
// ingest connection.
type ActiveSet struct {
	log     *slog.Logger
	factory EmitterFactory

	mu     sync.Mutex
	active map[string]context.CancelFunc
	done   map[string]chan struct{}
}

// NewActiveSet creates an ActiveSet that starts emitters via factory.
func NewActiveSet(factory EmitterFactory) *ActiveSet {
	return &ActiveSet{
		log:     slog.With("component", "catalog-active-set"),
		factory: factory,
		active:  make(map[string]context.CancelFunc),
		done:    make(map[string]chan struct{}),
	}
}

// StartUpstream begins emitting video if it is not already active.
// Satisfies subscription.UpstreamSink so an origin's subscription
// table can drive it directly.
func (a *ActiveSet) StartUpstream(video string) {
	a.mu.Lock()
	if _, ok := a.active[video]; ok {
		a.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.active[video] = cancel
	a.done[video] = done
	a.mu.Unlock()

	a.log.Info("starting emitter", "video", video)
	go func() {
		defer close(done)
		if err := a.factory(ctx, video); err != nil && ctx.Err() == nil {
			a.log.Warn("emitter exited with error", "video", video, "error", err)
		}
	}()
}

// StopUpstream cancels video's emitter task if running, and waits for
// it to exit. Satisfies subscription.UpstreamSink.
func (a *ActiveSet) StopUpstream(video string) {
	a.mu.Lock()
	cancel, ok := a.active[video]
	done := a.done[video]
	if ok {
		delete(a.active, video)
		delete(a.done, video)
	}
	a.mu.Unlock()

	if !ok {
		return
	}
	a.log.Info("stopping emitter", "video", video)
	cancel()
	<-done
}

// Active returns the videos currently being emitted.
func (a *ActiveSet) Active() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.active))
	for video := range a.active {
		out = append(out, video)
	}
	return out
}

// Shutdown cancels every active emitter and waits for them all to exit.
func (a *ActiveSet) Shutdown() {
	a.mu.Lock()
	dones := make([]chan struct{}, 0, len(a.done))
	for video, cancel := range a.active {
		cancel()
		dones = append(dones, a.done[video])
	}
	a.active = make(map[string]context.CancelFunc)
	a.done = make(map[string]chan struct{})
	a.mu.Unlock()

	for _, d := range dones {
		<-d
	}
}
