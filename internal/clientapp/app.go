package clientapp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/overlaynet/overlaynet/internal/transport"
	"github.com/overlaynet/overlaynet/internal/wire"
)

// reselectInterval is how often the best-PoP reselection task wakes.
const reselectInterval = 5 * time.Second

// heartbeatInterval is how often HEARTBEAT is sent to the current PoP.
const heartbeatInterval = 2 * time.Second

// App is the client orchestrator: N Probers (one per configured PoP),
// a best-PoP reselection task, a heartbeat emitter, and the frame
// Receiver. A thin composition layer over the same internal/score-style
// prober shape and an internal/transport pooled sender for control
// commands.
type App struct {
	log      *slog.Logger
	probers  []*Prober
	pool     *transport.Pool
	receiver *Receiver

	controlPort int

	mu         sync.Mutex
	currentPoP string
	video      string // chosen once, never changes after selection
}

// NewApp creates an App that probes every pop in pops on rpcPort,
// controls subscriptions on controlPort, and delivers reassembled
// frames to sink on dataPort.
func NewApp(pops []string, rpcPort, controlPort, dataPort int, sink FrameSink) *App {
	probers := make([]*Prober, len(pops))
	for i, pop := range pops {
		probers[i] = NewProber(pop, rpcPort)
	}
	return &App{
		log:         slog.With("component", "client-app"),
		probers:     probers,
		pool:        transport.New(),
		receiver:    NewReceiver(dataPort, sink),
		controlPort: controlPort,
	}
}

// ChooseVideo sets the one video this client watches for its lifetime,
// a one-time interactive choice. It may be called before or after Run:
// any PoP already selected is cleared, so the next reselection tick
// sends START_STREAM for video to the best PoP.
func (a *App) ChooseVideo(video string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.video = video
	a.currentPoP = ""
}

// PromptForVideo prints the catalogue and reads one line from r
// (typically os.Stdin) naming the chosen video.
func PromptForVideo(r io.Reader, catalogue []string) (string, error) {
	fmt.Println("Available videos:")
	sort.Strings(catalogue)
	for _, name := range catalogue {
		fmt.Printf("  %s\n", name)
	}
	fmt.Print("Choose a video: ")

	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return scanner.Text(), nil
}

// Run starts every Prober, the reselection task, the heartbeat task,
// and the frame Receiver, blocking until ctx is cancelled or one of
// them returns an error.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, p := range a.probers {
		p := p
		g.Go(func() error { return p.Run(ctx) })
	}
	g.Go(func() error { a.runReselect(ctx); return nil })
	g.Go(func() error { a.runHeartbeat(ctx); return nil })
	g.Go(func() error { return a.receiver.Run(ctx) })

	return g.Wait()
}

func (a *App) runReselect(ctx context.Context) {
	ticker := time.NewTicker(reselectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.reselectOnce(ctx)
		}
	}
}

func (a *App) reselectOnce(ctx context.Context) {
	best, ok := a.bestPoP()
	if !ok {
		return
	}

	a.mu.Lock()
	old := a.currentPoP
	video := a.video
	if best == old {
		a.mu.Unlock()
		return
	}
	a.currentPoP = best
	a.mu.Unlock()

	if video == "" {
		a.receiver.SetSource(best)
		a.log.Info("selected PoP", "pop", best)
		return
	}

	if old != "" {
		a.sendControl(ctx, old, wire.ControlMsg{Kind: wire.ControlStopStream, Video: video})
	}
	a.receiver.SetSource(best)
	a.sendControl(ctx, best, wire.ControlMsg{Kind: wire.ControlStartStream, Video: video})
	a.log.Info("switched PoP", "from", old, "to", best, "video", video)
}

// bestPoP returns the PoP with the lowest averaged latency among
// probers that currently have data.
func (a *App) bestPoP() (string, bool) {
	var best PoPObservation
	found := false
	for _, p := range a.probers {
		obs := p.Observation()
		if !obs.HasData || !wire.IsFinite(obs.LatencyMillis) {
			continue
		}
		if !found || obs.LatencyMillis < best.LatencyMillis {
			best = obs
			found = true
		}
	}
	if !found {
		return "", false
	}
	return best.PoP, true
}

// Catalogue returns the union of catalogues advertised by every PoP
// with current data, for the interactive video prompt.
func (a *App) Catalogue() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range a.probers {
		obs := p.Observation()
		for _, name := range obs.Catalogue {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				out = append(out, name)
			}
		}
	}
	return out
}

func (a *App) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sendHeartbeat(ctx)
		}
	}
}

func (a *App) sendHeartbeat(ctx context.Context) {
	a.mu.Lock()
	pop := a.currentPoP
	a.mu.Unlock()
	if pop == "" {
		return
	}
	a.sendControl(ctx, pop, wire.ControlMsg{Kind: wire.ControlHeartbeat})
}

func (a *App) sendControl(ctx context.Context, ip string, msg wire.ControlMsg) {
	sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	addr := net.JoinHostPort(ip, fmt.Sprintf("%d", a.controlPort))
	if err := a.pool.Send(sendCtx, addr, wire.EncodeControl(msg)); err != nil {
		a.log.Debug("control send failed", "pop", ip, "command", msg.Kind, "error", err)
	}
}
