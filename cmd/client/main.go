// Command client watches one video from whichever configured PoP
// currently reports the lowest latency, reselecting automatically as
// conditions change. Unlike origin/relay, a client takes its PoP list
// directly on the command line and never queries the bootstrap
// service.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/overlaynet/overlaynet/internal/clientapp"
	"github.com/overlaynet/overlaynet/internal/config"
)

// catalogueWarmup bounds how long the client waits for at least one
// PoP to report a catalogue before prompting, so a cold start with an
// unreachable PoP still eventually asks the user (with an empty list)
// instead of hanging forever.
const catalogueWarmup = 10 * time.Second

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var (
		pops        stringListFlag
		rpcPort     = flag.Int("rpc-port", 0, "UDP port to probe each PoP's LATENCY_REQUEST responder on")
		controlPort = flag.Int("control-port", 0, "TCP port to send START_STREAM/STOP_STREAM/HEARTBEAT on")
		dataPort    = flag.Int("data-port", 0, "UDP port to receive FramePackets on")
	)
	flag.Var(&pops, "ip", "PoP address to probe (repeatable)")
	flag.Parse()

	popList := config.StringListOr(pops.values, "POPS")
	*rpcPort = config.IntOr(*rpcPort, "RPC_PORT", config.DefaultRPCPort)
	*controlPort = config.IntOr(*controlPort, "CONTROL_PORT", config.DefaultControlPort)
	*dataPort = config.IntOr(*dataPort, "DATA_PORT", config.DefaultDataPort)

	if len(popList) == 0 {
		slog.Error("at least one --ip <pop address> is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	app := clientapp.NewApp(popList, *rpcPort, *controlPort, *dataPort, loggingSink{})

	runErr := make(chan error, 1)
	go func() { runErr <- app.Run(ctx) }()

	waitForCatalogue(ctx, app)

	video, err := clientapp.PromptForVideo(os.Stdin, app.Catalogue())
	if err != nil {
		slog.Error("reading video choice failed", "error", err)
		cancel()
	} else {
		app.ChooseVideo(video)
		slog.Info("watching video", "video", video)
	}

	if err := <-runErr; err != nil {
		slog.Error("client exited", "error", err)
		os.Exit(1)
	}
}

// waitForCatalogue polls App.Catalogue until it is non-empty or
// catalogueWarmup elapses, giving the probers time to hear back from
// at least one configured PoP before the interactive prompt.
func waitForCatalogue(ctx context.Context, app *clientapp.App) {
	deadline := time.NewTimer(catalogueWarmup)
	defer deadline.Stop()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		if len(app.Catalogue()) > 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
		}
	}
}

// stringListFlag collects repeated -ip flag values.
type stringListFlag struct {
	values []string
}

func (f *stringListFlag) String() string {
	if f == nil {
		return ""
	}
	return ""
}

func (f *stringListFlag) Set(v string) error {
	f.values = append(f.values, v)
	return nil
}

// loggingSink renders received frames as a log line, standing in for
// an actual video decoder/renderer, which lives outside this overlay.
type loggingSink struct{}

func (loggingSink) DisplayFrame(videoID string, data []byte) {
	slog.Debug("frame received", "video", videoID, "bytes", len(data))
}
