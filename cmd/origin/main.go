// Command origin serves a static catalogue of looped video files,
// pushing per-video UDP frame chunks to whichever overlay node
// currently subscribes to them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/overlaynet/overlaynet/certs"
	"github.com/overlaynet/overlaynet/internal/admin"
	"github.com/overlaynet/overlaynet/internal/bootstrap"
	"github.com/overlaynet/overlaynet/internal/catalog"
	"github.com/overlaynet/overlaynet/internal/config"
	"github.com/overlaynet/overlaynet/internal/fanout"
	"github.com/overlaynet/overlaynet/internal/node"
)

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var (
		videoDir      = flag.String("video-dir", "", "directory containing one subdirectory of looped .jpg frames per video")
		fps           = flag.Float64("fps", 30, "frame rate to emit each looped video at")
		bootstrapAddr = flag.String("ip", "", "bootstrap service address (host:port)")
		probePort     = flag.Int("probe-port", 0, "TCP port for the latency probe plane")
		controlPort   = flag.Int("control-port", 0, "TCP port for START_STREAM/STOP_STREAM/HEARTBEAT")
		dataPort      = flag.Int("data-port", 0, "UDP port for the FramePacket data plane")
		adminAddr     = flag.String("admin-addr", "", "HTTP/3 admin API address, empty to disable")
	)
	flag.Parse()

	*videoDir = config.StringOr(*videoDir, "VIDEO_DIR", "")
	*bootstrapAddr = config.StringOr(*bootstrapAddr, "BOOTSTRAP_ADDR", "")
	*probePort = config.IntOr(*probePort, "PROBE_PORT", config.DefaultProbePort)
	*controlPort = config.IntOr(*controlPort, "CONTROL_PORT", config.DefaultControlPort)
	*dataPort = config.IntOr(*dataPort, "DATA_PORT", config.DefaultDataPort)
	adminSet := false
	flag.Visit(func(f *flag.Flag) { adminSet = adminSet || f.Name == "admin-addr" })
	if !adminSet {
		*adminAddr = config.StringOr(*adminAddr, "ADMIN_ADDR", config.DefaultAdminAddr)
	}

	if *videoDir == "" {
		slog.Error("--video-dir is required")
		os.Exit(1)
	}
	if *bootstrapAddr == "" {
		slog.Error("--ip (bootstrap address) is required")
		os.Exit(1)
	}

	names, err := catalogueNames(*videoDir)
	if err != nil {
		slog.Error("failed to read video directory", "error", err)
		os.Exit(1)
	}
	cat := catalog.New(names)
	slog.Info("catalogue loaded", "videos", names)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	neighbours, err := bootstrap.Query(ctx, *bootstrapAddr)
	if err != nil {
		slog.Error("bootstrap lookup failed", "error", err)
		os.Exit(1)
	}
	slog.Info("bootstrap resolved", "neighbours", neighbours)

	cert, err := certs.Generate(14 * 24 * time.Hour)
	if err != nil {
		slog.Error("failed to generate admin API cert", "error", err)
		os.Exit(1)
	}

	n := node.New(node.Capabilities{ProbeEmit: true, FrameEmit: true}, node.Config{
		Neighbours:  neighbours,
		ProbePort:   *probePort,
		ControlPort: *controlPort,
		DataPort:    *dataPort,
		Catalogue:   cat,
		Source: func(video string) (fanout.FrameSource, error) {
			return catalog.NewLoopFileSource(filepath.Join(*videoDir, video), *fps)
		},
	})

	adm := admin.New(*adminAddr, cert, n.Scores, n.Subs, nil)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.Run(ctx) })
	g.Go(func() error { return adm.Run(ctx) })

	if err := g.Wait(); err != nil {
		slog.Error("origin exited", "error", err)
		os.Exit(1)
	}
}

// catalogueNames lists the immediate subdirectories of dir, one per
// advertised video, matching the directory-of-looped-frames layout
// internal/catalog.LoopFileSource reads.
func catalogueNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
