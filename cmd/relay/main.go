// Command relay runs a PoP overlay node: it forwards latency probes,
// fans frames it receives from its chosen upstream out to subscribed
// clients and other relays, and answers client LATENCY_REQUEST RPCs.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flag"

	"golang.org/x/sync/errgroup"

	"github.com/overlaynet/overlaynet/certs"
	"github.com/overlaynet/overlaynet/internal/admin"
	"github.com/overlaynet/overlaynet/internal/bootstrap"
	"github.com/overlaynet/overlaynet/internal/config"
	"github.com/overlaynet/overlaynet/internal/node"
)

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var (
		bootstrapAddr = flag.String("ip", "", "bootstrap service address (host:port)")
		probePort     = flag.Int("probe-port", 0, "TCP port for the latency probe plane")
		controlPort   = flag.Int("control-port", 0, "TCP port for START_STREAM/STOP_STREAM/HEARTBEAT")
		dataPort      = flag.Int("data-port", 0, "UDP port for the FramePacket data plane")
		rpcPort       = flag.Int("rpc-port", 0, "UDP port for client LATENCY_REQUEST/RESPONSE")
		adminAddr     = flag.String("admin-addr", "", "HTTP/3 admin API address, empty to disable")
	)
	flag.Parse()

	*bootstrapAddr = config.StringOr(*bootstrapAddr, "BOOTSTRAP_ADDR", "")
	*probePort = config.IntOr(*probePort, "PROBE_PORT", config.DefaultProbePort)
	*controlPort = config.IntOr(*controlPort, "CONTROL_PORT", config.DefaultControlPort)
	*dataPort = config.IntOr(*dataPort, "DATA_PORT", config.DefaultDataPort)
	*rpcPort = config.IntOr(*rpcPort, "RPC_PORT", config.DefaultRPCPort)
	adminSet := false
	flag.Visit(func(f *flag.Flag) { adminSet = adminSet || f.Name == "admin-addr" })
	if !adminSet {
		*adminAddr = config.StringOr(*adminAddr, "ADMIN_ADDR", config.DefaultAdminAddr)
	}

	if *bootstrapAddr == "" {
		slog.Error("--ip (bootstrap address) is required")
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

	n := node.New(node.Capabilities{ProbeForward: true, FrameFanout: true, ClientRPC: true}, node.Config{
		Neighbours:  neighbours,
		ProbePort:   *probePort,
		ControlPort: *controlPort,
		DataPort:    *dataPort,
		RPCPort:     *rpcPort,
	})

	adm := admin.New(*adminAddr, cert, n.Scores, n.Subs, n.Upstream)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.Run(ctx) })
	g.Go(func() error { return adm.Run(ctx) })

	if err := g.Wait(); err != nil {
		slog.Error("relay exited", "error", err)
		os.Exit(1)
	}
}
