// Command bootstrap serves the static neighbour map origins and
// relays consult at startup, loaded once from a JSON file keyed by
// caller IP.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/overlaynet/overlaynet/internal/bootstrap"
	"github.com/overlaynet/overlaynet/internal/config"
)

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var (
		port = flag.Int("port", 0, "TCP port to serve neighbour queries on")
		file = flag.String("file", "", "path to the neighbour map JSON file")
	)
	flag.Parse()

	*port = config.IntOr(*port, "BOOTSTRAP_PORT", config.DefaultBootstrapPort)
	*file = config.StringOr(*file, "NEIGHBOUR_FILE", "")

	if *file == "" {
		slog.Error("--file (neighbour map JSON) is required")
		os.Exit(1)
	}

	neighbours, err := bootstrap.LoadNeighbours(*file)
	if err != nil {
		slog.Error("failed to load neighbour map", "error", err)
		os.Exit(1)
	}
	slog.Info("neighbour map loaded", "entries", len(neighbours))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	svc := bootstrap.NewService(*port, neighbours)
	if err := svc.Run(ctx); err != nil {
		slog.Error("bootstrap service exited", "error", err)
		os.Exit(1)
	}
}
