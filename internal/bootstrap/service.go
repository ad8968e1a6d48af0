// Package bootstrap implements the static neighbour-query service
// nodes consult on startup, plus a client helper for querying it, using
// an accept-loop-per-client server and a caller-IP-keyed JSON
// neighbour map.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/overlaynet/overlaynet/internal/wire"
)

// maxHelloBytes bounds the inbound greeting read.
const maxHelloBytes = 256

// Service answers neighbour queries from a static IP -> neighbour-list
// map, loaded once from a JSON file at startup.
type Service struct {
	log        *slog.Logger
	port       int
	neighbours map[string][]string
}

// LoadNeighbours reads the bootstrap JSON file: {"<caller_ip>": ["<neighbour_ip>", …]}.
func LoadNeighbours(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read neighbour file %s: %w", path, err)
	}
	var out map[string][]string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse neighbour file %s: %w", path, err)
	}
	return out, nil
}

// NewService creates a Service serving neighbours on port.
func NewService(port int, neighbours map[string][]string) *Service {
	return &Service{
		log:        slog.With("component", "bootstrap-service"),
		port:       port,
		neighbours: neighbours,
	}
}

// Run accepts neighbour-query connections until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("bootstrap service listen: %w", err)
	}
	defer ln.Close()

	s.log.Info("listening", "port", s.port)
	context.AfterFunc(ctx, func() { ln.Close() })

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Debug("accept error", "error", err)
			continue
		}
		go s.handle(conn)
	}
}

func (s *Service) handle(conn net.Conn) {
	defer conn.Close()

	callerIP, _, _ := net.SplitHostPort(conn.RemoteAddr().String())

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, maxHelloBytes)
	if _, err := conn.Read(buf); err != nil {
		s.log.Debug("hello read failed", "caller", callerIP, "error", err)
		return
	}

	neighbours, ok := s.neighbours[callerIP]
	if !ok {
		s.log.Info("no neighbours configured for caller", "caller", callerIP)
		conn.Write([]byte(wire.BootstrapError))
		return
	}
	conn.Write([]byte(wire.EncodeBootstrapResponse(neighbours)))
}
