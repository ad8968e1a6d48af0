// Package admin serves a node's read-only diagnostics as JSON over
// HTTP/3: neighbour scores, current subscriptions, the selected
// upstream, and the self-signed cert's fingerprint for client
// verification. Entirely optional observability: a node with no
// configured admin address never starts this server.
package admin

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/overlaynet/overlaynet/certs"
	"github.com/overlaynet/overlaynet/internal/score"
	"github.com/overlaynet/overlaynet/internal/subscription"
	"github.com/overlaynet/overlaynet/internal/upstream"
)

// Server exposes a node's live tables as read-only JSON. Upstream is
// nil for an origin, which has no upstream session to report.
type Server struct {
	log      *slog.Logger
	addr     string
	cert     *certs.CertInfo
	scores   *score.Table
	subs     *subscription.Table
	upstream *upstream.Session

	h3 *http3.Server
}

// New creates an admin Server. addr == "" disables it entirely; Run
// becomes a no-op in that case, matching a node's "--admin-addr \"\""
// disable switch.
func New(addr string, cert *certs.CertInfo, scores *score.Table, subs *subscription.Table, ups *upstream.Session) *Server {
	return &Server{
		log:      slog.With("component", "admin-api"),
		addr:     addr,
		cert:     cert,
		scores:   scores,
		subs:     subs,
		upstream: ups,
	}
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/neighbours", s.handleNeighbours)
	mux.HandleFunc("GET /api/subscriptions", s.handleSubscriptions)
	mux.HandleFunc("GET /api/upstream", s.handleUpstream)
	mux.HandleFunc("GET /api/cert-hash", s.handleCertHash)
	return corsMiddleware(mux)
}

// Run serves the admin API until ctx is cancelled. A no-op if no
// address was configured.
func (s *Server) Run(ctx context.Context) error {
	if s.addr == "" {
		return nil
	}

	s.h3 = &http3.Server{
		Addr:    s.addr,
		Handler: s.handler(),
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{s.cert.TLSCert},
		},
		QUICConfig: &quic.Config{
			MaxIdleTimeout: 30 * time.Second,
		},
	}

	s.log.Info("listening", "addr", s.addr)
	stop := context.AfterFunc(ctx, func() { s.h3.Close() })
	defer stop()

	err := s.h3.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

type neighbourView struct {
	IP            string   `json:"ip"`
	LatencyMillis float64  `json:"latency_ms"`
	Catalogue     []string `json:"catalogue"`
	AgeSeconds    float64  `json:"age_seconds"`
}

func (s *Server) handleNeighbours(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	s.scores.Sweep(now)
	entries := s.scores.Snapshot()

	views := make([]neighbourView, 0, len(entries))
	for _, e := range entries {
		views = append(views, neighbourView{
			IP:            e.IP,
			LatencyMillis: e.LatencyMillis,
			Catalogue:     e.Catalogue,
			AgeSeconds:    now.Sub(e.LastUpdateTime).Seconds(),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.subs.Snapshot())
}

type upstreamView struct {
	Current       string              `json:"current"`
	Subscriptions map[string][]string `json:"subscriptions"`
}

func (s *Server) handleUpstream(w http.ResponseWriter, r *http.Request) {
	if s.upstream == nil {
		writeError(w, http.StatusNotFound, "this node has no upstream session")
		return
	}
	writeJSON(w, http.StatusOK, upstreamView{
		Current:       s.upstream.Current(),
		Subscriptions: s.subs.Snapshot(),
	})
}

type certHashView struct {
	Hash string `json:"hash"`
	Addr string `json:"addr"`
}

func (s *Server) handleCertHash(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, certHashView{
		Hash: s.cert.FingerprintBase64(),
		Addr: s.addr,
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding admin API response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
