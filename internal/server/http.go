// Package server exposes the observer-facing surfaces: the WebSocket
// endpoint browsers attach through, the health probes and the gRPC health
// service.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"MarketWatch/internal/core"
	"MarketWatch/internal/observability"
)

// HTTPServer serves /ws plus the liveness and readiness probes. Failing
// to bind this listener is the only fatal startup error in steady-state
// operation.
type HTTPServer struct {
	srv *http.Server
	log zerolog.Logger
}

func NewHTTPServer(addr string, engine *core.Engine, hc *observability.HealthChecker, log zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWS(engine, log, w, r)
	})
	mux.HandleFunc("/healthz", hc.LivenessHandler)
	mux.HandleFunc("/readyz", hc.ReadinessHandler)

	return &HTTPServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// ListenAndServe blocks until the server stops. http.ErrServerClosed is
// swallowed; anything else is a bind or accept failure the caller treats
// as fatal.
func (s *HTTPServer) ListenAndServe() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("observer endpoint listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
