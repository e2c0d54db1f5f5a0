package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// Server exposes /metrics and /progress while scans run
type Server struct {
	httpServer *http.Server
	listener   net.Listener
}

// NewRouter builds the HTTP routes for the given tracker
func NewRouter(tracker *ProgressTracker) http.Handler {
	r := chi.NewRouter()

	if h := GetMetricsHandler(); h != nil {
		r.Handle("/metrics", h)
	}

	r.Get("/progress", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, tracker.Snapshot())
	})

	r.Get("/progress/{runID}", func(w http.ResponseWriter, req *http.Request) {
		p, ok := tracker.Get(chi.URLParam(req, "runID"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "scan not found"})
			return
		}
		writeJSON(w, http.StatusOK, p)
	})

	return r
}

// StartServer listens on address:port and serves in the background
func StartServer(address string, port int, tracker *ProgressTracker) (*Server, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}

	s := &Server{
		httpServer: &http.Server{
			Handler:           NewRouter(tracker),
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	log.Info().Str("address", ln.Addr().String()).Msg("Serving /metrics and /progress")
	return s, nil
}

// Addr returns the bound listener address
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Stop shuts the server down
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down metrics server")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
