// Package api implements the local read-only HTTP status API served by
// both the node and the collector.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nugget/envnode/internal/buildinfo"
	"github.com/nugget/envnode/internal/events"
	"github.com/nugget/envnode/internal/node"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// StatusSource provides the latest control loop snapshot.
type StatusSource interface {
	Status() *node.Status
}

// Server is the HTTP status server.
type Server struct {
	address string
	port    int
	status  StatusSource
	bus     *events.Bus
	sensors *SensorsConfig
	auth    *tokenAuth
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new status server. status is nil for the
// collector. bus may be nil, in which case the event stream endpoint
// reports 503.
func NewServer(address string, port int, status StatusSource, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		status:  status,
		bus:     bus,
		logger:  logger,
	}
}

// SetTokenHash requires every request to present a bearer token that
// matches the bcrypt hash. An empty hash disables authentication.
func (s *Server) SetTokenHash(hash string) error {
	if hash == "" {
		s.auth = nil
		return nil
	}
	a, err := newTokenAuth(hash)
	if err != nil {
		return err
	}
	s.auth = a
	return nil
}

// Handler returns the routed, authenticated and logged handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	if s.sensors != nil {
		mux.HandleFunc("GET /v1/sensors", s.handleSensors)
		mux.HandleFunc("GET /v1/sensors/{id}", s.handleSensor)
	}

	var h http.Handler = mux
	if s.auth != nil {
		h = s.auth.middleware(h, s.logger)
	}
	return s.withLogging(h)
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting status API", "address", addr, "port", s.port, "auth", s.auth != nil)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "envnode",
		"version": buildinfo.Version,
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info(), s.logger)
}

// healthResponse is the /health body.
type healthResponse struct {
	Status    string `json:"status"`
	State     string `json:"state,omitempty"`
	Connected bool   `json:"connected"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"}, s.logger)
		return
	}
	st := s.status.Status()
	if st == nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "starting"}, s.logger)
		return
	}
	resp := healthResponse{
		Status:    "ok",
		State:     st.State.String(),
		Connected: st.Connected,
	}
	code := http.StatusOK
	if !st.Healthy() {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp, s.logger)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no node on this server"}, s.logger)
		return
	}
	st := s.status.Status()
	if st == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "node not started"}, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, st, s.logger)
}
