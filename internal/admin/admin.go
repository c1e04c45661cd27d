// Package admin serves the relay's operational HTTP endpoints: a liveness
// probe and a statistics snapshot. The listener speaks plain HTTP and binds
// loopback by default; it is not part of the relay protocol surface.
package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/idorocodes/qight/internal/errors"
	"github.com/idorocodes/qight/internal/logging"
	"github.com/idorocodes/qight/internal/relay"
	"github.com/idorocodes/qight/internal/store"
)

// Server exposes relay health and statistics over HTTP.
type Server struct {
	addr  string
	relay *relay.Relay
	store *store.Store
	log   *logging.Logger

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// New creates an admin server that will bind addr. A nil logger logs
// nowhere.
func New(addr string, r *relay.Relay, st *store.Store, log *logging.Logger) *Server {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Server{addr: addr, relay: r, store: st, log: log.WithComponent("admin")}
}

// Handler returns the admin routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/stats", s.handleStats)
	return r
}

// Start binds the listener and serves in the background. Stop with
// Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.NewTransportError("bind admin listener", err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin server failed", "error", err)
		}
	}()

	s.log.Info("admin listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown stops serving, waiting for in-flight requests up to ctx's
// deadline. Shutdown before Start is a no-op.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// StatsResponse is the GET /stats payload.
type StatsResponse struct {
	ActiveSessions int         `json:"active_sessions"`
	StartedAt      time.Time   `json:"started_at"`
	UptimeSeconds  int64       `json:"uptime_seconds"`
	Store          store.Stats `json:"store"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	started := s.relay.StartedAt()
	s.respondJSON(w, http.StatusOK, StatsResponse{
		ActiveSessions: s.relay.ActiveSessions(),
		StartedAt:      started,
		UptimeSeconds:  int64(time.Since(started).Seconds()),
		Store:          s.store.Stats(),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn("write response", "error", err)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"elapsed", time.Since(start).String())
	})
}
