// Package admin exposes a small HTTP surface with worker health and
// counters, for the supervisor and monitoring to scrape.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/haukened/fuzzystore/internal/fuzzy/common/log"
	"github.com/haukened/fuzzystore/internal/fuzzy/services/store"
)

// StatsSource supplies the counters served at /stats.
type StatsSource interface {
	Stats() store.Stats
}

// Server is the admin HTTP endpoint.
type Server struct {
	addr   string
	source StatsSource
	logger log.Logger

	mu       sync.Mutex
	listener net.Listener
	srv      *http.Server
}

// New creates an admin Server listening on addr.
func New(addr string, source StatsSource, logger log.Logger) *Server {
	return &Server{
		addr:   addr,
		source: source,
		logger: logger,
	}
}

// Start binds the admin listener and serves requests until Stop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return fmt.Errorf("admin server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind admin socket on %s: %w", s.addr, err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)

	srv := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.listener = listener
	s.srv = srv

	s.logger.Info(map[string]any{
		"address": listener.Addr().String(),
	}, "admin endpoint started")

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(map[string]any{
				"error": err.Error(),
			}, "admin server failed")
		}
	}()

	return nil
}

// Stop shuts the admin server down gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	s.srv = nil
	s.listener = nil
	return err
}

// Address returns the bound address when running, the configured address
// otherwise.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.source.Stats()); err != nil {
		s.logger.Error(map[string]any{
			"error": err.Error(),
		}, "failed to encode stats")
	}
}
