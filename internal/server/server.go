// Package server wires the matchmaker, presence registry and signaling hub
// behind pairline-server's HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/BioHazard786/Pairline/internal/config"
	"github.com/BioHazard786/Pairline/internal/discovery"
	"github.com/BioHazard786/Pairline/internal/hub"
	"github.com/BioHazard786/Pairline/internal/matchmaker"
	"github.com/BioHazard786/Pairline/internal/metrics"
	"github.com/BioHazard786/Pairline/internal/presence"
	"github.com/gin-gonic/gin"
)

const (
	shutdownTimeout = 5 * time.Second
	evictTimeout    = 3 * time.Second
)

// Server is pairline-server.
type Server struct {
	cfg        *config.ServerConfig
	matchmaker *matchmaker.Matchmaker
	registry   *presence.Registry
	hub        *hub.Hub
	metrics    *metrics.Metrics
	router     *gin.Engine
}

// New builds a server with in-memory storage.
func New(cfg *config.ServerConfig) *Server {
	return newWithStore(cfg, matchmaker.NewMemoryStore())
}

func newWithStore(cfg *config.ServerConfig, store matchmaker.Store) *Server {
	m := metrics.New()
	s := &Server{cfg: cfg, metrics: m}

	// Stale participants are dropped from the pool and their rooms closed.
	s.registry = presence.NewRegistry(cfg.PresenceTTL.Duration, presence.WithExpireHook(s.evict))
	s.matchmaker = matchmaker.New(store,
		matchmaker.WithObserver(m),
		matchmaker.WithLiveness(s.registry.Alive),
	)
	s.hub = hub.New(s.matchmaker, hub.WithMetrics(m))

	s.router = gin.New()
	s.router.Use(gin.Recovery(), requestLogger())
	s.registerRoutes(s.router)
	return s
}

// Handler returns the HTTP handler. The hub must be running, see Run.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on cfg.Addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.Start(ctx)

	if s.cfg.Announce {
		go s.announce(ctx, ln.Addr())
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("starting signaling server", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

// Start runs the background tasks (hub loop, presence sweeper, online
// gauge) until ctx is done.
func (s *Server) Start(ctx context.Context) {
	go s.hub.Run(ctx)
	go s.registry.RunSweeper(ctx, s.cfg.SweepInterval.Duration)

	online := presence.NewCounter(func(context.Context) (int, error) {
		return s.registry.Online(), nil
	}, s.cfg.SweepInterval.Duration, s.metrics.SetOnline)
	go online.Run(ctx)
}

func (s *Server) evict(p presence.Participant) {
	ctx, cancel := context.WithTimeout(context.Background(), evictTimeout)
	defer cancel()
	if err := s.matchmaker.Evict(ctx, p.ID); err != nil {
		slog.Warn("failed to evict stale participant", "participant_id", p.ID, "error", err)
		return
	}
	slog.Info("stale participant evicted", "participant_id", p.ID, "name", p.Name)
}

func (s *Server) announce(ctx context.Context, addr net.Addr) {
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		slog.Warn("cannot announce server", "addr", addr.String(), "error", err)
		return
	}
	port, _ := strconv.Atoi(portStr)
	if err := discovery.Announce(ctx, s.cfg.ServiceName, port); err != nil {
		slog.Warn("mDNS announcement stopped", "error", err)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
