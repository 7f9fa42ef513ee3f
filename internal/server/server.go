// Package server exposes the gateway over HTTP: sync push/pull, the
// websocket stream, action dispatch, checkpoint read-through, and the
// admin surface. Authentication is delegated to a fronting proxy; the
// middleware here only shapes bearer claims for sync-rules evaluation.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lakegate/lakegate/internal/actions"
	"github.com/lakegate/lakegate/internal/compact"
	"github.com/lakegate/lakegate/internal/gateway"
	"github.com/lakegate/lakegate/internal/metrics"
	"github.com/lakegate/lakegate/internal/objstore"
	"github.com/lakegate/lakegate/internal/syncrules"
)

const (
	defaultAddr            = ":8080"
	defaultShutdownTimeout = 10 * time.Second
)

// Config wires the HTTP server. Gateway is required; every other
// collaborator switches its routes off when absent.
type Config struct {
	Addr            string
	Gateway         *gateway.Gateway
	Rules           *syncrules.Store    // claims-scoped filtering
	Actions         *actions.Dispatcher // POST /v1/actions
	Scheduler       *compact.Scheduler  // POST /v1/admin/maintain
	Checkpoints     *compact.Generator  // GET /v1/checkpoint read-through keys
	Store           objstore.Adapter    // checkpoint object reads
	Metrics         *metrics.Bundle     // GET /metrics
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// Server is the HTTP front of one gateway instance.
type Server struct {
	cfg    Config
	logger *slog.Logger
	engine *gin.Engine
	http   *http.Server
}

func New(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server: config is required")
	}
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("server: gateway is required")
	}

	resolved := *cfg
	if resolved.Addr == "" {
		resolved.Addr = defaultAddr
	}
	if resolved.ShutdownTimeout <= 0 {
		resolved.ShutdownTimeout = defaultShutdownTimeout
	}
	if resolved.Logger == nil {
		resolved.Logger = slog.Default()
	}

	s := &Server{cfg: resolved, logger: resolved.Logger}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(s.requestLog(), gin.Recovery())
	s.routes()

	s.http = &http.Server{
		Addr:    resolved.Addr,
		Handler: s.engine,
	}

	return s, nil
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then drains in-flight requests.
// Request contexts derive from ctx, so cancellation also ends any open
// websocket streams.
func (s *Server) Run(ctx context.Context) error {
	s.http.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		err := s.http.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	s.logger.Info("server: listening", slog.String("addr", s.cfg.Addr))

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: listen on %s: %w", s.cfg.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}

	s.logger.Info("server: stopped")

	return <-errCh
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("server: request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)))
	}
}
