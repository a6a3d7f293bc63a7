// Package api provides the HTTP REST API and websocket endpoint.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/copperline-io/opswatch/internal/alerting"
	"github.com/copperline-io/opswatch/internal/notifier"
	"github.com/copperline-io/opswatch/internal/scheduler"
	"github.com/copperline-io/opswatch/internal/ws"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address        string
	JWTSecret      []byte
	AccessTokenTTL time.Duration
	Verbose        bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = 15 * time.Minute
	}
}

// Server is the HTTP API server. It fronts the rule evaluator, the
// notification dispatcher, the script scheduler, and the realtime hub.
type Server struct {
	config     *Config
	engine     *alerting.Engine
	dispatcher *notifier.Dispatcher
	sched      *scheduler.Scheduler
	hub        *ws.Hub
	logger     *zap.Logger
	server     *http.Server
}

// New creates a new API server.
func New(cfg *Config, engine *alerting.Engine, dispatcher *notifier.Dispatcher, sched *scheduler.Scheduler, hub *ws.Hub, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("JWT secret is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("alerting engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg.SetDefaults()

	s := &Server{
		config:     cfg,
		engine:     engine,
		dispatcher: dispatcher,
		sched:      sched,
		hub:        hub,
		logger:     logger,
	}

	s.server = &http.Server{
		Addr:        cfg.Address,
		Handler:     s.setupRouter(),
		ReadTimeout: 15 * time.Second,
		// WriteTimeout is intentionally 0 (disabled): the /ws endpoint
		// carries long-lived websocket connections that a global write
		// deadline would kill.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("http api listening", zap.String("address", s.config.Address))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down http api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}
