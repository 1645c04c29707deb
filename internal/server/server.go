// Package server provides the gateway's HTTP listener. A gin engine runs
// the ambient middlewares and hands every request to the pipeline runner.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/pipeline"
	"github.com/vyrodovalexey/edgegw/internal/server/middleware"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race conditions
var ginModeOnce sync.Once

// Handler runs a request through the gateway and returns its context.
// *pipeline.Runner implements it.
type Handler interface {
	Handle(w http.ResponseWriter, r *http.Request) *pipeline.RequestContext
}

// Server represents the gateway HTTP server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	handler    Handler
	logger     observability.Logger
	config     *Config
	mu         sync.RWMutex
	running    bool
}

// Config holds configuration for the HTTP server.
type Config struct {
	Address        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	// MaxRequestBodySize is the maximum allowed request body size in bytes.
	// Set to 0 to disable the limit.
	MaxRequestBodySize int64
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Address:            ":8080",
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       60 * time.Second,
		IdleTimeout:        120 * time.Second,
		MaxHeaderBytes:     1 << 20,  // 1 MB
		MaxRequestBodySize: 10 << 20, // 10 MB
	}
}

// ConfigFromListener converts the listener configuration section.
func ConfigFromListener(cfg *config.ListenerConfig) *Config {
	out := DefaultConfig()
	out.Address = cfg.Address
	out.ReadTimeout = cfg.ReadTimeout.Duration()
	out.WriteTimeout = cfg.WriteTimeout.Duration()
	out.IdleTimeout = cfg.IdleTimeout.Duration()
	out.MaxRequestBodySize = cfg.MaxBodySize
	return out
}

// New creates a server. The middlewares run in order before the gateway
// handler.
func New(cfg *Config, handler Handler, logger observability.Logger, middlewares ...gin.HandlerFunc) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	engine := gin.New()
	engine.HandleMethodNotAllowed = false

	s := &Server{
		engine:  engine,
		handler: handler,
		logger:  logger,
		config:  cfg,
	}

	engine.Use(middlewares...)
	if cfg.MaxRequestBodySize > 0 {
		engine.Use(s.maxRequestBodySizeMiddleware())
	}

	s.setupRouteHandler()
	return s
}

// maxRequestBodySizeMiddleware caps how much of the request body can be
// read. Oversized declared lengths are rejected by the pipeline so the 413
// carries the CORS and rate limit headers.
func (s *Server) maxRequestBodySizeMiddleware() gin.HandlerFunc {
	limit := s.config.MaxRequestBodySize
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// setupRouteHandler sends every path and method to the gateway handler.
func (s *Server) setupRouteHandler() {
	s.engine.NoRoute(s.handleRequest)
	s.engine.Any("/*path", s.handleRequest)
}

// handleRequest runs the pipeline and records the matched route for the
// logging and metrics middlewares.
func (s *Server) handleRequest(c *gin.Context) {
	rc := s.handler.Handle(c.Writer, c.Request)
	if rc != nil {
		c.Set(middleware.RouteKey, rc.RouteName())
	}
}

// Engine returns the underlying gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Serve serves on ln until Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		_ = ln.Close()
		return fmt.Errorf("server already running")
	}

	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
		MaxHeaderBytes:    s.config.MaxHeaderBytes,
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		observability.String("address", ln.Addr().String()),
		observability.Duration("read_timeout", s.config.ReadTimeout),
		observability.Duration("write_timeout", s.config.WriteTimeout),
	)

	err := s.httpServer.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop stops the HTTP server gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("stopping HTTP server")

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("HTTP server stopped")
	return nil
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
