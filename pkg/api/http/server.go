package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aescanero/dago-studio/internal/application/studio"
)

// Server represents the HTTP API server
type Server struct {
	router *gin.Engine
	server *http.Server
	studio *studio.Studio
	logger *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port   int
	Studio *studio.Studio
	// Gatherer backs /metrics; nil serves the default registry.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())

	s := &Server{
		router: router,
		studio: cfg.Studio,
		logger: logger,
	}

	s.setupRoutes(cfg.Gatherer)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.GET("/health", s.handleHealth)

	if gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	} else {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/templates", s.handleListTemplates)

		v1.POST("/workflows/validate", s.handleValidate)
		v1.POST("/workflows/plan", s.handlePlan)
		v1.GET("/workflows/current", s.handleGetCurrentWorkflow)
		v1.PUT("/workflows/current", s.handleReplaceWorkflow)
		v1.POST("/workflows", s.handleSaveWorkflow)
		v1.GET("/workflows", s.handleListWorkflows)
		v1.GET("/workflows/:id", s.handleGetWorkflow)
		v1.POST("/workflows/:id/load", s.handleLoadWorkflow)
		v1.DELETE("/workflows/:id", s.handleDeleteWorkflow)

		v1.POST("/executions", s.handleStartExecution)
		v1.GET("/executions", s.handleListExecutions)
		v1.GET("/executions/current", s.handleGetCurrentExecution)
		v1.GET("/executions/:id", s.handleGetExecution)
		v1.POST("/executions/current/pause", s.control("pause", s.studio.Session().Pause))
		v1.POST("/executions/current/resume", s.control("resume", s.studio.Session().Resume))
		v1.POST("/executions/current/stop", s.control("stop", s.studio.Session().Stop))
		v1.POST("/executions/current/step", s.control("step", s.studio.Session().Step))
		v1.POST("/executions/current/breakpoints/:nodeId", s.handleToggleBreakpoint)

		v1.GET("/connection", s.handleGetConnection)
		v1.POST("/connection/reconnect", s.handleReconnect)
		v1.POST("/connection/disconnect", s.handleDisconnect)
	}
}

// SetupWebSocket adds the event stream handler to the server
func (s *Server) SetupWebSocket(handler interface{}) {
	if wsHandler, ok := handler.(interface {
		HandleEventStream(*gin.Context)
	}); ok {
		s.router.GET("/api/v1/ws", wsHandler.HandleEventStream)
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger is a middleware for request logging
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}
