package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/pipeline"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/state"
)

// ServiceName is reported by the root endpoint
const ServiceName = "obbstream"

// Pipeline is the control contract of the pipeline controller
type Pipeline interface {
	StartPipeline(ctx context.Context, cfg pipeline.Config) error
	StopPipeline(ctx context.Context) (bool, error)
	Status() pipeline.Status
}

// RunStore lists persisted pipeline runs
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]state.Run, error)
	GetRun(ctx context.Context, id string) (*state.Run, error)
}

// RouteRegistrar mounts extra routes, such as the health endpoints
type RouteRegistrar interface {
	RegisterRoutes(r gin.IRoutes)
}

// Server represents the control surface HTTP service
type Server struct {
	*service.ServiceBase
	config     config.ServerConfig
	logger     *logger.Logger
	httpServer *http.Server
	listener   net.Listener
	router     *gin.Engine
	pipeline   Pipeline
	runs       RunStore       // Optional run history
	health     RouteRegistrar // Optional health endpoints
	metrics    http.Handler   // Optional Prometheus handler
	version    string
	startTime  time.Time
}

// NewServer creates a new web server service
func NewServer(cfg config.ServerConfig, ctrl Pipeline, log *logger.Logger) *Server {
	// Debug mode can be enabled via GIN_MODE environment variable
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	return &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		logger:      log,
		router:      router,
		pipeline:    ctrl,
		version:     "dev",
		startTime:   time.Now(),
	}
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetRunStore enables the run history API
func (s *Server) SetRunStore(runs RunStore) {
	s.runs = runs
}

// SetHealth mounts the health endpoints
func (s *Server) SetHealth(health RouteRegistrar) {
	s.health = health
}

// SetMetricsHandler serves Prometheus metrics on /metrics
func (s *Server) SetMetricsHandler(h http.Handler) {
	s.metrics = h
}

// Handler builds the routes and returns the router
func (s *Server) Handler() http.Handler {
	s.setupRoutes()
	return s.router
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: s.config.ReadTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.LogError("Web server error", err, "address", ln.Addr().String())
		}
	}()

	s.LogInfo("Web server started", "address", ln.Addr().String())
	return nil
}

// Addr returns the listening address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.LogInfo("Stopping web server")
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes sets up all routes
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot)

	// Pipeline control
	s.router.POST("/start", s.handleStart)
	s.router.POST("/stop", s.handleStop)
	s.router.GET("/status", s.handleStatus)

	api := s.router.Group("/api")
	{
		api.GET("/runs", s.handleListRuns)
		api.GET("/runs/:id", s.handleGetRun)
	}

	if s.health != nil {
		s.health.RegisterRoutes(s.router)
	}
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware allows any origin, as the control surface is meant for
// local network dashboards
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
