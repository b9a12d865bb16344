// Package http provides the ClinicPulse REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/clinicpulse/internal/logging"
	"github.com/fyrsmithlabs/clinicpulse/internal/pipeline"
	"github.com/fyrsmithlabs/clinicpulse/internal/session"
	"github.com/fyrsmithlabs/clinicpulse/internal/tools"
)

// Pipeline is the part of the orchestrator the API drives.
type Pipeline interface {
	Tick(ctx context.Context, sessionID, message string) (*pipeline.TickResult, error)
	Session(ctx context.Context, sessionID string) (*session.Session, error)
	Sessions(ctx context.Context) ([]string, error)
	InvokeTool(ctx context.Context, sessionID, name string, args map[string]any) (tools.Result, error)
	Stages() []pipeline.Definition
}

// Server provides HTTP endpoints for ClinicPulse.
type Server struct {
	echo     *echo.Echo
	srv      *http.Server
	pipeline Pipeline
	nc       *nats.Conn
	prefix   string
	logger   *logging.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// Option configures a Server.
type Option func(*Server)

// WithEvents enables the session event stream over nc.
func WithEvents(nc *nats.Conn, subjectPrefix string) Option {
	return func(s *Server) {
		s.nc = nc
		s.prefix = subjectPrefix
	}
}

// NewServer creates a new HTTP server.
func NewServer(p Pipeline, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if p == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		pipeline: p,
		logger:   logger.Named("http"),
		config:   cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(s.logger).MetricsMiddleware())
	e.Use(s.requestLogger)

	s.registerRoutes()
	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           otelhttp.NewHandler(e, "clinicpulse.http"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// requestLogger puts the request id on the context and logs each request.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		if rid := c.Response().Header().Get(echo.HeaderXRequestID); rid != "" {
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), rid)))
		}
		err := next(c)
		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return err
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/stages", s.handleStages)
	v1.GET("/sessions", s.handleListSessions)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.POST("/sessions/:id/messages", s.handleMessage)
	v1.POST("/sessions/:id/tools/:name", s.handleTool)
	v1.GET("/sessions/:id/events", s.handleEvents)
	v1.POST("/briefings/evaluate", s.handleEvaluate)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.srv.Shutdown(ctx)
}
