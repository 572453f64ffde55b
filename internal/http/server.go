// Package http provides the voxgov HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voxgov/internal/governance"
	"github.com/fyrsmithlabs/voxgov/internal/logging"
	"github.com/fyrsmithlabs/voxgov/internal/orchestrator"
	"github.com/fyrsmithlabs/voxgov/internal/session"
)

// TurnService runs turns and call lifecycle operations.
type TurnService interface {
	ProcessTurn(ctx context.Context, req orchestrator.TurnRequest) orchestrator.TurnResponse
	EndCall(ctx context.Context, req orchestrator.EndRequest) (orchestrator.EndResult, error)
	ContextWindow(ctx context.Context, tenantID, callID string) (session.ContextWindow, error)
}

// SourceReloader reloads one knowledge source and drops its cached state.
type SourceReloader interface {
	ReloadSource(ctx context.Context, tenantID, sourceID string) error
}

// SourceReloaderFunc adapts a function to SourceReloader.
type SourceReloaderFunc func(ctx context.Context, tenantID, sourceID string) error

// ReloadSource calls f.
func (f SourceReloaderFunc) ReloadSource(ctx context.Context, tenantID, sourceID string) error {
	return f(ctx, tenantID, sourceID)
}

// HealthCheck reports a dependency's health. A nil error is healthy.
type HealthCheck func(ctx context.Context) error

// Server provides HTTP endpoints for voxgov.
type Server struct {
	echo    *echo.Echo
	turns   TurnService
	sources SourceReloader
	checks  map[string]HealthCheck
	metrics *HTTPMetrics
	logger  *zap.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// TurnTimeout bounds a single ProcessTurn call. Zero disables the bound.
	TurnTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithSourceReloader enables the source invalidation endpoint.
func WithSourceReloader(r SourceReloader) Option {
	return func(s *Server) { s.sources = r }
}

// WithHealthCheck adds a named dependency check to /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

// WithMetrics records request metrics with m.
func WithMetrics(m *HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a new HTTP server.
func NewServer(turns TurnService, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if turns == nil {
		return nil, fmt.Errorf("turn service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	s := &Server{
		turns:  turns,
		checks: make(map[string]HealthCheck),
		logger: logger,
		config: cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if s.metrics != nil {
		e.Use(s.metrics.MetricsMiddleware())
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), reqID)))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", req.Method),
				zap.String("route", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", reqID),
			)
			return nil
		}
	})

	s.echo = e
	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/calls/:call_id/turns", s.handleTurn)
	v1.POST("/calls/:call_id/end", s.handleEnd)
	v1.GET("/calls/:call_id/context", s.handleContext)
	if s.sources != nil {
		v1.POST("/tenants/:tenant_id/sources/:source_id/invalidate", s.handleInvalidate)
	}
}

// handleHealth runs every registered check. Any failure reports degraded
// with 503 so load balancers drain the instance.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
	}
	code := http.StatusOK
	for name, check := range s.checks {
		if err := check(c.Request().Context()); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	return c.JSON(code, resp)
}

// handleTurn runs one turn. Domain failures come back as a degraded 200;
// only malformed requests are rejected.
func (s *Server) handleTurn(c echo.Context) error {
	var req orchestrator.TurnRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid turn request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.CallID = c.Param("call_id")
	if req.TenantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant_id field is required")
	}

	ctx := c.Request().Context()
	if s.config.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.TurnTimeout)
		defer cancel()
	}
	return c.JSON(http.StatusOK, s.turns.ProcessTurn(ctx, req))
}

// handleEnd finishes a call.
func (s *Server) handleEnd(c echo.Context) error {
	var req orchestrator.EndRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid end request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.CallID = c.Param("call_id")

	res, err := s.turns.EndCall(c.Request().Context(), req)
	if err != nil {
		return s.callError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// handleContext returns the live context window for a call.
func (s *Server) handleContext(c echo.Context) error {
	w, err := s.turns.ContextWindow(c.Request().Context(), c.QueryParam("tenant_id"), c.Param("call_id"))
	if err != nil {
		return s.callError(err)
	}
	return c.JSON(http.StatusOK, w)
}

// handleInvalidate reloads one knowledge source.
func (s *Server) handleInvalidate(c echo.Context) error {
	tenantID, sourceID := c.Param("tenant_id"), c.Param("source_id")
	if !governance.ValidTenantID(tenantID) || sourceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant or source id")
	}
	if err := s.sources.ReloadSource(c.Request().Context(), tenantID, sourceID); err != nil {
		s.logger.Error("source reload failed",
			zap.String("tenant_id", tenantID),
			zap.String("source_id", sourceID),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "source reload failed")
	}
	return c.JSON(http.StatusOK, InvalidateResponse{TenantID: tenantID, SourceID: sourceID, Reloaded: true})
}

// callError maps orchestrator errors to HTTP errors.
func (s *Server) callError(err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrUnknownCall):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrTenantMismatch):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, orchestrator.ErrCallEnded):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		s.logger.Error("call operation failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
