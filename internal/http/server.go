// Package http provides the HTTP API for flowd: session management, the SSE
// run endpoint, health, and metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/config"
	"github.com/fyrsmithlabs/flowd/internal/logging"
	"github.com/fyrsmithlabs/flowd/internal/pipeline"
	"github.com/fyrsmithlabs/flowd/internal/session"
	"github.com/fyrsmithlabs/flowd/internal/stream"
)

// Options carries the server's dependencies.
type Options struct {
	Config   config.ServerConfig
	Runner   *pipeline.Runner
	Sessions session.Service
	Bridge   *stream.Bridge
	// Root is the pipeline served by the run endpoint.
	Root   *pipeline.Stage
	Logger *logging.Logger
	// Registry backs /metrics and the HTTP middleware. nil uses a private
	// registry, which keeps tests isolated.
	Registry *prometheus.Registry
}

// Server provides HTTP endpoints for flowd.
type Server struct {
	echo     *echo.Echo
	runner   *pipeline.Runner
	sessions session.Service
	bridge   *stream.Bridge
	root     *pipeline.Stage
	logger   *logging.Logger
	cfg      config.ServerConfig
}

// NewServer creates a new HTTP server.
func NewServer(opts Options) (*Server, error) {
	if opts.Runner == nil {
		return nil, fmt.Errorf("http: pipeline runner is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("http: session service is required")
	}
	if opts.Bridge == nil {
		return nil, fmt.Errorf("http: stream bridge is required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("http: logger is required for request tracking and debugging")
	}
	if err := opts.Root.Validate(); err != nil {
		return nil, fmt.Errorf("http: root pipeline: %w", err)
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(opts.Logger))
	e.Use(NewHTTPMetrics(registry).Middleware())

	s := &Server{
		echo:     e,
		runner:   opts.Runner,
		sessions: opts.Sessions,
		bridge:   opts.Bridge,
		root:     opts.Root,
		logger:   opts.Logger,
		cfg:      opts.Config,
	}
	s.registerRoutes(registry)
	return s, nil
}

// requestLogger threads the echo request ID into the request context and
// logs one line per request.
func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			requestID := c.Request().Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = c.Response().Header().Get(echo.HeaderXRequestID)
			}
			ctx := logging.WithRequestID(c.Request().Context(), requestID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes(registry *prometheus.Registry) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/apps/:app/users/:user/sessions/:session", s.handleCreateSession)
	v1.GET("/apps/:app/users/:user/sessions/:session", s.handleGetSession)
	v1.GET("/run_sse", s.handleRunSSE)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// SessionResponse is the response body for the session endpoints.
type SessionResponse struct {
	AppName    string    `json:"app_name"`
	UserID     string    `json:"user_id"`
	SessionID  string    `json:"session_id"`
	EventCount int       `json:"event_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func sessionResponse(sess *session.Session) SessionResponse {
	return SessionResponse{
		AppName:    sess.Key.AppName,
		UserID:     sess.Key.UserID,
		SessionID:  sess.Key.SessionID,
		EventCount: len(sess.Events),
		CreatedAt:  sess.CreatedAt,
		UpdatedAt:  sess.UpdatedAt,
	}
}

func pathKey(c echo.Context) session.Key {
	return session.Key{
		AppName:   c.Param("app"),
		UserID:    c.Param("user"),
		SessionID: c.Param("session"),
	}
}

// handleCreateSession creates an empty session.
func (s *Server) handleCreateSession(c echo.Context) error {
	key := pathKey(c)
	if err := key.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sess, err := s.sessions.Create(c.Request().Context(), key)
	if errors.Is(err, session.ErrExists) {
		return echo.NewHTTPError(http.StatusConflict, "session already exists")
	}
	if err != nil {
		s.logger.Error(c.Request().Context(), "create session failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "create session failed")
	}
	return c.JSON(http.StatusCreated, sessionResponse(sess))
}

// handleGetSession returns session metadata.
func (s *Server) handleGetSession(c echo.Context) error {
	key := pathKey(c)
	if err := key.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sess, err := s.sessions.Get(c.Request().Context(), key)
	if errors.Is(err, session.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "get session failed")
	}
	return c.JSON(http.StatusOK, sessionResponse(sess))
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := s.cfg.Address()
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
