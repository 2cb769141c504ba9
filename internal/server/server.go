// Package server provides the HTTP API for planforged.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/planforgelabs/planforged/internal/logging"
	"github.com/planforgelabs/planforged/internal/plan"
)

// Generator is the slice of the orchestrator the HTTP layer needs.
type Generator interface {
	Start(ctx context.Context, planID uuid.UUID) error
	Cancel(planID uuid.UUID) error
}

// Server provides HTTP endpoints for planforged.
type Server struct {
	echo      *echo.Echo
	plans     plan.Service
	generator Generator
	logger    *zap.Logger
	config    *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(plans plan.Service, generator Generator, logger *zap.Logger, cfg *Config) (*Server, error) {
	if plans == nil {
		return nil, fmt.Errorf("plan service cannot be nil")
	}
	if generator == nil {
		return nil, fmt.Errorf("generator cannot be nil")
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

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Carry the request id on the context so downstream logs
			// emit it through logging.ContextFields.
			if rid := c.Response().Header().Get(echo.HeaderXRequestID); rid != "" {
				c.SetRequest(c.Request().WithContext(
					logging.WithRequestID(c.Request().Context(), rid)))
			}
			return next(c)
		}
	})
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			// Handlers enrich the request context with plan and user
			// ids, so read it after next(c).
			logger.Info("http request", append(logging.ContextFields(c.Request().Context()),
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
			)...)

			return err
		}
	})

	s := &Server{
		echo:      e,
		plans:     plans,
		generator: generator,
		logger:    logger,
		config:    cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check and metrics
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.POST("/plans", s.handleSubmit)
	v1.GET("/plans", s.handleList)
	v1.GET("/plans/:id", s.handleGet)
	v1.POST("/plans/:id/checkout", s.handleCheckout)
	v1.POST("/plans/:id/verify-payment", s.handleVerifyPayment)
	v1.POST("/plans/:id/generate", s.handleGenerate)
	v1.POST("/plans/:id/cancel", s.handleCancel)
	v1.POST("/plans/:id/retry", s.handleRetry)
	v1.GET("/plans/:id/status", s.handleStatus)
	v1.GET("/plans/:id/document", s.handleDocument)
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
