// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes requirement repair over HTTP.
//
// Routes:
//
//	POST   /v1/repair     start an asynchronous repair, returns its run ID
//	POST   /v1/check      evaluate a requirement without repairing it
//	GET    /v1/runs       list stored runs, newest first
//	GET    /v1/runs/:id   fetch one run with its result
//	DELETE /v1/runs/:id   cancel and remove a run
//	GET    /health        liveness
//	GET    /metrics       Prometheus metrics
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/reqrepair/services/repair/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Config holds HTTP server settings.
type Config struct {
	// Addr is the listen address.
	Addr string `json:"addr" yaml:"addr" validate:"required"`

	// RateLimit is the allowed repair submissions per second. 0 disables it.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit" validate:"gte=0"`

	// RateBurst is the limiter burst size.
	RateBurst int `json:"rate_burst" yaml:"rate_burst" validate:"gte=0"`

	// MaxConcurrentRuns bounds repairs executing at once.
	MaxConcurrentRuns int `json:"max_concurrent_runs" yaml:"max_concurrent_runs" validate:"gte=1"`

	// RunTimeout cancels a single repair after this long. 0 means no limit.
	RunTimeout time.Duration `json:"run_timeout" yaml:"run_timeout" validate:"gte=0"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`

	// TraceRoot confines request trace directories. Relative request paths
	// resolve against it. Empty means the working directory.
	TraceRoot string `json:"trace_root" yaml:"trace_root"`
}

// DefaultConfig returns local development defaults.
func DefaultConfig() Config {
	return Config{
		Addr:              "127.0.0.1:8089",
		RateLimit:         2,
		RateBurst:         5,
		MaxConcurrentRuns: 2,
		RunTimeout:        30 * time.Minute,
		ShutdownTimeout:   15 * time.Second,
	}
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(cfg Config, h *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("reqrepair"))
	router.Use(requestIDMiddleware())
	router.Use(metricsMiddleware())

	router.GET("/health", h.HandleHealth)
	router.GET("/metrics", gin.WrapH(metricsHandler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/repair", rateLimitMiddleware(newLimiter(cfg.RateLimit, cfg.RateBurst)), h.HandleRepair)
		v1.POST("/check", h.HandleCheck)

		runs := v1.Group("/runs")
		{
			runs.GET("", h.HandleListRuns)
			runs.GET("/:id", h.HandleGetRun)
			runs.DELETE("/:id", h.HandleDeleteRun)
		}
	}
	return router
}

// metricsHandler serves the telemetry exporter's registry when it is
// active, and the default registry otherwise.
func metricsHandler() http.Handler {
	if h := telemetry.MetricsHandler(); h != nil {
		return h
	}
	return promhttp.Handler()
}

// Server is the HTTP front end of a Service.
type Server struct {
	cfg    Config
	svc    *Service
	logger *slog.Logger
	http   *http.Server
}

// New returns a server for svc.
func New(cfg Config, svc *Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	router := NewRouter(cfg, NewHandlers(svc, logger))
	return &Server{
		cfg:    cfg,
		svc:    svc,
		logger: logger.With(slog.String("component", "server")),
		http: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
//
// Description:
//
//	On cancellation the listener stops accepting, in-flight requests get
//	ShutdownTimeout to finish and running repairs are cancelled.
//
// Outputs:
//
//	error - A listen failure or a shutdown timeout. nil after a clean stop.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", s.cfg.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return errors.Join(
		s.http.Shutdown(shutdownCtx),
		s.svc.Close(shutdownCtx),
	)
}
