// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway serves the access layer to the dashboard UI over HTTP
// and a WebSocket event stream.
//
// The gateway owns no caching or throttling state. It translates requests
// into AccessLayer calls, maps errors to status codes and runs the
// periodic durable store prune.
//
// # Usage
//
//	svc, err := gateway.New(cfg, gateway.Dependencies{Layer: layer, Bus: bus, Store: store})
//	if err != nil {
//	    return err
//	}
//	return svc.Run(ctx)
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianAds/pkg/telemetry"
	"github.com/AleutianAI/AleutianAds/services/adsapi"
	"github.com/AleutianAI/AleutianAds/services/adsapi/durable"
	"github.com/AleutianAI/AleutianAds/services/adsapi/events"
	"github.com/AleutianAI/AleutianAds/services/gateway/observability"
	"github.com/AleutianAI/AleutianAds/services/gateway/routes"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// =============================================================================
// Service Interface
// =============================================================================

// Service is a runnable gateway.
type Service interface {
	// Run serves until ctx is cancelled, then shuts down gracefully.
	Run(ctx context.Context) error

	// Router returns the gin engine, for tests.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds gateway settings.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`

	// GinMode is "debug", "release" or "test".
	GinMode string `yaml:"gin_mode" validate:"omitempty,oneof=debug release test"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// PruneInterval is how often stale snapshots and session markers are
	// removed from the durable store. Zero disables the scheduler.
	PruneInterval time.Duration `yaml:"prune_interval"`

	// SnapshotMaxAge is the age past which PruneStore removes records.
	SnapshotMaxAge time.Duration `yaml:"snapshot_max_age"`
}

// DefaultConfig returns the defaults used when the config file omits a field.
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            8090,
		GinMode:         gin.ReleaseMode,
		ShutdownTimeout: 10 * time.Second,
		PruneInterval:   time.Hour,
		SnapshotMaxAge:  7 * 24 * time.Hour,
	}
}

func applyConfigDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.GinMode == "" {
		cfg.GinMode = def.GinMode
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.SnapshotMaxAge <= 0 {
		cfg.SnapshotMaxAge = def.SnapshotMaxAge
	}
	return cfg
}

// Dependencies are the objects the gateway serves.
type Dependencies struct {
	Layer *adsapi.AccessLayer
	Bus   *events.Bus
	Store durable.Store

	// MetricsHandler serves /metrics. Nil omits the route.
	MetricsHandler http.Handler

	// Registerer receives the HTTP metrics. Defaults to the Prometheus
	// default registerer.
	Registerer prometheus.Registerer
}

// =============================================================================
// Service Implementation
// =============================================================================

type service struct {
	config  Config
	deps    Dependencies
	router  *gin.Engine
	metrics *observability.HTTPMetrics
	pruner  *pruneScheduler
}

// New builds the gateway router.
//
// # Inputs
//
//   - cfg: Gateway settings. Zero fields take DefaultConfig values.
//   - deps: Layer is required. Bus enables /v1/events/ws. Store enables
//     the prune scheduler.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil if the access layer is missing.
func New(cfg Config, deps Dependencies) (Service, error) {
	if deps.Layer == nil {
		return nil, errors.New("gateway: access layer is required")
	}
	if deps.Registerer == nil {
		deps.Registerer = prometheus.DefaultRegisterer
	}

	s := &service{
		config:  applyConfigDefaults(cfg),
		deps:    deps,
		metrics: observability.NewHTTPMetrics(deps.Registerer),
	}
	if deps.Store != nil && s.config.PruneInterval > 0 {
		s.pruner = newPruneScheduler(deps.Store, s.config.PruneInterval, s.config.SnapshotMaxAge, time.Now)
	}
	s.initRouter()
	return s, nil
}

func (s *service) initRouter() {
	gin.SetMode(s.config.GinMode)
	s.router = gin.New()
	s.router.Use(
		gin.Recovery(),
		requestID(),
		otelgin.Middleware("adsgate"),
		s.metrics.Middleware(),
		accessLog(),
	)

	routes.SetupRoutes(s.router, routes.Dependencies{
		Layer:          s.deps.Layer,
		Bus:            s.deps.Bus,
		Metrics:        s.metrics,
		MetricsHandler: s.deps.MetricsHandler,
	})
}

// Run serves HTTP until ctx ends.
func (s *service) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.pruner != nil {
		if err := s.pruner.Start(ctx); err != nil {
			return fmt.Errorf("start prune scheduler: %w", err)
		}
		defer s.pruner.Stop()
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("adsgate listening", "addr", addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
	}

	slog.Info("adsgate shutting down", "timeout", s.config.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Middleware
// =============================================================================

// requestID propagates or assigns X-Request-ID.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// accessLog writes one line per request at Debug, or Warn for 5xx.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.Default())
		args := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetString("request_id"),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("request", args...)
			return
		}
		logger.Debug("request", args...)
	}
}

var _ Service = (*service)(nil)
