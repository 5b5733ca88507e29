// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAds/cmd/adsgate/config"
	"github.com/AleutianAI/AleutianAds/pkg/telemetry"
	"github.com/AleutianAI/AleutianAds/services/adsapi"
	"github.com/AleutianAI/AleutianAds/services/adsapi/archive"
	"github.com/AleutianAI/AleutianAds/services/adsapi/durable"
	"github.com/AleutianAI/AleutianAds/services/adsapi/events"
	"github.com/AleutianAI/AleutianAds/services/gateway"
)

// runServe wires the access layer behind the gateway and serves until
// SIGINT or SIGTERM.
func runServe(cmd *cobra.Command, args []string) error {
	env, err := setup(cmd, true)
	if err != nil {
		return err
	}
	defer env.close()
	cfg := env.cfg
	logger := env.logger.Slog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	var store durable.Store
	if ephemeral {
		logger.Warn("ephemeral store: sessions and throttle state will not survive a restart")
		store = durable.NewMemoryStore()
	} else {
		badgerStore, err := env.openStore()
		if err != nil {
			return err
		}
		defer badgerStore.Close()
		store = badgerStore
	}

	bus := events.NewBus(events.WithLogger(logger.With("component", "events")))
	graph := adsapi.NewGraphClient(cfg.Graph)

	opts := []adsapi.Option{
		adsapi.WithLogger(logger.With("component", "adsapi")),
		adsapi.WithThrottleConfig(cfg.Throttle),
		adsapi.WithTTLs(cfg.CacheTTLs),
		adsapi.WithLogoutCooldown(cfg.LogoutCooldown),
	}
	if cfg.Archive.Enabled() {
		arc, err := archive.New(cfg.Archive)
		if err != nil {
			return err
		}
		defer arc.Close()
		if err := arc.Ping(ctx); err != nil {
			logger.Warn("insights archive unreachable", "error", err)
		}
		opts = append(opts, adsapi.WithInsightsSink(arc))
	}

	layer, err := adsapi.New(ctx, graph, store, bus, opts...)
	if err != nil {
		return fmt.Errorf("create access layer: %w", err)
	}
	restored, err := layer.RestoreSession(ctx)
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	logger.Info("access layer ready", "session_restored", restored, "store_ephemeral", ephemeral)

	// Only TTLs are applied live; everything else needs a restart.
	watcher, err := config.NewWatcher(env.cfgPath, func(next config.AdsgateConfig) {
		layer.SetTTLs(next.CacheTTLs)
	}, config.WithWatchLogger(logger.With("component", "config")))
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config hot reload disabled", "error", err)
	}
	defer watcher.Stop()

	metricsHandler := tel.MetricsHandler()
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	svc, err := gateway.New(cfg.Gateway, gateway.Dependencies{
		Layer:          layer,
		Bus:            bus,
		Store:          store,
		MetricsHandler: metricsHandler,
	})
	if err != nil {
		return err
	}

	env.out.Success("adsgate listening on %s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	if err := svc.Run(ctx); err != nil {
		slog.Error("gateway stopped", "error", err)
		return err
	}
	return nil
}
