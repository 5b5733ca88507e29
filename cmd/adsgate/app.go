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
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAds/cmd/adsgate/config"
	"github.com/AleutianAI/AleutianAds/pkg/logging"
	"github.com/AleutianAI/AleutianAds/pkg/ux"
	"github.com/AleutianAI/AleutianAds/services/adsapi/durable"
)

// environment is what every subcommand starts from.
type environment struct {
	cfg     config.AdsgateConfig
	cfgPath string
	logger  *logging.Logger
	out     *ux.Printer
}

// setup loads the config and builds the logger and printer.
//
// Maintenance commands log at Warn or above so their output stays the
// result; serve logs at the configured level.
func setup(cmd *cobra.Command, serving bool) (*environment, error) {
	out := ux.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), ux.DetectMode(os.Stdout))

	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg, created, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if created {
		out.Muted("First run detected, created the config at %s", path)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		if level, err = logging.ParseLevel(logLevel); err != nil {
			return nil, fmt.Errorf("--log-level: %w", err)
		}
	}
	if !serving && level < logging.LevelWarn {
		level = logging.LevelWarn
	}

	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "adsgate",
		JSON:    cfg.Logging.JSON,
	})
	slog.SetDefault(logger.Slog())

	return &environment{cfg: cfg, cfgPath: path, logger: logger, out: out}, nil
}

func (e *environment) close() {
	_ = e.logger.Close()
}

// openStore opens the Badger store at the configured path.
func (e *environment) openStore() (*durable.BadgerStore, error) {
	bcfg := durable.DefaultBadgerConfig(config.ExpandHome(e.cfg.Store.Path))
	bcfg.GCInterval = e.cfg.Store.GCInterval
	bcfg.Logger = e.logger.Slog().With("component", "badger")

	store, err := durable.OpenBadger(bcfg)
	if err != nil {
		return nil, fmt.Errorf("%w (is adsgate serve running against the same store?)", err)
	}
	return store, nil
}
