// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"time"

	"github.com/AleutianAI/AleutianAds/pkg/logging"
	"github.com/AleutianAI/AleutianAds/pkg/telemetry"
	"github.com/AleutianAI/AleutianAds/services/adsapi"
	"github.com/AleutianAI/AleutianAds/services/adsapi/archive"
	"github.com/AleutianAI/AleutianAds/services/gateway"
)

// CurrentConfigVersion is written to new config files.
const CurrentConfigVersion = "1"

// AdsgateConfig is the content of adsgate.yaml.
type AdsgateConfig struct {
	Meta MetaConfig `yaml:"meta"`

	// Gateway: listen address, shutdown and prune schedule
	Gateway gateway.Config `yaml:"gateway"`

	// Store: where sessions, throttle state and snapshots live
	Store StoreConfig `yaml:"store"`

	// Graph: vendor endpoint and outbound pacing
	Graph adsapi.GraphClientConfig `yaml:"graph"`

	Throttle adsapi.ThrottleConfig `yaml:"throttle"`

	// CacheTTLs are hot reloaded while serve runs.
	CacheTTLs adsapi.TTLConfig `yaml:"cache_ttls"`

	// LogoutCooldown suppresses session restore right after a logout.
	LogoutCooldown time.Duration `yaml:"logout_cooldown" validate:"min=0"`

	Logging LoggingConfig `yaml:"logging"`

	Telemetry telemetry.Config `yaml:"telemetry"`

	// Archive: optional InfluxDB sink for insights rows. The token comes
	// from ADSGATE_INFLUX_TOKEN only.
	Archive archive.Config `yaml:"archive"`

	// Backup: optional GCS destination for `store backup --gcs`
	Backup BackupConfig `yaml:"backup"`
}

type MetaConfig struct {
	Version string `yaml:"version"`
}

type StoreConfig struct {
	Path string `yaml:"path" validate:"required"`

	// GCInterval is how often the Badger value log is compacted.
	GCInterval time.Duration `yaml:"gc_interval" validate:"min=0"`
}

type LoggingConfig struct {
	Level logging.Level `yaml:"level"`
	Dir   string        `yaml:"dir"`
	JSON  bool          `yaml:"json"`
}

type BackupConfig struct {
	ProjectID       string `yaml:"project_id"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// GCSEnabled reports whether a bucket and key file are configured.
func (b BackupConfig) GCSEnabled() bool {
	return b.Bucket != "" && b.CredentialsFile != ""
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() AdsgateConfig {
	return AdsgateConfig{
		Meta:           MetaConfig{Version: CurrentConfigVersion},
		Gateway:        gateway.DefaultConfig(),
		Store:          StoreConfig{Path: "~/.aleutian/adsgate/store", GCInterval: 10 * time.Minute},
		Graph:          adsapi.DefaultGraphClientConfig(),
		Throttle:       adsapi.DefaultThrottleConfig(),
		CacheTTLs:      adsapi.DefaultTTLConfig(),
		LogoutCooldown: adsapi.DefaultLogoutCooldown,
		Logging:        LoggingConfig{Level: logging.LevelInfo, Dir: "~/.aleutian/logs"},
		Telemetry:      telemetry.DefaultConfig(),
		Backup:         BackupConfig{Prefix: "adsgate/backups"},
	}
}
