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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianAds/pkg/logging"
)

// Environment overrides. Secrets are never read from the file.
const (
	EnvInfluxToken = "ADSGATE_INFLUX_TOKEN"
	EnvLogLevel    = "ADSGATE_LOG_LEVEL"
	EnvConfigPath  = "ADSGATE_CONFIG"
)

var validate = validator.New()

// DefaultPath returns $ADSGATE_CONFIG, or ~/.aleutian/adsgate.yaml.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".aleutian", "adsgate.yaml"), nil
}

// Load reads the config at path, creating it with defaults on first run.
//
// # Description
//
// Fields missing from the file keep their DefaultConfig value. Environment
// overrides are applied after parsing and the result is validated.
//
// # Outputs
//
//   - AdsgateConfig: The effective configuration.
//   - bool: True if the file was created by this call.
//   - error: Read, parse or validation failure.
func Load(path string) (AdsgateConfig, bool, error) {
	created := false
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := createDefault(path); err != nil {
			return AdsgateConfig{}, false, err
		}
		created = true
	}
	cfg, err := Read(path)
	return cfg, created, err
}

// Read parses and validates an existing config file.
func Read(path string) (AdsgateConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AdsgateConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return AdsgateConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over DefaultConfig, applies environment overrides and
// validates.
func Parse(data []byte) (AdsgateConfig, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AdsgateConfig{}, fmt.Errorf("failed to parse the config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return AdsgateConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AdsgateConfig{}, err
	}
	return cfg, nil
}

// Validate checks every section against its validate tags.
func (c AdsgateConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes cfg as YAML. The Influx token is never written.
func Save(path string, cfg AdsgateConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode the config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func createDefault(path string) error {
	return Save(path, DefaultConfig())
}

func applyEnv(cfg *AdsgateConfig) error {
	if token := os.Getenv(EnvInfluxToken); token != "" {
		cfg.Archive.Token = token
	}
	if raw := os.Getenv(EnvLogLevel); raw != "" {
		level, err := logging.ParseLevel(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
		cfg.Logging.Level = level
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
