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
	"time"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	logLevel   string

	// serve
	ephemeral bool

	// store prune
	pruneMaxAge time.Duration

	// store backup
	backupOutput string
	backupToGCS  bool

	// cache stats
	gatewayAddr string

	rootCmd = &cobra.Command{
		Use:   "adsgate",
		Short: "Meta Ads API gateway for the Aleutian ads dashboard",
		Long: `adsgate mediates every call the ads dashboard makes to the Meta Graph API.
It caches responses per account, throttles OAuth logins and keeps session
state in a local store that survives restarts.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	// --- State ---
	stateCmd = &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset the persisted session and login throttle",
	}
	stateShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Show the login throttle and the persisted session",
		RunE:  runStateShow, // Defined in cmd_state.go
	}
	stateResetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Clear the login attempt counter and any vendor block",
		RunE:  runStateReset, // Defined in cmd_state.go
	}

	// --- Cache ---
	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect the response cache of a running gateway",
	}
	cacheStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print cache counters and TTLs",
		RunE:  runCacheStats, // Defined in cmd_state.go
	}

	// --- Store ---
	storeCmd = &cobra.Command{
		Use:   "store",
		Short: "Maintain the local store",
	}
	storePruneCmd = &cobra.Command{
		Use:   "prune",
		Short: "Remove expired snapshots and stale session markers",
		RunE:  runStorePrune, // Defined in cmd_store.go
	}
	storeBackupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Write a full store backup to a file or Google Cloud Storage",
		RunE:  runStoreBackup, // Defined in cmd_store.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $ADSGATE_CONFIG or ~/.aleutian/adsgate.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	serveCmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "keep all state in memory; nothing survives a restart")

	cacheStatsCmd.Flags().StringVar(&gatewayAddr, "addr", "", "gateway address (default from config)")

	storePruneCmd.Flags().DurationVar(&pruneMaxAge, "max-age", 0, "remove records older than this (default gateway.snapshot_max_age)")

	storeBackupCmd.Flags().StringVarP(&backupOutput, "output", "o", "", "backup file (default adsgate-<timestamp>.badger in the current directory)")
	storeBackupCmd.Flags().BoolVar(&backupToGCS, "gcs", false, "upload the backup to the configured GCS bucket")

	rootCmd.AddCommand(serveCmd)

	stateCmd.AddCommand(stateShowCmd, stateResetCmd)
	rootCmd.AddCommand(stateCmd)

	cacheCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)

	storeCmd.AddCommand(storePruneCmd, storeBackupCmd)
	rootCmd.AddCommand(storeCmd)
}
