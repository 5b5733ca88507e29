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
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAds/pkg/ux"
	"github.com/AleutianAI/AleutianAds/services/adsapi"
	"github.com/AleutianAI/AleutianAds/services/adsapi/durable"
	"github.com/AleutianAI/AleutianAds/services/gateway/handlers"
)

// stateReport is the output of `state show`.
type stateReport struct {
	Throttle       adsapi.ThrottleSnapshot `json:"throttle"`
	User           *adsapi.UserIdentity    `json:"user,omitempty"`
	Account        adsapi.SessionContext   `json:"account"`
	TokenPersisted bool                    `json:"token_persisted"`
	LogoutAt       *time.Time              `json:"logout_at,omitempty"`
}

func runStateShow(cmd *cobra.Command, args []string) error {
	env, err := setup(cmd, false)
	if err != nil {
		return err
	}
	defer env.close()

	store, err := env.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	layer, err := offlineLayer(cmd.Context(), env, store)
	if err != nil {
		return err
	}
	report, err := readState(cmd.Context(), store, layer)
	if err != nil {
		return err
	}

	user := "-"
	if report.User != nil {
		user = fmt.Sprintf("%s (%s)", report.User.Name, report.User.ID)
	}
	account := "-"
	if report.Account.AccountID != "" {
		account = report.Account.AccountID
		if report.Account.ClientName != "" {
			account += " / " + report.Account.ClientName
		}
	}
	return env.out.Result("adsgate state", report, []ux.Field{
		{Key: "throttle", Value: report.Throttle.State},
		{Key: "attempts", Value: fmt.Sprintf("%d/%d", report.Throttle.Attempts, report.Throttle.MaxAttempts)},
		{Key: "vendor block", Value: vendorBlock(report.Throttle)},
		{Key: "login permitted", Value: report.Throttle.Permitted},
		{Key: "user", Value: user},
		{Key: "account", Value: account},
		{Key: "token stored", Value: report.TokenPersisted},
	})
}

func runStateReset(cmd *cobra.Command, args []string) error {
	env, err := setup(cmd, false)
	if err != nil {
		return err
	}
	defer env.close()

	store, err := env.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	layer, err := offlineLayer(cmd.Context(), env, store)
	if err != nil {
		return err
	}
	before := layer.Throttle()
	if err := layer.ResetThrottle(cmd.Context()); err != nil {
		return err
	}
	env.out.Success("login throttle cleared (%d attempts, vendor block %v)", before.Attempts, before.VendorBlockActive)
	return nil
}

// offlineLayer builds an access layer over store for maintenance. It never
// contacts the vendor.
func offlineLayer(ctx context.Context, env *environment, store durable.Store) (*adsapi.AccessLayer, error) {
	return adsapi.New(ctx, adsapi.NewGraphClient(env.cfg.Graph), store, nil,
		adsapi.WithLogger(env.logger.Slog()),
		adsapi.WithThrottleConfig(env.cfg.Throttle),
	)
}

// readState collects the persisted session without restoring it. The token
// itself is only reported as present or absent.
func readState(ctx context.Context, store durable.Store, layer *adsapi.AccessLayer) (stateReport, error) {
	report := stateReport{Throttle: layer.Throttle()}

	if raw, ok, err := store.Get(ctx, adsapi.StoreKeySessionUser); err != nil {
		return report, err
	} else if ok {
		var me adsapi.UserIdentity
		if json.Unmarshal([]byte(raw), &me) == nil && me.ID != "" {
			report.User = &me
		}
	}
	if raw, ok, err := store.Get(ctx, adsapi.StoreKeySelectedAccount); err != nil {
		return report, err
	} else if ok {
		_ = json.Unmarshal([]byte(raw), &report.Account)
	}
	token, ok, err := store.Get(ctx, adsapi.StoreKeySessionToken)
	if err != nil {
		return report, err
	}
	report.TokenPersisted = ok && token != ""

	if raw, ok, err := store.Get(ctx, adsapi.StoreKeyLogoutAt); err != nil {
		return report, err
	} else if ok {
		if ms, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			at := time.UnixMilli(ms).UTC()
			report.LogoutAt = &at
		}
	}
	return report, nil
}

func vendorBlock(snap adsapi.ThrottleSnapshot) string {
	if !snap.VendorBlockActive {
		return "none"
	}
	return "until " + snap.VendorBlockUntil.Local().Format(time.DateTime)
}

// =============================================================================
// cache stats
// =============================================================================

func runCacheStats(cmd *cobra.Command, args []string) error {
	env, err := setup(cmd, false)
	if err != nil {
		return err
	}
	defer env.close()

	addr := gatewayAddr
	if addr == "" {
		addr = net.JoinHostPort(env.cfg.Gateway.Host, strconv.Itoa(env.cfg.Gateway.Port))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	stats, err := fetchCacheStats(ctx, http.DefaultClient, "http://"+addr)
	if err != nil {
		return fmt.Errorf("%w (is adsgate serve running on %s?)", err, addr)
	}

	fields := []ux.Field{
		{Key: "entries", Value: stats.Entries},
		{Key: "hit rate", Value: fmt.Sprintf("%.1f%%", stats.HitRate)},
		{Key: "hits / misses", Value: fmt.Sprintf("%d / %d", stats.Hits, stats.Misses)},
		{Key: "executions", Value: stats.Executions},
		{Key: "coalesced", Value: stats.Coalesced},
		{Key: "in flight", Value: stats.Pending},
	}
	types := make([]string, 0, len(stats.TTLs))
	for t := range stats.TTLs {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fields = append(fields, ux.Field{Key: "ttl " + t, Value: stats.TTLs[t]})
	}
	return env.out.Result("response cache", stats, fields)
}

// fetchCacheStats reads GET /v1/cache/stats from a running gateway.
func fetchCacheStats(ctx context.Context, client *http.Client, baseURL string) (handlers.CacheStatsResponse, error) {
	var stats handlers.CacheStatsResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/cache/stats", nil)
	if err != nil {
		return stats, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return stats, fmt.Errorf("query gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return stats, fmt.Errorf("gateway returned %s: %s", resp.Status, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return stats, fmt.Errorf("decode cache stats: %w", err)
	}
	return stats, nil
}
