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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAds/cmd/adsgate/config"
	"github.com/AleutianAI/AleutianAds/services/adsapi"
	"github.com/AleutianAI/AleutianAds/services/adsapi/durable"
	"github.com/AleutianAI/AleutianAds/services/gateway/handlers"
)

// =============================================================================
// Command Tree
// =============================================================================

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"serve"},
		{"state", "show"},
		{"state", "reset"},
		{"cache", "stats"},
		{"store", "prune"},
		{"store", "backup"},
	} {
		cmd, rest, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Empty(t, rest)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
	assert.NotNil(t, storeBackupCmd.Flags().Lookup("gcs"))
	assert.NotNil(t, serveCmd.Flags().Lookup("ephemeral"))
}

// =============================================================================
// End to End
// =============================================================================

// writeTestConfig points the store and logs into a temp dir.
func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Store.Path = filepath.Join(dir, "store")
	cfg.Store.GCInterval = 0
	cfg.Logging.Dir = ""
	path := filepath.Join(dir, "adsgate.yaml")
	require.NoError(t, config.Save(path, cfg))
	return path, cfg.Store.Path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		configPath, logLevel, pruneMaxAge, backupOutput, backupToGCS = "", "", 0, "", false
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seedBadger(t *testing.T, path string) {
	t.Helper()
	store, err := durable.OpenBadger(durable.BadgerConfig{Path: path})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	old := time.Now().Add(-30 * 24 * time.Hour)
	snap, _ := json.Marshal(adsapi.EntitySnapshot{Key: "k", StoredAt: old, Payload: json.RawMessage(`[]`)})
	throttle, _ := json.Marshal(adsapi.OAuthRateLimitState{Attempts: 4, LastAttemptAt: time.Now()})

	require.NoError(t, store.Set(ctx, "cache:adsets:old", string(snap)))
	require.NoError(t, store.Set(ctx, adsapi.SessionMarkerPrefix+"u_1", strconv.FormatInt(old.UnixMilli(), 10)))
	require.NoError(t, store.Set(ctx, adsapi.StoreKeyRateLimit, string(throttle)))
	require.NoError(t, store.Set(ctx, adsapi.StoreKeySessionUser, `{"id":"u_1","name":"Dana"}`))
	require.NoError(t, store.Set(ctx, adsapi.StoreKeySessionToken, "EAAB-secret"))
}

func TestStorePrune_EndToEnd(t *testing.T) {
	cfgPath, storePath := writeTestConfig(t)
	seedBadger(t, storePath)

	out, err := execute(t, "--config", cfgPath, "store", "prune", "--max-age", "168h")
	require.NoError(t, err)

	var res adsapi.PruneResult
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.Equal(t, adsapi.PruneResult{Snapshots: 1, SessionMarkers: 1}, res)
}

func TestStateShowAndReset_EndToEnd(t *testing.T) {
	cfgPath, storePath := writeTestConfig(t)
	seedBadger(t, storePath)

	out, err := execute(t, "--config", cfgPath, "state", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "EAAB-secret")

	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	throttle := report["throttle"].(map[string]any)
	assert.Equal(t, float64(4), throttle["attempts"])
	assert.Equal(t, "throttling", throttle["state"])
	assert.Equal(t, true, report["token_persisted"])

	_, err = execute(t, "--config", cfgPath, "state", "reset")
	require.NoError(t, err)

	store, err := durable.OpenBadger(durable.BadgerConfig{Path: storePath})
	require.NoError(t, err)
	defer store.Close()
	st, err := adsapi.LoadThrottleState(context.Background(), store)
	require.NoError(t, err)
	assert.Zero(t, st.Attempts)
}

// =============================================================================
// Helpers
// =============================================================================

func TestReadState(t *testing.T) {
	ctx := context.Background()
	store := durable.NewMemoryStore()
	require.NoError(t, store.Set(ctx, adsapi.StoreKeySelectedAccount, `{"account_id":"act_3","client_name":"Acme"}`))
	require.NoError(t, store.Set(ctx, adsapi.StoreKeyLogoutAt, "1700000000000"))

	layer, err := adsapi.New(ctx, adsapi.NewGraphClient(adsapi.DefaultGraphClientConfig()), store, nil)
	require.NoError(t, err)

	report, err := readState(ctx, store, layer)
	require.NoError(t, err)
	assert.Nil(t, report.User)
	assert.False(t, report.TokenPersisted)
	assert.Equal(t, "act_3", report.Account.AccountID)
	require.NotNil(t, report.LogoutAt)
	assert.Equal(t, int64(1700000000000), report.LogoutAt.UnixMilli())
	assert.Equal(t, adsapi.ThrottleClear, report.Throttle.State)
}

func TestFetchCacheStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/cache/stats" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(handlers.CacheStatsResponse{
			CacheStats: adsapi.CacheStats{Entries: 3, Hits: 9, Misses: 1},
			HitRate:    90,
			TTLs:       map[string]string{"campaigns": "2m0s"},
		})
	}))
	defer srv.Close()

	stats, err := fetchCacheStats(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Entries)
	assert.Equal(t, 90.0, stats.HitRate)
	assert.Equal(t, "2m0s", stats.TTLs["campaigns"])

	_, err = fetchCacheStats(context.Background(), srv.Client(), srv.URL+"/nope")
	assert.Error(t, err)
}

type fakeBackup struct {
	data string
	err  error
}

func (f fakeBackup) Backup(w io.Writer) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	_, err := io.WriteString(w, f.data)
	return 42, err
}

type fakeUploader struct {
	uploaded map[string]string
	err      error
}

func (f *fakeUploader) UploadFile(_ context.Context, localPath, object string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return 0, err
	}
	f.uploaded[object] = string(data)
	return int64(len(data)), nil
}

func (f *fakeUploader) URL(object string) string { return "gs://bucket/" + object }

func TestBackupStore_LocalFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "b.badger")
	report, err := backupStore(context.Background(), fakeBackup{data: "kv"}, nil, out, "", time.Now())
	require.NoError(t, err)
	assert.Equal(t, out, report.File)
	assert.Equal(t, int64(2), report.Bytes)
	assert.Equal(t, uint64(42), report.Version)

	_, err = backupStore(context.Background(), fakeBackup{data: "kv"}, nil, out, "", time.Now())
	assert.Error(t, err, "an existing backup must not be overwritten")
}

func TestBackupStore_UploadRemovesTempFile(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	up := &fakeUploader{uploaded: map[string]string{}}

	report, err := backupStore(context.Background(), fakeBackup{data: "snapshot"}, up, "", "adsgate/backups", now)
	require.NoError(t, err)
	assert.Empty(t, report.File)
	assert.Equal(t, "gs://bucket/adsgate/backups/adsgate-20250601T000000Z.badger", report.Object)
	assert.Equal(t, "snapshot", up.uploaded["adsgate/backups/adsgate-20250601T000000Z.badger"])
}

func TestBackupStore_Errors(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "fail.badger")
	_, err := backupStore(context.Background(), fakeBackup{err: errors.New("db closed")}, nil, out, "", time.Now())
	require.Error(t, err)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "partial backup should be removed")

	up := &fakeUploader{uploaded: map[string]string{}, err: errors.New("403")}
	_, err = backupStore(context.Background(), fakeBackup{data: "x"}, up, filepath.Join(dir, "kept.badger"), "", time.Now())
	assert.Error(t, err)
}
