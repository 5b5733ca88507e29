// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package adsapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianAds/services/adsapi/durable"
)

// snapshotPrefix prefixes every persisted entity snapshot.
const snapshotPrefix = "cache:"

// EntitySnapshot is a vendor response persisted for stale fallback across
// restarts.
type EntitySnapshot struct {
	Key      string          `json:"key"`
	StoredAt time.Time       `json:"stored_at"`
	Payload  json.RawMessage `json:"payload"`
}

func snapshotTypePrefix(requestType string) string {
	return snapshotPrefix + requestType + ":"
}

// snapshotKey hashes the cache key so store keys stay short and free of
// the JSON params.
func snapshotKey(requestType, cacheKey string) string {
	sum := sha256.Sum256([]byte(cacheKey))
	return snapshotTypePrefix(requestType) + hex.EncodeToString(sum[:12])
}

func (l *AccessLayer) saveSnapshot(ctx context.Context, requestType, key string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		l.logger.Warn("snapshot not encoded", slog.String("request_type", requestType), slog.String("error", err.Error()))
		return
	}
	snap, err := json.Marshal(EntitySnapshot{Key: key, StoredAt: l.now(), Payload: raw})
	if err != nil {
		return
	}
	if err := l.store.Set(ctx, snapshotKey(requestType, key), string(snap)); err != nil {
		l.logger.Warn("snapshot not persisted", slog.String("request_type", requestType), slog.String("error", err.Error()))
	}
}

func (l *AccessLayer) loadSnapshot(ctx context.Context, requestType, key string) (*EntitySnapshot, bool) {
	raw, ok, err := l.store.Get(ctx, snapshotKey(requestType, key))
	if err != nil || !ok {
		return nil, false
	}
	var snap EntitySnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, false
	}
	// A hash collision would hand back another key's data.
	if snap.Key != key {
		return nil, false
	}
	return &snap, true
}

// PruneResult reports what PruneStore removed.
type PruneResult struct {
	Snapshots      int `json:"snapshots"`
	SessionMarkers int `json:"session_markers"`
	Malformed      int `json:"malformed"`
}

// PruneStore removes entity snapshots and session markers older than
// maxAge, plus any record that cannot be decoded. Throttle state and the
// active session keys are never touched.
func PruneStore(ctx context.Context, store durable.Store, now time.Time, maxAge time.Duration) (PruneResult, error) {
	var res PruneResult
	cutoff := now.Add(-maxAge)

	snapKeys, err := store.Keys(ctx, snapshotPrefix)
	if err != nil {
		return res, fmt.Errorf("list snapshots: %w", err)
	}
	var errs []error
	for _, k := range snapKeys {
		raw, ok, err := store.Get(ctx, k)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		var snap EntitySnapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			res.Malformed++
		} else if !snap.StoredAt.Before(cutoff) {
			continue
		} else {
			res.Snapshots++
		}
		if err := store.Remove(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}

	markerKeys, err := store.Keys(ctx, SessionMarkerPrefix)
	if err != nil {
		return res, fmt.Errorf("list session markers: %w", err)
	}
	for _, k := range markerKeys {
		raw, ok, err := store.Get(ctx, k)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		ms, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			res.Malformed++
		} else if !time.UnixMilli(ms).Before(cutoff) {
			continue
		} else {
			res.SessionMarkers++
		}
		if err := store.Remove(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}

	return res, errors.Join(errs...)
}

// LoadThrottleState reads the persisted throttle record without starting
// an access layer. A missing record returns the zero state.
func LoadThrottleState(ctx context.Context, store durable.Store) (OAuthRateLimitState, error) {
	var st OAuthRateLimitState
	raw, ok, err := store.Get(ctx, StoreKeyRateLimit)
	if err != nil || !ok {
		return st, err
	}
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return st, fmt.Errorf("decode throttle state: %w", err)
	}
	return st, nil
}
