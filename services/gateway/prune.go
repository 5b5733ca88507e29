// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianAds/services/adsapi"
	"github.com/AleutianAI/AleutianAds/services/adsapi/durable"
)

// pruneScheduler runs adsapi.PruneStore on an interval. It runs once
// immediately on Start.
type pruneScheduler struct {
	store    durable.Store
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stopped chan struct{}
}

func newPruneScheduler(store durable.Store, interval, maxAge time.Duration, now func() time.Time) *pruneScheduler {
	return &pruneScheduler{
		store:    store,
		interval: interval,
		maxAge:   maxAge,
		now:      now,
	}
}

// Start launches the loop. Starting a running scheduler is an error.
func (s *pruneScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("prune scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	slog.Info("store prune scheduler starting", "interval", s.interval.String(), "max_age", s.maxAge.String())
	go s.runLoop(ctx, s.done, s.stopped)
	return nil
}

// Stop ends the loop and waits for an in-progress cycle. Idempotent.
func (s *pruneScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	stopped := s.stopped
	s.mu.Unlock()
	<-stopped
}

// RunNow runs one prune cycle synchronously.
func (s *pruneScheduler) RunNow(ctx context.Context) (adsapi.PruneResult, error) {
	return adsapi.PruneStore(ctx, s.store, s.now(), s.maxAge)
}

func (s *pruneScheduler) runLoop(ctx context.Context, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.execute(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			s.execute(ctx)
		}
	}
}

func (s *pruneScheduler) execute(ctx context.Context) {
	res, err := s.RunNow(ctx)
	if err != nil {
		slog.Error("store prune cycle failed", "error", err)
		return
	}
	if res.Snapshots+res.SessionMarkers+res.Malformed > 0 {
		slog.Info("store prune cycle completed",
			"snapshots", res.Snapshots,
			"session_markers", res.SessionMarkers,
			"malformed", res.Malformed,
		)
		return
	}
	slog.Debug("store prune cycle completed (nothing to remove)")
}
