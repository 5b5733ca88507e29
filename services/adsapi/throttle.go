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
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianAds/services/adsapi/durable"
)

// StoreKeyRateLimit is the durable store key for the throttle state.
const StoreKeyRateLimit = "oauth_rate_limit"

// ThrottleState is the position of the OAuth throttle state machine.
type ThrottleState int

const (
	// ThrottleClear means no attempts are recorded in the current window.
	ThrottleClear ThrottleState = iota

	// ThrottleThrottling means attempts are recorded but below the ceiling.
	ThrottleThrottling

	// ThrottleLocallyBlocked means the ceiling was reached inside the window.
	ThrottleLocallyBlocked
)

// String returns the string representation of the state.
func (s ThrottleState) String() string {
	switch s {
	case ThrottleClear:
		return "clear"
	case ThrottleThrottling:
		return "throttling"
	case ThrottleLocallyBlocked:
		return "locally_blocked"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s ThrottleState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ThrottleConfig configures the OAuth attempt limiter.
type ThrottleConfig struct {
	// MaxAttempts is the attempt ceiling inside Window.
	MaxAttempts int `yaml:"max_attempts" validate:"min=1"`

	// Window is how long after the last attempt the counter resets.
	Window time.Duration `yaml:"window" validate:"min=1s"`

	// VendorBlock is how long a vendor-reported rate limit blocks logins.
	VendorBlock time.Duration `yaml:"vendor_block" validate:"min=1s"`

	// BaseBackoff is the first backoff step.
	BaseBackoff time.Duration `yaml:"base_backoff" validate:"min=0"`

	// MaxJitter bounds the random jitter added to each backoff.
	MaxJitter time.Duration `yaml:"max_jitter" validate:"min=0"`

	// MaxBackoff caps the suggested backoff. Zero means defaultMaxBackoff.
	MaxBackoff time.Duration `yaml:"max_backoff" validate:"min=0"`
}

// defaultMaxBackoff caps the backoff when MaxBackoff is unset.
const defaultMaxBackoff = 30 * time.Minute

// DefaultThrottleConfig returns the production throttle configuration.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		MaxAttempts: 5,
		Window:      15 * time.Minute,
		VendorBlock: 30 * time.Minute,
		BaseBackoff: 2 * time.Second,
		MaxJitter:   time.Second,
		MaxBackoff:  defaultMaxBackoff,
	}
}

// OAuthRateLimitState is the persisted throttle record.
type OAuthRateLimitState struct {
	Attempts          int       `json:"attempts"`
	LastAttemptAt     time.Time `json:"last_attempt_at"`
	VendorBlockActive bool      `json:"vendor_block_active"`
	VendorBlockUntil  time.Time `json:"vendor_block_until"`
}

// ThrottleSnapshot is a read-only view of the throttle at a point in time.
type ThrottleSnapshot struct {
	State             ThrottleState `json:"state"`
	Attempts          int           `json:"attempts"`
	MaxAttempts       int           `json:"max_attempts"`
	LastAttemptAt     time.Time     `json:"last_attempt_at,omitempty"`
	WindowResetsAt    time.Time     `json:"window_resets_at,omitempty"`
	VendorBlockActive bool          `json:"vendor_block_active"`
	VendorBlockUntil  time.Time     `json:"vendor_block_until,omitempty"`
	SuggestedBackoff  time.Duration `json:"suggested_backoff"`
	Permitted         bool          `json:"permitted"`
}

// Throttle is the OAuth login attempt limiter.
//
// # Description
//
// States move Clear → Throttling → LocallyBlocked and return to Clear once
// Window has elapsed since the last attempt. The vendor block is
// orthogonal and lifts at VendorBlockUntil. An attempt is permitted only
// when neither block holds. Every mutation is written to the durable store
// so a restart does not reset throttling.
//
// # Thread Safety
//
// Throttle is safe for concurrent use.
type Throttle struct {
	mu     sync.Mutex
	cfg    ThrottleConfig
	state  OAuthRateLimitState
	store  durable.Store
	now    func() time.Time
	jitter func(limit time.Duration) time.Duration
	logger *slog.Logger
}

// newThrottle creates a throttle with zero state. Call load to restore.
func newThrottle(cfg ThrottleConfig, store durable.Store, now func() time.Time, jitter func(time.Duration) time.Duration, logger *slog.Logger) *Throttle {
	if jitter == nil {
		jitter = randomJitter
	}
	return &Throttle{
		cfg:    cfg,
		store:  store,
		now:    now,
		jitter: jitter,
		logger: logger,
	}
}

// randomJitter returns a uniform duration in [0, limit].
func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit + 1)
}

// load restores the persisted state. A malformed record is discarded.
func (t *Throttle) load(ctx context.Context) error {
	raw, ok, err := t.store.Get(ctx, StoreKeyRateLimit)
	if err != nil {
		return fmt.Errorf("load throttle state: %w", err)
	}
	if !ok {
		return nil
	}

	var st OAuthRateLimitState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		t.logger.Warn("discarding malformed throttle state", slog.String("error", err.Error()))
		return nil
	}
	if st.Attempts < 0 {
		st.Attempts = 0
	}

	t.mu.Lock()
	t.state = st
	t.mu.Unlock()
	return nil
}

// persistLocked writes the current state. Caller holds t.mu.
func (t *Throttle) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(t.state)
	if err != nil {
		return fmt.Errorf("encode throttle state: %w", err)
	}
	if err := t.store.Set(ctx, StoreKeyRateLimit, string(data)); err != nil {
		return fmt.Errorf("persist throttle state: %w", err)
	}
	return nil
}

// normalizeLocked applies the automatic transitions: the attempt window
// elapsing and the vendor block expiring. Returns true if state changed.
func (t *Throttle) normalizeLocked(now time.Time) bool {
	changed := false
	if t.state.Attempts > 0 && !now.Before(t.state.LastAttemptAt.Add(t.cfg.Window)) {
		t.state.Attempts = 0
		changed = true
	}
	if t.state.VendorBlockActive && !now.Before(t.state.VendorBlockUntil) {
		t.state.VendorBlockActive = false
		t.state.VendorBlockUntil = time.Time{}
		changed = true
	}
	return changed
}

// acquire admits or rejects a login attempt.
//
// # Description
//
// Applies the automatic transitions, rejects with *RateLimitError if a
// block holds, and otherwise counts the attempt. Either way the state is
// persisted when it changed. A persistence failure is logged and does not
// reject the attempt.
//
// # Outputs
//
//   - int: The attempt count after this call.
//   - error: *RateLimitError if the attempt is not permitted.
func (t *Throttle) acquire(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	changed := t.normalizeLocked(now)

	if rlErr := t.blockedLocked(now); rlErr != nil {
		if changed {
			t.persistOrWarn(ctx)
		}
		return t.state.Attempts, rlErr
	}

	t.state.Attempts++
	t.state.LastAttemptAt = now
	t.persistOrWarn(ctx)
	return t.state.Attempts, nil
}

// blockedLocked returns the rate limit error for the current state, if any.
func (t *Throttle) blockedLocked(now time.Time) *RateLimitError {
	if t.state.VendorBlockActive {
		return &RateLimitError{
			Reason:     ReasonVendor,
			RetryAfter: t.state.VendorBlockUntil.Sub(now),
			Backoff:    t.backoffLocked(),
		}
	}
	if t.state.Attempts >= t.cfg.MaxAttempts {
		return &RateLimitError{
			Reason:     ReasonLocal,
			RetryAfter: t.state.LastAttemptAt.Add(t.cfg.Window).Sub(now),
			Backoff:    t.backoffLocked(),
		}
	}
	return nil
}

// recordVendorBlock activates the vendor block for VendorBlock from now.
func (t *Throttle) recordVendorBlock(ctx context.Context, cause error) *RateLimitError {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.state.VendorBlockActive = true
	t.state.VendorBlockUntil = now.Add(t.cfg.VendorBlock)
	t.persistOrWarn(ctx)

	return &RateLimitError{
		Reason:     ReasonVendor,
		RetryAfter: t.cfg.VendorBlock,
		Backoff:    t.backoffLocked(),
		Cause:      cause,
	}
}

func (t *Throttle) persistOrWarn(ctx context.Context) {
	if err := t.persistLocked(ctx); err != nil {
		t.logger.Warn("throttle state not persisted", slog.String("error", err.Error()))
	}
}

// SuggestedBackoff returns min(base * 2^(attempts-1) + jitter, cap), or
// zero when no attempts are recorded.
func (t *Throttle) SuggestedBackoff() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.backoffLocked()
}

func (t *Throttle) backoffLocked() time.Duration {
	return computeBackoff(t.cfg, t.state.Attempts, t.jitter(t.cfg.MaxJitter))
}

// computeBackoff is the pure backoff formula.
func computeBackoff(cfg ThrottleConfig, attempts int, jitter time.Duration) time.Duration {
	if attempts <= 0 {
		return 0
	}
	limit := cfg.MaxBackoff
	if limit <= 0 {
		limit = defaultMaxBackoff
	}
	delay := cfg.BaseBackoff
	if delay >= limit {
		return limit
	}
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	delay += jitter
	if delay > limit {
		return limit
	}
	return delay
}

// Snapshot returns the throttle as it stands now without mutating it.
func (t *Throttle) Snapshot() ThrottleSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	st := t.state
	if st.Attempts > 0 && !now.Before(st.LastAttemptAt.Add(t.cfg.Window)) {
		st.Attempts = 0
	}
	if st.VendorBlockActive && !now.Before(st.VendorBlockUntil) {
		st.VendorBlockActive = false
		st.VendorBlockUntil = time.Time{}
	}

	snap := ThrottleSnapshot{
		State:             classify(st.Attempts, t.cfg.MaxAttempts),
		Attempts:          st.Attempts,
		MaxAttempts:       t.cfg.MaxAttempts,
		LastAttemptAt:     st.LastAttemptAt,
		VendorBlockActive: st.VendorBlockActive,
		VendorBlockUntil:  st.VendorBlockUntil,
		SuggestedBackoff:  computeBackoff(t.cfg, st.Attempts, 0),
	}
	if st.Attempts > 0 {
		snap.WindowResetsAt = st.LastAttemptAt.Add(t.cfg.Window)
	}
	snap.Permitted = snap.State != ThrottleLocallyBlocked && !snap.VendorBlockActive
	return snap
}

func classify(attempts, ceiling int) ThrottleState {
	switch {
	case attempts <= 0:
		return ThrottleClear
	case attempts < ceiling:
		return ThrottleThrottling
	default:
		return ThrottleLocallyBlocked
	}
}

// State returns the raw persisted record.
func (t *Throttle) State() OAuthRateLimitState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Reset clears attempts and any vendor block and persists the result.
func (t *Throttle) Reset(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = OAuthRateLimitState{}
	return t.persistLocked(ctx)
}
