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
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// CacheEntry is a cached response.
type CacheEntry struct {
	Key      string
	Data     any
	StoredAt time.Time
	TTL      time.Duration
}

// Valid reports whether the entry is live at now.
func (e *CacheEntry) Valid(now time.Time) bool {
	return now.Sub(e.StoredAt) < e.TTL
}

// CacheStats contains response cache statistics.
type CacheStats struct {
	Entries       int   `json:"entries"`
	LastKnown     int   `json:"last_known"`
	Pending       int   `json:"pending"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Executions    int64 `json:"executions"`
	Coalesced     int64 `json:"coalesced"`
	Expirations   int64 `json:"expirations"`
	Invalidations int64 `json:"invalidations"`
}

// HitRate returns the cache hit rate as a percentage.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// ResponseCache is a TTL cache with per-key request coalescing.
//
// # Description
//
// A live entry is returned without running execute. On a miss, callers
// for the same key share one execution through singleflight. Expired
// entries are deleted lazily on read and kept as the key's last known
// value for stale fallback.
//
// Each execution registers a pending token. Only the execution whose token
// is still registered when it settles may store its value, so a call that
// settles after Clear or an invalidation does not repopulate the cache.
//
// Invalidation also forgets the key's singleflight call, so the next
// caller starts a fresh execution while the abandoned one may still be
// running. For that window two vendor calls for one key can overlap; the
// invalidation is honoured over strict one-call-per-key.
//
// # Thread Safety
//
// ResponseCache is safe for concurrent use.
type ResponseCache struct {
	mu        sync.Mutex
	entries   map[string]*CacheEntry
	lastKnown map[string]*CacheEntry
	pending   map[string]uint64
	seq       uint64
	flight    singleflight.Group
	now       func() time.Time

	hits          atomic.Int64
	misses        atomic.Int64
	executions    atomic.Int64
	coalesced     atomic.Int64
	expirations   atomic.Int64
	invalidations atomic.Int64
}

// NewResponseCache creates an empty cache using now as its clock.
func NewResponseCache(now func() time.Time) *ResponseCache {
	if now == nil {
		now = time.Now
	}
	return &ResponseCache{
		entries:   make(map[string]*CacheEntry),
		lastKnown: make(map[string]*CacheEntry),
		pending:   make(map[string]uint64),
		now:       now,
	}
}

// Get returns the live value for key, deleting it if expired.
func (c *ResponseCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key)
}

func (c *ResponseCache) liveLocked(key string) (any, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !entry.Valid(c.now()) {
		delete(c.entries, key)
		c.expirations.Add(1)
		return nil, false
	}
	return entry.Data, true
}

// LastKnown returns the most recent value stored for key, live or expired.
func (c *ResponseCache) LastKnown(key string) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lastKnown[key]
	if !ok {
		return nil, false
	}
	cp := *entry
	return &cp, true
}

// GetOrExecute returns the cached value for key or runs execute to fill it.
//
// # Description
//
// execute runs with a context detached from ctx's cancellation, so a caller
// that stops waiting does not abort the call for the others. Errors are
// returned to every waiter and never cached.
//
// # Inputs
//
//   - ctx: Bounds how long this caller waits.
//   - key: Derived cache key.
//   - ttl: Lifetime of the stored value.
//   - execute: Performs the outbound call.
//
// # Outputs
//
//   - any: The cached or freshly fetched value.
//   - bool: True if served from cache without waiting on a call.
//   - error: The execution error, or ctx.Err() if the caller gave up.
func (c *ResponseCache) GetOrExecute(
	ctx context.Context,
	key string,
	ttl time.Duration,
	execute func(context.Context) (any, error),
) (any, bool, error) {
	c.mu.Lock()
	if v, ok := c.liveLocked(key); ok {
		c.mu.Unlock()
		c.hits.Add(1)
		return v, true, nil
	}
	if _, inflight := c.pending[key]; inflight {
		c.coalesced.Add(1)
	}
	c.mu.Unlock()
	c.misses.Add(1)

	detached := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (any, error) {
		return c.execute(detached, key, ttl, execute)
	})

	select {
	case res := <-ch:
		return res.Val, false, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (c *ResponseCache) execute(
	ctx context.Context,
	key string,
	ttl time.Duration,
	execute func(context.Context) (any, error),
) (any, error) {
	c.mu.Lock()
	// A previous flight for this key may have stored between our miss and
	// this flight starting.
	if v, ok := c.liveLocked(key); ok {
		c.mu.Unlock()
		return v, nil
	}
	c.seq++
	token := c.seq
	c.pending[key] = token
	c.mu.Unlock()

	c.executions.Add(1)
	value, err := execute(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	owned := c.pending[key] == token
	if owned {
		delete(c.pending, key)
	}
	if err != nil {
		return nil, err
	}
	if owned && ttl > 0 {
		entry := &CacheEntry{Key: key, Data: value, StoredAt: c.now(), TTL: ttl}
		c.entries[key] = entry
		c.lastKnown[key] = entry
	}
	return value, nil
}

// Invalidate removes the entry and last known value for key.
func (c *ResponseCache) Invalidate(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(func(k string) bool { return k == key })
}

// InvalidatePrefix removes every entry whose key starts with prefix.
func (c *ResponseCache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(func(k string) bool { return strings.HasPrefix(k, prefix) })
}

// Clear removes every entry, last known value and pending marker.
func (c *ResponseCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(func(string) bool { return true })
}

// removeLocked drops matching entries and abandons matching in-flight
// calls. Abandoned calls still deliver to their waiters but do not store.
func (c *ResponseCache) removeLocked(match func(string) bool) int {
	removed := 0
	for k := range c.entries {
		if match(k) {
			delete(c.entries, k)
			removed++
		}
	}
	for k := range c.lastKnown {
		if match(k) {
			delete(c.lastKnown, k)
		}
	}
	for k := range c.pending {
		if match(k) {
			delete(c.pending, k)
			c.flight.Forget(k)
		}
	}
	c.invalidations.Add(int64(removed))
	return removed
}

// Stats returns a snapshot of cache statistics.
func (c *ResponseCache) Stats() CacheStats {
	c.mu.Lock()
	entries, lastKnown, pending := len(c.entries), len(c.lastKnown), len(c.pending)
	c.mu.Unlock()

	return CacheStats{
		Entries:       entries,
		LastKnown:     lastKnown,
		Pending:       pending,
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Executions:    c.executions.Load(),
		Coalesced:     c.coalesced.Load(),
		Expirations:   c.expirations.Load(),
		Invalidations: c.invalidations.Load(),
	}
}
