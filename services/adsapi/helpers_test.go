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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAds/services/adsapi/durable"
	"github.com/AleutianAI/AleutianAds/services/adsapi/events"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeVendor records calls and returns canned responses.
type fakeVendor struct {
	mu    sync.Mutex
	calls map[string]int

	meErr       error
	adSetsErr   error
	campaignErr error
	adSets      []AdSet
	tokens      []string
	users       map[string]UserIdentity
}

func newFakeVendor() *fakeVendor {
	return &fakeVendor{
		calls:  make(map[string]int),
		adSets: []AdSet{{ID: "as_1", Name: "Retargeting"}},
	}
}

func (v *fakeVendor) record(name, token string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls[name]++
	v.tokens = append(v.tokens, token)
}

func (v *fakeVendor) lastToken() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.tokens) == 0 {
		return ""
	}
	return v.tokens[len(v.tokens)-1]
}

func (v *fakeVendor) Calls(name string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[name]
}

func (v *fakeVendor) setAdSetsErr(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.adSetsErr = err
}

func (v *fakeVendor) setMeErr(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.meErr = err
}

func (v *fakeVendor) Me(ctx context.Context, token string) (*UserIdentity, error) {
	v.record(TypeMe, token)
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.meErr != nil {
		return nil, v.meErr
	}
	if me, ok := v.users[token]; ok {
		return &me, nil
	}
	return &UserIdentity{ID: "u_42", Name: "Dana Agency"}, nil
}

func (v *fakeVendor) Businesses(ctx context.Context, token string) ([]Business, error) {
	v.record(TypeBusinesses, token)
	return []Business{{ID: "b_1", Name: "Acme"}}, nil
}

func (v *fakeVendor) AdAccounts(ctx context.Context, token, businessID string) ([]AdAccount, error) {
	v.record(TypeAdAccounts, token)
	return []AdAccount{{ID: "act_1", Name: "Acme US"}}, nil
}

func (v *fakeVendor) Campaigns(ctx context.Context, token, accountID string) ([]Campaign, error) {
	v.record(TypeCampaigns, token)
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.campaignErr != nil {
		return nil, v.campaignErr
	}
	return []Campaign{{ID: "c_" + accountID, Name: "Spring Sale"}}, nil
}

func (v *fakeVendor) AdSets(ctx context.Context, token, campaignID string) ([]AdSet, error) {
	v.record(TypeAdSets, token)
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.adSetsErr != nil {
		return nil, v.adSetsErr
	}
	out := make([]AdSet, len(v.adSets))
	copy(out, v.adSets)
	return out, nil
}

func (v *fakeVendor) Insights(ctx context.Context, token, objectID string, query InsightsQuery) ([]InsightRow, error) {
	v.record(TypeInsights, token)
	return []InsightRow{{Spend: "12.50", Impressions: "1000", Clicks: "25"}}, nil
}

// fakeSink records archived insights.
type fakeSink struct {
	mu     sync.Mutex
	writes int
	err    error
}

func (s *fakeSink) WriteInsights(ctx context.Context, objectID, level string, rows []InsightRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	return s.err
}

// testEnv bundles an access layer with its fakes.
type testEnv struct {
	layer  *AccessLayer
	vendor *fakeVendor
	store  *durable.MemoryStore
	events *events.Recorder
	clock  *fakeClock
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		vendor: newFakeVendor(),
		store:  durable.NewMemoryStore(),
		events: events.NewRecorder(),
		clock:  newFakeClock(),
	}
	env.layer = env.newLayer(t, opts...)
	return env
}

// newLayer builds another layer over the same store, as after a restart.
func (e *testEnv) newLayer(t *testing.T, opts ...Option) *AccessLayer {
	t.Helper()
	base := []Option{
		WithClock(e.clock.Now),
		WithJitter(func(time.Duration) time.Duration { return 0 }),
	}
	l, err := New(context.Background(), e.vendor, e.store, e.events, append(base, opts...)...)
	require.NoError(t, err)
	return l
}

// login performs a successful login and selects act_1.
func (e *testEnv) login(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := e.layer.AttemptLogin(ctx, "EAAB-token")
	require.NoError(t, err)
	require.NoError(t, e.layer.SelectAccount(ctx, "act_1", "Acme"))
}
