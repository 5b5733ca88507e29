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
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultGraphBaseURL is the versioned Graph API root.
const DefaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// maxResponseBytes bounds a single vendor response body.
const maxResponseBytes = 10 << 20

// HTTPClient allows injecting mock HTTP clients for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// GraphClientConfig configures the vendor client.
type GraphClientConfig struct {
	BaseURL           string        `yaml:"base_url" validate:"required,url"`
	Timeout           time.Duration `yaml:"timeout" validate:"min=0"`
	MaxPages          int           `yaml:"max_pages" validate:"min=1"`
	PageSize          int           `yaml:"page_size" validate:"min=1,max=500"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gt=0"`
	Burst             int           `yaml:"burst" validate:"min=1"`
}

// DefaultGraphClientConfig returns production defaults.
func DefaultGraphClientConfig() GraphClientConfig {
	return GraphClientConfig{
		BaseURL:           DefaultGraphBaseURL,
		Timeout:           30 * time.Second,
		MaxPages:          10,
		PageSize:          100,
		RequestsPerSecond: 5,
		Burst:             10,
	}
}

// GraphClient calls the Graph API endpoints the dashboard consumes.
//
// # Description
//
// The access token is sent as the access_token query parameter. List
// endpoints follow paging.next up to MaxPages. Every outbound request
// first waits on a token bucket limiter.
//
// # Thread Safety
//
// GraphClient is safe for concurrent use.
type GraphClient struct {
	http     HTTPClient
	baseURL  string
	limiter  *rate.Limiter
	maxPages int
	pageSize int
}

// GraphOption configures a GraphClient.
type GraphOption func(*GraphClient)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c HTTPClient) GraphOption {
	return func(g *GraphClient) {
		if c != nil {
			g.http = c
		}
	}
}

// WithLimiter replaces the outbound limiter.
func WithLimiter(l *rate.Limiter) GraphOption {
	return func(g *GraphClient) {
		if l != nil {
			g.limiter = l
		}
	}
}

// NewGraphClient creates a vendor client.
func NewGraphClient(cfg GraphClientConfig, opts ...GraphOption) *GraphClient {
	defaults := DefaultGraphClientConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaults.MaxPages
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaults.PageSize
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaults.Burst
	}

	g := &GraphClient{
		http:     &http.Client{Timeout: cfg.Timeout},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		maxPages: cfg.MaxPages,
		pageSize: cfg.PageSize,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// =============================================================================
// Endpoints
// =============================================================================

// Me returns the identity that owns token.
func (g *GraphClient) Me(ctx context.Context, token string) (*UserIdentity, error) {
	q := url.Values{"fields": {"id,name,email"}}
	var me UserIdentity
	if err := g.get(ctx, TypeMe, g.baseURL+"/me", token, q, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// Businesses lists the user's Business Manager accounts.
func (g *GraphClient) Businesses(ctx context.Context, token string) ([]Business, error) {
	q := url.Values{"fields": {"id,name,verification_status"}}
	return listAll[Business](ctx, g, TypeBusinesses, "/me/businesses", token, q)
}

// AdAccounts lists ad accounts owned by businessID, or the user's own
// accounts when businessID is empty.
func (g *GraphClient) AdAccounts(ctx context.Context, token, businessID string) ([]AdAccount, error) {
	q := url.Values{"fields": {"id,account_id,name,account_status,currency,timezone_name,amount_spent"}}
	path := "/me/adaccounts"
	if businessID != "" {
		path = "/" + url.PathEscape(businessID) + "/owned_ad_accounts"
	}
	return listAll[AdAccount](ctx, g, TypeAdAccounts, path, token, q)
}

// Campaigns lists the campaigns of an ad account.
func (g *GraphClient) Campaigns(ctx context.Context, token, accountID string) ([]Campaign, error) {
	q := url.Values{"fields": {"id,name,status,effective_status,objective,daily_budget,lifetime_budget,start_time,stop_time"}}
	path := "/" + url.PathEscape(NormalizeAccountID(accountID)) + "/campaigns"
	return listAll[Campaign](ctx, g, TypeCampaigns, path, token, q)
}

// AdSets lists the ad sets of a campaign.
func (g *GraphClient) AdSets(ctx context.Context, token, campaignID string) ([]AdSet, error) {
	q := url.Values{"fields": {"id,name,campaign_id,status,effective_status,daily_budget,lifetime_budget,optimization_goal,billing_event,start_time,end_time"}}
	path := "/" + url.PathEscape(campaignID) + "/adsets"
	return listAll[AdSet](ctx, g, TypeAdSets, path, token, q)
}

// Insights returns the insights report for an account, campaign, ad set
// or ad.
func (g *GraphClient) Insights(ctx context.Context, token, objectID string, query InsightsQuery) ([]InsightRow, error) {
	path := "/" + url.PathEscape(objectID) + "/insights"
	return listAll[InsightRow](ctx, g, TypeInsights, path, token, query.values())
}

// NormalizeAccountID adds the act_ prefix the Graph API expects on ad
// account node IDs.
func NormalizeAccountID(id string) string {
	if id == "" || strings.HasPrefix(id, "act_") {
		return id
	}
	return "act_" + id
}

// =============================================================================
// Transport
// =============================================================================

type page[T any] struct {
	Data   []T `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// listAll fetches path and follows paging.next up to maxPages.
func listAll[T any](ctx context.Context, g *GraphClient, endpoint, path, token string, q url.Values) ([]T, error) {
	q.Set("limit", strconv.Itoa(g.pageSize))

	out := make([]T, 0)
	next := g.baseURL + path
	for pages := 0; next != "" && pages < g.maxPages; pages++ {
		var p page[T]
		if err := g.get(ctx, endpoint, next, token, q, &p); err != nil {
			return nil, err
		}
		out = append(out, p.Data...)
		next = p.Paging.Next
		// The next URL carries its own query string.
		q = nil
	}
	return out, nil
}

// vendorErrorBody is the Graph API error envelope.
type vendorErrorBody struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		Subcode   int    `json:"error_subcode"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// get issues one GET and decodes the JSON body into out.
func (g *GraphClient) get(ctx context.Context, endpoint, rawURL, token string, q url.Values, out any) error {
	if token == "" {
		return ErrUnauthenticated
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for outbound slot: %w", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse graph URL: %w", err)
	}
	values := u.Query()
	for k, vs := range q {
		values[k] = vs
	}
	values.Set("access_token", token)
	u.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build graph request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := g.http.Do(req)
	if err != nil {
		recordVendorRequest(ctx, endpoint, 0, time.Since(start))
		return fmt.Errorf("graph %s: %w", endpoint, redactTransportError(err))
	}
	defer resp.Body.Close()
	recordVendorRequest(ctx, endpoint, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read graph %s response: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseVendorError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode graph %s response: %w", endpoint, err)
	}
	return nil
}

// redactTransportError strips the access token from the URL that
// net/http embeds in transport errors.
func redactTransportError(err error) error {
	var uErr *url.Error
	if !errors.As(err, &uErr) {
		return err
	}
	u, perr := url.Parse(uErr.URL)
	if perr != nil {
		return &url.Error{Op: uErr.Op, URL: "<unparseable graph URL>", Err: uErr.Err}
	}
	q := u.Query()
	if q.Has("access_token") {
		q.Set("access_token", "[REDACTED]")
		u.RawQuery = q.Encode()
	}
	return &url.Error{Op: uErr.Op, URL: u.String(), Err: uErr.Err}
}

// parseVendorError builds a *VendorAPIError from a non-2xx body. A body
// that is not the vendor envelope keeps only the status.
func parseVendorError(status int, body []byte) *VendorAPIError {
	vErr := &VendorAPIError{Status: status}
	var env vendorErrorBody
	if err := json.Unmarshal(body, &env); err == nil {
		vErr.Code = env.Error.Code
		vErr.Subcode = env.Error.Subcode
		vErr.Type = env.Error.Type
		vErr.Message = env.Error.Message
		vErr.TraceID = env.Error.FBTraceID
	}
	if vErr.Message == "" {
		vErr.Message = http.StatusText(status)
	}
	return vErr
}
