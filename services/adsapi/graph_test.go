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
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianAds/services/adsapi/durable"
)

// MockHTTPClient is a mock implementation of HTTPClient.
type MockHTTPClient struct {
	DoFunc   func(req *http.Request) (*http.Response, error)
	Requests []*http.Request
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.Requests = append(m.Requests, req)
	return m.DoFunc(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

func newMockGraph(fn func(req *http.Request) (*http.Response, error)) (*GraphClient, *MockHTTPClient) {
	mock := &MockHTTPClient{DoFunc: fn}
	g := NewGraphClient(DefaultGraphClientConfig(),
		WithHTTPClient(mock),
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
	)
	return g, mock
}

func TestGraphClient_Me(t *testing.T) {
	g, mock := newMockGraph(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"id":"u_1","name":"Dana","email":"dana@example.com"}`), nil
	})

	me, err := g.Me(context.Background(), "tok-123")
	require.NoError(t, err)
	assert.Equal(t, &UserIdentity{ID: "u_1", Name: "Dana", Email: "dana@example.com"}, me)

	require.Len(t, mock.Requests, 1)
	req := mock.Requests[0]
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "graph.facebook.com", req.URL.Host)
	assert.Equal(t, "/v19.0/me", req.URL.Path)
	assert.Equal(t, "tok-123", req.URL.Query().Get("access_token"))
	assert.Equal(t, "id,name,email", req.URL.Query().Get("fields"))
}

func TestGraphClient_RequiresToken(t *testing.T) {
	g, mock := newMockGraph(func(req *http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})

	_, err := g.Businesses(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Empty(t, mock.Requests)
}

func TestGraphClient_Endpoints(t *testing.T) {
	tests := []struct {
		name string
		call func(g *GraphClient) error
		path string
	}{
		{"businesses", func(g *GraphClient) error { _, err := g.Businesses(context.Background(), "t"); return err }, "/v19.0/me/businesses"},
		{"own ad accounts", func(g *GraphClient) error { _, err := g.AdAccounts(context.Background(), "t", ""); return err }, "/v19.0/me/adaccounts"},
		{"business ad accounts", func(g *GraphClient) error { _, err := g.AdAccounts(context.Background(), "t", "b_9"); return err }, "/v19.0/b_9/owned_ad_accounts"},
		{"campaigns adds act prefix", func(g *GraphClient) error { _, err := g.Campaigns(context.Background(), "t", "123"); return err }, "/v19.0/act_123/campaigns"},
		{"adsets", func(g *GraphClient) error { _, err := g.AdSets(context.Background(), "t", "c_5"); return err }, "/v19.0/c_5/adsets"},
		{"insights", func(g *GraphClient) error {
			_, err := g.Insights(context.Background(), "t", "act_1", InsightsQuery{DatePreset: "last_7d"})
			return err
		}, "/v19.0/act_1/insights"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, mock := newMockGraph(func(req *http.Request) (*http.Response, error) {
				return jsonResponse(200, `{"data":[]}`), nil
			})
			require.NoError(t, tt.call(g))
			require.Len(t, mock.Requests, 1)
			assert.Equal(t, tt.path, mock.Requests[0].URL.Path)
			assert.Equal(t, "100", mock.Requests[0].URL.Query().Get("limit"))
		})
	}
}

func TestGraphClient_FollowsPaging(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.URL.Query().Get("access_token"))
		switch r.URL.Query().Get("after") {
		case "":
			_, _ = io.WriteString(w, `{"data":[{"id":"c1"},{"id":"c2"}],"paging":{"next":"`+srv.URL+`/act_1/campaigns?after=p2&access_token=tok"}}`)
		case "p2":
			_, _ = io.WriteString(w, `{"data":[{"id":"c3"}],"paging":{}}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	cfg := DefaultGraphClientConfig()
	cfg.BaseURL = srv.URL
	g := NewGraphClient(cfg, WithHTTPClient(srv.Client()), WithLimiter(rate.NewLimiter(rate.Inf, 1)))

	campaigns, err := g.Campaigns(context.Background(), "tok", "act_1")
	require.NoError(t, err)
	require.Len(t, campaigns, 3)
	assert.Equal(t, "c3", campaigns[2].ID)
}

func TestGraphClient_MaxPages(t *testing.T) {
	calls := 0
	cfg := DefaultGraphClientConfig()
	cfg.MaxPages = 2
	mock := &MockHTTPClient{DoFunc: func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(200, `{"data":[{"id":"x"}],"paging":{"next":"https://graph.facebook.com/v19.0/next"}}`), nil
	}}
	g := NewGraphClient(cfg, WithHTTPClient(mock), WithLimiter(rate.NewLimiter(rate.Inf, 1)))

	out, err := g.AdSets(context.Background(), "t", "c1")
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, 2, calls)
}

func TestGraphClient_VendorErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		rateLimit bool
		auth      bool
		code      int
	}{
		{"http 429", 429, `{}`, true, false, 0},
		{"app limit code 4", 400, `{"error":{"message":"Application request limit reached","type":"OAuthException","code":4}}`, true, false, 4},
		{"user limit code 17", 400, `{"error":{"code":17}}`, true, false, 17},
		{"ads limit 80004", 400, `{"error":{"code":80004,"error_subcode":2446079}}`, true, false, 80004},
		{"expired token", 400, `{"error":{"message":"Session has expired","type":"OAuthException","code":190,"error_subcode":463,"fbtrace_id":"AbC"}}`, false, true, 190},
		{"http 401", 401, `not json`, false, true, 0},
		{"invalid param", 400, `{"error":{"message":"Invalid parameter","code":100}}`, false, false, 100},
		{"server error", 500, ``, false, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newMockGraph(func(req *http.Request) (*http.Response, error) {
				return jsonResponse(tt.status, tt.body), nil
			})

			_, err := g.AdSets(context.Background(), "t", "c1")
			var vErr *VendorAPIError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.status, vErr.Status)
			assert.Equal(t, tt.code, vErr.Code)
			assert.Equal(t, tt.rateLimit, vErr.IsRateLimit())
			assert.Equal(t, tt.auth, vErr.IsAuthFailure())
			assert.NotEmpty(t, vErr.Message)
		})
	}

	t.Run("payload fields", func(t *testing.T) {
		vErr := parseVendorError(400, []byte(`{"error":{"message":"Session has expired","type":"OAuthException","code":190,"error_subcode":463,"fbtrace_id":"AbC"}}`))
		assert.Equal(t, &VendorAPIError{
			Status: 400, Code: 190, Subcode: 463, Type: "OAuthException",
			Message: "Session has expired", TraceID: "AbC",
		}, vErr)
	})
}

func TestGraphClient_TransportError(t *testing.T) {
	boom := errors.New("connection refused")
	g, _ := newMockGraph(func(req *http.Request) (*http.Response, error) {
		return nil, boom
	})

	_, err := g.Me(context.Background(), "t")
	assert.ErrorIs(t, err, boom)
	_, isVendor := asVendorError(err)
	assert.False(t, isVendor)
}

func TestGraphClient_TransportErrorHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	cfg := DefaultGraphClientConfig()
	cfg.BaseURL = base
	g := NewGraphClient(cfg, WithLimiter(rate.NewLimiter(rate.Inf, 1)))

	_, err := g.Me(context.Background(), "EAAB-SECRET-TOKEN")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "EAAB-SECRET-TOKEN")
	assert.Contains(t, err.Error(), base+"/me")

	var uErr *url.Error
	require.ErrorAs(t, err, &uErr)
	assert.NotContains(t, uErr.URL, "EAAB-SECRET-TOKEN")
}

func TestRedactTransportError(t *testing.T) {
	inner := errors.New("connection refused")
	err := redactTransportError(&url.Error{Op: "Get", URL: "https://graph.example/me?access_token=tok&fields=id", Err: inner})
	assert.ErrorIs(t, err, inner)
	assert.NotContains(t, err.Error(), "tok&")
	assert.Contains(t, err.Error(), "fields=id")

	plain := errors.New("boom")
	assert.Same(t, plain, redactTransportError(plain))
}

func TestAttemptLogin_TransportErrorDoesNotLeakToken(t *testing.T) {
	g, _ := newMockGraph(func(req *http.Request) (*http.Response, error) {
		return nil, &url.Error{Op: "Get", URL: req.URL.String(), Err: errors.New("connection refused")}
	})
	layer, err := New(context.Background(), g, durable.NewMemoryStore(), nil)
	require.NoError(t, err)

	_, err = layer.AttemptLogin(context.Background(), "EAAB-SECRET-TOKEN")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, AuthUnknown, authErr.Kind)
	assert.NotContains(t, err.Error(), "EAAB-SECRET-TOKEN")
}

func TestGraphClient_CancelledWhileWaitingForLimiter(t *testing.T) {
	limiter := rate.NewLimiter(rate.Limit(0.001), 1)
	require.True(t, limiter.Allow())

	mock := &MockHTTPClient{DoFunc: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{}`), nil
	}}
	g := NewGraphClient(DefaultGraphClientConfig(), WithHTTPClient(mock), WithLimiter(limiter))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Me(ctx, "t")
	assert.Error(t, err)
	assert.Empty(t, mock.Requests)
}

func TestInsightsQuery(t *testing.T) {
	t.Run("custom range", func(t *testing.T) {
		q := InsightsQuery{Level: "campaign", Since: "2025-01-01", Until: "2025-01-31"}
		v := q.values()
		assert.Equal(t, `{"since":"2025-01-01","until":"2025-01-31"}`, v.Get("time_range"))
		assert.Equal(t, "campaign", v.Get("level"))
		assert.Empty(t, v.Get("date_preset"))
		assert.True(t, strings.Contains(v.Get("fields"), "spend"))
	})

	t.Run("preset", func(t *testing.T) {
		q := InsightsQuery{DatePreset: "last_30d", Fields: []string{"spend", "clicks"}}
		v := q.values()
		assert.Equal(t, "last_30d", v.Get("date_preset"))
		assert.Equal(t, "spend,clicks", v.Get("fields"))
	})

	t.Run("params distinguish queries", func(t *testing.T) {
		a := InsightsQuery{DatePreset: "last_7d"}.params("act_1")
		b := InsightsQuery{DatePreset: "last_30d"}.params("act_1")
		c := InsightsQuery{DatePreset: "last_7d"}.params("act_2")
		assert.NotEqual(t, a, b)
		assert.NotEqual(t, a, c)
	})
}

func TestNormalizeAccountID(t *testing.T) {
	assert.Equal(t, "act_1", NormalizeAccountID("1"))
	assert.Equal(t, "act_1", NormalizeAccountID("act_1"))
	assert.Equal(t, "", NormalizeAccountID(""))
}
