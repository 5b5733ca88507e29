// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAds/services/adsapi"
	"github.com/AleutianAI/AleutianAds/services/adsapi/events"
)

func TestClassifyError(t *testing.T) {
	vendor := &adsapi.VendorAPIError{Status: 500, Code: 1, Message: "boom"}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"local throttle", &adsapi.RateLimitError{Reason: adsapi.ReasonLocal, RetryAfter: time.Minute}, http.StatusTooManyRequests, CodeRateLimited},
		{"vendor throttle wrapping vendor error", &adsapi.RateLimitError{Reason: adsapi.ReasonVendor, Cause: vendor}, http.StatusTooManyRequests, CodeRateLimited},
		{"unauthenticated", fmt.Errorf("list: %w", adsapi.ErrUnauthenticated), http.StatusUnauthorized, CodeUnauthenticated},
		{"token rejected", &adsapi.AuthError{Kind: adsapi.AuthNotAuthorized, Err: vendor}, http.StatusUnauthorized, CodeNotAuthorized},
		{"login failed", &adsapi.AuthError{Kind: adsapi.AuthUnknown, Err: vendor}, http.StatusBadGateway, CodeLoginFailed},
		{"no account", adsapi.ErrNoAccountSelected, http.StatusConflict, CodeNoAccountSelected},
		{"vendor", fmt.Errorf("campaigns: %w", vendor), http.StatusBadGateway, CodeVendorError},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, CodeTimeout},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := classifyError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, body.Code)
		})
	}
}

func TestClassifyError_LoginFailureCarriesVendorPayload(t *testing.T) {
	vendor := &adsapi.VendorAPIError{Status: 503, TraceID: "Bz9"}
	_, body := classifyError(&adsapi.AuthError{Kind: adsapi.AuthUnknown, Err: vendor})
	require.NotNil(t, body.Vendor)
	assert.Equal(t, "Bz9", body.Vendor.TraceID)

	_, body = classifyError(&adsapi.AuthError{Kind: adsapi.AuthUnknown, Err: errors.New("dial tcp")})
	assert.Nil(t, body.Vendor)
}

func TestClassifyError_Validation(t *testing.T) {
	err := requestValidate.Struct(SelectAccountRequest{})
	status, body := classifyError(err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, []string{"AccountID failed required"}, body.Details)
}

func TestRespondError_RetryAfterHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for _, tt := range []struct {
		retryAfter time.Duration
		want       string
	}{
		{1800 * time.Second, "1800"},
		{1500 * time.Millisecond, "2"},
		{0, "1"},
	} {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		c.Request = httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)

		RespondError(c, &adsapi.RateLimitError{Reason: adsapi.ReasonLocal, RetryAfter: tt.retryAfter})
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, tt.want, rec.Header().Get("Retry-After"))
		assert.True(t, c.IsAborted())
	}
}

func TestParseTopics(t *testing.T) {
	topics, err := parseTopics("")
	require.NoError(t, err)
	assert.Empty(t, topics)

	topics, err = parseTopics(" logged_in, rate_limited ,")
	require.NoError(t, err)
	assert.Equal(t, []events.Topic{events.TopicLoggedIn, events.TopicRateLimited}, topics)

	_, err = parseTopics("logged_in,sunspots")
	assert.Error(t, err)
}

func TestInsightsParams_Query(t *testing.T) {
	q, err := InsightsParams{Level: "adset", Since: "2025-01-01", Until: "2025-01-31", Fields: "spend, clicks,,"}.query()
	require.NoError(t, err)
	assert.Equal(t, "adset", q.Level)
	assert.Equal(t, []string{"spend", "clicks"}, q.Fields)

	q, err = InsightsParams{}.query()
	require.NoError(t, err)
	assert.Nil(t, q.Fields)

	_, err = InsightsParams{Until: "31/01/2025"}.query()
	assert.Error(t, err)
}

func TestInvalidateRequest_Validation(t *testing.T) {
	assert.NoError(t, requestValidate.Struct(InvalidateRequest{}))
	assert.NoError(t, requestValidate.Struct(InvalidateRequest{Type: adsapi.TypeInsights}))
	assert.Error(t, requestValidate.Struct(InvalidateRequest{Type: adsapi.TypeMe}))
}

func TestListOf(t *testing.T) {
	var none []adsapi.Campaign
	resp := listOf(none)
	assert.NotNil(t, resp.Data)
	assert.Zero(t, resp.Count)

	resp = listOf([]adsapi.Campaign{{ID: "c1"}, {ID: "c2"}})
	assert.Equal(t, 2, resp.Count)
}
