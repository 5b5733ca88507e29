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
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianAds/services/adsapi"
)

// HandleInvalidate drops cached responses. An empty body clears everything.
func HandleInvalidate(layer *adsapi.AccessLayer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req InvalidateRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, err)
			return
		}
		if err := requestValidate.Struct(req); err != nil {
			RespondError(c, err)
			return
		}

		var params []adsapi.Params
		if req.Params != nil {
			params = append(params, req.Params)
		}
		removed, err := layer.Invalidate(c.Request.Context(), req.Type, params...)
		if err != nil {
			RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"removed": removed, "type": req.Type})
	}
}

// CacheStatsResponse is the body of GET /v1/cache/stats.
type CacheStatsResponse struct {
	adsapi.CacheStats
	HitRate float64           `json:"hit_rate"`
	TTLs    map[string]string `json:"ttls"`
}

// HandleCacheStats reports cache counters and the configured TTLs.
func HandleCacheStats(layer *adsapi.AccessLayer) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := layer.Stats()
		ttls := layer.TTLs()
		c.JSON(http.StatusOK, CacheStatsResponse{
			CacheStats: stats,
			HitRate:    stats.HitRate(),
			TTLs: map[string]string{
				adsapi.TypeBusinesses: ttls.Businesses.String(),
				adsapi.TypeAdAccounts: ttls.AdAccounts.String(),
				adsapi.TypeCampaigns:  ttls.Campaigns.String(),
				adsapi.TypeAdSets:     ttls.AdSets.String(),
				adsapi.TypeInsights:   ttls.Insights.String(),
			},
		})
	}
}
