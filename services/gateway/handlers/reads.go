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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianAds/services/adsapi"
)

// HandleListBusinesses lists the user's business accounts.
func HandleListBusinesses(layer *adsapi.AccessLayer) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := layer.ListBusinesses(c.Request.Context())
		if err != nil {
			RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, listOf(out))
	}
}

// HandleListAdAccounts lists ad accounts owned by the business in the :id
// path parameter, or the user's own accounts when the route has none.
func HandleListAdAccounts(layer *adsapi.AccessLayer) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := layer.ListAdAccounts(c.Request.Context(), c.Param("id"))
		if err != nil {
			RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, listOf(out))
	}
}

// HandleListCampaigns lists campaigns of the ad account in :id. The value
// "current" selects the session's account.
func HandleListCampaigns(layer *adsapi.AccessLayer) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("id")
		if accountID == "current" {
			accountID = ""
		}
		out, err := layer.ListCampaigns(c.Request.Context(), accountID)
		if err != nil {
			RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, listOf(out))
	}
}

// HandleListAdSets lists ad sets of the campaign in :id.
//
// Vendor 400 and 429 responses do not fail the request; the body then
// carries a "stale" object naming the fallback that was served and the
// X-Adsgate-Stale header is set to its source.
func HandleListAdSets(layer *adsapi.AccessLayer) gin.HandlerFunc {
	return func(c *gin.Context) {
		listing, err := layer.ListAdSets(c.Request.Context(), c.Param("id"))
		if err != nil {
			RespondError(c, err)
			return
		}
		if listing.Data == nil {
			listing.Data = []adsapi.AdSet{}
		}
		if listing.Stale != nil {
			c.Header("X-Adsgate-Stale", string(listing.Stale.Source))
		}
		c.JSON(http.StatusOK, listing)
	}
}

// HandleInsights returns the insights report for the object in :id.
func HandleInsights(layer *adsapi.AccessLayer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var params InsightsParams
		if err := c.ShouldBindQuery(&params); err != nil {
			badRequest(c, err)
			return
		}
		query, err := params.query()
		if err != nil {
			RespondError(c, err)
			return
		}

		rows, err := layer.GetInsights(c.Request.Context(), c.Param("id"), query)
		if err != nil {
			RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, listOf(rows))
	}
}
