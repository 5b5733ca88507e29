// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianAds/services/adsapi"
	"github.com/AleutianAI/AleutianAds/services/adsapi/events"
	"github.com/AleutianAI/AleutianAds/services/gateway/handlers"
	"github.com/AleutianAI/AleutianAds/services/gateway/observability"
)

// Dependencies are the shared objects the routes close over.
type Dependencies struct {
	Layer          *adsapi.AccessLayer
	Bus            *events.Bus
	Metrics        *observability.HTTPMetrics
	MetricsHandler http.Handler
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health", handlers.HealthCheck)
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	layer := deps.Layer
	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		{
			auth.POST("/login", handlers.HandleLogin(layer))
			auth.POST("/logout", handlers.HandleLogout(layer))
			auth.GET("/throttle", handlers.HandleThrottle(layer))
		}

		v1.GET("/session", handlers.HandleSession(layer))
		v1.PUT("/session/account", handlers.HandleSelectAccount(layer))

		v1.GET("/businesses", handlers.HandleListBusinesses(layer))
		v1.GET("/businesses/:id/adaccounts", handlers.HandleListAdAccounts(layer))
		v1.GET("/adaccounts", handlers.HandleListAdAccounts(layer))
		v1.GET("/adaccounts/:id/campaigns", handlers.HandleListCampaigns(layer))
		v1.GET("/campaigns/:id/adsets", handlers.HandleListAdSets(layer))
		v1.GET("/insights/:id", handlers.HandleInsights(layer))

		cache := v1.Group("/cache")
		{
			cache.POST("/invalidate", handlers.HandleInvalidate(layer))
			cache.GET("/stats", handlers.HandleCacheStats(layer))
		}

		if deps.Bus != nil {
			v1.GET("/events/ws", handlers.HandleEventStream(deps.Bus, deps.Metrics))
		}
	}
}
