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

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleLogin exchanges a vendor access token for a session.
//
// A throttled attempt returns 429 without contacting the vendor; the
// Retry-After header says when to try again.
func HandleLogin(layer *adsapi.AccessLayer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if err := requestValidate.Struct(req); err != nil {
			RespondError(c, err)
			return
		}

		user, err := layer.AttemptLogin(c.Request.Context(), req.AccessToken)
		if err != nil {
			RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, SessionResponse{
			Authenticated: true,
			Session:       layer.Session(),
			User:          user,
		})
	}
}

// HandleLogout ends the session. The attempt counter survives.
func HandleLogout(layer *adsapi.AccessLayer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := layer.Logout(c.Request.Context()); err != nil {
			RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
	}
}

// HandleThrottle returns the OAuth throttle snapshot.
func HandleThrottle(layer *adsapi.AccessLayer) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, layer.Throttle())
	}
}

// HandleSession returns the current SessionContext and identity.
func HandleSession(layer *adsapi.AccessLayer) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := SessionResponse{
			Authenticated: layer.Authenticated(),
			Session:       layer.Session(),
		}
		if user, ok := layer.Identity(); ok {
			resp.User = &user
		}
		if !resp.Authenticated {
			snap := layer.Throttle()
			resp.Throttle = &snap
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleSelectAccount switches the active ad account.
func HandleSelectAccount(layer *adsapi.AccessLayer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SelectAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if err := requestValidate.Struct(req); err != nil {
			RespondError(c, err)
			return
		}
		if !layer.Authenticated() {
			RespondError(c, adsapi.ErrUnauthenticated)
			return
		}

		if err := layer.SelectAccount(c.Request.Context(), req.AccountID, req.ClientName); err != nil {
			RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": layer.Session()})
	}
}
