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
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianAds/pkg/telemetry"
	"github.com/AleutianAI/AleutianAds/services/adsapi"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidRequest    = "invalid_request"
	CodeUnauthenticated   = "unauthenticated"
	CodeNotAuthorized     = "not_authorized"
	CodeLoginFailed       = "login_failed"
	CodeRateLimited       = "rate_limited"
	CodeNoAccountSelected = "no_account_selected"
	CodeVendorError       = "vendor_error"
	CodeTimeout           = "timeout"
	CodeInternal          = "internal"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	Details []string `json:"details,omitempty"`

	// Rate limiting.
	Reason            string  `json:"reason,omitempty"`
	RetryAfterSeconds float64 `json:"retry_after_seconds,omitempty"`
	BackoffSeconds    float64 `json:"backoff_seconds,omitempty"`

	// Vendor carries the Graph API error payload.
	Vendor *adsapi.VendorAPIError `json:"vendor,omitempty"`
}

// RespondError maps err to a status code and writes an ErrorResponse.
//
// # Description
//
// Checks run most specific first because RateLimitError and AuthError may
// wrap a VendorAPIError:
//
//   - *RateLimitError: 429 with a Retry-After header in whole seconds
//   - ErrUnauthenticated: 401
//   - *AuthError: 401 when the token was rejected, 502 otherwise
//   - ErrNoAccountSelected: 409
//   - validator.ValidationErrors: 400
//   - *VendorAPIError: 502 with the vendor payload
//   - context.DeadlineExceeded: 504
//   - anything else: 500
func RespondError(c *gin.Context, err error) {
	status, body := classifyError(err)

	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.Default())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "path", c.FullPath(), "status", status, "error", err)
	} else {
		logger.Info("request rejected", "path", c.FullPath(), "status", status, "code", body.Code)
	}

	if status == http.StatusTooManyRequests {
		c.Header("Retry-After", strconv.Itoa(retryAfterHeader(body.RetryAfterSeconds)))
	}
	c.AbortWithStatusJSON(status, body)
}

func classifyError(err error) (int, ErrorResponse) {
	var (
		rlErr     *adsapi.RateLimitError
		authErr   *adsapi.AuthError
		vendorErr *adsapi.VendorAPIError
		valErrs   validator.ValidationErrors
	)

	switch {
	case errors.As(err, &rlErr):
		return http.StatusTooManyRequests, ErrorResponse{
			Error:             rlErr.Error(),
			Code:              CodeRateLimited,
			Reason:            string(rlErr.Reason),
			RetryAfterSeconds: rlErr.RetryAfter.Seconds(),
			BackoffSeconds:    rlErr.Backoff.Seconds(),
		}

	case errors.Is(err, adsapi.ErrUnauthenticated):
		return http.StatusUnauthorized, ErrorResponse{Error: "not logged in", Code: CodeUnauthenticated}

	case errors.As(err, &authErr):
		if authErr.Kind == adsapi.AuthNotAuthorized {
			return http.StatusUnauthorized, ErrorResponse{Error: authErr.Error(), Code: CodeNotAuthorized}
		}
		body := ErrorResponse{Error: authErr.Error(), Code: CodeLoginFailed}
		if errors.As(err, &vendorErr) {
			body.Vendor = vendorErr
		}
		return http.StatusBadGateway, body

	case errors.Is(err, adsapi.ErrNoAccountSelected):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: CodeNoAccountSelected}

	case errors.As(err, &valErrs):
		details := make([]string, 0, len(valErrs))
		for _, fe := range valErrs {
			details = append(details, fe.Field()+" failed "+fe.Tag())
		}
		return http.StatusBadRequest, ErrorResponse{Error: "validation failed", Code: CodeInvalidRequest, Details: details}

	case errors.As(err, &vendorErr):
		return http.StatusBadGateway, ErrorResponse{Error: vendorErr.Error(), Code: CodeVendorError, Vendor: vendorErr}

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResponse{Error: "upstream timed out", Code: CodeTimeout}

	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: CodeInternal}
	}
}

// badRequest rejects a body or query that could not be decoded.
func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error: "invalid request: " + err.Error(),
		Code:  CodeInvalidRequest,
	})
}

func retryAfterHeader(seconds float64) int {
	s := int(math.Ceil(seconds))
	if s < 1 {
		return 1
	}
	return s
}
