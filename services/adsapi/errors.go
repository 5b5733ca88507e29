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
	"errors"
	"fmt"
	"net/http"
	"time"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrUnauthenticated is returned when no valid session exists.
	ErrUnauthenticated = errors.New("not authenticated with the ads API")

	// ErrRateLimitExceeded matches every *RateLimitError through errors.Is.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrNoAccountSelected is returned by account-scoped reads before
	// SelectAccount has been called.
	ErrNoAccountSelected = errors.New("no ad account selected")
)

// =============================================================================
// Rate Limit
// =============================================================================

// RateLimitReason says which throttle rejected an attempt.
type RateLimitReason string

const (
	// ReasonLocal means the local attempt counter hit its ceiling.
	ReasonLocal RateLimitReason = "local"

	// ReasonVendor means the vendor reported a rate limit.
	ReasonVendor RateLimitReason = "vendor"
)

// RateLimitError is returned when a login attempt is throttled.
type RateLimitError struct {
	// Reason is local or vendor.
	Reason RateLimitReason

	// RetryAfter is how long until the block lifts.
	RetryAfter time.Duration

	// Backoff is the suggested delay before the next attempt.
	Backoff time.Duration

	// Cause is the vendor error that triggered a vendor block, if any.
	Cause error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%s): retry after %s", e.Reason, e.RetryAfter.Round(time.Second))
}

// Is makes errors.Is(err, ErrRateLimitExceeded) true.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

func (e *RateLimitError) Unwrap() error {
	return e.Cause
}

// =============================================================================
// Vendor API
// =============================================================================

// VendorAPIError is a non-2xx response from the Graph API.
type VendorAPIError struct {
	Status  int    `json:"status"`
	Code    int    `json:"code,omitempty"`
	Subcode int    `json:"error_subcode,omitempty"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
	TraceID string `json:"fbtrace_id,omitempty"`
}

func (e *VendorAPIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("graph API status %d", e.Status)
	}
	return fmt.Sprintf("graph API status %d code %d: %s", e.Status, e.Code, e.Message)
}

// IsRateLimit reports whether the vendor throttled the request.
//
// HTTP 429, application limits (4, 17, 32, 613) and the ads management
// business use case limits (80000 through 80014) all count.
func (e *VendorAPIError) IsRateLimit() bool {
	if e.Status == http.StatusTooManyRequests {
		return true
	}
	switch e.Code {
	case 4, 17, 32, 613:
		return true
	}
	return e.Code >= 80000 && e.Code <= 80014
}

// IsAuthFailure reports whether the vendor rejected the access token.
func (e *VendorAPIError) IsAuthFailure() bool {
	return e.Status == http.StatusUnauthorized || e.Code == 190
}

// =============================================================================
// Auth
// =============================================================================

// AuthErrorKind classifies a failed login.
type AuthErrorKind string

const (
	// AuthNotAuthorized means the vendor rejected the token.
	AuthNotAuthorized AuthErrorKind = "not_authorized"

	// AuthUnknown is any other login failure.
	AuthUnknown AuthErrorKind = "unknown"
)

// AuthError is returned by AttemptLogin when the login fails for a reason
// other than throttling.
type AuthError struct {
	Kind AuthErrorKind
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("login failed: %s", e.Kind)
	}
	return fmt.Sprintf("login failed: %s: %v", e.Kind, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Stale Data
// =============================================================================

// StaleSource says where a fallback value came from.
type StaleSource string

const (
	// StaleFromMemory is the last known in-memory value, possibly expired.
	StaleFromMemory StaleSource = "last_known"

	// StaleFromSnapshot is the persisted entity snapshot.
	StaleFromSnapshot StaleSource = "snapshot"

	// StaleEmpty means nothing was available and an empty list was served.
	StaleEmpty StaleSource = "empty"
)

// StaleDataFallback describes a listing served in place of a failed live
// call. It is attached to results, never returned as an error.
type StaleDataFallback struct {
	Source   StaleSource `json:"source"`
	Status   int         `json:"status"`
	StoredAt time.Time   `json:"stored_at,omitempty"`
	Reason   string      `json:"reason"`
}

// asVendorError unwraps err to a *VendorAPIError if it holds one.
func asVendorError(err error) (*VendorAPIError, bool) {
	var vErr *VendorAPIError
	if errors.As(err, &vErr) {
		return vErr, true
	}
	return nil, false
}
