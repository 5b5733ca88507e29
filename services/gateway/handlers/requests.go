// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the adsgate HTTP handlers over the access
// layer. Handlers hold no state of their own.
package handlers

import (
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianAds/services/adsapi"
)

// requestValidate validates request bodies and queries.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("requesttype", validateRequestType)
}

// validateRequestType accepts the access layer's request type names.
func validateRequestType(fl validator.FieldLevel) bool {
	return slices.Contains(adsapi.RequestTypes(), fl.Field().String())
}

// LoginRequest is the body of POST /v1/auth/login.
type LoginRequest struct {
	AccessToken string `json:"access_token" validate:"required,max=4096"`
}

// SelectAccountRequest is the body of PUT /v1/session/account.
type SelectAccountRequest struct {
	AccountID  string `json:"account_id" validate:"required,max=64"`
	ClientName string `json:"client_name" validate:"max=256"`
}

// InvalidateRequest is the body of POST /v1/cache/invalidate. An empty
// Type clears the whole cache; Params narrows to a single key.
type InvalidateRequest struct {
	Type   string        `json:"type" validate:"omitempty,requesttype"`
	Params adsapi.Params `json:"params,omitempty"`
}

// InsightsParams is the query string of GET /v1/insights/:id.
type InsightsParams struct {
	Level      string `form:"level"`
	DatePreset string `form:"date_preset"`
	Since      string `form:"since"`
	Until      string `form:"until"`
	Fields     string `form:"fields"`
}

// query converts the query string into a validated InsightsQuery.
func (p InsightsParams) query() (adsapi.InsightsQuery, error) {
	q := adsapi.InsightsQuery{
		Level:      p.Level,
		DatePreset: p.DatePreset,
		Since:      p.Since,
		Until:      p.Until,
	}
	for _, f := range strings.Split(p.Fields, ",") {
		if f = strings.TrimSpace(f); f != "" {
			q.Fields = append(q.Fields, f)
		}
	}
	if err := requestValidate.Struct(q); err != nil {
		return q, err
	}
	return q, nil
}

// SessionResponse is the body of GET /v1/session and of a successful login.
type SessionResponse struct {
	Authenticated bool                     `json:"authenticated"`
	Session       adsapi.SessionContext    `json:"session"`
	User          *adsapi.UserIdentity     `json:"user,omitempty"`
	Throttle      *adsapi.ThrottleSnapshot `json:"throttle,omitempty"`
}

// ListResponse wraps list results so the UI always sees a data array.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Count int `json:"count"`
}

func listOf[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Data: items, Count: len(items)}
}
