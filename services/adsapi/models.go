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
	"fmt"
	"net/url"
	"strings"
)

// Request types. Each is the first segment of a cache key and the
// Invalidate granularity.
const (
	TypeMe         = "me"
	TypeBusinesses = "businesses"
	TypeAdAccounts = "adaccounts"
	TypeCampaigns  = "campaigns"
	TypeAdSets     = "adsets"
	TypeInsights   = "insights"
)

// RequestTypes lists every cacheable request type.
func RequestTypes() []string {
	return []string{TypeBusinesses, TypeAdAccounts, TypeCampaigns, TypeAdSets, TypeInsights}
}

// Business is a Business Manager account.
type Business struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	VerificationStatus string `json:"verification_status,omitempty"`
}

// AdAccount is an advertising account. IDs carry the act_ prefix.
type AdAccount struct {
	ID            string `json:"id"`
	AccountID     string `json:"account_id,omitempty"`
	Name          string `json:"name"`
	AccountStatus int    `json:"account_status,omitempty"`
	Currency      string `json:"currency,omitempty"`
	TimezoneName  string `json:"timezone_name,omitempty"`
	AmountSpent   string `json:"amount_spent,omitempty"`
}

// Campaign is an ad campaign.
type Campaign struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Status          string `json:"status,omitempty"`
	EffectiveStatus string `json:"effective_status,omitempty"`
	Objective       string `json:"objective,omitempty"`
	DailyBudget     string `json:"daily_budget,omitempty"`
	LifetimeBudget  string `json:"lifetime_budget,omitempty"`
	StartTime       string `json:"start_time,omitempty"`
	StopTime        string `json:"stop_time,omitempty"`
}

// AdSet is an ad set within a campaign.
type AdSet struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	CampaignID       string `json:"campaign_id,omitempty"`
	Status           string `json:"status,omitempty"`
	EffectiveStatus  string `json:"effective_status,omitempty"`
	DailyBudget      string `json:"daily_budget,omitempty"`
	LifetimeBudget   string `json:"lifetime_budget,omitempty"`
	OptimizationGoal string `json:"optimization_goal,omitempty"`
	BillingEvent     string `json:"billing_event,omitempty"`
	StartTime        string `json:"start_time,omitempty"`
	EndTime          string `json:"end_time,omitempty"`
}

// InsightRow is one row of an insights report. The Graph API returns
// numeric metrics as decimal strings.
type InsightRow struct {
	DateStart   string `json:"date_start,omitempty"`
	DateStop    string `json:"date_stop,omitempty"`
	AccountID   string `json:"account_id,omitempty"`
	CampaignID  string `json:"campaign_id,omitempty"`
	AdSetID     string `json:"adset_id,omitempty"`
	Spend       string `json:"spend,omitempty"`
	Impressions string `json:"impressions,omitempty"`
	Clicks      string `json:"clicks,omitempty"`
	Reach       string `json:"reach,omitempty"`
	CTR         string `json:"ctr,omitempty"`
	CPC         string `json:"cpc,omitempty"`
	CPM         string `json:"cpm,omitempty"`
}

// AdSetListing is the result of ListAdSets. Stale is set when the live
// call failed and a fallback was served.
type AdSetListing struct {
	Data  []AdSet            `json:"data"`
	Stale *StaleDataFallback `json:"stale,omitempty"`
}

// InsightsQuery selects an insights report.
type InsightsQuery struct {
	// Level is account, campaign, adset or ad. Empty uses the object's level.
	Level string `json:"level,omitempty" validate:"omitempty,oneof=account campaign adset ad"`

	// DatePreset is a vendor preset such as last_7d. Ignored when Since is set.
	DatePreset string `json:"date_preset,omitempty"`

	// Since and Until bound a custom range as YYYY-MM-DD.
	Since string `json:"since,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Until string `json:"until,omitempty" validate:"omitempty,datetime=2006-01-02"`

	// Fields overrides the default metric list.
	Fields []string `json:"fields,omitempty"`
}

// defaultInsightFields are requested when the query names none.
var defaultInsightFields = []string{
	"date_start", "date_stop", "account_id", "campaign_id", "adset_id",
	"spend", "impressions", "clicks", "reach", "ctr", "cpc", "cpm",
}

// params returns the key-derivation bag for the query.
func (q InsightsQuery) params(objectID string) Params {
	p := Params{"object_id": objectID}
	if q.Level != "" {
		p["level"] = q.Level
	}
	if q.Since != "" {
		p["since"] = q.Since
		p["until"] = q.Until
	} else if q.DatePreset != "" {
		p["date_preset"] = q.DatePreset
	}
	if len(q.Fields) > 0 {
		p["fields"] = strings.Join(q.Fields, ",")
	}
	return p
}

// values returns the query string parameters for the vendor request.
func (q InsightsQuery) values() url.Values {
	v := url.Values{}
	fields := q.Fields
	if len(fields) == 0 {
		fields = defaultInsightFields
	}
	v.Set("fields", strings.Join(fields, ","))
	if q.Level != "" {
		v.Set("level", q.Level)
	}
	switch {
	case q.Since != "":
		until := q.Until
		if until == "" {
			until = q.Since
		}
		v.Set("time_range", fmt.Sprintf(`{"since":%q,"until":%q}`, q.Since, until))
	case q.DatePreset != "":
		v.Set("date_preset", q.DatePreset)
	}
	return v
}
