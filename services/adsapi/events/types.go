// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events provides the typed publish/subscribe bus that notifies
// observers of session changes and cache refreshes in the Ads API access
// layer.
//
// Observers (the WebSocket stream, metrics, tests) subscribe to topics and
// never call back into the access layer from inside a handler.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package events

import "time"

// Topic identifies the kind of event.
type Topic string

const (
	// TopicAccountChanged is published when the selected ad account changes.
	TopicAccountChanged Topic = "account_changed"

	// TopicDataRefreshed is published when cached data is invalidated.
	TopicDataRefreshed Topic = "data_refreshed"

	// TopicLoggedIn is published after a successful login.
	TopicLoggedIn Topic = "logged_in"

	// TopicLoggedOut is published after logout completes.
	TopicLoggedOut Topic = "logged_out"

	// TopicRateLimited is published when a login attempt is throttled.
	TopicRateLimited Topic = "rate_limited"

	// TopicStaleDataServed is published when a listing falls back to stale data.
	TopicStaleDataServed Topic = "stale_data_served"
)

// AllTopics lists every topic the bus carries.
func AllTopics() []Topic {
	return []Topic{
		TopicAccountChanged,
		TopicDataRefreshed,
		TopicLoggedIn,
		TopicLoggedOut,
		TopicRateLimited,
		TopicStaleDataServed,
	}
}

// Valid reports whether t is a known topic.
func (t Topic) Valid() bool {
	for _, known := range AllTopics() {
		if t == known {
			return true
		}
	}
	return false
}

// Event is a single published notification.
//
// Description:
//
//	Data holds one of the typed payloads below, chosen by Topic.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Topic determines the structure of Data.
	Topic Topic `json:"topic"`

	// Timestamp is when the event was published.
	Timestamp time.Time `json:"timestamp"`

	// Data is the topic-specific payload.
	Data any `json:"data,omitempty"`
}

// AccountChangedData accompanies TopicAccountChanged.
type AccountChangedData struct {
	AccountID  string `json:"account_id"`
	ClientName string `json:"client_name,omitempty"`
}

// DataRefreshedData accompanies TopicDataRefreshed.
type DataRefreshedData struct {
	// RequestType is the invalidated request type ("" for everything).
	RequestType string `json:"request_type"`

	// Scoped is true when a single key was invalidated.
	Scoped bool `json:"scoped"`

	// Removed is the number of cache entries dropped.
	Removed int `json:"removed"`
}

// LoggedInData accompanies TopicLoggedIn.
type LoggedInData struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

// LoggedOutData accompanies TopicLoggedOut.
type LoggedOutData struct {
	At time.Time `json:"at"`
}

// RateLimitedData accompanies TopicRateLimited.
type RateLimitedData struct {
	Reason     string        `json:"reason"`
	RetryAfter time.Duration `json:"retry_after"`
	Attempts   int           `json:"attempts"`
}

// StaleDataServedData accompanies TopicStaleDataServed.
type StaleDataServedData struct {
	RequestType string `json:"request_type"`
	Source      string `json:"source"`
	Status      int    `json:"status"`
}
