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
	"encoding/json"
	"fmt"
	"strings"
)

// SessionContext identifies whose data a request is for.
//
// # Description
//
// Every cache key embeds the user, account and client so that switching
// accounts or logging in as someone else never serves another scope's
// data.
type SessionContext struct {
	AccountID  string `json:"account_id"`
	ClientName string `json:"client_name"`
	UserID     string `json:"user_id,omitempty"`
}

// UserIdentity is the result of the /me endpoint.
type UserIdentity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Params is the parameter bag used for key derivation.
type Params map[string]any

// keySeparator separates the parts of a cache key.
const keySeparator = "|"

// DeriveKey computes the cache key for a request.
//
// # Description
//
// The key is type|<params>|<account>|<client>|<user>. Params are serialised as
// JSON with keys sorted, so two bags with the same contents always produce
// the same key regardless of insertion order. A nil or empty bag
// serialises as {}.
//
// # Inputs
//
//   - requestType: Request tag such as "campaigns". Must not contain "|".
//   - params: Parameters that distinguish requests of the same type.
//   - session: Session whose account, client and user scope the key.
//
// # Outputs
//
//   - string: The derived key.
//   - error: Non-nil if requestType is empty or malformed, or params
//     cannot be serialised.
//
// # Thread Safety
//
// Pure function.
func DeriveKey(requestType string, params Params, session SessionContext) (string, error) {
	if requestType == "" {
		return "", fmt.Errorf("derive key: empty request type")
	}
	if strings.Contains(requestType, keySeparator) {
		return "", fmt.Errorf("derive key: request type %q contains %q", requestType, keySeparator)
	}
	if params == nil {
		params = Params{}
	}
	// encoding/json writes map keys in sorted order, nested maps included.
	encoded, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("derive key for %s: %w", requestType, err)
	}
	return strings.Join([]string{
		requestType,
		string(encoded),
		session.AccountID,
		session.ClientName,
		session.UserID,
	}, keySeparator), nil
}

// typePrefix returns the prefix shared by every key of requestType.
func typePrefix(requestType string) string {
	return requestType + keySeparator
}
