// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package adsapi mediates every outbound call to the Meta Graph API.
//
// The AccessLayer owns four pieces of state that consumers never touch
// directly:
//
//   - ResponseCache: TTL entries keyed by request type, sorted params and
//     the SessionContext, with per-key coalescing of in-flight calls.
//   - Throttle: the OAuth login attempt limiter with exponential backoff
//     and the orthogonal vendor block, persisted in the durable store.
//   - SessionContext: selected account, client and user.
//   - TokenVault: the vendor access token, sealed in memguard.
//
// # Data Flow
//
//	gateway handler → AccessLayer.ListCampaigns
//	                    → CachedRequest (hit? coalesce? execute)
//	                        → GraphClient.Campaigns (rate.Limiter → HTTP)
//
// # Thread Safety
//
// AccessLayer is constructed once and shared. All exported methods are safe
// for concurrent use.
package adsapi
