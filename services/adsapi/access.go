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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianAds/services/adsapi/durable"
	"github.com/AleutianAI/AleutianAds/services/adsapi/events"
)

// Durable store keys owned by the access layer.
const (
	StoreKeySessionUser     = "session_user"
	StoreKeySessionToken    = "session_token"
	StoreKeySelectedAccount = "selected_account"
	StoreKeyLogoutAt        = "logout_at"

	// SessionMarkerPrefix prefixes per-user login markers.
	SessionMarkerPrefix = "session_marker:"
)

// DefaultLogoutCooldown suppresses session restore right after a logout.
const DefaultLogoutCooldown = 5 * time.Minute

// =============================================================================
// Configuration
// =============================================================================

// TTLConfig holds the cache lifetime per request type.
type TTLConfig struct {
	Businesses time.Duration `yaml:"businesses" validate:"min=0"`
	AdAccounts time.Duration `yaml:"ad_accounts" validate:"min=0"`
	Campaigns  time.Duration `yaml:"campaigns" validate:"min=0"`
	AdSets     time.Duration `yaml:"ad_sets" validate:"min=0"`
	Insights   time.Duration `yaml:"insights" validate:"min=0"`
}

// DefaultTTLConfig returns the production TTLs.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		Businesses: 5 * time.Minute,
		AdAccounts: 5 * time.Minute,
		Campaigns:  2 * time.Minute,
		AdSets:     2 * time.Minute,
		Insights:   10 * time.Minute,
	}
}

// Vendor is the subset of the Graph API the access layer calls.
// *GraphClient implements it.
type Vendor interface {
	Me(ctx context.Context, token string) (*UserIdentity, error)
	Businesses(ctx context.Context, token string) ([]Business, error)
	AdAccounts(ctx context.Context, token, businessID string) ([]AdAccount, error)
	Campaigns(ctx context.Context, token, accountID string) ([]Campaign, error)
	AdSets(ctx context.Context, token, campaignID string) ([]AdSet, error)
	Insights(ctx context.Context, token, objectID string, query InsightsQuery) ([]InsightRow, error)
}

// InsightsSink receives insights rows fetched live from the vendor.
type InsightsSink interface {
	WriteInsights(ctx context.Context, objectID, level string, rows []InsightRow) error
}

// Option configures an AccessLayer.
type Option func(*AccessLayer)

// WithClock overrides the time source for TTLs and the throttle.
func WithClock(now func() time.Time) Option {
	return func(l *AccessLayer) {
		if now != nil {
			l.now = now
		}
	}
}

// WithJitter overrides the backoff jitter source.
func WithJitter(jitter func(limit time.Duration) time.Duration) Option {
	return func(l *AccessLayer) {
		l.jitter = jitter
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *AccessLayer) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithThrottleConfig overrides the throttle defaults.
func WithThrottleConfig(cfg ThrottleConfig) Option {
	return func(l *AccessLayer) {
		l.throttleCfg = cfg
	}
}

// WithTTLs overrides the default cache TTLs.
func WithTTLs(ttls TTLConfig) Option {
	return func(l *AccessLayer) {
		l.ttls = ttls
	}
}

// WithLogoutCooldown overrides how long after a logout RestoreSession
// refuses to restore.
func WithLogoutCooldown(d time.Duration) Option {
	return func(l *AccessLayer) {
		l.logoutCooldown = d
	}
}

// WithInsightsSink archives every live insights response.
func WithInsightsSink(sink InsightsSink) Option {
	return func(l *AccessLayer) {
		l.sink = sink
	}
}

// =============================================================================
// AccessLayer
// =============================================================================

// AccessLayer mediates all outbound Graph API calls.
//
// # Description
//
// Construct one with New at start and pass it to every consumer. It owns
// the response cache, the OAuth throttle, the token vault and the
// SessionContext; none of them are reachable from outside.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type AccessLayer struct {
	vendor Vendor
	store  durable.Store
	bus    events.Publisher
	sink   InsightsSink
	logger *slog.Logger
	now    func() time.Time
	jitter func(time.Duration) time.Duration

	cache    *ResponseCache
	throttle *Throttle
	vault    *TokenVault

	throttleCfg    ThrottleConfig
	logoutCooldown time.Duration

	// epoch advances on Logout so in-flight calls can tell their session ended.
	epoch atomic.Uint64

	mu       sync.RWMutex
	session  SessionContext
	identity *UserIdentity
	ttls     TTLConfig
}

// New creates the access layer and restores the persisted throttle state.
//
// # Inputs
//
//   - ctx: Bounds the initial store read.
//   - vendor: Graph API client.
//   - store: Durable store for throttle, session and snapshots.
//   - bus: Event publisher. Nil disables events.
//   - opts: Optional overrides.
//
// # Outputs
//
//   - *AccessLayer: Ready to use. Call RestoreSession to resume a session.
//   - error: Non-nil if vendor or store is nil, or the store read fails.
func New(ctx context.Context, vendor Vendor, store durable.Store, bus events.Publisher, opts ...Option) (*AccessLayer, error) {
	if vendor == nil {
		return nil, errors.New("adsapi: vendor client is required")
	}
	if store == nil {
		return nil, errors.New("adsapi: durable store is required")
	}

	l := &AccessLayer{
		vendor:         vendor,
		store:          store,
		bus:            bus,
		logger:         slog.Default(),
		now:            time.Now,
		throttleCfg:    DefaultThrottleConfig(),
		logoutCooldown: DefaultLogoutCooldown,
		ttls:           DefaultTTLConfig(),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.cache = NewResponseCache(l.now)
	l.throttle = newThrottle(l.throttleCfg, store, l.now, l.jitter, l.logger)
	l.vault = NewTokenVault(l.logger)

	if err := l.throttle.load(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *AccessLayer) publish(topic events.Topic, data any) {
	if l.bus != nil {
		l.bus.Publish(topic, data)
	}
}

// Session returns the current SessionContext.
func (l *AccessLayer) Session() SessionContext {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.session
}

// Identity returns the logged-in user, if any.
func (l *AccessLayer) Identity() (UserIdentity, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.identity == nil {
		return UserIdentity{}, false
	}
	return *l.identity, true
}

// Authenticated reports whether a token is sealed.
func (l *AccessLayer) Authenticated() bool {
	return l.vault.Present()
}

// TTLs returns the active cache TTLs.
func (l *AccessLayer) TTLs() TTLConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ttls
}

// SetTTLs replaces the cache TTLs for subsequent stores. Entries already
// cached keep the TTL they were stored with.
func (l *AccessLayer) SetTTLs(ttls TTLConfig) {
	l.mu.Lock()
	l.ttls = ttls
	l.mu.Unlock()
	l.logger.Info("cache TTLs updated",
		slog.Duration("businesses", ttls.Businesses),
		slog.Duration("ad_accounts", ttls.AdAccounts),
		slog.Duration("campaigns", ttls.Campaigns),
		slog.Duration("ad_sets", ttls.AdSets),
		slog.Duration("insights", ttls.Insights),
	)
}

// Throttle returns a snapshot of the OAuth throttle.
func (l *AccessLayer) Throttle() ThrottleSnapshot {
	return l.throttle.Snapshot()
}

// ResetThrottle clears the attempt counter and vendor block.
func (l *AccessLayer) ResetThrottle(ctx context.Context) error {
	return l.throttle.Reset(ctx)
}

// Stats returns response cache statistics.
func (l *AccessLayer) Stats() CacheStats {
	return l.cache.Stats()
}

// =============================================================================
// Caching
// =============================================================================

// CachedRequest returns the cached result for (requestType, params) under
// the current session, or runs execute to produce it.
//
// # Description
//
// A live entry is returned with no call. If a call for the same key is in
// flight the caller joins it. Otherwise execute runs detached from ctx's
// cancellation and its value is cached for ttl. Errors are returned and
// never cached. A ctx that ends only stops this caller waiting.
//
// # Inputs
//
//   - ctx: Bounds how long the caller waits.
//   - l: The access layer.
//   - requestType: Cache key type segment.
//   - ttl: Lifetime of the cached value. Zero disables caching.
//   - params: Parameters that distinguish requests of the same type.
//   - execute: Performs the outbound call.
//
// # Outputs
//
//   - T: The cached or fresh value.
//   - error: The execution error or ctx.Err().
func CachedRequest[T any](
	ctx context.Context,
	l *AccessLayer,
	requestType string,
	ttl time.Duration,
	params Params,
	execute func(context.Context) (T, error),
) (T, error) {
	return cachedRequestFor(ctx, l, l.Session(), requestType, ttl, params, execute)
}

func cachedRequestFor[T any](
	ctx context.Context,
	l *AccessLayer,
	session SessionContext,
	requestType string,
	ttl time.Duration,
	params Params,
	execute func(context.Context) (T, error),
) (T, error) {
	var zero T

	key, err := DeriveKey(requestType, params, session)
	if err != nil {
		return zero, err
	}

	v, hit, err := l.cache.GetOrExecute(ctx, key, ttl, func(ctx context.Context) (any, error) {
		return execute(ctx)
	})
	recordCacheLookup(ctx, requestType, hit)
	if err != nil {
		return zero, err
	}

	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cached value for %s has type %T", requestType, v)
	}
	return out, nil
}

// Invalidate drops cached data so the next read goes to the vendor.
//
// # Description
//
// With no params, every entry of requestType is removed (live and last
// known) along with its persisted snapshots. With params, only the key for
// requestType+params under the current session is removed. An empty
// requestType removes everything. Publishes data_refreshed.
//
// # Outputs
//
//   - int: Number of live cache entries removed.
//   - error: Non-nil if key derivation or snapshot removal failed.
func (l *AccessLayer) Invalidate(ctx context.Context, requestType string, params ...Params) (int, error) {
	var (
		removed int
		err     error
	)
	switch {
	case requestType == "":
		removed = l.cache.Clear()
		err = l.removePrefix(ctx, snapshotPrefix)
	case len(params) == 0:
		removed = l.cache.InvalidatePrefix(typePrefix(requestType))
		err = l.removePrefix(ctx, snapshotTypePrefix(requestType))
	default:
		key, kerr := DeriveKey(requestType, params[0], l.Session())
		if kerr != nil {
			return 0, kerr
		}
		removed = l.cache.Invalidate(key)
		err = l.store.Remove(ctx, snapshotKey(requestType, key))
	}

	l.logger.Debug("cache invalidated",
		slog.String("request_type", requestType),
		slog.Bool("scoped", len(params) > 0),
		slog.Int("removed", removed),
	)
	l.publish(events.TopicDataRefreshed, events.DataRefreshedData{
		RequestType: requestType,
		Scoped:      len(params) > 0,
		Removed:     removed,
	})

	if err != nil {
		return removed, fmt.Errorf("invalidate %q snapshots: %w", requestType, err)
	}
	return removed, nil
}

func (l *AccessLayer) removePrefix(ctx context.Context, prefix string) error {
	keys, err := l.store.Keys(ctx, prefix)
	if err != nil {
		return err
	}
	var errs []error
	for _, k := range keys {
		if err := l.store.Remove(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// Session
// =============================================================================

// AttemptLogin validates accessToken against /me and starts a session.
//
// # Description
//
// The throttle is consulted first: a local or vendor block fails with
// *RateLimitError and makes no network call. Otherwise the attempt is
// counted and persisted before /me is called. A vendor rate limit starts
// the vendor block. A rejected token fails with AuthNotAuthorized and
// anything else with AuthUnknown. Nothing is retried.
//
// On success the token is sealed, identity and token are persisted and
// logged_in is published. The attempt counter is not reset; it clears
// only when the window elapses.
//
// # Outputs
//
//   - *UserIdentity: The logged-in user.
//   - error: *RateLimitError, *AuthError, or a store error.
func (l *AccessLayer) AttemptLogin(ctx context.Context, accessToken string) (_ *UserIdentity, err error) {
	ctx, span := startSpan(ctx, "AttemptLogin")
	defer func() { endSpan(span, err) }()

	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, &AuthError{Kind: AuthNotAuthorized, Err: errors.New("empty access token")}
	}

	attempts, err := l.throttle.acquire(ctx)
	if err != nil {
		var rlErr *RateLimitError
		if errors.As(err, &rlErr) {
			l.logger.Warn("login throttled",
				slog.String("reason", string(rlErr.Reason)),
				slog.Duration("retry_after", rlErr.RetryAfter),
				slog.Int("attempts", attempts),
			)
			l.publish(events.TopicRateLimited, events.RateLimitedData{
				Reason:     string(rlErr.Reason),
				RetryAfter: rlErr.RetryAfter,
				Attempts:   attempts,
			})
		}
		recordLoginAttempt(ctx, "throttled")
		return nil, err
	}
	span.SetAttributes(attribute.Int("login.attempt", attempts))

	me, err := l.vendor.Me(ctx, accessToken)
	if err != nil {
		return nil, l.classifyLoginError(ctx, attempts, err)
	}

	if err := l.vault.SealString(accessToken); err != nil {
		recordLoginAttempt(ctx, "error")
		return nil, &AuthError{Kind: AuthUnknown, Err: err}
	}

	l.mu.Lock()
	l.identity = me
	l.session.UserID = me.ID
	l.mu.Unlock()

	if err := l.persistLogin(ctx, me, accessToken); err != nil {
		l.logger.Warn("session not persisted", slog.String("error", err.Error()))
	}

	l.logger.Info("logged in",
		slog.String("user_id", me.ID),
		slog.Int("attempt", attempts),
		slog.Bool("token_present", true),
	)
	recordLoginAttempt(ctx, "success")
	l.publish(events.TopicLoggedIn, events.LoggedInData{UserID: me.ID, Name: me.Name})
	return me, nil
}

// classifyLoginError maps a /me failure to the error returned to callers.
func (l *AccessLayer) classifyLoginError(ctx context.Context, attempts int, err error) error {
	vErr, ok := asVendorError(err)
	switch {
	case ok && vErr.IsRateLimit():
		rlErr := l.throttle.recordVendorBlock(ctx, vErr)
		l.logger.Warn("vendor rate limited login",
			slog.Int("status", vErr.Status),
			slog.Int("code", vErr.Code),
			slog.Duration("blocked_for", rlErr.RetryAfter),
		)
		l.publish(events.TopicRateLimited, events.RateLimitedData{
			Reason:     string(ReasonVendor),
			RetryAfter: rlErr.RetryAfter,
			Attempts:   attempts,
		})
		recordLoginAttempt(ctx, "vendor_rate_limited")
		return rlErr
	case ok && vErr.IsAuthFailure():
		l.logger.Info("login rejected by vendor", slog.Int("code", vErr.Code), slog.Int("attempt", attempts))
		recordLoginAttempt(ctx, "not_authorized")
		return &AuthError{Kind: AuthNotAuthorized, Err: vErr}
	default:
		l.logger.Warn("login failed", slog.String("error", err.Error()), slog.Int("attempt", attempts))
		recordLoginAttempt(ctx, "unknown")
		return &AuthError{Kind: AuthUnknown, Err: err}
	}
}

func (l *AccessLayer) persistLogin(ctx context.Context, me *UserIdentity, token string) error {
	identity, err := json.Marshal(me)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	now := strconv.FormatInt(l.now().UnixMilli(), 10)
	return errors.Join(
		l.store.Set(ctx, StoreKeySessionUser, string(identity)),
		l.store.Set(ctx, StoreKeySessionToken, token),
		l.store.Set(ctx, SessionMarkerPrefix+me.ID, now),
		l.store.Remove(ctx, StoreKeyLogoutAt),
	)
}

// Logout ends the session.
//
// # Description
//
// Clears every cache entry, last known value and pending marker, drops
// the sealed token, the SessionContext and all persisted session state
// (identity, token, selected account, session markers, snapshots), then
// records logout_at and publishes logged_out. The throttle state is left
// untouched. In-memory state is cleared even when the store fails.
func (l *AccessLayer) Logout(ctx context.Context) (err error) {
	ctx, span := startSpan(ctx, "Logout")
	defer func() { endSpan(span, err) }()

	l.epoch.Add(1)
	removed := l.cache.Clear()
	l.vault.Destroy()

	l.mu.Lock()
	l.session = SessionContext{}
	l.identity = nil
	l.mu.Unlock()

	at := l.now()
	err = errors.Join(
		l.store.Remove(ctx, StoreKeySessionUser),
		l.store.Remove(ctx, StoreKeySessionToken),
		l.store.Remove(ctx, StoreKeySelectedAccount),
		l.removePrefix(ctx, SessionMarkerPrefix),
		l.removePrefix(ctx, snapshotPrefix),
		l.store.Set(ctx, StoreKeyLogoutAt, strconv.FormatInt(at.UnixMilli(), 10)),
	)

	l.logger.Info("logged out", slog.Int("cache_entries_cleared", removed))
	l.publish(events.TopicLoggedOut, events.LoggedOutData{At: at})

	if err != nil {
		return fmt.Errorf("clear persisted session: %w", err)
	}
	return nil
}

// RestoreSession resumes the persisted session at start.
//
// # Description
//
// Restores the token, identity and account selection unless a logout was
// recorded less than the logout cooldown ago. Makes no network call.
//
// # Outputs
//
//   - bool: True if a session was restored.
//   - error: Non-nil only for store failures.
func (l *AccessLayer) RestoreSession(ctx context.Context) (bool, error) {
	if raw, ok, err := l.store.Get(ctx, StoreKeyLogoutAt); err != nil {
		return false, fmt.Errorf("read logout marker: %w", err)
	} else if ok {
		if ms, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			since := l.now().Sub(time.UnixMilli(ms))
			if since < l.logoutCooldown {
				l.logger.Info("session restore suppressed after recent logout",
					slog.Duration("since_logout", since))
				return false, nil
			}
		}
	}

	token, ok, err := l.store.Get(ctx, StoreKeySessionToken)
	if err != nil {
		return false, fmt.Errorf("read session token: %w", err)
	}
	if !ok || token == "" {
		return false, nil
	}

	var identity *UserIdentity
	if raw, ok, err := l.store.Get(ctx, StoreKeySessionUser); err != nil {
		return false, fmt.Errorf("read session user: %w", err)
	} else if ok {
		var me UserIdentity
		if err := json.Unmarshal([]byte(raw), &me); err == nil && me.ID != "" {
			identity = &me
		}
	}

	var selected SessionContext
	if raw, ok, err := l.store.Get(ctx, StoreKeySelectedAccount); err != nil {
		return false, fmt.Errorf("read selected account: %w", err)
	} else if ok {
		_ = json.Unmarshal([]byte(raw), &selected)
	}

	if err := l.vault.SealString(token); err != nil {
		return false, fmt.Errorf("seal restored token: %w", err)
	}

	l.mu.Lock()
	l.identity = identity
	l.session = SessionContext{AccountID: selected.AccountID, ClientName: selected.ClientName}
	if identity != nil {
		l.session.UserID = identity.ID
	}
	l.mu.Unlock()

	l.logger.Info("session restored",
		slog.String("account_id", selected.AccountID),
		slog.Bool("identity", identity != nil),
		slog.Bool("token_present", true),
	)
	return true, nil
}

// SelectAccount switches the active ad account.
//
// Cache keys embed the account, so entries of the previous account stay
// cached and are never served for the new one.
func (l *AccessLayer) SelectAccount(ctx context.Context, accountID, clientName string) error {
	accountID = NormalizeAccountID(strings.TrimSpace(accountID))
	if accountID == "" {
		return fmt.Errorf("select account: %w", ErrNoAccountSelected)
	}

	l.mu.Lock()
	l.session.AccountID = accountID
	l.session.ClientName = clientName
	session := l.session
	l.mu.Unlock()

	data, err := json.Marshal(SessionContext{AccountID: accountID, ClientName: clientName})
	if err != nil {
		return fmt.Errorf("encode selected account: %w", err)
	}
	if err := l.store.Set(ctx, StoreKeySelectedAccount, string(data)); err != nil {
		return fmt.Errorf("persist selected account: %w", err)
	}

	l.logger.Info("account selected", slog.String("account_id", accountID), slog.String("client", clientName))
	l.publish(events.TopicAccountChanged, events.AccountChangedData{
		AccountID:  session.AccountID,
		ClientName: session.ClientName,
	})
	return nil
}

// =============================================================================
// Typed Reads
// =============================================================================

// withToken runs fn with the sealed token.
func withToken[T any](l *AccessLayer, fn func(token string) (T, error)) (T, error) {
	var out T
	err := l.vault.Open(func(token string) error {
		var err error
		out, err = fn(token)
		return err
	})
	return out, err
}

// fetchAndSnapshot wraps a vendor list call so that a successful result is
// also written as the key's durable snapshot.
func fetchAndSnapshot[T any](l *AccessLayer, requestType string, session SessionContext, params Params, fetch func(ctx context.Context, token string) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		epoch := l.epoch.Load()
		out, err := withToken(l, func(token string) (T, error) {
			return fetch(ctx, token)
		})
		if err != nil {
			return out, err
		}
		if l.epoch.Load() == epoch {
			if key, kerr := DeriveKey(requestType, params, session); kerr == nil {
				l.saveSnapshot(ctx, requestType, key, out)
			}
		}
		return out, nil
	}
}

// ListBusinesses returns the user's Business Manager accounts.
func (l *AccessLayer) ListBusinesses(ctx context.Context) (_ []Business, err error) {
	ctx, span := startSpan(ctx, "ListBusinesses")
	defer func() { endSpan(span, err) }()

	session := l.Session()
	params := Params{}
	return cachedRequestFor(ctx, l, session, TypeBusinesses, l.TTLs().Businesses, params,
		fetchAndSnapshot(l, TypeBusinesses, session, params, func(ctx context.Context, token string) ([]Business, error) {
			return l.vendor.Businesses(ctx, token)
		}))
}

// ListAdAccounts returns the ad accounts of businessID, or the user's own
// ad accounts when businessID is empty.
func (l *AccessLayer) ListAdAccounts(ctx context.Context, businessID string) (_ []AdAccount, err error) {
	ctx, span := startSpan(ctx, "ListAdAccounts", attribute.String("business_id", businessID))
	defer func() { endSpan(span, err) }()

	session := l.Session()
	params := Params{"business_id": businessID}
	return cachedRequestFor(ctx, l, session, TypeAdAccounts, l.TTLs().AdAccounts, params,
		fetchAndSnapshot(l, TypeAdAccounts, session, params, func(ctx context.Context, token string) ([]AdAccount, error) {
			return l.vendor.AdAccounts(ctx, token, businessID)
		}))
}

// ListCampaigns returns the campaigns of accountID, defaulting to the
// selected account.
func (l *AccessLayer) ListCampaigns(ctx context.Context, accountID string) (_ []Campaign, err error) {
	ctx, span := startSpan(ctx, "ListCampaigns", attribute.String("account_id", accountID))
	defer func() { endSpan(span, err) }()

	session := l.Session()
	if accountID == "" {
		accountID = session.AccountID
	}
	accountID = NormalizeAccountID(accountID)
	if accountID == "" {
		return nil, ErrNoAccountSelected
	}

	params := Params{"account_id": accountID}
	return cachedRequestFor(ctx, l, session, TypeCampaigns, l.TTLs().Campaigns, params,
		fetchAndSnapshot(l, TypeCampaigns, session, params, func(ctx context.Context, token string) ([]Campaign, error) {
			return l.vendor.Campaigns(ctx, token, accountID)
		}))
}

// ListAdSets returns the ad sets of campaignID.
//
// # Description
//
// When the vendor answers 400 or 429 the listing is served from the last
// known value for the key (even if expired), else from the durable
// snapshot, else as an empty list. Stale describes what was served and no
// error is returned. Other errors propagate.
func (l *AccessLayer) ListAdSets(ctx context.Context, campaignID string) (_ *AdSetListing, err error) {
	ctx, span := startSpan(ctx, "ListAdSets", attribute.String("campaign_id", campaignID))
	defer func() { endSpan(span, err) }()

	if campaignID == "" {
		return nil, errors.New("list ad sets: campaign id is required")
	}

	session := l.Session()
	params := Params{"campaign_id": campaignID}
	data, err := cachedRequestFor(ctx, l, session, TypeAdSets, l.TTLs().AdSets, params,
		fetchAndSnapshot(l, TypeAdSets, session, params, func(ctx context.Context, token string) ([]AdSet, error) {
			return l.vendor.AdSets(ctx, token, campaignID)
		}))
	if err == nil {
		return &AdSetListing{Data: data}, nil
	}

	vErr, ok := asVendorError(err)
	if !ok || (vErr.Status != http.StatusBadRequest && vErr.Status != http.StatusTooManyRequests) {
		return nil, err
	}

	key, kerr := DeriveKey(TypeAdSets, params, session)
	if kerr != nil {
		return nil, kerr
	}
	listing := l.adSetFallback(ctx, key, vErr)

	l.logger.Warn("serving stale ad sets",
		slog.String("campaign_id", campaignID),
		slog.Int("status", vErr.Status),
		slog.String("source", string(listing.Stale.Source)),
		slog.Int("count", len(listing.Data)),
	)
	recordStaleFallback(ctx, listing.Stale.Source)
	l.publish(events.TopicStaleDataServed, events.StaleDataServedData{
		RequestType: TypeAdSets,
		Source:      string(listing.Stale.Source),
		Status:      vErr.Status,
	})
	return listing, nil
}

func (l *AccessLayer) adSetFallback(ctx context.Context, key string, vErr *VendorAPIError) *AdSetListing {
	stale := &StaleDataFallback{Status: vErr.Status, Reason: vErr.Error()}

	if entry, ok := l.cache.LastKnown(key); ok {
		if data, ok := entry.Data.([]AdSet); ok {
			stale.Source = StaleFromMemory
			stale.StoredAt = entry.StoredAt
			return &AdSetListing{Data: data, Stale: stale}
		}
	}

	if snap, ok := l.loadSnapshot(ctx, TypeAdSets, key); ok {
		var data []AdSet
		if err := json.Unmarshal(snap.Payload, &data); err == nil {
			stale.Source = StaleFromSnapshot
			stale.StoredAt = snap.StoredAt
			return &AdSetListing{Data: data, Stale: stale}
		}
	}

	stale.Source = StaleEmpty
	return &AdSetListing{Data: []AdSet{}, Stale: stale}
}

// GetInsights returns the insights report for objectID. Live results are
// also written to the insights sink when one is configured; a sink failure
// is logged and does not fail the read.
func (l *AccessLayer) GetInsights(ctx context.Context, objectID string, query InsightsQuery) (_ []InsightRow, err error) {
	ctx, span := startSpan(ctx, "GetInsights",
		attribute.String("object_id", objectID),
		attribute.String("level", query.Level),
	)
	defer func() { endSpan(span, err) }()

	if objectID == "" {
		return nil, errors.New("get insights: object id is required")
	}

	return cachedRequestFor(ctx, l, l.Session(), TypeInsights, l.TTLs().Insights, query.params(objectID),
		func(ctx context.Context) ([]InsightRow, error) {
			rows, err := withToken(l, func(token string) ([]InsightRow, error) {
				return l.vendor.Insights(ctx, token, objectID, query)
			})
			if err != nil {
				return nil, err
			}
			if l.sink != nil {
				if err := l.sink.WriteInsights(ctx, objectID, query.Level, rows); err != nil {
					l.logger.Warn("insights not archived",
						slog.String("object_id", objectID),
						slog.String("error", err.Error()),
					)
				}
			}
			return rows, nil
		})
}
