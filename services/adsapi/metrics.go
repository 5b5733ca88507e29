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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for access layer operations.
var (
	tracer = otel.Tracer("aleutian.adsapi")
	meter  = otel.Meter("aleutian.adsapi")
)

var (
	cacheLookups   metric.Int64Counter
	vendorRequests metric.Int64Counter
	vendorLatency  metric.Float64Histogram
	loginAttempts  metric.Int64Counter
	staleFallbacks metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cacheLookups, err = meter.Int64Counter(
			"adsapi_cache_lookups_total",
			metric.WithDescription("Response cache lookups by request type and result"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		vendorRequests, err = meter.Int64Counter(
			"adsapi_vendor_requests_total",
			metric.WithDescription("Outbound Graph API requests by endpoint and status"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		vendorLatency, err = meter.Float64Histogram(
			"adsapi_vendor_request_duration_seconds",
			metric.WithDescription("Duration of outbound Graph API requests"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		loginAttempts, err = meter.Int64Counter(
			"adsapi_login_attempts_total",
			metric.WithDescription("Login attempts by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		staleFallbacks, err = meter.Int64Counter(
			"adsapi_stale_fallbacks_total",
			metric.WithDescription("Listings served from stale data by source"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordCacheLookup(ctx context.Context, requestType string, hit bool) {
	if err := initMetrics(); err != nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("request_type", requestType),
		attribute.String("result", result),
	))
}

func recordVendorRequest(ctx context.Context, endpoint string, status int, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.Int("status", status),
	)
	vendorRequests.Add(ctx, 1, attrs)
	vendorLatency.Record(ctx, duration.Seconds(), attrs)
}

func recordLoginAttempt(ctx context.Context, outcome string) {
	if err := initMetrics(); err != nil {
		return
	}
	loginAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func recordStaleFallback(ctx context.Context, source StaleSource) {
	if err := initMetrics(); err != nil {
		return
	}
	staleFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(source))))
}

// startSpan creates a span for an access layer operation.
func startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "AccessLayer."+operation, trace.WithAttributes(attrs...))
}

// endSpan records err on span (if any) and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
