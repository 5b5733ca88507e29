// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability holds the gateway's Prometheus metrics.
//
// # Description
//
// HTTP request counters and latency histograms are recorded by Middleware.
// The event stream reports open connections and dropped events. Access
// layer metrics (cache lookups, vendor calls, login attempts) are emitted
// through OpenTelemetry by the adsapi package and reach /metrics through
// the OTel Prometheus bridge.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "adsgate"
	httpSubsystem    = "http"
	streamSubsystem  = "events"
)

// HTTPMetrics holds the gateway metrics.
//
// # Fields
//
//   - RequestsTotal: requests by route, method and status code
//   - RequestDuration: latency by route and method
//   - InFlight: requests currently being served
//   - EventStreams: open WebSocket event streams
//   - EventsDropped: events dropped because a stream fell behind
type HTTPMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlight        prometheus.Gauge
	EventStreams    prometheus.Gauge
	EventsDropped   prometheus.Counter
}

// NewHTTPMetrics creates and registers the metrics with reg.
//
// # Inputs
//
//   - reg: Registry to register with. prometheus.DefaultRegisterer in
//     production, a fresh prometheus.NewRegistry() in tests.
//
// # Limitations
//
//   - Panics if called twice with the same registerer (duplicate registration).
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	factory := promauto.With(reg)
	return &HTTPMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "requests_total",
				Help:      "HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "code"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency by route and method",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"route", "method"},
		),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: httpSubsystem,
			Name:      "requests_in_flight",
			Help:      "HTTP requests currently being served",
		}),
		EventStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: streamSubsystem,
			Name:      "streams_active",
			Help:      "Open WebSocket event streams",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: streamSubsystem,
			Name:      "dropped_total",
			Help:      "Events dropped because a stream's queue was full",
		}),
	}
}

// Middleware records request count, latency and in-flight requests.
// Unmatched routes are labelled "unmatched" to bound cardinality.
func (m *HTTPMetrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.InFlight.Inc()
		defer m.InFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// StreamOpened records a new event stream. Safe on a nil receiver.
func (m *HTTPMetrics) StreamOpened() {
	if m != nil {
		m.EventStreams.Inc()
	}
}

// StreamClosed records a closed event stream. Safe on a nil receiver.
func (m *HTTPMetrics) StreamClosed() {
	if m != nil {
		m.EventStreams.Dec()
	}
}

// EventDropped records an event a slow stream could not accept. Safe on a
// nil receiver.
func (m *HTTPMetrics) EventDropped() {
	if m != nil {
		m.EventsDropped.Inc()
	}
}
