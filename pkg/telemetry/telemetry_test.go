// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")

	cfg := DefaultConfig()
	assert.Equal(t, "adsgate", cfg.ServiceName)
	assert.Equal(t, ExporterNone, cfg.TraceExporter)
	assert.Equal(t, ExporterPrometheus, cfg.MetricExporter)
	assert.Equal(t, 1.0, cfg.SampleRatio)
}

func TestDefaultConfig_EnvOverrides(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg := DefaultConfig()
	assert.Equal(t, "stdout", cfg.TraceExporter)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
}

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Init(nil, Config{})
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_AllDisabled(t *testing.T) {
	tel, err := Init(context.Background(), Config{TraceExporter: "none", MetricExporter: ""})
	require.NoError(t, err)
	assert.Nil(t, tel.MetricsHandler())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestInit_UnknownExporters(t *testing.T) {
	_, err := Init(context.Background(), Config{TraceExporter: "zipkin"})
	assert.ErrorIs(t, err, ErrUnknownExporter)

	_, err = Init(context.Background(), Config{MetricExporter: "statsd"}, WithRegistry(prometheus.NewRegistry()))
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_StdoutTraces(t *testing.T) {
	var out bytes.Buffer
	tel, err := Init(context.Background(), Config{ServiceName: "adsgate-test", TraceExporter: "stdout", SampleRatio: 1},
		WithStdout(&out))
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "adsapi.GetOrExecute")
	span.End()

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.Contains(t, out.String(), "adsapi.GetOrExecute")
}

func TestInit_PrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	tel, err := Init(context.Background(), Config{MetricExporter: "prometheus"}, WithRegistry(reg))
	require.NoError(t, err)
	defer tel.Shutdown(context.Background())

	counter, err := otel.Meter("test").Int64Counter("adsgate_test_lookups_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	handler := tel.MetricsHandler()
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "adsgate_test_lookups_total"), string(body))
}

func TestShutdown_JoinsErrors(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")
	var order []string
	tel := &Telemetry{shutdowns: []func(context.Context) error{
		func(context.Context) error { order = append(order, "tracer"); return first },
		func(context.Context) error { order = append(order, "meter"); return second },
	}}

	err := tel.Shutdown(context.Background())
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
	assert.Equal(t, []string{"meter", "tracer"}, order)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}

func TestLoggerWithTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	LoggerWithTrace(context.Background(), logger).Info("no span")
	assert.NotContains(t, buf.String(), "trace_id")

	traceID := trace.TraceID{0x0a, 0x0b, 0x0c, 0x0d, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	buf.Reset()
	LoggerWithTrace(ctx, logger).Info("with span")
	assert.Contains(t, buf.String(), traceID.String())
	assert.Contains(t, buf.String(), "span_id")

	assert.NotNil(t, LoggerWithTrace(ctx, nil))
}
