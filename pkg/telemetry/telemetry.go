// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry bootstraps the OpenTelemetry tracer and meter providers
// for adsgate.
//
// After Init, otel.Tracer and otel.Meter route to the configured exporters,
// so instrumented packages never import this one.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Exporter names accepted in Config.
const (
	ExporterNone       = "none"
	ExporterStdout     = "stdout"
	ExporterOTLP       = "otlp"
	ExporterPrometheus = "prometheus"
)

var (
	// ErrNilContext is returned when Init is called with a nil context.
	ErrNilContext = errors.New("telemetry: nil context")

	// ErrUnknownExporter is returned for an exporter name Init does not know.
	ErrUnknownExporter = errors.New("telemetry: unknown exporter")
)

// Config selects exporters and identifies the service.
type Config struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`

	// TraceExporter is "otlp", "stdout" or "none".
	TraceExporter string `yaml:"trace_exporter" validate:"omitempty,oneof=otlp stdout none"`

	// MetricExporter is "prometheus", "stdout" or "none".
	MetricExporter string `yaml:"metric_exporter" validate:"omitempty,oneof=prometheus stdout none"`

	// OTLPEndpoint is host:port of the OTLP gRPC receiver.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`

	// SampleRatio is the fraction of root spans kept. Values >= 1 keep all.
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// DefaultConfig traces nothing and serves metrics through Prometheus.
// OTEL_TRACES_EXPORTER, OTEL_METRICS_EXPORTER and
// OTEL_EXPORTER_OTLP_ENDPOINT override the exporter fields.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "adsgate",
		ServiceVersion: "dev",
		Environment:    getEnvOr("ADSGATE_ENV", "development"),
		TraceExporter:  getEnvOr("OTEL_TRACES_EXPORTER", ExporterNone),
		MetricExporter: getEnvOr("OTEL_METRICS_EXPORTER", ExporterPrometheus),
		OTLPEndpoint:   getEnvOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure:   true,
		SampleRatio:    1,
	}
}

// Telemetry holds the installed providers.
type Telemetry struct {
	shutdowns      []func(context.Context) error
	metricsHandler http.Handler
}

// Option adjusts Init.
type Option func(*initOptions)

type initOptions struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	stdout     io.Writer
}

// WithRegistry sends Prometheus metrics to reg instead of the default
// registry. Tests use a fresh registry per case.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *initOptions) {
		o.registerer = reg
		o.gatherer = reg
	}
}

// WithStdout redirects the stdout exporters.
func WithStdout(w io.Writer) Option {
	return func(o *initOptions) {
		o.stdout = w
	}
}

// Init installs global tracer and meter providers.
//
// # Description
//
// Builds the exporters named in cfg, registers the providers with otel and
// installs a W3C trace-context propagator. Exporters set to "none" leave
// the corresponding otel global at its no-op default.
//
// # Inputs
//
//   - ctx: Used to dial the OTLP exporter.
//   - cfg: Exporter selection.
//
// # Outputs
//
//   - *Telemetry: Call Shutdown on exit to flush exporters.
//   - error: ErrNilContext, ErrUnknownExporter (wrapped) or exporter setup errors.
//
// # Thread Safety
//
// Call once at startup.
func Init(ctx context.Context, cfg Config, opts ...Option) (*Telemetry, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	o := initOptions{
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
		stdout:     os.Stdout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)

	t := &Telemetry{}

	if exporter := normalize(cfg.TraceExporter); exporter != ExporterNone {
		tp, err := newTracerProvider(ctx, cfg, exporter, res, o)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		otel.SetTracerProvider(tp)
		t.shutdowns = append(t.shutdowns, tp.Shutdown)
	}

	if exporter := normalize(cfg.MetricExporter); exporter != ExporterNone {
		mp, handler, err := newMeterProvider(exporter, res, o)
		if err != nil {
			_ = t.Shutdown(ctx)
			return nil, fmt.Errorf("init meter: %w", err)
		}
		otel.SetMeterProvider(mp)
		t.shutdowns = append(t.shutdowns, mp.Shutdown)
		t.metricsHandler = handler
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

// MetricsHandler serves the Prometheus exposition, or nil when the metric
// exporter is not "prometheus".
func (t *Telemetry) MetricsHandler() http.Handler {
	return t.metricsHandler
}

// Shutdown flushes and stops every provider, joining their errors.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(t.shutdowns) - 1; i >= 0; i-- {
		if err := t.shutdowns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	t.shutdowns = nil
	return errors.Join(errs...)
}

func newTracerProvider(ctx context.Context, cfg Config, exporter string, res *resource.Resource, o initOptions) (*sdktrace.TracerProvider, error) {
	var (
		spanExporter sdktrace.SpanExporter
		err          error
	)
	switch exporter {
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts,
				otlptracegrpc.WithInsecure(),
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		}
		spanExporter, err = otlptracegrpc.New(ctx, opts...)
	case ExporterStdout:
		spanExporter, err = stdouttrace.New(stdouttrace.WithWriter(o.stdout))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s span exporter: %w", exporter, err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	), nil
}

func newMeterProvider(exporter string, res *resource.Resource, o initOptions) (*sdkmetric.MeterProvider, http.Handler, error) {
	switch exporter {
	case ExporterPrometheus:
		reader, err := promexporter.New(promexporter.WithRegisterer(o.registerer))
		if err != nil {
			return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		handler := promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{})
		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		), handler, nil
	case ExporterStdout:
		metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(o.stdout))
		if err != nil {
			return nil, nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		), nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownExporter, exporter)
	}
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func normalize(exporter string) string {
	if exporter == "" {
		return ExporterNone
	}
	return exporter
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
