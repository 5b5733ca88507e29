// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive writes insights rows fetched from the Graph API to
// InfluxDB so spend and delivery can be charted over time.
package archive

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/AleutianAds/services/adsapi"
)

// DefaultMeasurement is the measurement name for insights points.
const DefaultMeasurement = "ads_insights"

// Config holds InfluxDB connection settings.
type Config struct {
	URL    string `yaml:"url" validate:"omitempty,url"`
	Token  string `yaml:"-"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// Enabled reports whether enough is configured to connect.
func (c Config) Enabled() bool {
	return c.URL != "" && c.Token != "" && c.Bucket != ""
}

// Archive is an adsapi.InsightsSink backed by InfluxDB.
type Archive struct {
	client      influxdb2.Client
	writer      api.WriteAPIBlocking
	measurement string
	now         func() time.Time
}

// Option configures an Archive.
type Option func(*Archive)

// WithMeasurement overrides the measurement name.
func WithMeasurement(name string) Option {
	return func(a *Archive) {
		if name != "" {
			a.measurement = name
		}
	}
}

// WithClock overrides the timestamp used for rows without a date.
func WithClock(now func() time.Time) Option {
	return func(a *Archive) {
		if now != nil {
			a.now = now
		}
	}
}

// New connects to InfluxDB.
func New(cfg Config, opts ...Option) (*Archive, error) {
	if !cfg.Enabled() {
		return nil, errors.New("archive: url, token and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	a := NewWithWriter(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), opts...)
	a.client = client
	return a, nil
}

// NewWithWriter builds an Archive over an existing write API.
func NewWithWriter(writer api.WriteAPIBlocking, opts ...Option) *Archive {
	a := &Archive{
		writer:      writer,
		measurement: DefaultMeasurement,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// WriteInsights implements adsapi.InsightsSink.
//
// Each row becomes one point tagged with object_id and level. Metrics that
// are absent or not numeric are skipped; a row with no metrics is dropped.
func (a *Archive) WriteInsights(ctx context.Context, objectID, level string, rows []adsapi.InsightRow) error {
	if level == "" {
		level = "object"
	}

	points := make([]*write.Point, 0, len(rows))
	for _, row := range rows {
		fields := rowFields(row)
		if len(fields) == 0 {
			continue
		}
		tags := map[string]string{
			"object_id": objectID,
			"level":     level,
		}
		if row.CampaignID != "" {
			tags["campaign_id"] = row.CampaignID
		}
		if row.AdSetID != "" {
			tags["adset_id"] = row.AdSetID
		}
		points = append(points, influxdb2.NewPoint(a.measurement, tags, fields, a.rowTime(row)))
	}
	if len(points) == 0 {
		return nil
	}

	if err := a.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("write %d insights points for %s: %w", len(points), objectID, err)
	}
	return nil
}

func (a *Archive) rowTime(row adsapi.InsightRow) time.Time {
	if t, err := time.Parse(time.DateOnly, row.DateStart); err == nil {
		return t
	}
	return a.now()
}

func rowFields(row adsapi.InsightRow) map[string]interface{} {
	fields := make(map[string]interface{})
	floatField(fields, "spend", row.Spend)
	floatField(fields, "ctr", row.CTR)
	floatField(fields, "cpc", row.CPC)
	intField(fields, "impressions", row.Impressions)
	intField(fields, "clicks", row.Clicks)
	intField(fields, "reach", row.Reach)
	return fields
}

func floatField(fields map[string]interface{}, name, raw string) {
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		fields[name] = v
	}
}

func intField(fields map[string]interface{}, name, raw string) {
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		fields[name] = v
	}
}

// Ping checks that the server is reachable.
func (a *Archive) Ping(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	ok, err := a.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping influxdb: %w", err)
	}
	if !ok {
		return errors.New("ping influxdb: server not ready")
	}
	return nil
}

// Close releases the client.
func (a *Archive) Close() {
	if a.client != nil {
		a.client.Close()
	}
}

var _ adsapi.InsightsSink = (*Archive)(nil)
