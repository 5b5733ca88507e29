// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", int(tt.level), got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{" warning ", LevelWarn, false},
		{"warn", LevelWarn, false},
		{"Error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLevel_TextRoundTrip(t *testing.T) {
	var l Level
	if err := l.UnmarshalText([]byte("warn")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if l != LevelWarn {
		t.Errorf("got %v, want WARN", l)
	}
	text, _ := l.MarshalText()
	if string(text) != "warn" {
		t.Errorf("MarshalText = %q", text)
	}
	if err := l.UnmarshalText([]byte("loud")); err == nil {
		t.Error("expected error for unknown level")
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_WritesToOutputWithService(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Service: "adsgate", Output: &buf})
	defer logger.Close()

	logger.Info("server started", "port", 8090)

	out := buf.String()
	for _, want := range []string{"server started", "port=8090", "service=adsgate"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Output: &buf})

	logger.Debug("debug line")
	logger.Info("info line")
	logger.Warn("warn line")
	logger.Error("error line")

	out := buf.String()
	if strings.Contains(out, "debug line") || strings.Contains(out, "info line") {
		t.Errorf("records below Warn leaked: %q", out)
	}
	if !strings.Contains(out, "warn line") || !strings.Contains(out, "error line") {
		t.Errorf("records at or above Warn missing: %q", out)
	}
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{JSON: true, Output: &buf})
	logger.Info("cache hit", "key", "campaigns|{}|act_1|Acme")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "cache hit" {
		t.Errorf("msg = %v", rec["msg"])
	}
}

func TestNew_RedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, JSON: true})

	logger.Info("login", "access_token", "EAAB-secret", "Authorization", "Bearer x", "user_id", "u_1")
	logger.Slog().WithGroup("req").Info("forward", "token", "EAAB-secret")

	out := buf.String()
	if strings.Contains(out, "EAAB-secret") || strings.Contains(out, "Bearer x") {
		t.Fatalf("token leaked to console: %q", out)
	}
	if !strings.Contains(out, `"user_id":"u_1"`) {
		t.Errorf("non-sensitive attr missing: %q", out)
	}
	if strings.Count(out, redacted) != 3 {
		t.Errorf("want 3 redacted values: %q", out)
	}
}

func TestNew_QuietWithoutDestinationsDiscards(t *testing.T) {
	logger := New(Config{Quiet: true})
	logger.Error("nobody hears this")
	if err := logger.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestNew_WithLogDir(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Service: "adsgate", Quiet: true})

	logger.Info("written to file", "attempts", 2)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	name := "adsgate_" + time.Now().Format(time.DateOnly) + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		t.Fatalf("file log is not JSON: %v", err)
	}
	if rec["msg"] != "written to file" || rec["service"] != "adsgate" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNew_UnwritableLogDirFallsBackToConsole(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	logger := New(Config{LogDir: filepath.Join(blocker, "logs"), Output: &buf})
	logger.Info("still logging")
	if logger.file != nil {
		t.Error("file should not be opened")
	}
	if !strings.Contains(buf.String(), "still logging") {
		t.Error("console output missing")
	}
}

func TestLogger_WithAddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf})
	child := logger.With("request_id", "r-1")
	child.Info("handled")

	if !strings.Contains(buf.String(), "request_id=r-1") {
		t.Errorf("child attrs missing: %q", buf.String())
	}
	if child.file != logger.file {
		t.Error("child should share the file handle")
	}
}

func TestLogger_ConcurrentUse(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.Info("concurrent", "n", n)
		}(i)
	}
	wg.Wait()

	if got := strings.Count(buf.String(), "msg=concurrent"); got != 20 {
		t.Errorf("logged %d records, want 20", got)
	}
}

func TestLogger_CloseIsIdempotent(t *testing.T) {
	logger := New(Config{LogDir: t.TempDir(), Quiet: true})
	logger.Info("one line")

	if err := logger.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}

// =============================================================================
// Handler Tests
// =============================================================================

type recordingHandler struct {
	level   slog.Level
	records int
	err     error
}

func (h *recordingHandler) Enabled(_ context.Context, l slog.Level) bool { return l >= h.level }
func (h *recordingHandler) Handle(context.Context, slog.Record) error {
	h.records++
	return h.err
}
func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func TestMultiHandler(t *testing.T) {
	boom := errors.New("disk full")
	debug := &recordingHandler{level: slog.LevelDebug, err: boom}
	warn := &recordingHandler{level: slog.LevelWarn}
	h := &multiHandler{handlers: []slog.Handler{debug, warn}}

	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("should be enabled when any handler is")
	}

	err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "m", 0))
	if !errors.Is(err, boom) {
		t.Errorf("Handle error = %v", err)
	}
	if debug.records != 1 || warn.records != 0 {
		t.Errorf("records debug=%d warn=%d", debug.records, warn.records)
	}

	_ = h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelError, "m", 0))
	if warn.records != 1 {
		t.Error("a failing handler must not stop the others")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/.aleutian/logs"); got != filepath.Join(home, ".aleutian/logs") {
		t.Errorf("expandPath = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath(/var/log) = %q", got)
	}
}
