// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconBullet} {
		if !strings.Contains(icon.Render(), string(icon)) {
			t.Errorf("Render() of %q lost the glyph", icon)
		}
	}
	if IconBullet.Render() != "•" {
		t.Error("unstyled icon should render as-is")
	}
}

func TestPrinter_ResultJSON(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewPrinter(&out, &errOut, ModeJSON)

	v := map[string]any{"attempts": 3, "state": "throttling"}
	if err := p.Result("Throttle", v, []Field{{"state", "throttling"}}); err != nil {
		t.Fatalf("Result: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("stdout is not JSON: %v (%q)", err, out.String())
	}
	if got["state"] != "throttling" || got["attempts"] != float64(3) {
		t.Errorf("decoded %v", got)
	}
	if strings.Contains(out.String(), "Throttle") {
		t.Error("title must not appear in JSON output")
	}
}

func TestPrinter_ResultStyled(t *testing.T) {
	var out bytes.Buffer
	p := NewPrinter(&out, &out, ModeStyled)

	err := p.Result("Cache", nil, []Field{{"entries", 4}, {"hit_rate", "75.0%"}})
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	for _, want := range []string{"Cache", "entries", "4", "hit_rate", "75.0%"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q: %q", want, out.String())
		}
	}
}

func TestPrinter_StatusLines(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewPrinter(&out, &errOut, ModeJSON)
	p.Success("pruned %d", 2)
	p.Warning("slow")
	p.Error("failed")
	p.Muted("hidden")

	if out.Len() != 0 {
		t.Errorf("JSON mode wrote status to stdout: %q", out.String())
	}
	for _, want := range []string{"OK: pruned 2", "WARN: slow", "ERROR: failed"} {
		if !strings.Contains(errOut.String(), want) {
			t.Errorf("stderr missing %q: %q", want, errOut.String())
		}
	}

	out.Reset()
	styled := NewPrinter(&out, &out, ModeStyled)
	styled.Success("done")
	styled.Muted("note")
	if !strings.Contains(out.String(), "done") || !strings.Contains(out.String(), "note") {
		t.Errorf("styled output = %q", out.String())
	}
}

func TestDetectMode_File(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if DetectMode(f) != ModeJSON {
		t.Error("a regular file is not a terminal")
	}
}
