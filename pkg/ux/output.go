// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders adsgate CLI output: lipgloss styling on a terminal,
// JSON when stdout is piped.
package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // borders
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text

	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title   lipgloss.Style
	Key     lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Key:     lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorTealBright),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// Mode selects how results are written.
type Mode int

const (
	// ModeStyled renders for a human at a terminal.
	ModeStyled Mode = iota

	// ModeJSON writes one JSON document per result and plain status lines.
	ModeJSON
)

// DetectMode returns ModeStyled when f is a terminal.
func DetectMode(f *os.File) Mode {
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return ModeStyled
	}
	return ModeJSON
}

// Field is one row of a key/value block.
type Field struct {
	Key   string
	Value any
}

// Printer writes CLI output in one Mode.
type Printer struct {
	out  io.Writer
	err  io.Writer
	mode Mode
}

// NewPrinter builds a printer. Status lines go to errOut in ModeJSON so
// stdout stays parseable.
func NewPrinter(out, errOut io.Writer, mode Mode) *Printer {
	return &Printer{out: out, err: errOut, mode: mode}
}

// Stdout returns a printer for the process streams with the mode detected
// from stdout.
func Stdout() *Printer {
	return NewPrinter(os.Stdout, os.Stderr, DetectMode(os.Stdout))
}

// Mode reports the printer's mode.
func (p *Printer) Mode() Mode {
	return p.mode
}

// Result writes v as JSON in ModeJSON. In ModeStyled it prints title and
// fields in a box.
func (p *Printer) Result(title string, v any, fields []Field) error {
	if p.mode == ModeJSON {
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	width := 0
	for _, f := range fields {
		width = max(width, len(f.Key))
	}
	var b strings.Builder
	b.WriteString(Styles.Title.Render(title))
	for _, f := range fields {
		b.WriteString("\n")
		b.WriteString(Styles.Key.Render(fmt.Sprintf("%-*s", width, f.Key)))
		b.WriteString("  ")
		b.WriteString(fmt.Sprint(f.Value))
	}
	_, err := fmt.Fprintln(p.out, Styles.Box.Render(b.String()))
	return err
}

// Success prints a success message with checkmark
func (p *Printer) Success(format string, args ...any) {
	p.status(IconSuccess, Styles.Success, "OK", format, args...)
}

// Warning prints a warning message
func (p *Printer) Warning(format string, args ...any) {
	p.status(IconWarning, Styles.Warning, "WARN", format, args...)
}

// Error prints an error message
func (p *Printer) Error(format string, args ...any) {
	p.status(IconError, Styles.Error, "ERROR", format, args...)
}

// Muted prints secondary text. Nothing is printed in ModeJSON.
func (p *Printer) Muted(format string, args ...any) {
	if p.mode == ModeJSON {
		return
	}
	fmt.Fprintln(p.out, Styles.Muted.Render(fmt.Sprintf(format, args...)))
}

func (p *Printer) status(icon Icon, style lipgloss.Style, label, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	if p.mode == ModeJSON {
		fmt.Fprintf(p.err, "%s: %s\n", label, text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", icon.Render(), style.Render(text))
}
