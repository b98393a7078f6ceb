// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the reqrepair CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

// Palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // headings
	ColorTealDeep    = lipgloss.Color("#16858E") // borders
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
	Header    lipgloss.Style
	Cell      lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	Header: lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary).Padding(0, 1),
	Cell:   lipgloss.NewStyle().Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with its style
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

// Mode selects how much styling output carries.
type Mode string

const (
	// ModeRich uses colors, icons, boxes and bordered tables.
	ModeRich Mode = "rich"

	// ModePlain uses icons and aligned text without colors.
	ModePlain Mode = "plain"

	// ModeMachine prints prefixed, tab-separated lines for scripts.
	ModeMachine Mode = "machine"
)

// ParseMode maps a name to a Mode. "" and "auto" return ok=false so the
// caller can detect one.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(s)) {
	case ModeRich:
		return ModeRich, true
	case ModePlain:
		return ModePlain, true
	case ModeMachine:
		return ModeMachine, true
	default:
		return "", false
	}
}

// DetectMode returns ModeRich for terminals and ModePlain otherwise.
func DetectMode(f *os.File) Mode {
	if f != nil && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return ModeRich
	}
	return ModePlain
}

// Printer writes styled output to one writer.
type Printer struct {
	w    io.Writer
	mode Mode
}

// NewPrinter returns a printer for w in the given mode.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	if mode == "" {
		mode = ModePlain
	}
	return &Printer{w: w, mode: mode}
}

// Stdout returns a printer for os.Stdout in the detected mode.
func Stdout() *Printer {
	return NewPrinter(os.Stdout, DetectMode(os.Stdout))
}

// Mode returns the printer's mode.
func (p *Printer) Mode() Mode {
	return p.mode
}

// Title prints a heading. Machine mode skips it.
func (p *Printer) Title(text string) {
	switch p.mode {
	case ModeMachine:
	case ModeRich:
		fmt.Fprintln(p.w, Styles.Title.Render(text))
	default:
		fmt.Fprintln(p.w, text)
	}
}

// Success prints a message with a check mark.
func (p *Printer) Success(text string) {
	p.status(IconSuccess, "OK", Styles.Success, text)
}

// Warning prints a warning message.
func (p *Printer) Warning(text string) {
	p.status(IconWarning, "WARN", Styles.Warning, text)
}

// Error prints an error message.
func (p *Printer) Error(text string) {
	p.status(IconError, "ERROR", Styles.Error, text)
}

func (p *Printer) status(icon Icon, prefix string, style lipgloss.Style, text string) {
	switch p.mode {
	case ModeMachine:
		fmt.Fprintf(p.w, "%s: %s\n", prefix, text)
	case ModeRich:
		fmt.Fprintf(p.w, "%s %s\n", icon.Render(), style.Render(text))
	default:
		fmt.Fprintf(p.w, "%s %s\n", icon, text)
	}
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	switch p.mode {
	case ModeMachine:
		fmt.Fprintln(p.w, text)
	case ModeRich:
		fmt.Fprintf(p.w, "%s %s\n", Styles.Muted.Render("│"), text)
	default:
		fmt.Fprintf(p.w, "| %s\n", text)
	}
}

// Box prints content under a title, boxed in rich mode.
func (p *Printer) Box(title, content string) {
	switch p.mode {
	case ModeMachine:
		fmt.Fprintf(p.w, "%s: %s\n", title, strings.ReplaceAll(content, "\n", "; "))
	case ModeRich:
		fmt.Fprintln(p.w, Styles.Box.Render(Styles.Title.Render(title)+"\n"+content))
	default:
		fmt.Fprintf(p.w, "%s\n%s\n", title, content)
	}
}

// KeyValues prints aligned key/value pairs in order.
func (p *Printer) KeyValues(pairs [][2]string) {
	width := 0
	for _, kv := range pairs {
		width = max(width, len(kv[0]))
	}
	for _, kv := range pairs {
		switch p.mode {
		case ModeMachine:
			fmt.Fprintf(p.w, "%s\t%s\n", kv[0], kv[1])
		case ModeRich:
			fmt.Fprintf(p.w, "%s  %s\n", Styles.Muted.Render(fmt.Sprintf("%-*s", width, kv[0])), kv[1])
		default:
			fmt.Fprintf(p.w, "%-*s  %s\n", width, kv[0], kv[1])
		}
	}
}

// Table prints rows under headers: bordered in rich mode, aligned columns
// in plain mode, tab-separated in machine mode.
func (p *Printer) Table(headers []string, rows [][]string) {
	switch p.mode {
	case ModeMachine:
		fmt.Fprintln(p.w, strings.Join(headers, "\t"))
		for _, r := range rows {
			fmt.Fprintln(p.w, strings.Join(r, "\t"))
		}
	case ModeRich:
		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(ColorTealDeep)).
			Headers(headers...).
			Rows(rows...).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return Styles.Header
				}
				return Styles.Cell
			})
		fmt.Fprintln(p.w, t.Render())
	default:
		widths := make([]int, len(headers))
		for i, h := range headers {
			widths[i] = len(h)
		}
		for _, r := range rows {
			for i := range min(len(r), len(widths)) {
				widths[i] = max(widths[i], len(r[i]))
			}
		}
		line := func(cells []string) {
			parts := make([]string, len(widths))
			for i := range widths {
				cell := ""
				if i < len(cells) {
					cell = cells[i]
				}
				parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
			}
			fmt.Fprintln(p.w, strings.TrimRight(strings.Join(parts, "  "), " "))
		}
		line(headers)
		for _, r := range rows {
			line(r)
		}
	}
}

// ProgressBar renders a progress bar of the given width.
func (p *Printer) ProgressBar(current, total, width int) string {
	if p.mode == ModeMachine || total <= 0 {
		return fmt.Sprintf("%d/%d", current, total)
	}
	pct := min(1, float64(current)/float64(total))
	filled := int(pct * float64(width))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	if p.mode == ModeRich {
		bar = Styles.Success.Render(strings.Repeat("█", filled)) + Styles.Muted.Render(strings.Repeat("░", width-filled))
	}
	return fmt.Sprintf("%s %3.0f%%", bar, pct*100)
}
