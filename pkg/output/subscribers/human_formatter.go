// Copyright 2026 FleetAudit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package subscribers contains output renderers: the human formatter for
// terminals and the JSON formatter for scripting.
package subscribers

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/fleetaudit/fleetaudit/pkg/output"
)

var (
	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")) // Green

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")). // Red
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")). // Yellow
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("105")). // Purple
			Bold(true)

	criticalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Bright red
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")) // Light gray

	tableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("62")). // Blue
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				Padding(0, 1)
)

// HumanFormatter renders events for a terminal: styled messages, severity
// coloring for findings, aligned tables.
type HumanFormatter struct {
	stdout       io.Writer
	stderr       io.Writer
	colorEnabled bool
}

// NewHumanFormatter creates a HumanFormatter subscriber.
func NewHumanFormatter(stdout, stderr io.Writer, colorEnabled bool) *HumanFormatter {
	return &HumanFormatter{
		stdout:       stdout,
		stderr:       stderr,
		colorEnabled: colorEnabled,
	}
}

// Name returns the subscriber identifier.
func (s *HumanFormatter) Name() string {
	return "human-formatter"
}

// ShouldHandle reports interest in everything except diagnostic events,
// which go to the log instead.
func (s *HumanFormatter) ShouldHandle(event output.OutputEvent) bool {
	return event.Type != output.EventDiag
}

// Handle renders one event.
func (s *HumanFormatter) Handle(event output.OutputEvent) {
	switch event.Type {
	case output.EventInfo:
		s.printInfo(event.Message)

	case output.EventError:
		s.printError(event.Message)

	case output.EventWarning:
		s.printWarning(event.Message)

	case output.EventTable:
		if data, ok := event.Data.(map[string]any); ok {
			headers, _ := data["headers"].([]string)
			rows, _ := data["rows"].([][]string)
			s.printTable(headers, rows)
		}

	case output.EventProgress:
		if data, ok := event.Data.(map[string]any); ok {
			current, _ := data["current"].(int)
			total, _ := data["total"].(int)
			s.printProgress(current, total, event.Message)
		}
	}
}

func (s *HumanFormatter) printInfo(message string) {
	if !s.colorEnabled {
		_, _ = fmt.Fprintln(s.stdout, message)
		return
	}

	var styled string
	switch {
	case strings.HasPrefix(message, "##"):
		// Section header (## Endpoint: ...)
		styled = headerStyle.Render(message)

	case strings.HasPrefix(message, "[critical]"):
		styled = criticalStyle.Render(message)

	case strings.HasPrefix(message, "[high]"):
		styled = errorStyle.Render(message)

	case strings.HasPrefix(message, "[medium]") || strings.HasPrefix(message, "[low]"):
		styled = warningStyle.Render(message)

	case strings.Contains(message, "---"):
		styled = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")). // Gray
			Render(message)

	case strings.HasPrefix(message, "Starting audit"):
		styled = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")). // Green
			Bold(true).
			Render(message)

	case strings.Contains(message, "Unreachable"):
		styled = dimStyle.Render(message)

	default:
		styled = infoStyle.Render(message)
	}

	_, _ = fmt.Fprintln(s.stdout, styled)
}

func (s *HumanFormatter) printError(message string) {
	if !s.colorEnabled {
		_, _ = fmt.Fprintf(s.stderr, "Error: %s\n", message)
		return
	}
	_, _ = fmt.Fprintln(s.stderr, errorStyle.Render("Error: "+message))
}

func (s *HumanFormatter) printWarning(message string) {
	if !s.colorEnabled {
		_, _ = fmt.Fprintf(s.stdout, "Warning: %s\n", message)
		return
	}
	_, _ = fmt.Fprintln(s.stdout, warningStyle.Render("Warning: "+message))
}

func (s *HumanFormatter) printTable(headers []string, rows [][]string) {
	if !s.colorEnabled {
		w := tabwriter.NewWriter(s.stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, strings.Join(headers, "\t"))
		for _, row := range rows {
			_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
		}
		_ = w.Flush()
		return
	}

	w := tabwriter.NewWriter(s.stdout, 0, 0, 3, ' ', 0)

	headerLine := make([]string, len(headers))
	for i, h := range headers {
		headerLine[i] = tableHeaderStyle.Render(strings.ToUpper(h))
	}
	_, _ = fmt.Fprintln(w, strings.Join(headerLine, "\t"))

	for _, row := range rows {
		styledRow := make([]string, len(row))
		for i, cell := range row {
			switch {
			case i == 0:
				// First column holds the endpoint or field name.
				styledRow[i] = lipgloss.NewStyle().
					Foreground(lipgloss.Color("245")).
					Render(cell)
			case cell == "Unreachable" || cell == "AccessDenied" || strings.HasPrefix(cell, "Error:"):
				styledRow[i] = dimStyle.Render(cell)
			default:
				styledRow[i] = cell
			}
		}
		_, _ = fmt.Fprintln(w, strings.Join(styledRow, "\t"))
	}

	_ = w.Flush()
}

func (s *HumanFormatter) printProgress(current, total int, message string) {
	if total <= 0 {
		return
	}
	percentage := float64(current) / float64(total) * 100
	_, _ = fmt.Fprintf(s.stdout, "\r[%3.0f%%] %s", percentage, message)
	if current == total {
		_, _ = fmt.Fprintln(s.stdout)
	}
}
