// Copyright 2026 FleetAudit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package subscribers

import (
	"encoding/json"
	"io"
	"time"

	"github.com/fleetaudit/fleetaudit/pkg/output"
)

// JSONFormatter emits structured output as JSON Lines, one object per event,
// for scripted consumers of audit results.
type JSONFormatter struct {
	encoder *json.Encoder
}

// NewJSONFormatter creates a JSONFormatter subscriber.
func NewJSONFormatter(writer io.Writer) *JSONFormatter {
	return &JSONFormatter{encoder: json.NewEncoder(writer)}
}

// Name returns the subscriber identifier.
func (s *JSONFormatter) Name() string {
	return "json-formatter"
}

// ShouldHandle reports interest in everything except diagnostic events.
func (s *JSONFormatter) ShouldHandle(event output.OutputEvent) bool {
	return event.Type != output.EventDiag
}

// Handle renders one event as a JSON line.
func (s *JSONFormatter) Handle(event output.OutputEvent) {
	jsonEvent := map[string]any{
		"type":      event.Type,
		"timestamp": event.Timestamp.Format(time.RFC3339),
	}
	if event.Message != "" {
		jsonEvent["message"] = event.Message
	}
	if event.Data != nil {
		jsonEvent["data"] = event.Data
	}
	if len(event.Metadata) > 0 {
		jsonEvent["metadata"] = event.Metadata
	}

	// Encoding errors (e.g. broken pipe) cannot propagate; drop the event.
	_ = s.encoder.Encode(jsonEvent)
}
