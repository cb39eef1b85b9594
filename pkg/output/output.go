// Copyright 2026 FleetAudit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package output decouples what the audit reports from how it is rendered.
// Business logic emits events through the Output interface; subscribers
// render them for humans or machines without the core knowing which.
package output

import (
	"sync"
	"time"
)

// contextKey is a type for context keys to avoid collisions.
type contextKey string

// OutputKey is the context key under which an Output travels.
const OutputKey contextKey = "output"

// OutputEventType defines the type of output event.
type OutputEventType string

const (
	// EventInfo represents a general information message (always visible)
	EventInfo OutputEventType = "info"

	// EventError represents an error message
	EventError OutputEventType = "error"

	// EventWarning represents a warning message
	EventWarning OutputEventType = "warning"

	// EventTable represents tabular data output
	EventTable OutputEventType = "table"

	// EventProgress represents a progress update
	EventProgress OutputEventType = "progress"

	// EventDiag represents diagnostic information (only visible with -v/-vv)
	EventDiag OutputEventType = "diag"
)

// OutputLevel defines the verbosity level for diagnostic messages.
type OutputLevel int

const (
	// LevelNormal is the default level (always shown)
	LevelNormal OutputLevel = 0

	// LevelVerbose is shown with -v flag
	LevelVerbose OutputLevel = 1

	// LevelDebug is shown with -vv flag
	LevelDebug OutputLevel = 2
)

// OutputEvent represents a single event emitted by business logic.
type OutputEvent struct {
	// Type identifies the event category (info, error, table, etc.)
	Type OutputEventType

	// Level specifies verbosity level (only used for EventDiag)
	Level OutputLevel

	// Message is the primary text content
	Message string

	// Data contains structured data (e.g., table headers/rows, progress values)
	Data any

	// Metadata holds additional key-value pairs for diagnostic events
	Metadata map[string]any

	// Timestamp records when the event was created
	Timestamp time.Time
}

// Output is the interface business logic emits through.
type Output interface {
	// Info emits a general information message (always visible).
	Info(message string)

	// Error emits an error message.
	Error(err error)

	// Warning emits a warning message.
	Warning(message string)

	// Table emits tabular data with headers and rows.
	Table(headers []string, rows [][]string)

	// Progress emits a progress update.
	Progress(current, total int, message string)

	// Diag emits diagnostic information (only visible with -v/-vv).
	Diag(level OutputLevel, message string, metadata map[string]any)
}

// Subscriber consumes output events from a stream.
type Subscriber interface {
	// Name returns the subscriber identifier.
	Name() string

	// ShouldHandle decides whether this subscriber cares about the event.
	ShouldHandle(event OutputEvent) bool

	// Handle processes one event.
	Handle(event OutputEvent)
}

// OutputEventStream fans events out to registered subscribers in
// registration order. Safe for concurrent emitters.
type OutputEventStream struct {
	mu          sync.RWMutex
	subscribers []Subscriber
}

// NewOutputEventStream creates an empty stream.
func NewOutputEventStream() *OutputEventStream {
	return &OutputEventStream{}
}

// Subscribe registers a subscriber.
func (s *OutputEventStream) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, sub)
}

// Emit delivers one event to every interested subscriber.
func (s *OutputEventStream) Emit(event OutputEvent) {
	s.mu.RLock()
	subs := s.subscribers
	s.mu.RUnlock()

	for _, sub := range subs {
		if sub.ShouldHandle(event) {
			sub.Handle(event)
		}
	}
}
