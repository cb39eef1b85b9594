// Copyright 2026 FleetAudit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package output

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingSubscriber struct {
	name   string
	filter func(OutputEvent) bool
	events []OutputEvent
}

func (c *capturingSubscriber) Name() string { return c.name }

func (c *capturingSubscriber) ShouldHandle(event OutputEvent) bool {
	if c.filter == nil {
		return true
	}
	return c.filter(event)
}

func (c *capturingSubscriber) Handle(event OutputEvent) {
	c.events = append(c.events, event)
}

func TestDefaultOutputEmitsTypedEvents(t *testing.T) {
	stream := NewOutputEventStream()
	sub := &capturingSubscriber{name: "capture"}
	stream.Subscribe(sub)
	out := NewDefaultOutput(stream)

	out.Info("Starting audit of corp.example.com")
	out.Warning("2 endpoints unreachable")
	out.Error(errors.New("enumeration failed"))
	out.Table([]string{"endpoint", "status"}, [][]string{{"dc01", "Online"}})
	out.Progress(5, 23, "probing dc02")
	out.Diag(LevelVerbose, "cache refreshed", map[string]any{"entries": 4})

	require.Len(t, sub.events, 6)
	assert.Equal(t, EventInfo, sub.events[0].Type)
	assert.Equal(t, "Starting audit of corp.example.com", sub.events[0].Message)
	assert.Equal(t, EventWarning, sub.events[1].Type)
	assert.Equal(t, EventError, sub.events[2].Type)
	assert.Equal(t, "enumeration failed", sub.events[2].Message)

	table, ok := sub.events[3].Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"endpoint", "status"}, table["headers"])

	prog, ok := sub.events[4].Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 5, prog["current"])
	assert.Equal(t, 23, prog["total"])

	assert.Equal(t, EventDiag, sub.events[5].Type)
	assert.Equal(t, LevelVerbose, sub.events[5].Level)
}

func TestStreamRespectsShouldHandle(t *testing.T) {
	stream := NewOutputEventStream()
	quiet := &capturingSubscriber{
		name:   "no-diag",
		filter: func(e OutputEvent) bool { return e.Type != EventDiag },
	}
	all := &capturingSubscriber{name: "all"}
	stream.Subscribe(quiet)
	stream.Subscribe(all)
	out := NewDefaultOutput(stream)

	out.Info("visible")
	out.Diag(LevelDebug, "internal", nil)

	assert.Len(t, quiet.events, 1)
	assert.Len(t, all.events, 2)
}
