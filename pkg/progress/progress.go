// Copyright 2026 FleetAudit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package progress publishes the step counter an external poller reads while
// an audit runs. The publisher is the single authoritative writer; pollers
// only ever read snapshots. For detached workers the state is mirrored to a
// lock-guarded file so the reader can live in a different process.
package progress

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned by Begin while a run is in flight. It is the
// single-run guard: whoever wins Begin owns the publisher until Finish or
// Fail.
var ErrAlreadyRunning = errors.New("a run is already in progress")

// State is one observable snapshot of a run's progress.
type State struct {
	// CurrentStep counts completed steps. Monotonic non-decreasing within a
	// run and never exceeds TotalSteps.
	CurrentStep int `json:"current_step"`

	// TotalSteps is fixed at Begin for the whole run.
	TotalSteps int `json:"total_steps"`

	// StatusText labels what the run is currently doing.
	StatusText string `json:"status_text"`

	// Running is true from Begin until Finish or Fail.
	Running bool `json:"running"`

	StartedAt time.Time `json:"started_at,omitzero"`

	// Err carries the failure message after Fail.
	Err string `json:"error,omitempty"`
}

// Fraction returns completion in [0, 1].
func (s State) Fraction() float64 {
	if s.TotalSteps <= 0 {
		return 0
	}
	return float64(s.CurrentStep) / float64(s.TotalSteps)
}

// Publisher tracks run progress. Safe for concurrent use: the run goroutine
// writes, pollers read snapshots.
type Publisher struct {
	mu    sync.Mutex
	state State
	now   func() time.Time

	// sinks receive every state change, in publish order.
	sinks []func(State)
}

// NewPublisher returns an idle publisher.
func NewPublisher() *Publisher {
	return &Publisher{now: time.Now}
}

// Subscribe registers a callback invoked with every published state change.
// Callbacks run synchronously under the publisher's lock and must be quick.
func (p *Publisher) Subscribe(fn func(State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, fn)
}

// Begin starts a run of totalSteps steps. It fails with ErrAlreadyRunning
// while a previous run is still in flight.
func (p *Publisher) Begin(totalSteps int, label string) error {
	if totalSteps <= 0 {
		return fmt.Errorf("totalSteps must be positive, got %d", totalSteps)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Running {
		return ErrAlreadyRunning
	}
	p.state = State{
		CurrentStep: 0,
		TotalSteps:  totalSteps,
		StatusText:  label,
		Running:     true,
		StartedAt:   p.now().UTC(),
	}
	p.publishLocked()
	return nil
}

// Advance records one completed step. Steps past TotalSteps are clamped, so a
// miscounted run can never report more than everything done.
func (p *Publisher) Advance(label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.Running {
		return
	}
	if p.state.CurrentStep < p.state.TotalSteps {
		p.state.CurrentStep++
	}
	if label != "" {
		p.state.StatusText = label
	}
	p.publishLocked()
}

// Fail ends the run in an error state, leaving the step counter where the
// run stopped.
func (p *Publisher) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.Running {
		return
	}
	p.state.Running = false
	p.state.StatusText = "failed"
	if err != nil {
		p.state.Err = err.Error()
	}
	p.publishLocked()
}

// Finish ends the run successfully, forcing the counter to TotalSteps.
func (p *Publisher) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.Running {
		return
	}
	p.state.CurrentStep = p.state.TotalSteps
	p.state.Running = false
	p.state.StatusText = "completed"
	p.publishLocked()
}

// Snapshot returns the current state.
func (p *Publisher) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Publisher) publishLocked() {
	for _, fn := range p.sinks {
		fn(p.state)
	}
}

// Estimate extrapolates where a run with no fresh authoritative update
// probably is: elapsed wall time divided by the expected per-step duration.
// The estimate is clamped to TotalSteps-1 while the run reports Running, so
// it can never claim completion on its own; only an authoritative Finish can.
// Estimates are display-only and may briefly run ahead of or behind the
// authoritative counter.
func Estimate(s State, now time.Time, perStep time.Duration) State {
	if !s.Running || perStep <= 0 || s.StartedAt.IsZero() {
		return s
	}
	predicted := int(now.Sub(s.StartedAt) / perStep)
	if predicted > s.TotalSteps-1 {
		predicted = s.TotalSteps - 1
	}
	if predicted > s.CurrentStep {
		s.CurrentStep = predicted
	}
	return s
}
