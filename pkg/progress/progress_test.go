// Copyright 2026 FleetAudit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package progress

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherLifecycle(t *testing.T) {
	p := NewPublisher()

	require.NoError(t, p.Begin(23, "enumerating"))
	s := p.Snapshot()
	assert.True(t, s.Running)
	assert.Equal(t, 0, s.CurrentStep)
	assert.Equal(t, 23, s.TotalSteps)
	assert.Equal(t, "enumerating", s.StatusText)

	p.Advance("probing dc01")
	p.Advance("probing dc02")
	s = p.Snapshot()
	assert.Equal(t, 2, s.CurrentStep)
	assert.Equal(t, "probing dc02", s.StatusText)

	p.Finish()
	s = p.Snapshot()
	assert.False(t, s.Running)
	assert.Equal(t, 23, s.CurrentStep, "finish forces the counter to total")
	assert.Equal(t, "completed", s.StatusText)
}

func TestPublisherSingleRunGuard(t *testing.T) {
	p := NewPublisher()
	require.NoError(t, p.Begin(10, "first"))

	err := p.Begin(10, "second")
	require.ErrorIs(t, err, ErrAlreadyRunning)

	s := p.Snapshot()
	assert.Equal(t, "first", s.StatusText, "the in-flight run is untouched")
	assert.True(t, s.Running)

	p.Finish()
	require.NoError(t, p.Begin(5, "third"), "guard releases after finish")
}

func TestPublisherAdvanceClamps(t *testing.T) {
	p := NewPublisher()
	require.NoError(t, p.Begin(2, ""))

	for range 5 {
		p.Advance("")
	}
	assert.Equal(t, 2, p.Snapshot().CurrentStep)
}

func TestPublisherFail(t *testing.T) {
	p := NewPublisher()
	require.NoError(t, p.Begin(10, ""))
	p.Advance("")

	p.Fail(errors.New("target enumeration failed: access denied"))
	s := p.Snapshot()
	assert.False(t, s.Running)
	assert.Equal(t, 1, s.CurrentStep, "counter stays where the run stopped")
	assert.Equal(t, "target enumeration failed: access denied", s.Err)

	require.NoError(t, p.Begin(3, "retry"), "guard releases after fail")
}

func TestPublisherRejectsNonPositiveTotal(t *testing.T) {
	p := NewPublisher()
	require.Error(t, p.Begin(0, ""))
	require.Error(t, p.Begin(-4, ""))
}

func TestPublisherSubscribersSeeEveryChange(t *testing.T) {
	p := NewPublisher()
	var mu sync.Mutex
	var steps []int
	p.Subscribe(func(s State) {
		mu.Lock()
		steps = append(steps, s.CurrentStep)
		mu.Unlock()
	})

	require.NoError(t, p.Begin(3, ""))
	p.Advance("")
	p.Advance("")
	p.Finish()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3}, steps)
}

func TestPublisherConcurrentReaders(t *testing.T) {
	p := NewPublisher()
	require.NoError(t, p.Begin(100, ""))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 100 {
			p.Advance("")
		}
	}()
	go func() {
		defer wg.Done()
		for range 200 {
			s := p.Snapshot()
			assert.LessOrEqual(t, s.CurrentStep, s.TotalSteps)
		}
	}()
	wg.Wait()

	assert.Equal(t, 100, p.Snapshot().CurrentStep)
}

func TestEstimate(t *testing.T) {
	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	base := State{
		CurrentStep: 1,
		TotalSteps:  23,
		Running:     true,
		StartedAt:   started,
	}

	t.Run("extrapolates elapsed over per-step duration", func(t *testing.T) {
		// Ten seconds in at two seconds per step reads as step five.
		s := Estimate(base, started.Add(10*time.Second), 2*time.Second)
		assert.Equal(t, 5, s.CurrentStep)
	})

	t.Run("never reaches the final step while running", func(t *testing.T) {
		s := Estimate(base, started.Add(10*time.Minute), 2*time.Second)
		assert.Equal(t, 22, s.CurrentStep)
		assert.True(t, s.Running)
	})

	t.Run("never moves the counter backwards", func(t *testing.T) {
		ahead := base
		ahead.CurrentStep = 9
		s := Estimate(ahead, started.Add(4*time.Second), 2*time.Second)
		assert.Equal(t, 9, s.CurrentStep)
	})

	t.Run("leaves completed and idle states alone", func(t *testing.T) {
		done := State{CurrentStep: 23, TotalSteps: 23, Running: false, StartedAt: started}
		s := Estimate(done, started.Add(time.Hour), 2*time.Second)
		assert.Equal(t, done, s)

		s = Estimate(State{}, started, 2*time.Second)
		assert.Equal(t, State{}, s)
	})
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "run", "progress.json"))
	require.NoError(t, err)

	t.Run("missing file reads as idle", func(t *testing.T) {
		s, err := store.Read()
		require.NoError(t, err)
		assert.Equal(t, State{}, s)
	})

	t.Run("write then read", func(t *testing.T) {
		in := State{
			CurrentStep: 7,
			TotalSteps:  23,
			StatusText:  "probing dc04",
			Running:     true,
			StartedAt:   time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		}
		require.NoError(t, store.WriteErr(in))

		out, err := store.Read()
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("acts as a publisher subscriber", func(t *testing.T) {
		p := NewPublisher()
		p.Subscribe(store.Write)
		require.NoError(t, p.Begin(4, "starting"))
		p.Advance("step one")

		out, err := store.Read()
		require.NoError(t, err)
		assert.Equal(t, 1, out.CurrentStep)
		assert.Equal(t, "step one", out.StatusText)
	})
}

func TestFileStoreReadEstimated(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "progress.json"))
	require.NoError(t, err)

	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.WriteErr(State{
		CurrentStep: 1,
		TotalSteps:  23,
		Running:     true,
		StartedAt:   started,
	}))

	s, err := store.ReadEstimated(started.Add(10*time.Second), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5, s.CurrentStep)
}
