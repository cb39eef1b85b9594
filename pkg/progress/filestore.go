// Copyright 2026 FleetAudit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// FileStore mirrors progress state to a JSON file so a poller in another
// process can read it. Writes go through a temp file and rename; a sibling
// .lock file serializes writer and readers across processes.
type FileStore struct {
	path string
	lock *flock.Flock
}

// NewFileStore builds a store at path, creating parent directories.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("progress file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create progress directory: %w", err)
	}
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// Path returns the state file location.
func (fs *FileStore) Path() string { return fs.path }

// Write persists one state snapshot. Suitable as a Publisher subscriber:
// store errors are swallowed after best effort, a progress mirror must never
// fail the run it mirrors.
func (fs *FileStore) Write(s State) {
	_ = fs.WriteErr(s)
}

// WriteErr persists one state snapshot, reporting any failure.
func (fs *FileStore) WriteErr(s State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode progress state: %w", err)
	}

	if err := fs.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock progress file: %w", err)
	}
	defer fs.lock.Unlock() //nolint:errcheck

	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write progress file: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("failed to replace progress file: %w", err)
	}
	return nil
}

// Read returns the last persisted state. A missing file reads as the idle
// zero state, not an error: before the first write there is simply no run.
func (fs *FileStore) Read() (State, error) {
	if err := fs.lock.RLock(); err != nil {
		return State{}, fmt.Errorf("failed to lock progress file: %w", err)
	}
	defer fs.lock.Unlock() //nolint:errcheck

	data, err := os.ReadFile(fs.path)
	if os.IsNotExist(err) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to read progress file: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("failed to parse progress file: %w", err)
	}
	return s, nil
}

// ReadEstimated reads the persisted state and extrapolates it to now, for
// pollers of detached workers that advance coarsely.
func (fs *FileStore) ReadEstimated(now time.Time, perStep time.Duration) (State, error) {
	s, err := fs.Read()
	if err != nil {
		return State{}, err
	}
	return Estimate(s, now, perStep), nil
}
