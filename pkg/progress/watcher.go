// Copyright 2026 FleetAudit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package progress

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Watcher follows a FileStore's state file and delivers each new state to a
// channel. It lets an in-process poller react to a detached worker's writes
// without polling on a timer.
type Watcher struct {
	store   *FileStore
	watcher *fsnotify.Watcher
	logger  zerolog.Logger
	ch      chan State
}

// NewWatcher starts watching the store's directory. The directory (not the
// file) is watched because atomic replace writes recreate the file on every
// update.
func NewWatcher(store *FileStore) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(store.Path())); err != nil {
		fsw.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(store.Path()), err)
	}
	return &Watcher{
		store:   store,
		watcher: fsw,
		logger:  log.With().Str("component", "progress-watcher").Logger(),
		ch:      make(chan State, 16),
	}, nil
}

// States returns the channel state updates are delivered on. Closed when Run
// returns.
func (w *Watcher) States() <-chan State { return w.ch }

// Run pumps file events into state reads until ctx is cancelled. Slow
// consumers drop intermediate states; the latest one always gets through
// eventually because every write produces an event.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.ch)
	defer w.watcher.Close() //nolint:errcheck

	target := w.store.Path()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			state, err := w.store.Read()
			if err != nil {
				w.logger.Warn().Err(err).Msg("Failed to read progress state after change")
				continue
			}
			select {
			case w.ch <- state:
			default:
				w.logger.Debug().Msg("Dropping progress state, consumer is slow")
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}
