/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package preview keeps a live evaluation result synchronized with an
// in-progress rule edit session. Edits are debounced, in-flight evaluations
// are superseded by generation counter, and the last known-good result is
// retained across transient errors so a mid-edit invalid state never blanks
// the display.
package preview

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nathanielasun/songbase/internal/evaluator"
	"github.com/nathanielasun/songbase/internal/models"
)

// State is the synchronizer's lifecycle phase.
type State string

const (
	StateIdle    State = "idle"
	StatePending State = "pending"
	StateSuccess State = "success"
	StateError   State = "error"
)

// DefaultDebounce is the delay between the last edit and the evaluation it
// triggers.
const DefaultDebounce = 500 * time.Millisecond

// EvalFunc runs one evaluation. The synchronizer treats it as opaque; in
// production it is Evaluator.Evaluate.
type EvalFunc func(ctx context.Context, req evaluator.Request) (evaluator.Result, error)

// Snapshot is a point-in-time copy of the synchronizer's visible state. On
// StateError the song list is the last successful result, not empty.
type Snapshot struct {
	State        State
	Songs        []models.Song
	SongIDs      []string
	TotalMatches int
	Warnings     []string
	Err          string
	Generation   uint64
}

// Synchronizer debounces edit notifications and applies evaluation results in
// generation order, discarding responses superseded by a later edit.
type Synchronizer struct {
	eval     EvalFunc
	debounce time.Duration
	logger   zerolog.Logger
	onChange func(Snapshot)

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	timer      *time.Timer
	generation uint64 // latest scheduled edit
	applied    uint64 // generation of the data currently in snap
	pending    evaluator.Request
	snap       Snapshot
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithDebounce overrides the debounce delay.
func WithDebounce(d time.Duration) Option {
	return func(s *Synchronizer) { s.debounce = d }
}

// WithListener registers a callback invoked (outside the lock) after every
// visible state change.
func WithListener(fn func(Snapshot)) Option {
	return func(s *Synchronizer) { s.onChange = fn }
}

// NewSynchronizer creates an idle synchronizer around the given evaluation
// function.
func NewSynchronizer(eval EvalFunc, logger zerolog.Logger, opts ...Option) *Synchronizer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Synchronizer{
		eval:     eval,
		debounce: DefaultDebounce,
		logger:   logger.With().Str("component", "preview").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		snap:     Snapshot{State: StateIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Update records a new edit state and (re)schedules the debounced evaluation.
// Each call supersedes any evaluation still pending or in flight.
func (s *Synchronizer) Update(req evaluator.Request) {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.pending = req
	s.snap.State = StatePending
	s.snap.Generation = gen
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() { s.run(gen) })
	snap := s.snap
	s.mu.Unlock()

	s.emit(snap)
}

// run fires after the debounce window. It re-checks the generation both
// before evaluating (a newer edit may have rescheduled) and before applying
// (a newer result may already have landed).
func (s *Synchronizer) run(gen uint64) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	req := s.pending
	s.mu.Unlock()

	result, err := s.eval(s.ctx, req)
	if s.ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	if gen <= s.applied {
		// This generation's result already landed, or a later edit's did;
		// either way this one is stale.
		s.mu.Unlock()
		return
	}
	s.applied = gen

	if err != nil {
		// Keep the last known-good list visible alongside the error.
		s.snap.State = StateError
		s.snap.Err = err.Error()
		s.snap.Warnings = nil
	} else {
		s.snap = Snapshot{
			State:        StateSuccess,
			Songs:        result.Songs,
			SongIDs:      result.SongIDs,
			TotalMatches: result.TotalMatches,
			Warnings:     result.Warnings,
		}
	}
	if gen != s.generation {
		// Data applied, but a newer edit is already waiting on its debounce.
		s.snap.State = StatePending
	}
	s.snap.Generation = gen
	snap := s.snap
	s.mu.Unlock()

	if err != nil {
		s.logger.Debug().Err(err).Uint64("generation", gen).Msg("preview evaluation failed")
	}
	s.emit(snap)
}

// Snapshot returns a copy of the current visible state.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Flush runs any pending evaluation immediately, bypassing the remaining
// debounce delay. It blocks until the evaluation completes.
func (s *Synchronizer) Flush() {
	s.mu.Lock()
	gen := s.generation
	if s.timer != nil {
		s.timer.Stop()
	}
	already := gen == 0 || s.applied >= gen
	s.mu.Unlock()

	if !already {
		s.run(gen)
	}
}

// Close cancels any in-flight evaluation and stops the pending timer. The
// synchronizer must not be used afterwards.
func (s *Synchronizer) Close() {
	s.cancel()
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
}

func (s *Synchronizer) emit(snap Snapshot) {
	if s.onChange != nil {
		s.onChange(snap)
	}
}
