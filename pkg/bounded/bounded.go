// Package bounded runs a unit of work under a hard wall-clock limit.
//
// Several measurements an audit needs are acquired through blocking remote
// calls that cannot themselves be cancelled. Without this wrapper a single
// unresponsive endpoint would stall the entire run. Run executes the work in
// its own goroutine and guarantees the caller resumes within the limit,
// reporting Completed, TimedOut, or Failed. A failure (error or panic) inside
// the work is caught and reported, never propagated to the caller.
package bounded

import (
	"context"
	"fmt"
	"time"
)

// Outcome classifies how a bounded unit of work ended.
type Outcome int

const (
	Completed Outcome = iota
	TimedOut
	Failed
)

// String returns the string representation of the Outcome value.
func (o Outcome) String() string {
	return [...]string{"Completed", "TimedOut", "Failed"}[o]
}

// Result holds the value and outcome of one bounded execution.
type Result[T any] struct {
	Value   T
	Outcome Outcome
	Err     error
	Elapsed time.Duration
}

// Run executes work with a hard wall-clock limit. When the work exceeds
// maxDuration the caller resumes immediately with a TimedOut result,
// regardless of whether the underlying call can be cancelled; the goroutine
// running it is abandoned and finishes (or blocks) on its own. A panic inside
// the work is absorbed and reported as Failed.
func Run[T any](maxDuration time.Duration, work func() (T, error)) Result[T] {
	return RunCtx(context.Background(), maxDuration, work)
}

// RunCtx is Run with an outer context: cancellation of ctx ends the wait early
// with a TimedOut result carrying the context error. The work itself is not
// interrupted; only the caller's wait is bounded.
func RunCtx[T any](ctx context.Context, maxDuration time.Duration, work func() (T, error)) Result[T] {
	type payload struct {
		value T
		err   error
	}

	start := time.Now()
	done := make(chan payload, 1) // buffered: the worker must never block after abandonment

	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- payload{value: zero, err: fmt.Errorf("work panicked: %v", r)}
			}
		}()
		v, err := work()
		done <- payload{value: v, err: err}
	}()

	timer := time.NewTimer(maxDuration)
	defer timer.Stop()

	select {
	case p := <-done:
		res := Result[T]{Value: p.value, Elapsed: time.Since(start)}
		if p.err != nil {
			res.Outcome = Failed
			res.Err = p.err
			var zero T
			res.Value = zero
			return res
		}
		res.Outcome = Completed
		return res
	case <-timer.C:
		var zero T
		return Result[T]{
			Value:   zero,
			Outcome: TimedOut,
			Err:     fmt.Errorf("work exceeded limit of %s", maxDuration),
			Elapsed: time.Since(start),
		}
	case <-ctx.Done():
		var zero T
		return Result[T]{
			Value:   zero,
			Outcome: TimedOut,
			Err:     ctx.Err(),
			Elapsed: time.Since(start),
		}
	}
}
