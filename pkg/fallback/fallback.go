// Package fallback resolves one logical value through an ordered list of
// acquisition strategies.
//
// Many metrics have more than one acquisition path: a local file read, an
// administrative share, a management-protocol query, a remote-execution
// fallback. Strategies are ordered by cost and likelihood of success; the
// resolver invokes them in order and stops at the first success. Exhaustion
// produces a terminal sentinel error instead of an exception, so callers can
// record "unavailable" and move on.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

var (
	// ErrUnavailable is the terminal sentinel when every strategy failed.
	ErrUnavailable = errors.New("value unavailable: all acquisition strategies exhausted")

	// ErrAccessDenied is the terminal sentinel when every strategy failed and
	// at least one of them was rejected for permissions.
	ErrAccessDenied = errors.New("access denied: all acquisition strategies exhausted")
)

// Strategy is one ordered acquisition method for a logical value.
type Strategy[T any] struct {
	Name string
	Fn   func(ctx context.Context) (T, error)
}

// Outcome is the result of resolving one logical value.
type Outcome[T any] struct {
	Value T
	// MethodIndex is the 1-based index of the strategy that succeeded, or 0
	// when resolution failed.
	MethodIndex int
	Err         error
}

// Resolved reports whether any strategy produced the value.
func (o Outcome[T]) Resolved() bool { return o.Err == nil }

// Resolve invokes the strategies in order, returning the first success along
// with the index of the method used. Later strategies are never invoked once
// one succeeds. A strategy failure (error or panic) only advances to the next
// strategy; Resolve itself never panics. With all
// strategies exhausted the outcome carries ErrAccessDenied when a permission
// failure was seen, ErrUnavailable otherwise.
func Resolve[T any](ctx context.Context, strategies []Strategy[T]) Outcome[T] {
	var zero T
	if len(strategies) == 0 {
		return Outcome[T]{Value: zero, Err: ErrUnavailable}
	}

	accessDenied := false
	for i, s := range strategies {
		if err := ctx.Err(); err != nil {
			return Outcome[T]{Value: zero, Err: fmt.Errorf("resolution aborted: %w", err)}
		}

		v, err := invoke(ctx, s)
		if err == nil {
			return Outcome[T]{Value: v, MethodIndex: i + 1}
		}
		if IsAccessDenied(err) {
			accessDenied = true
		}
		log.Debug().
			Str("component", "fallback").
			Str("strategy", s.Name).
			Int("index", i+1).
			Err(err).
			Msg("Acquisition strategy failed, advancing")
	}

	if accessDenied {
		return Outcome[T]{Value: zero, Err: ErrAccessDenied}
	}
	return Outcome[T]{Value: zero, Err: ErrUnavailable}
}

// invoke runs one strategy with panic isolation.
func invoke[T any](ctx context.Context, s Strategy[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v = zero
			err = fmt.Errorf("strategy %q panicked: %v", s.Name, r)
		}
	}()
	return s.Fn(ctx)
}

// IsAccessDenied reports whether an error represents a permissions failure.
func IsAccessDenied(err error) bool {
	return errors.Is(err, os.ErrPermission) || errors.Is(err, ErrAccessDenied)
}
