// Package async holds deferred single-value results. Nothing runs until
// the first Await; the outcome is memoised so every later awaiter sees the
// same value or error.
package async

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jizhuozhi/go-future"
)

// Single is a lazily computed value or error
type Single[T any] struct {
	run     func(context.Context) (T, error)
	started atomic.Bool
	promise *future.Promise[T]
	done    chan struct{}
}

// Defer wraps fn. fn runs on the goroutine of the first Await, with that
// caller's context.
func Defer[T any](fn func(ctx context.Context) (T, error)) *Single[T] {
	return &Single[T]{
		run:     fn,
		promise: future.NewPromise[T](),
		done:    make(chan struct{}),
	}
}

// Just returns a Single already holding v
func Just[T any](v T) *Single[T] {
	return Defer(func(context.Context) (T, error) { return v, nil })
}

// Fail returns a Single that fails with err
func Fail[T any](err error) *Single[T] {
	return Defer(func(context.Context) (T, error) {
		var zero T
		return zero, err
	})
}

// Await runs the computation if nobody has yet and returns its result. A
// caller that finds the computation running elsewhere waits for it or for
// ctx, whichever comes first.
func (s *Single[T]) Await(ctx context.Context) (T, error) {
	if s.started.CompareAndSwap(false, true) {
		v, err := s.invoke(ctx)
		s.promise.Set(v, err)
		close(s.done)
		return v, err
	}

	select {
	case <-s.done:
		return s.promise.Future().Get()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done reports whether the result is available
func (s *Single[T]) Done() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Start runs the computation on a new goroutine and returns its future
func (s *Single[T]) Start(ctx context.Context) *future.Future[T] {
	go s.Await(ctx)
	return s.promise.Future()
}

func (s *Single[T]) invoke(ctx context.Context) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("async: panic: %v", r)
		}
	}()
	if err = ctx.Err(); err != nil {
		return v, err
	}
	return s.run(ctx)
}

// Map derives a Single that applies fn to the result of s
func Map[T, U any](s *Single[T], fn func(T) (U, error)) *Single[U] {
	return Defer(func(ctx context.Context) (U, error) {
		v, err := s.Await(ctx)
		if err != nil {
			var zero U
			return zero, err
		}
		return fn(v)
	})
}
