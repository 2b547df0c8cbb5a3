package async

import (
	"context"
)

type option[T any] struct {
	value T
	ok    bool
}

// Maybe is a lazily computed value that may be absent. Absence is not an
// error.
type Maybe[T any] struct {
	single *Single[option[T]]
}

// DeferMaybe wraps fn; fn reports whether a value was found
func DeferMaybe[T any](fn func(ctx context.Context) (T, bool, error)) *Maybe[T] {
	return &Maybe[T]{single: Defer(func(ctx context.Context) (option[T], error) {
		v, ok, err := fn(ctx)
		if err != nil {
			return option[T]{}, err
		}
		return option[T]{value: v, ok: ok}, nil
	})}
}

// Some returns a Maybe holding v
func Some[T any](v T) *Maybe[T] {
	return &Maybe[T]{single: Just(option[T]{value: v, ok: true})}
}

// None returns an empty Maybe
func None[T any]() *Maybe[T] {
	return &Maybe[T]{single: Just(option[T]{})}
}

// Await returns the value and whether it was present
func (m *Maybe[T]) Await(ctx context.Context) (T, bool, error) {
	opt, err := m.single.Await(ctx)
	return opt.value, opt.ok, err
}

// OrElse returns the value, or fallback when absent
func (m *Maybe[T]) OrElse(ctx context.Context, fallback T) (T, error) {
	v, ok, err := m.Await(ctx)
	if err != nil || !ok {
		return fallback, err
	}
	return v, nil
}

// Done reports whether the result is available
func (m *Maybe[T]) Done() bool {
	return m.single.Done()
}
