package rx

import (
	"context"
)

// Putter returns a callback that stores each T it is given
func Putter[T any](d *Database) func(context.Context, T) error {
	return func(ctx context.Context, e T) error {
		_, err := d.PutNow(ctx, e)
		return err
	}
}

// Deleter returns a callback that deletes each T it is given
func Deleter[T any](d *Database) func(context.Context, T) error {
	return func(ctx context.Context, e T) error {
		_, err := d.DeleteNow(ctx, e)
		return err
	}
}

// DeleterByID returns a callback that deletes the T with each id it is given
func DeleterByID[T any](d *Database) func(context.Context, int64) error {
	return func(ctx context.Context, id int64) error {
		_, err := deleteByID[T](ctx, d, id)
		return err
	}
}
