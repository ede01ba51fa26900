package storage

import (
	"context"
	"errors"
)

// RetryOnce runs fn and, if it failed with ErrTransient, runs it one more
// time. Logical failures are returned as-is.
func RetryOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil || !errors.Is(err, ErrTransient) || ctx.Err() != nil {
		return err
	}
	return fn(ctx)
}

// Atomic runs fn in a fresh unit of work, retrying the whole unit once on a
// transient failure. The failed attempt is rolled back before the retry.
// When ctx already belongs to a unit of work, fn joins it and any retry is
// left to the outermost caller.
func Atomic(ctx context.Context, tm TxManager, fn func(ctx context.Context) error) error {
	if tm.InTx(ctx) {
		return fn(ctx)
	}
	return RetryOnce(ctx, func(ctx context.Context) error {
		return tm.WithTx(ctx, fn)
	})
}
