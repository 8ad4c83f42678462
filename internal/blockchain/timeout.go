package blockchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/chainpay/internal/domain/errors"
)

// TimeoutError reports an RPC call that did not finish in time.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

func (e *TimeoutError) Unwrap() error {
	return domainErrors.ErrRPCTimeout
}

// callWithTimeout runs fn and gives up after d, even when fn ignores its
// context. A late result is discarded.
func callWithTimeout[T any](ctx context.Context, op string, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%s panicked: %v", op, r)}
			}
		}()
		v, err := fn(callCtx)
		done <- result{v: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, &TimeoutError{Op: op, After: d}
		}
		return r.v, r.err
	case <-timer.C:
		return zero, &TimeoutError{Op: op, After: d}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
