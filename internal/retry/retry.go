package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrExhausted is matched by errors returned from Do once every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Window is a randomized pause range. Each pause is drawn uniformly from [Min, Max].
type Window struct {
	Min time.Duration
	Max time.Duration
}

// Pick returns a random duration inside the window.
func (w Window) Pick() time.Duration {
	if w.Max <= w.Min {
		return w.Min
	}
	return w.Min + time.Duration(rand.Int63n(int64(w.Max-w.Min)+1))
}

// ExhaustedError reports how many attempts ran and the last failure seen.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Last}
}

type retryable struct {
	err  error
	wait Window
}

func (r *retryable) Error() string { return r.err.Error() }
func (r *retryable) Unwrap() error { return r.err }

// After marks err as worth another attempt once a pause drawn from w has elapsed.
func After(err error, w Window) error {
	if err == nil {
		return nil
	}
	return &retryable{err: err, wait: w}
}

// Attempt is a single try. n starts at 1.
type Attempt func(ctx context.Context, n int) error

// Do runs fn at most maxAttempts times. Errors not wrapped with After stop the loop
// immediately and are returned as is. When the last attempt still asks for a retry
// the result is an *ExhaustedError.
func Do(ctx context.Context, maxAttempts int, fn Attempt) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var last error
	for n := 1; n <= maxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx, n)
		if err == nil {
			return nil
		}
		var r *retryable
		if !errors.As(err, &r) {
			return err
		}
		last = r.err
		if n == maxAttempts {
			break
		}
		if err := sleep(ctx, r.wait.Pick()); err != nil {
			return err
		}
	}
	return &ExhaustedError{Attempts: maxAttempts, Last: last}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
