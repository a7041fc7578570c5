package kube

import (
	"context"
	"errors"
	"time"
)

// ErrRetry tells Blocking to call again.
var ErrRetry = errors.New("retry")

// Backoff blocks until the next attempt is due.
//
// It returns ctx.Err() when ctx is done first.
type Backoff func(context.Context) error

// ExponentialBackoff waits initial, then multiplies the interval by r on each call.
func ExponentialBackoff(initial time.Duration, r float64) Backoff {
	interval := initial
	return func(ctx context.Context) error {
		timer := time.NewTimer(interval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			interval = time.Duration(float64(interval) * r)
			return nil
		}
	}
}

// Blocking calls f until it returns something other than ErrRetry, waiting
// with b between calls. It gives up after attempts calls (0 is unlimited),
// returning the last error.
func Blocking[T any](ctx context.Context, b Backoff, attempts int, f func() (T, error)) (T, error) {
	for n := 1; ; n++ {
		last, err := f()
		if err == nil || !errors.Is(err, ErrRetry) {
			return last, err
		}
		if 0 < attempts && attempts <= n {
			return last, err
		}
		if err := b(ctx); err != nil {
			return last, err
		}
	}
}
