package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gopkg.in/cenkalti/backoff.v1"
)

// Retry policy defaults, used for zero fields.
const (
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 10 * time.Second
)

// backoffJitter spreads retries of streams that finished together.
const backoffJitter = 0.2

// RetryPolicy decides how often a failed publish is repeated and how long
// to wait in between. Waits double from Initial up to Max.
type RetryPolicy struct {
	// Retries is the number of attempts after the first. Zero disables
	// retrying.
	Retries int
	// Initial is the first wait (default 500ms).
	Initial time.Duration
	// Max caps every wait (default 10s).
	Max time.Duration
	// OnRetry, when set, sees each failure that will be retried.
	OnRetry func(err error, wait time.Duration)
}

// Validate rejects negative settings and an initial wait above the cap.
func (p RetryPolicy) Validate() error {
	if p.Retries < 0 {
		return fmt.Errorf("retries must be >= 0, got %d", p.Retries)
	}
	if p.Initial < 0 || p.Max < 0 {
		return errors.New("backoff intervals must not be negative")
	}
	if p.Initial > 0 && p.Max > 0 && p.Initial > p.Max {
		return fmt.Errorf("initial backoff %v exceeds max backoff %v", p.Initial, p.Max)
	}
	return nil
}

// withDefaults fills zero intervals.
func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Initial == 0 {
		p.Initial = DefaultInitialBackoff
	}
	if p.Max == 0 {
		p.Max = DefaultMaxBackoff
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	if p.Retries == 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	p = p.withDefaults()
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.Initial
	exp.MaxInterval = p.Max
	exp.Multiplier = 2
	exp.RandomizationFactor = backoffJitter
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxTries(exp, uint64(p.Retries)), ctx)
}

// Permanent marks err as not worth retrying. Do returns the unwrapped err
// at once.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a Permanent error, the retries run
// out or ctx ends. It returns the number of attempts made. When ctx ends
// first the error wraps both ctx.Err() and the last failure.
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error) (int, error) {
	attempts := 0
	err := backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		return op(ctx)
	}, p.backOff(ctx), p.OnRetry)
	if err == nil {
		return attempts, nil
	}
	if cerr := ctx.Err(); cerr != nil && !errors.Is(err, cerr) {
		return attempts, fmt.Errorf("%w: %w", cerr, err)
	}
	return attempts, err
}
