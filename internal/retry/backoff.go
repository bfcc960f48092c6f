// Package retry runs an operation repeatedly with exponentially growing waits.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	DefaultMaxAttempts  = 5
	DefaultInitialDelay = 5 * time.Second
)

// Policy configures Do. A zero MaxAttempts takes DefaultMaxAttempts; InitialDelay
// is used as given so tests can run without waiting.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	// MaxDelay caps a single wait. Zero leaves the delay uncapped.
	MaxDelay time.Duration

	// Sleep waits for d or until ctx is done. Defaults to a timer-based wait.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Default returns the policy used by the scan path.
func Default() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, InitialDelay: DefaultInitialDelay}
}

// ExhaustedError is returned once every attempt failed. It unwraps to the last error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Delay returns the wait after the given failed attempt (1-based). Without a
// MaxDelay it saturates at the largest Duration instead of overflowing.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	return p
}

// Do calls op until it succeeds or MaxAttempts is reached. The attempt number
// passed to op starts at 1. On exhaustion the returned error wraps the last
// failure, not the first.
func Do[T any](ctx context.Context, op func(ctx context.Context, attempt int) (T, error), p Policy) (T, error) {
	p = p.withDefaults()
	var zero T
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, joinCtx(err, lastErr)
		}
		v, err := op(ctx, attempt)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt == p.MaxAttempts {
			break
		}
		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := p.Sleep(ctx, delay); err != nil {
			return zero, joinCtx(err, lastErr)
		}
	}
	return zero, &ExhaustedError{Attempts: p.MaxAttempts, Last: lastErr}
}

func joinCtx(ctxErr, last error) error {
	if last == nil {
		return ctxErr
	}
	return errors.Join(ctxErr, last)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
