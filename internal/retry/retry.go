// Package retry runs operations with bounded attempts and exponential
// backoff. Every failed attempt and every backoff wait is logged as it
// happens, success logging is left to the caller.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Policy configures retry behaviour. it is constant for the whole run
// and shared by all callers.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first
	// one, must be >= 1
	MaxAttempts int

	// BaseDelay is the wait after the first failed attempt, it doubles
	// after every further failure (no jitter)
	BaseDelay time.Duration
}

// Validate verifies policy values
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("base delay cannot be negative, got %s", p.BaseDelay)
	}
	return nil
}

// ExhaustedError is returned once all attempts of an operation have
// failed. it wraps the last observed failure, not an aggregate.
type ExhaustedError struct {
	Description string
	Attempts    int
	Err         error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts err:%v", e.Description, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// sleep is swapped out in tests to verify backoff durations
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do invokes fn up to policy.MaxAttempts times and returns the first
// successful result. the wait before attempt i+1 is BaseDelay * 2^(i-1).
// once attempts are spent the last failure is returned wrapped in
// *ExhaustedError so callers can re-label it with domain context.
func Do[T any](ctx context.Context, log *slog.Logger, policy Policy, description string, fn func(context.Context) (T, error)) (T, error) {
	var result T
	var lastErr error

	if err := policy.Validate(); err != nil {
		return result, err
	}

	if log == nil {
		log = slog.Default()
	}

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, lastErr = fn(ctx)
		if lastErr == nil {
			return result, nil
		}

		log.Error("attempt failed", "op", description, "attempt", attempt, "err", lastErr)

		if attempt == policy.MaxAttempts {
			break
		}

		wait := policy.BaseDelay << (attempt - 1)
		log.Info("waiting before retry", "op", description, "attempt", attempt, "wait", wait)
		if err := sleep(ctx, wait); err != nil {
			return result, err
		}
	}

	return result, &ExhaustedError{Description: description, Attempts: policy.MaxAttempts, Err: lastErr}
}

// Run is Do for operations with no result value
func Run(ctx context.Context, log *slog.Logger, policy Policy, description string, fn func(context.Context) error) error {
	_, err := Do(ctx, log, policy, description, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
