package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// recordSleeps replaces the backoff sleep with a recorder and restores
// it when the test ends
func recordSleeps(t *testing.T) *[]time.Duration {
	t.Helper()

	var waits []time.Duration
	orig := sleep
	sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	t.Cleanup(func() { sleep = orig })
	return &waits
}

func TestDo_permanent_failure(t *testing.T) {
	waits := recordSleeps(t)

	permErr := errors.New("remote hung up")
	attempts := 0

	_, err := Do(t.Context(), nil, Policy{MaxAttempts: 4, BaseDelay: time.Second}, "fetch repo1",
		func(ctx context.Context) (string, error) {
			attempts++
			return "", permErr
		})
	if err == nil {
		t.Fatal("expected error after exhausted attempts")
	}

	if attempts != 4 {
		t.Errorf("Do() attempts = %d, want 4", attempts)
	}

	// n-1 backoff waits doubling from base delay
	wantWaits := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if diff := cmp.Diff(wantWaits, *waits); diff != "" {
		t.Errorf("Do() backoff waits mismatch (-want +got):\n%s", diff)
	}

	// last failure must be surfaced via ExhaustedError
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Do() error = %v, want *ExhaustedError", err)
	}
	if exhausted.Description != "fetch repo1" || exhausted.Attempts != 4 {
		t.Errorf("ExhaustedError = %+v, want description 'fetch repo1' attempts 4", exhausted)
	}
	if !errors.Is(err, permErr) {
		t.Errorf("Do() error does not wrap last failure, got %v", err)
	}
}

func TestDo_success_after_retries(t *testing.T) {
	waits := recordSleeps(t)

	attempts := 0
	got, err := Do(t.Context(), nil, Policy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond}, "clone repo1",
		func(ctx context.Context) (string, error) {
			attempts++
			if attempts < 3 {
				return "", fmt.Errorf("transient failure %d", attempts)
			}
			return "done", nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got != "done" {
		t.Errorf("Do() = %q, want %q", got, "done")
	}
	if attempts != 3 {
		t.Errorf("Do() attempts = %d, want 3", attempts)
	}

	// no further sleeps once operation succeeds
	wantWaits := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if diff := cmp.Diff(wantWaits, *waits); diff != "" {
		t.Errorf("Do() backoff waits mismatch (-want +got):\n%s", diff)
	}
}

func TestDo_first_attempt_success(t *testing.T) {
	waits := recordSleeps(t)

	attempts := 0
	got, err := Do(t.Context(), nil, Policy{MaxAttempts: 3, BaseDelay: time.Second}, "list page 1",
		func(ctx context.Context) (int, error) {
			attempts++
			return 42, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 || attempts != 1 {
		t.Errorf("Do() = %d attempts = %d, want 42 and 1", got, attempts)
	}
	if len(*waits) != 0 {
		t.Errorf("Do() slept %d times, want 0", len(*waits))
	}
}

func TestDo_single_attempt_policy(t *testing.T) {
	waits := recordSleeps(t)

	attempts := 0
	err := Run(t.Context(), nil, Policy{MaxAttempts: 1, BaseDelay: time.Second}, "set-url repo1",
		func(ctx context.Context) error {
			attempts++
			return errors.New("boom")
		})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("Run() attempts = %d, want 1", attempts)
	}
	if len(*waits) != 0 {
		t.Errorf("Run() slept %d times, want 0", len(*waits))
	}
}

func TestDo_invalid_policy(t *testing.T) {
	if _, err := Do(t.Context(), nil, Policy{MaxAttempts: 0}, "op",
		func(ctx context.Context) (int, error) { return 0, nil },
	); err == nil {
		t.Error("expected error for zero max attempts")
	}
}

func TestDo_context_cancelled_during_wait(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())

	attempts := 0
	err := Run(ctx, nil, Policy{MaxAttempts: 3, BaseDelay: time.Minute}, "fetch repo1",
		func(ctx context.Context) error {
			attempts++
			cancel()
			return errors.New("transient")
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("Run() attempts = %d, want 1", attempts)
	}
}
