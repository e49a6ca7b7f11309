package gitexec

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRun_zero_exit(t *testing.T) {
	r := New(nil)

	var out bytes.Buffer
	r.SetOutput(&out, &out)

	err := r.Run(t.Context(), Spec{Command: "sh", Args: []string{"-c", "echo mirrored"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := strings.TrimSpace(out.String()); got != "mirrored" {
		t.Errorf("expected child output %q on parent stream, got %q", "mirrored", got)
	}
}

func TestRun_non_zero_exit(t *testing.T) {
	r := New(nil)
	r.SetOutput(nil, nil)

	err := r.Run(t.Context(), Spec{Command: "sh", Args: []string{"-c", "exit 3"}})
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Run() error = %v, want *ExitError", err)
	}
	if exitErr.Code != 3 {
		t.Errorf("ExitError.Code = %d, want 3", exitErr.Code)
	}
}

func TestRun_spawn_error(t *testing.T) {
	r := New(nil)

	err := r.Run(t.Context(), Spec{Command: "/no/such/executable"})
	if err == nil {
		t.Fatal("expected error for missing executable")
	}

	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("Run() error = %v, want *SpawnError", err)
	}
	if spawnErr.Err == nil {
		t.Error("SpawnError must carry the underlying cause")
	}
}

func TestRun_timeout(t *testing.T) {
	r := New(nil)
	r.SetOutput(nil, nil)

	start := time.Now()
	err := r.Run(t.Context(), Spec{
		Command: "sh",
		Args:    []string{"-c", "sleep 30"},
		Timeout: 100 * time.Millisecond,
	})
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Run() error = %v, want ErrTimeout", err)
	}

	// process must be killed, not waited for
	if elapsed > 10*time.Second {
		t.Errorf("Run() took %s, the child was not terminated on timeout", elapsed)
	}

	// timer must be inert, a later run is unaffected
	if err := r.Run(t.Context(), Spec{Command: "true", Timeout: time.Minute}); err != nil {
		t.Errorf("unexpected error after timed out run: %v", err)
	}
}

func TestRun_exit_before_timeout(t *testing.T) {
	r := New(nil)
	r.SetOutput(nil, nil)

	err := r.Run(t.Context(), Spec{
		Command: "sh",
		Args:    []string{"-c", "exit 7"},
		Timeout: time.Minute,
	})

	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 7 {
		t.Fatalf("Run() error = %v, want *ExitError with code 7", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("non-zero exit before timeout must not be reported as timeout")
	}
}

func TestRun_working_directory(t *testing.T) {
	r := New(nil)

	dir := t.TempDir()

	var out bytes.Buffer
	r.SetOutput(&out, &out)

	if err := r.Run(t.Context(), Spec{Command: "pwd", Dir: dir}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := strings.TrimSpace(out.String()); got != dir {
		t.Errorf("command ran in %q, want %q", got, dir)
	}
}
