// Package gitexec executes external git commands with a hard wall-clock
// timeout. The child process inherits the parent's standard streams so
// subprocess output is visible live rather than buffered.
package gitexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrTimeout is returned when a command is killed because its timeout
// fired before it exited
var ErrTimeout = errors.New("command timed out")

// ExitError is returned when a command exits normally with a non-zero code
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.Code)
}

// SpawnError is returned when a command fails to start at all
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("unable to start command err:%v", e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Spec describes a single command invocation. it is constructed per call
// and not retained.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	Timeout time.Duration
}

// Runner runs external commands.
// The zero value is not usable, use New.
type Runner struct {
	log    *slog.Logger
	stdout io.Writer
	stderr io.Writer
}

// New returns a runner wiring child processes to the parent's standard
// streams
func New(log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{log: log, stdout: os.Stdout, stderr: os.Stderr}
}

// SetOutput redirects child process streams, used in tests
func (r *Runner) SetOutput(stdout, stderr io.Writer) {
	r.stdout = stdout
	r.stderr = stderr
}

// Run executes the command described by spec. Exactly one of the
// following occurs per call: nil on a zero exit, *ExitError for a
// non-zero exit, *SpawnError if the command could not be started, or
// ErrTimeout if spec.Timeout fired first. On timeout the process is
// killed with SIGKILL. The timeout timer is released on every exit path.
func (r *Runner) Run(ctx context.Context, spec Spec) error {
	cmdStr := spec.Command + " " + strings.Join(spec.Args, " ")
	r.log.Log(ctx, -8, "running command", "cwd", spec.Dir, "cmd", cmdStr)

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	// CommandContext kills (non-catchable) the child when runCtx expires
	cmd := exec.CommandContext(runCtx, spec.Command, spec.Args...)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("Run(%s): err:%w", cmdStr, &SpawnError{Err: err})
	}

	start := time.Now()
	err := cmd.Wait()
	runTime := time.Since(start)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("Run(%s): err:%w", cmdStr, ErrTimeout)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			return fmt.Errorf("Run(%s): err:%w", cmdStr, &ExitError{Code: exitErr.ExitCode()})
		}
		return fmt.Errorf("Run(%s): err:%w", cmdStr, err)
	}

	r.log.Log(ctx, -8, "command finished", "cmd", cmdStr, "time", runTime)
	return nil
}
