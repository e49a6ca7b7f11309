package repository

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/utilitywarehouse/bitbucket-backup/internal/gitexec"
	"github.com/utilitywarehouse/bitbucket-backup/internal/lock"
	"github.com/utilitywarehouse/bitbucket-backup/internal/retry"
)

var gitExecutablePath string

func init() {
	gitExecutablePath = exec.Command("git").String()
}

// Runner executes a single external command, see gitexec.Runner
type Runner interface {
	Run(ctx context.Context, spec gitexec.Spec) error
}

// SyncError is the terminal per-repository failure after the retry
// budget is spent on clone or any update substep
type SyncError struct {
	Slug string
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("repository sync failed repo:%s err:%v", e.Slug, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Repository represents the local bare mirror of the given remote.
// A Repository is safe for concurrent use by multiple goroutines.
type Repository struct {
	lock    lock.Mutex // repository is locked during sync
	slug    string
	name    string
	remote  string // authenticated remote URL
	dir     string // absolute path to the mirror directory
	timeout time.Duration
	policy  retry.Policy
	runner  Runner
	log     *slog.Logger
}

// New creates a repository mirror from the given config. the remote is
// not touched until Sync is called.
func New(conf Config, runner Runner, log *slog.Logger) (*Repository, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}

	if runner == nil {
		return nil, fmt.Errorf("command runner must be provided")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Repository{
		slug:    conf.Slug,
		name:    conf.Name,
		remote:  conf.remoteURL(),
		dir:     MirrorDir(conf.Root, conf.Slug),
		timeout: conf.GitTimeout,
		policy:  conf.Retry,
		runner:  runner,
		log:     log.With("repo", conf.Slug),
	}, nil
}

// Slug returns the repository slug
func (r *Repository) Slug() string { return r.slug }

// Directory returns the local path of the mirror
func (r *Repository) Directory() string { return r.dir }

// Sync brings the local mirror up to date with the remote. if the mirror
// directory does not exist the repository is cloned, otherwise the
// remote URL is rewritten (credentials may rotate between runs) and all
// refs are fetched with pruning. failures are returned as *SyncError,
// isolation is the caller's call.
func (r *Repository) Sync(ctx context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	defer updateSyncLatency(r.slug, time.Now())

	cloned, err := r.cloned()
	if err != nil {
		return &SyncError{Slug: r.slug, Err: err}
	}

	if cloned {
		err = r.update(ctx)
	} else {
		err = r.clone(ctx)
	}
	recordSync(r.slug, err == nil)

	if err != nil {
		return &SyncError{Slug: r.slug, Err: err}
	}
	return nil
}

// cloned reports whether the mirror directory already exists. directory
// presence is the only record of the cloned state, its content is
// trusted to be a valid bare mirror produced by an earlier run.
func (r *Repository) cloned() (bool, error) {
	_, err := os.Stat(r.dir)
	switch {
	case os.IsNotExist(err):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("unable to check mirror dir err:%w", err)
	}
	return true, nil
}

func (r *Repository) clone(ctx context.Context) error {
	r.log.Info("mirror directory does not exist, cloning", "path", r.dir)

	err := retry.Run(ctx, r.log, r.policy, "clone "+r.slug, func(ctx context.Context) error {
		// a failed attempt can leave a partial directory behind which
		// git refuses to clone into, wipe it before every attempt
		if err := os.RemoveAll(r.dir); err != nil {
			return fmt.Errorf("unable to remove partial mirror dir err:%w", err)
		}

		// git clone --mirror <remote> <dir>
		return r.runner.Run(ctx, gitexec.Spec{
			Command: gitExecutablePath,
			Args:    []string{"clone", "--mirror", r.remote, r.dir},
			Timeout: r.timeout,
		})
	})
	if err != nil {
		return err
	}

	r.log.Info("repository cloned", "path", r.dir)
	return nil
}

func (r *Repository) update(ctx context.Context) error {
	r.log.Info("updating existing mirror", "path", r.dir)

	// refresh embedded credentials before fetching
	// git remote set-url origin <remote>
	if err := retry.Run(ctx, r.log, r.policy, "set-url "+r.slug, func(ctx context.Context) error {
		return r.runner.Run(ctx, gitexec.Spec{
			Command: gitExecutablePath,
			Args:    []string{"remote", "set-url", "origin", r.remote},
			Dir:     r.dir,
			Timeout: r.timeout,
		})
	}); err != nil {
		return err
	}

	// git fetch --all --prune
	if err := retry.Run(ctx, r.log, r.policy, "fetch "+r.slug, func(ctx context.Context) error {
		return r.runner.Run(ctx, gitexec.Spec{
			Command: gitExecutablePath,
			Args:    []string{"fetch", "--all", "--prune"},
			Dir:     r.dir,
			Timeout: r.timeout,
		})
	}); err != nil {
		return err
	}

	r.log.Info("mirror updated", "path", r.dir)
	return nil
}
