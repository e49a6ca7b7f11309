// Package backup drives one full backup run of a workspace: list every
// repository, fan the syncs out concurrently and aggregate the outcome.
// A failing repository never aborts its siblings, only a listing failure
// is fatal to the run.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/utilitywarehouse/bitbucket-backup/bitbucket"
	"github.com/utilitywarehouse/bitbucket-backup/internal/lock"
)

// Lister produces the full set of repository descriptors of a workspace
type Lister interface {
	ListRepositories(ctx context.Context, workspace string) ([]bitbucket.Repository, error)
}

// Syncer mirrors a single repository locally
type Syncer interface {
	Sync(ctx context.Context, slug, name string) error
}

// Config is the configuration of a backup run
type Config struct {
	// Workspace is the remote namespace to back up
	Workspace string

	// Concurrency caps the number of simultaneous repository syncs
	// (and so git subprocesses), 0 means no cap
	Concurrency int
}

// Outcome is the aggregate result of one backup run, it is not persisted
type Outcome struct {
	// Attempted is the number of repositories the run synced
	Attempted int

	// Failed holds the slugs of repositories whose sync failed,
	// in completion order
	Failed []string

	// Duration is the elapsed wall-clock time of the run
	Duration time.Duration
}

// Orchestrator runs workspace backups
type Orchestrator struct {
	conf   Config
	lister Lister
	syncer Syncer
	log    *slog.Logger
}

// New creates a backup orchestrator
func New(conf Config, lister Lister, syncer Syncer, log *slog.Logger) (*Orchestrator, error) {
	if conf.Workspace == "" {
		return nil, fmt.Errorf("workspace must be set")
	}
	if lister == nil || syncer == nil {
		return nil, fmt.Errorf("lister and syncer must be provided")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{conf: conf, lister: lister, syncer: syncer, log: log}, nil
}

// Run performs one backup of the workspace. It returns an error only if
// the repository listing fails, per-repository failures are recorded in
// the outcome and logged as they settle.
func (o *Orchestrator) Run(ctx context.Context) (Outcome, error) {
	start := time.Now()

	repos, err := o.lister.ListRepositories(ctx, o.conf.Workspace)
	if err != nil {
		return Outcome{Duration: time.Since(start)},
			fmt.Errorf("unable to list repositories workspace:%s err:%w", o.conf.Workspace, err)
	}

	o.log.Info("repositories listed", "workspace", o.conf.Workspace, "count", len(repos))

	var (
		failedMu lock.Mutex
		failed   []string
	)

	g := new(errgroup.Group)
	if o.conf.Concurrency > 0 {
		g.SetLimit(o.conf.Concurrency)
	}

	for _, repo := range repos {
		g.Go(func() error {
			if err := o.syncer.Sync(ctx, repo.Slug, repo.Name); err != nil {
				o.log.Error("repository sync failed", "repo", repo.Slug, "err", err)

				failedMu.Lock()
				failed = append(failed, repo.Slug)
				failedMu.Unlock()
				return nil
			}

			o.log.Info("repository synced", "repo", repo.Slug)
			return nil
		})
	}

	// sync failures are swallowed above, Wait only blocks until all
	// tasks settle
	g.Wait() //nolint:errcheck

	outcome := Outcome{
		Attempted: len(repos),
		Failed:    failed,
		Duration:  time.Since(start),
	}

	o.log.Info("backup run complete",
		"workspace", o.conf.Workspace,
		"attempted", outcome.Attempted,
		"failed", len(outcome.Failed),
		"time", outcome.Duration,
	)

	return outcome, nil
}
