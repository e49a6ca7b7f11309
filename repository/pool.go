package repository

import (
	"context"
	"log/slog"

	"github.com/utilitywarehouse/bitbucket-backup/internal/lock"
)

// Pool creates and caches Repository mirrors for the repositories of a
// workspace, all sharing the same defaults (root, credentials, timeout
// and retry budget). Repositories discovered by the lister are created
// on first sync.
// A Pool is safe for concurrent use by multiple goroutines.
type Pool struct {
	lock     lock.RWMutex
	defaults Config // Slug and Name are taken per repository
	runner   Runner
	log      *slog.Logger
	repos    map[string]*Repository
}

// NewPool creates a repository pool with given shared defaults.
// defaults.Slug and defaults.Name are ignored.
func NewPool(defaults Config, runner Runner, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		defaults: defaults,
		runner:   runner,
		log:      log,
		repos:    make(map[string]*Repository),
	}
}

// Sync mirrors the repository with the given slug, creating its
// Repository object on first use
func (p *Pool) Sync(ctx context.Context, slug, name string) error {
	repo, err := p.repository(slug, name)
	if err != nil {
		return &SyncError{Slug: slug, Err: err}
	}
	return repo.Sync(ctx)
}

// Repositories returns the mirrors created so far
func (p *Pool) Repositories() []*Repository {
	p.lock.RLock()
	defer p.lock.RUnlock()

	repos := make([]*Repository, 0, len(p.repos))
	for _, repo := range p.repos {
		repos = append(repos, repo)
	}
	return repos
}

func (p *Pool) repository(slug, name string) (*Repository, error) {
	p.lock.RLock()
	repo, ok := p.repos[slug]
	p.lock.RUnlock()
	if ok {
		return repo, nil
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	// re-check, another goroutine may have created it
	if repo, ok := p.repos[slug]; ok {
		return repo, nil
	}

	conf := p.defaults
	conf.Slug = slug
	conf.Name = name

	repo, err := New(conf, p.runner, p.log)
	if err != nil {
		return nil, err
	}
	p.repos[slug] = repo

	return repo, nil
}
