package repository

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"time"

	"github.com/utilitywarehouse/bitbucket-backup/internal/retry"
)

// slugs are URL-safe identifiers, anything else would end up as an
// unexpected path on disk
var slugRgx = regexp.MustCompile(`^[\w\-\.]+$`)

// Config represents the config for the mirrored repository
type Config struct {
	// Slug is the unique URL-safe identifier of the repository
	// within the workspace
	Slug string

	// Name is the display name of the repository, used only for logging
	Name string

	// Host of the remote, eg. bitbucket.org
	Host string

	// Workspace is the remote namespace containing the repository
	Workspace string

	// Root is the absolute path to the backup root dir where the
	// <slug>.git mirror directory will be created
	Root string

	// Auth holds the credentials embedded in the remote URL
	Auth Auth

	// GitTimeout is the wall-clock limit for each git subprocess
	GitTimeout time.Duration

	// Retry is the attempt budget for each git operation
	Retry retry.Policy
}

// Auth represents basic authentication config of the repository
type Auth struct {
	// username to use for basic authentication
	Username string

	// app password or token to use for authentication
	Password string
}

func (c *Config) validate() error {
	if !slugRgx.MatchString(c.Slug) {
		return fmt.Errorf("repository slug '%s' is not a valid identifier", c.Slug)
	}
	if c.Host == "" {
		return fmt.Errorf("remote host must be set")
	}
	if c.Workspace == "" {
		return fmt.Errorf("workspace must be set")
	}
	if !filepath.IsAbs(c.Root) {
		return fmt.Errorf("repository root '%s' must be absolute", c.Root)
	}
	return c.Retry.Validate()
}

// remoteURL builds the authenticated clone URL of the repository.
// Credentials are URL-encoded and embedded directly in the URL, they
// will be visible in process listings.
func (c *Config) remoteURL() string {
	u := url.URL{
		Scheme: "https",
		Host:   c.Host,
		Path:   path.Join("/", c.Workspace, c.Slug+".git"),
	}
	if c.Auth.Username != "" || c.Auth.Password != "" {
		u.User = url.UserPassword(c.Auth.Username, c.Auth.Password)
	}
	return u.String()
}

// MirrorDir returns the path of the bare mirror directory for the given
// slug under root
func MirrorDir(root, slug string) string {
	return filepath.Join(root, slug+".git")
}
