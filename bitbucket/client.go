// Package bitbucket lists repositories of a Bitbucket cloud workspace
// via the paginated v2 API.
package bitbucket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/utilitywarehouse/bitbucket-backup/internal/retry"
)

const (
	// DefaultAPIBaseURL is the Bitbucket cloud v2 API root
	DefaultAPIBaseURL = "https://api.bitbucket.org/2.0"

	// pageLen is the page-size hint sent with the listing request
	pageLen = 100
)

// ErrListing marks a terminal listing failure, it aborts the whole
// backup run
var ErrListing = errors.New("unable to list workspace repositories")

// Repository describes one repository of the workspace. it is immutable
// and consumed once per run by the synchronizer.
type Repository struct {
	// Slug is the unique URL-safe identifier of the repository
	Slug string `json:"slug"`
	// Name is the display name of the repository
	Name string `json:"name"`
}

// repoPage is one page of the listing response. Next holds the absolute
// URL of the following page and is empty on the last one.
type repoPage struct {
	Values []Repository `json:"values"`
	Next   string       `json:"next"`
}

// Client calls the Bitbucket API with basic auth (username and app
// password).
// A Client is safe for concurrent use by multiple goroutines.
type Client struct {
	baseURL  string
	username string
	password string
	policy   retry.Policy
	hc       *http.Client
	log      *slog.Logger
}

// NewClient creates a Bitbucket API client. baseURL falls back to
// DefaultAPIBaseURL if empty.
func NewClient(baseURL, username, password string, policy retry.Policy, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		policy:   policy,
		hc:       &http.Client{Timeout: 30 * time.Second},
		log:      log,
	}
}

// ListRepositories pages through the workspace listing endpoint and
// returns all repository descriptors in page order. Each page fetch is
// retried individually, if any page exhausts its attempts the whole
// result is discarded and the error wraps ErrListing. Descriptors are
// not de-duplicated across pages.
func (c *Client) ListRepositories(ctx context.Context, workspace string) ([]Repository, error) {
	pageURL := fmt.Sprintf("%s/repositories/%s?pagelen=%d", c.baseURL, url.PathEscape(workspace), pageLen)

	var repos []Repository

	for pageNum := 1; pageURL != ""; pageNum++ {
		page, err := retry.Do(ctx, c.log, c.policy, fmt.Sprintf("list repositories page %d", pageNum),
			func(ctx context.Context) (*repoPage, error) {
				return c.fetchPage(ctx, pageURL)
			})
		if err != nil {
			return nil, fmt.Errorf("%w workspace:%s page:%d err:%w", ErrListing, workspace, pageNum, err)
		}

		repos = append(repos, page.Values...)
		pageURL = page.Next
	}

	return repos, nil
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) (*repoPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}

	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errMessage, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("listing response status %d, body:%q", resp.StatusCode, errMessage)
	}

	var page repoPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("unable to decode listing response err:%w", err)
	}

	return &page, nil
}
