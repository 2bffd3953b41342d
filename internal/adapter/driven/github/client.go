// Package github implements the RepoReader, CheckReporter, and CommentPoster
// ports using the go-github library.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/nickel-lang/nickel-customs/internal/domain/model"
	"github.com/nickel-lang/nickel-customs/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RepoReader = (*Client)(nil)

// Client implements the driven GitHub ports using the go-github library.
type Client struct {
	gh *gh.Client
}

// NewClient creates a new GitHub API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
func NewClient(token string) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	return &Client{gh: client}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) (*Client, error) {
	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return &Client{gh: client}, nil
}

// ListTree returns every blob in the repository tree at the given commit. The
// tree is fetched recursively in a single call; GitHub truncates trees beyond
// 100k entries, which is logged and surfaced as an error because package
// discovery must never silently work from a partial tree.
func (c *Client) ListTree(ctx context.Context, repoFullName, sha string) ([]model.TreeEntry, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	tree, resp, err := c.gh.Git.GetTree(ctx, owner, repo, sha, true)
	if err != nil {
		return nil, fmt.Errorf("fetching tree for %s@%s: %w", repoFullName, sha, err)
	}

	logRateLimit(resp, repoFullName+"/tree", 0, len(tree.Entries))

	if tree.GetTruncated() {
		return nil, fmt.Errorf("tree for %s@%s is truncated by the API, refusing partial package discovery", repoFullName, sha)
	}

	entries := make([]model.TreeEntry, 0, len(tree.Entries))
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		entries = append(entries, model.TreeEntry{
			Path:    entry.GetPath(),
			BlobSHA: entry.GetSHA(),
		})
	}

	return entries, nil
}

// FetchBlob returns the raw content of a blob.
func (c *Client) FetchBlob(ctx context.Context, repoFullName, blobSHA string) ([]byte, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	content, resp, err := c.gh.Git.GetBlobRaw(ctx, owner, repo, blobSHA)
	if err != nil {
		return nil, fmt.Errorf("fetching blob %s from %s: %w", blobSHA, repoFullName, err)
	}

	logRateLimit(resp, repoFullName+"/blob", 0, 1)

	return content, nil
}

// ListPullRequestFiles returns the changed file paths of a pull request.
// Renamed files contribute both the old and the new path so discovery sees
// every package the change touches. It handles pagination automatically.
func (c *Client) ListPullRequestFiles(ctx context.Context, repoFullName string, prNumber int) ([]string, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.ListOptions{PerPage: 100}
	var paths []string

	for {
		files, resp, err := c.gh.PullRequests.ListFiles(ctx, owner, repo, prNumber, opts)
		if err != nil {
			return nil, fmt.Errorf("listing files for %s#%d (page %d): %w", repoFullName, prNumber, opts.Page, err)
		}

		logRateLimit(resp, repoFullName+"/pr-files", opts.Page, len(files))

		paths = append(paths, commitFilePaths(files)...)

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return paths, nil
}

// CompareCommits returns the file paths changed between two commits. The
// compare endpoint caps the file list at 300 entries; a change set that large
// would affect every package anyway, so the cap is accepted rather than paged
// around.
func (c *Client) CompareCommits(ctx context.Context, repoFullName, base, head string) ([]string, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	comparison, resp, err := c.gh.Repositories.CompareCommits(ctx, owner, repo, base, head, &gh.ListOptions{PerPage: 100})
	if err != nil {
		return nil, fmt.Errorf("comparing %s %s...%s: %w", repoFullName, base, head, err)
	}

	logRateLimit(resp, repoFullName+"/compare", 0, len(comparison.Files))

	return commitFilePaths(comparison.Files), nil
}

// commitFilePaths flattens CommitFile entries into repo-relative paths,
// including the previous path of renames.
func commitFilePaths(files []*gh.CommitFile) []string {
	var paths []string
	for _, f := range files {
		if name := f.GetFilename(); name != "" {
			paths = append(paths, name)
		}
		if prev := f.GetPreviousFilename(); prev != "" {
			paths = append(paths, prev)
		}
	}
	return paths
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
