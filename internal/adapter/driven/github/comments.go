package github

import (
	"context"
	"fmt"

	gh "github.com/google/go-github/v82/github"

	"github.com/nickel-lang/nickel-customs/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CommentPoster = (*Client)(nil)

// PostComment creates a top-level comment on a pull request.
func (c *Client) PostComment(ctx context.Context, repoFullName string, prNumber int, body string) error {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}

	_, resp, err := c.gh.Issues.CreateComment(ctx, owner, repo, prNumber, &gh.IssueComment{
		Body: gh.Ptr(body),
	})
	if err != nil {
		return fmt.Errorf("creating comment on %s#%d: %w", repoFullName, prNumber, err)
	}

	logRateLimit(resp, repoFullName+"/comment", 0, 1)

	return nil
}
