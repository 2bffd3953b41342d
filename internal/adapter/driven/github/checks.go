package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gh "github.com/google/go-github/v82/github"

	"github.com/nickel-lang/nickel-customs/internal/domain/model"
	"github.com/nickel-lang/nickel-customs/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CheckReporter = (*Client)(nil)

// CreateRun opens a check run in the queued state and returns the
// provider-assigned ID.
func (c *Client) CreateRun(ctx context.Context, repoFullName, headSHA, name string) (int64, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return 0, err
	}

	run, resp, err := c.gh.Checks.CreateCheckRun(ctx, owner, repo, gh.CreateCheckRunOptions{
		Name:    name,
		HeadSHA: headSHA,
		Status:  gh.Ptr("queued"),
	})
	if err != nil {
		return 0, classifyReportErr(fmt.Errorf("creating check run for %s@%s: %w", repoFullName, headSHA, err))
	}

	logRateLimit(resp, repoFullName+"/check-create", 0, 1)

	return run.GetID(), nil
}

// UpdateProgress moves a run to in_progress and replaces its output.
func (c *Client) UpdateProgress(ctx context.Context, repoFullName string, runID int64, report model.CheckReport) error {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}

	_, resp, err := c.gh.Checks.UpdateCheckRun(ctx, owner, repo, runID, gh.UpdateCheckRunOptions{
		Status: gh.Ptr("in_progress"),
		Output: mapOutput(report),
	})
	if err != nil {
		return classifyReportErr(fmt.Errorf("updating check run %d on %s: %w", runID, repoFullName, err))
	}

	logRateLimit(resp, repoFullName+"/check-update", 0, 1)

	return nil
}

// CompleteRun finalizes a run with a conclusion and its full output.
func (c *Client) CompleteRun(ctx context.Context, repoFullName string, runID int64, conclusion model.Conclusion, report model.CheckReport) error {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}

	_, resp, err := c.gh.Checks.UpdateCheckRun(ctx, owner, repo, runID, gh.UpdateCheckRunOptions{
		Status:      gh.Ptr("completed"),
		Conclusion:  gh.Ptr(string(conclusion)),
		CompletedAt: &gh.Timestamp{Time: time.Now().UTC()},
		Output:      mapOutput(report),
	})
	if err != nil {
		return classifyReportErr(fmt.Errorf("completing check run %d on %s: %w", runID, repoFullName, err))
	}

	logRateLimit(resp, repoFullName+"/check-complete", 0, 1)

	return nil
}

// mapOutput converts a CheckReport to the go-github output shape. GitHub
// rejects annotations without a title and summary, so those are always set.
func mapOutput(report model.CheckReport) *gh.CheckRunOutput {
	out := &gh.CheckRunOutput{
		Title:   gh.Ptr(report.Title),
		Summary: gh.Ptr(report.Summary),
	}

	for _, a := range report.Annotations {
		out.Annotations = append(out.Annotations, &gh.CheckRunAnnotation{
			Path:            gh.Ptr(a.Path),
			StartLine:       gh.Ptr(a.StartLine),
			EndLine:         gh.Ptr(a.EndLine),
			AnnotationLevel: gh.Ptr(string(a.Level)),
			Message:         gh.Ptr(a.Message),
		})
	}

	return out
}

// classifyReportErr marks client-side API rejections as non-retryable.
// Rate limiting (primary or secondary) and 5xx responses stay retryable;
// other 4xx responses mean the request itself is wrong and retrying with the
// same payload cannot succeed.
func classifyReportErr(err error) error {
	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return err
	}

	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		code := ghErr.Response.StatusCode
		if code >= 400 && code < 500 && code != http.StatusForbidden && code != http.StatusTooManyRequests {
			return fmt.Errorf("%w: %w", driven.ErrReportRejected, err)
		}
	}

	return err
}
