package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nickel-lang/nickel-customs/internal/domain/model"
	"github.com/nickel-lang/nickel-customs/internal/domain/port/driven"
)

// Reporter publishes check run state transitions with bounded retries.
// Transient provider failures back off exponentially up to the configured
// attempt count; rejections (driven.ErrReportRejected) fail immediately.
type Reporter struct {
	checks          driven.CheckReporter
	maxAttempts     uint
	initialInterval time.Duration
}

// NewReporter creates a Reporter. attempts counts total tries per call, so
// attempts=1 disables retries. initialInterval seeds the exponential backoff.
func NewReporter(checks driven.CheckReporter, attempts uint, initialInterval time.Duration) *Reporter {
	if attempts == 0 {
		attempts = 1
	}
	return &Reporter{checks: checks, maxAttempts: attempts, initialInterval: initialInterval}
}

// Create opens a check run in the queued state and returns its external ID.
func (p *Reporter) Create(ctx context.Context, repoFullName, headSHA, name string) (int64, error) {
	var id int64
	err := p.retry(ctx, func() error {
		var err error
		id, err = p.checks.CreateRun(ctx, repoFullName, headSHA, name)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Progress moves a run to in_progress and replaces its output.
func (p *Reporter) Progress(ctx context.Context, repoFullName string, runID int64, report model.CheckReport) error {
	return p.retry(ctx, func() error {
		return p.checks.UpdateProgress(ctx, repoFullName, runID, report)
	})
}

// Complete finalizes a run with a conclusion and its full output.
func (p *Reporter) Complete(ctx context.Context, repoFullName string, runID int64, conclusion model.Conclusion, report model.CheckReport) error {
	return p.retry(ctx, func() error {
		return p.checks.CompleteRun(ctx, repoFullName, runID, conclusion, report)
	})
}

func (p *Reporter) retry(ctx context.Context, op func() error) error {
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, driven.ErrReportRejected) {
			return backoff.Permanent(err)
		}
		slog.Debug("report attempt failed, will retry", "error", err)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.initialInterval

	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.maxAttempts-1)), ctx))
}
