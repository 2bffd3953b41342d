package driven

import (
	"context"
	"errors"

	"github.com/nickel-lang/nickel-customs/internal/domain/model"
)

// ErrReportRejected marks a reporter failure that retrying cannot fix, such
// as a validation error or a missing permission. Callers give up immediately
// instead of burning retry budget.
var ErrReportRejected = errors.New("report rejected")

// CheckReporter defines the driven port for publishing check run state to the
// hosting provider. CreateRun must succeed before any call referencing the
// returned ID.
type CheckReporter interface {
	// CreateRun opens a check run in the queued state and returns the
	// provider-assigned ID.
	CreateRun(ctx context.Context, repoFullName, headSHA, name string) (int64, error)

	// UpdateProgress moves a run to in_progress and replaces its output.
	UpdateProgress(ctx context.Context, repoFullName string, runID int64, report model.CheckReport) error

	// CompleteRun finalizes a run with a conclusion and its full output.
	CompleteRun(ctx context.Context, repoFullName string, runID int64, conclusion model.Conclusion, report model.CheckReport) error
}
