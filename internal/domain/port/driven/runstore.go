package driven

import (
	"context"

	"github.com/nickel-lang/nickel-customs/internal/domain/model"
)

// RunStore defines the driven port for check run history persistence.
type RunStore interface {
	// Record persists a completed run and its outcomes.
	Record(ctx context.Context, run model.CheckRun) error

	// GetBySHA returns the most recent run for a commit including its
	// outcomes, or nil, nil when none exists.
	GetBySHA(ctx context.Context, repoFullName, headSHA string) (*model.CheckRun, error)

	// ListRecent returns the most recently created runs, newest first,
	// without their outcome lists.
	ListRecent(ctx context.Context, limit int) ([]model.CheckRun, error)
}
