package driven

import (
	"context"

	"github.com/nickel-lang/nickel-customs/internal/domain/model"
)

// PackageValidator defines the driven port for the external validation
// oracle. Validate never returns a Go error: every failure mode is expressed
// in the outcome so one package cannot abort its siblings.
type PackageValidator interface {
	Validate(ctx context.Context, repoFullName, headSHA string, pkg model.Package) model.ValidationOutcome
}
