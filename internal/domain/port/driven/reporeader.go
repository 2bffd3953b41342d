package driven

import (
	"context"

	"github.com/nickel-lang/nickel-customs/internal/domain/model"
)

// RepoReader defines the driven port for reading repository data from the
// hosting provider.
type RepoReader interface {
	// ListTree returns every blob in the repository tree at the given commit.
	ListTree(ctx context.Context, repoFullName, sha string) ([]model.TreeEntry, error)

	// FetchBlob returns the raw content of a blob.
	FetchBlob(ctx context.Context, repoFullName, blobSHA string) ([]byte, error)

	// ListPullRequestFiles returns the changed file paths of a pull request.
	ListPullRequestFiles(ctx context.Context, repoFullName string, prNumber int) ([]string, error)

	// CompareCommits returns the file paths changed between two commits.
	CompareCommits(ctx context.Context, repoFullName, base, head string) ([]string, error)
}
