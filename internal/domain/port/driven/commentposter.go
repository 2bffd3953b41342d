package driven

import "context"

// CommentPoster defines the driven port for posting summary comments on pull
// requests.
type CommentPoster interface {
	PostComment(ctx context.Context, repoFullName string, prNumber int, body string) error
}
