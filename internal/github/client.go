package gh

import (
	"context"
	"errors"
)

// PullRequest contains the pull request details needed to combine or report on it.
type PullRequest struct {
	Number  int
	Title   string
	HeadSHA string
	HeadRef string
	BaseRef string
	URL     string
}

// Client exposes the GitHub operations required by the combine orchestrator.
type Client interface {
	// ListOpenPullRequests returns open pull requests targeting base whose head
	// branch starts with headPrefix, in the order the API returns them.
	ListOpenPullRequests(ctx context.Context, owner, repo, base, headPrefix string) ([]PullRequest, error)
	// FindOpenPullRequest returns the open pull request from head into base, or
	// nil when there is none.
	FindOpenPullRequest(ctx context.Context, owner, repo, head, base string) (*PullRequest, error)
	CreatePullRequest(ctx context.Context, owner, repo string, input CreatePROptions) (PullRequest, error)
	UpdatePullRequest(ctx context.Context, owner, repo string, number int, input CreatePROptions) (PullRequest, error)
	DefaultBranch(ctx context.Context, owner, repo string) (string, error)
}

// CreatePROptions defines the metadata required to open the combined PR.
type CreatePROptions struct {
	Title               string
	Body                string
	Head                string
	Base                string
	Draft               bool
	MaintainerCanModify bool
}

// Factory builds concrete GitHub clients (e.g., REST-backed) for the orchestrator.
type Factory interface {
	New(ctx context.Context, token string) (Client, error)
}

// ErrRepositoryNotFound indicates the repository does not exist or the token cannot see it.
var ErrRepositoryNotFound = errors.New("github: repository not found")

// retryableError marks an error that may succeed if the operation is retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	if e == nil || e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsRetryable reports whether the supplied error resulted from a retryable GitHub
// API failure (for example, a transient network problem or rate-limited request).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var target *retryableError
	return errors.As(err, &target)
}
