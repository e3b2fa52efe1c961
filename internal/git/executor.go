package git

import "context"

// Executor provides the repository workspace the orchestrator combines commits in.
type Executor interface {
	Prepare(ctx context.Context, owner, repo string) (Workspace, error)
}

// Workspace exposes the git primitives required by the orchestrator. All
// mutating operations act on the currently checked out integration branch.
type Workspace interface {
	// EnsureIntegrationBranch checks out name tracking its remote tip when the
	// remote branch exists, or cut fresh from the remote base branch otherwise.
	EnsureIntegrationBranch(ctx context.Context, base, name string) error
	// IsAncestor reports whether commit is reachable from HEAD.
	IsAncestor(ctx context.Context, commit string) (bool, error)
	// DiffOf returns the patch introduced by commit relative to its parent.
	DiffOf(ctx context.Context, commit string) (string, error)
	// CherryPick applies commit with incoming-side conflict resolution. A pick
	// that resolves to no change is dropped and is not an error.
	CherryPick(ctx context.Context, commit string) error
	AbortCherryPick(ctx context.Context) error
	// HasPendingChanges reports uncommitted changes or commits on HEAD that the
	// remote copy of branch does not have.
	HasPendingChanges(ctx context.Context, branch string) (bool, error)
	PushBranch(ctx context.Context, branch string) error
	Cleanup(ctx context.Context) error
}
