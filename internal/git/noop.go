package git

import (
	"context"
)

// NewNoopExecutor returns an Executor that performs no actual git operations.
// Every commit is treated as new, non-empty and cleanly applied.
func NewNoopExecutor() Executor {
	return &noopExecutor{}
}

type noopExecutor struct{}

func (e *noopExecutor) Prepare(ctx context.Context, owner, repo string) (Workspace, error) {
	return &noopWorkspace{}, nil
}

type noopWorkspace struct {
	picked int
}

func (w *noopWorkspace) EnsureIntegrationBranch(ctx context.Context, base, name string) error {
	return nil
}

func (w *noopWorkspace) IsAncestor(ctx context.Context, commit string) (bool, error) {
	return false, nil
}

func (w *noopWorkspace) DiffOf(ctx context.Context, commit string) (string, error) {
	return "noop diff for " + commit, nil
}

func (w *noopWorkspace) CherryPick(ctx context.Context, commit string) error {
	w.picked++
	return nil
}

func (w *noopWorkspace) AbortCherryPick(ctx context.Context) error {
	return nil
}

func (w *noopWorkspace) HasPendingChanges(ctx context.Context, branch string) (bool, error) {
	return w.picked > 0, nil
}

func (w *noopWorkspace) PushBranch(ctx context.Context, branch string) error {
	return nil
}

func (w *noopWorkspace) Cleanup(ctx context.Context) error {
	return nil
}
