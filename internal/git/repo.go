package git

import (
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Read-only queries go through go-git. The repository is reopened on every call
// because the git binary keeps writing new packs and refs underneath it.

func openRepository(path string) (*gogit.Repository, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", path, err)
	}
	return repo, nil
}

func remoteBranchExists(path, remote, branch string) (bool, error) {
	repo, err := openRepository(path)
	if err != nil {
		return false, err
	}

	_, err = repo.Reference(plumbing.NewRemoteReferenceName(remote, branch), false)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup %s/%s: %w", remote, branch, err)
	}
	return true, nil
}

// isAncestor reports whether commit is reachable from HEAD. Commits that are not
// present locally cannot be ancestors and yield false without an error.
func isAncestor(path, commit string) (bool, error) {
	repo, err := openRepository(path)
	if err != nil {
		return false, err
	}

	head, err := repo.Head()
	if err != nil {
		return false, fmt.Errorf("resolve HEAD: %w", err)
	}

	headCommit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return false, fmt.Errorf("load HEAD commit: %w", err)
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(commit))
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) || errors.Is(err, plumbing.ErrObjectNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("resolve %s: %w", commit, err)
	}

	candidate, err := repo.CommitObject(*hash)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load commit %s: %w", commit, err)
	}

	return candidate.IsAncestor(headCommit)
}
