package gh

import (
	"context"
	"fmt"
)

// NewNoopFactory returns a Factory that builds clients reporting no candidate
// pull requests. Every mutating call fails so a misconfigured run cannot
// silently pretend to have opened a pull request.
func NewNoopFactory() Factory {
	return noopFactory{}
}

type noopFactory struct{}

func (noopFactory) New(ctx context.Context, token string) (Client, error) {
	return noopClient{}, nil
}

type noopClient struct{}

func (noopClient) ListOpenPullRequests(ctx context.Context, owner, repo, base, headPrefix string) ([]PullRequest, error) {
	return nil, nil
}

func (noopClient) FindOpenPullRequest(ctx context.Context, owner, repo, head, base string) (*PullRequest, error) {
	return nil, nil
}

func (noopClient) CreatePullRequest(ctx context.Context, owner, repo string, input CreatePROptions) (PullRequest, error) {
	return PullRequest{}, fmt.Errorf("noop github client cannot create pull requests")
}

func (noopClient) UpdatePullRequest(ctx context.Context, owner, repo string, number int, input CreatePROptions) (PullRequest, error) {
	return PullRequest{}, fmt.Errorf("noop github client cannot update pull requests")
}

func (noopClient) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	return "", fmt.Errorf("noop github client cannot resolve default branch for %s/%s", owner, repo)
}
