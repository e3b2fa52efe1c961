package gh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	github "github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"

	"github.com/rancher/combine-dependabot-action/internal/branch"
)

const (
	defaultUserAgent  = "rancher-combine-dependabot-action"
	defaultRetries    = 3
	defaultRetryDelay = 2 * time.Second
	listPageSize      = 100
)

// NewRESTFactory returns a GitHub client factory backed by the go-github REST client. When
// base and upload URLs are provided, the factory targets a GitHub Enterprise instance.
func NewRESTFactory(baseURL, uploadURL string) Factory {
	return &restFactory{
		userAgent:  defaultUserAgent,
		baseURL:    strings.TrimSpace(baseURL),
		uploadURL:  strings.TrimSpace(uploadURL),
		retries:    defaultRetries,
		retryDelay: defaultRetryDelay,
	}
}

type restFactory struct {
	userAgent  string
	baseURL    string
	uploadURL  string
	retries    int
	retryDelay time.Duration
}

type restClient struct {
	client     *github.Client
	retries    int
	retryDelay time.Duration
}

func (f *restFactory) New(ctx context.Context, token string) (Client, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)

	if f.baseURL == "" && f.uploadURL != "" {
		return nil, fmt.Errorf("github upload url cannot be set without base url")
	}

	var ghClient *github.Client
	if f.baseURL != "" {
		baseURLNormalized, err := normalizeGitHubURL(f.baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}

		if f.uploadURL == "" {
			return nil, fmt.Errorf("github upload url must be provided when base url is set")
		}

		uploadURLNormalized, err := normalizeGitHubURL(f.uploadURL)
		if err != nil {
			return nil, fmt.Errorf("parse github upload url: %w", err)
		}

		ghClient, err = github.NewClient(tc).WithEnterpriseURLs(baseURLNormalized, uploadURLNormalized)
		if err != nil {
			return nil, fmt.Errorf("construct enterprise github client: %w", err)
		}
	} else {
		ghClient = github.NewClient(tc)
	}

	if f.userAgent != "" {
		ghClient.UserAgent = f.userAgent
	}

	return &restClient{client: ghClient, retries: f.retries, retryDelay: f.retryDelay}, nil
}

func normalizeGitHubURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url cannot be empty")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	if parsed.Scheme == "" {
		return "", fmt.Errorf("url must include scheme (e.g. https://)")
	}

	if parsed.Host == "" {
		return "", fmt.Errorf("url must include host")
	}

	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}

	parsed.RawQuery = ""
	parsed.Fragment = ""

	return parsed.String(), nil
}

func (c *restClient) ListOpenPullRequests(ctx context.Context, owner, repo, base, headPrefix string) ([]PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State:       "open",
		Base:        base,
		ListOptions: github.ListOptions{PerPage: listPageSize},
	}

	var results []PullRequest
	for {
		var (
			prs  []*github.PullRequest
			resp *github.Response
		)
		err := c.withRetry(ctx, func() error {
			var err error
			prs, resp, err = c.client.PullRequests.List(ctx, owner, repo, opts)
			return classifyGitHubError(err)
		})
		if err != nil {
			return nil, fmt.Errorf("list pull requests: %w", err)
		}

		for _, pr := range prs {
			if pr == nil {
				continue
			}
			converted := toPullRequest(pr)
			if !branch.HasPrefix(converted.HeadRef, headPrefix) {
				continue
			}
			results = append(results, converted)
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return results, nil
}

func (c *restClient) FindOpenPullRequest(ctx context.Context, owner, repo, head, base string) (*PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State:       "open",
		Head:        fmt.Sprintf("%s:%s", owner, head),
		Base:        base,
		ListOptions: github.ListOptions{PerPage: 10},
	}

	var prs []*github.PullRequest
	err := c.withRetry(ctx, func() error {
		var err error
		prs, _, err = c.client.PullRequests.List(ctx, owner, repo, opts)
		return classifyGitHubError(err)
	})
	if err != nil {
		return nil, fmt.Errorf("find pull request %s -> %s: %w", head, base, err)
	}

	for _, pr := range prs {
		if pr == nil {
			continue
		}
		found := toPullRequest(pr)
		return &found, nil
	}
	return nil, nil
}

func (c *restClient) CreatePullRequest(ctx context.Context, owner, repo string, input CreatePROptions) (PullRequest, error) {
	newPR := &github.NewPullRequest{
		Title:               github.String(input.Title),
		Head:                github.String(input.Head),
		Base:                github.String(input.Base),
		Body:                github.String(input.Body),
		Draft:               github.Bool(input.Draft),
		MaintainerCanModify: github.Bool(input.MaintainerCanModify),
	}

	// Creation is not retried: a request that timed out may still have opened the PR.
	pr, _, err := c.client.PullRequests.Create(ctx, owner, repo, newPR)
	if err != nil {
		err = classifyGitHubError(err)
		return PullRequest{}, fmt.Errorf("create pull request: %w", err)
	}

	return toPullRequest(pr), nil
}

func (c *restClient) UpdatePullRequest(ctx context.Context, owner, repo string, number int, input CreatePROptions) (PullRequest, error) {
	update := &github.PullRequest{
		Title: github.String(input.Title),
		Body:  github.String(input.Body),
	}

	var pr *github.PullRequest
	err := c.withRetry(ctx, func() error {
		var err error
		pr, _, err = c.client.PullRequests.Edit(ctx, owner, repo, number, update)
		return classifyGitHubError(err)
	})
	if err != nil {
		return PullRequest{}, fmt.Errorf("update pull request #%d: %w", number, err)
	}

	return toPullRequest(pr), nil
}

func (c *restClient) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	var (
		repository *github.Repository
		resp       *github.Response
	)
	err := c.withRetry(ctx, func() error {
		var err error
		repository, resp, err = c.client.Repositories.Get(ctx, owner, repo)
		return classifyGitHubError(err)
	})
	if err != nil {
		if isNotFound(resp, err) {
			return "", ErrRepositoryNotFound
		}
		return "", fmt.Errorf("get repository %s/%s: %w", owner, repo, err)
	}

	name := repository.GetDefaultBranch()
	if name == "" {
		return "", fmt.Errorf("repository %s/%s reports no default branch", owner, repo)
	}
	return name, nil
}

// withRetry runs op until it succeeds, fails with a non-retryable error, or the
// retry budget is spent. The delay doubles after every attempt.
func (c *restClient) withRetry(ctx context.Context, op func() error) error {
	delay := c.retryDelay
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil || !IsRetryable(err) || attempt >= c.retries {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func toPullRequest(pr *github.PullRequest) PullRequest {
	result := PullRequest{
		Number: pr.GetNumber(),
		Title:  pr.GetTitle(),
		URL:    pr.GetHTMLURL(),
	}
	if head := pr.GetHead(); head != nil {
		result.HeadSHA = head.GetSHA()
		result.HeadRef = head.GetRef()
	}
	if base := pr.GetBase(); base != nil {
		result.BaseRef = base.GetRef()
	}
	return result
}

func isNotFound(resp *github.Response, err error) bool {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return true
	}
	var githubErr *github.ErrorResponse
	if errors.As(err, &githubErr) {
		if githubErr.Response != nil && githubErr.Response.StatusCode == http.StatusNotFound {
			return true
		}
	}
	return false
}

func classifyGitHubError(err error) error {
	if err == nil {
		return nil
	}
	if isRetryableGitHubError(err) {
		return &retryableError{err: err}
	}
	return err
}

func isRetryableGitHubError(err error) bool {
	if err == nil {
		return false
	}

	var rateLimitErr *github.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}

	var acceptedErr *github.AcceptedError
	if errors.As(err, &acceptedErr) {
		return true
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) {
		if respErr.Response != nil {
			code := respErr.Response.StatusCode
			if code == http.StatusTooManyRequests || (code >= 500 && code <= 599) {
				return true
			}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
	}

	return false
}
