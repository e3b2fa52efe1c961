package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/rancher/combine-dependabot-action/internal/git"
	gh "github.com/rancher/combine-dependabot-action/internal/github"
	"github.com/rancher/combine-dependabot-action/internal/orchestrator"
)

// Runner glues together the orchestrator and supporting services to execute the combine flow.
type Runner struct {
	cfg       Config
	log       *slog.Logger
	ghFactory gh.Factory
	gitExec   git.Executor // only set for testing via NewRunnerWithDeps
}

// NewRunner constructs a Runner with the supplied configuration.
func NewRunner(cfg Config) (*Runner, error) {
	logger, err := NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	return &Runner{
		cfg:       cfg,
		log:       logger,
		ghFactory: gh.NewRESTFactory(cfg.GitHubBaseURL, cfg.GitHubUploadURL),
		gitExec:   nil,
	}, nil
}

// NewRunnerWithDeps constructs a Runner with injected dependencies for testing.
func NewRunnerWithDeps(cfg Config, log *slog.Logger, ghFactory gh.Factory, gitExec git.Executor) *Runner {
	return &Runner{cfg: cfg, log: log, ghFactory: ghFactory, gitExec: gitExec}
}

// Run executes the application using the provided context. Per pull request
// failures are reported but do not fail the run.
func (r *Runner) Run(ctx context.Context) error {
	if r.log != nil {
		r.log.Info("starting combine-dependabot run", "repository", r.cfg.Owner+"/"+r.cfg.Repo, "dry_run", r.cfg.DryRun)
	}

	ghClient, err := r.ghFactory.New(ctx, r.cfg.GitHubToken)
	if err != nil {
		return fmt.Errorf("initialize github client: %w", err)
	}

	base := r.cfg.BaseBranch
	if base == "" {
		base, err = ghClient.DefaultBranch(ctx, r.cfg.Owner, r.cfg.Repo)
		if err != nil {
			return fmt.Errorf("resolve default branch: %w", err)
		}
		if r.log != nil {
			r.log.Debug("using repository default branch as base", "base", base)
		}
	}

	gitExec := r.gitExec
	if gitExec == nil {
		gitExec = r.buildGitExecutor()
	}

	orchCfg := orchestrator.Config{
		Owner:         r.cfg.Owner,
		Repo:          r.cfg.Repo,
		BaseBranch:    base,
		CombineBranch: r.cfg.CombineBranch,
		HeadPrefix:    r.cfg.BranchPrefix,
		PRTitle:       r.cfg.PRTitle,
		DryRun:        r.cfg.DryRun,
	}

	orch := orchestrator.New(orchCfg, ghClient, gitExec, newLogObserver(r.log))

	result, runErr := orch.Run(ctx)
	if runErr != nil && len(result.PRs) == 0 {
		return fmt.Errorf("combine pull requests: %w", runErr)
	}

	if r.log != nil {
		r.log.Info("combine run finished",
			"combined", len(result.Report.CombinedPRs),
			"failed", len(result.Report.FailedPRs),
			"omitted", len(result.Report.OmittedPRs),
			"pushed", result.Pushed)
	}

	if err := r.writeStepSummary(result); err != nil && r.log != nil {
		r.log.Warn("failed to write step summary", "error", err)
	}

	if err := r.writeGitHubOutputs(result); err != nil && r.log != nil {
		r.log.Warn("failed to write action outputs", "error", err)
	}

	if path := strings.TrimSpace(r.cfg.OutputJSON); path != "" {
		if err := result.Report.WriteFile(path); err != nil {
			if runErr != nil {
				return fmt.Errorf("combine pull requests: %w (write report: %v)", runErr, err)
			}
			return fmt.Errorf("write report: %w", err)
		}
		if r.log != nil {
			r.log.Info("wrote report", "path", path)
		}
	}

	if runErr != nil {
		return fmt.Errorf("combine pull requests: %w", runErr)
	}
	return nil
}

func (r *Runner) buildGitExecutor() git.Executor {
	exec := git.NewShellExecutor()
	exec.Token = r.cfg.GitHubToken
	exec.UserName = r.cfg.GitUserName
	exec.UserEmail = r.cfg.GitUserEmail
	exec.WorkDir = r.cfg.WorkDir

	if remote := remoteURLBuilder(r.cfg); remote != nil {
		exec.RemoteURL = remote
	}

	return exec
}

// remoteURLBuilder targets the GitHub Enterprise host when one is configured.
func remoteURLBuilder(cfg Config) func(owner, repo string) string {
	base := strings.TrimSpace(cfg.GitHubBaseURL)
	if base == "" {
		return nil
	}

	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil
	}

	root := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}
	if cfg.GitHubToken != "" {
		root.User = url.UserPassword("x-access-token", cfg.GitHubToken)
	}
	prefix := strings.TrimRight(root.String(), "/")

	return func(owner, repo string) string {
		return fmt.Sprintf("%s/%s/%s.git", prefix, owner, repo)
	}
}
