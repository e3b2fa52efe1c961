package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/rancher/combine-dependabot-action/internal/git"
	gh "github.com/rancher/combine-dependabot-action/internal/github"
	"github.com/rancher/combine-dependabot-action/internal/report"
)

const (
	reasonAlreadyApplied = "already applied"
	reasonEmptyDiff      = "empty diff"
	reasonCombined       = "cherry-picked onto the combine branch"

	summaryBodyHeader = "This pull request was created automatically by combining the following Dependabot pull requests:\n\n"
)

// Orchestrator combines open dependency update pull requests onto a single
// integration branch and publishes one summary pull request for them.
type Orchestrator struct {
	cfg      Config
	gh       gh.Client
	git      git.Executor
	observer Observer
}

// PRResult captures the outcome of a single candidate pull request.
type PRResult struct {
	PR      gh.PullRequest
	Outcome report.Outcome
	Reason  string
}

// Result captures the outcome of a single orchestrator run.
type Result struct {
	PRs    []PRResult
	Report report.Report
	// Pushed is true when the combine branch was pushed during this run.
	Pushed bool
	DryRun bool
	// SummaryPR is the pull request created or updated for this run, if any.
	SummaryPR        *gh.PullRequest
	SummaryPRUpdated bool
}

// Combined returns the results whose outcome is report.OutcomeCombined.
func (r Result) Combined() []PRResult {
	var out []PRResult
	for _, res := range r.PRs {
		if res.Outcome == report.OutcomeCombined {
			out = append(out, res)
		}
	}
	return out
}

// New returns a configured Orchestrator instance. observer may be nil.
func New(cfg Config, ghClient gh.Client, gitExecutor git.Executor, observer Observer) *Orchestrator {
	return &Orchestrator{cfg: cfg, gh: ghClient, git: gitExecutor, observer: observer}
}

func (o *Orchestrator) emit(e Event) {
	if o.observer != nil {
		o.observer.Observe(e)
	}
}

// Run lists the candidate pull requests and combines them one by one. Listing
// and workspace setup failures abort the run. Per pull request failures are
// recorded in the Result. When pushing or publishing the summary pull request
// fails, the Result built so far is returned alongside the error.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	if o.gh == nil {
		return Result{}, fmt.Errorf("github client is required")
	}
	if err := o.cfg.validate(); err != nil {
		return Result{}, err
	}

	cfg := o.cfg
	o.emit(Event{Kind: EventRunStarted, Base: cfg.BaseBranch, Branch: cfg.CombineBranch})

	candidates, err := o.gh.ListOpenPullRequests(ctx, cfg.Owner, cfg.Repo, cfg.BaseBranch, cfg.HeadPrefix)
	if err != nil {
		return Result{}, fmt.Errorf("list pull requests: %w", err)
	}
	o.emit(Event{Kind: EventCandidatesListed, Base: cfg.BaseBranch, Count: len(candidates)})

	builder := report.NewBuilder(cfg.CombineBranch, cfg.BaseBranch)
	result := Result{DryRun: cfg.DryRun}

	if len(candidates) == 0 {
		result.Report = builder.Build()
		return result, nil
	}

	if o.git == nil {
		return Result{}, fmt.Errorf("git executor is required")
	}

	workspace, err := o.git.Prepare(ctx, cfg.Owner, cfg.Repo)
	if err != nil {
		return Result{}, fmt.Errorf("prepare workspace: %w", err)
	}
	defer func() {
		if err := workspace.Cleanup(ctx); err != nil {
			o.emit(Event{Kind: EventCleanupFailed, Branch: cfg.CombineBranch, Err: err})
		}
	}()

	if err := workspace.EnsureIntegrationBranch(ctx, cfg.BaseBranch, cfg.CombineBranch); err != nil {
		return Result{}, fmt.Errorf("prepare combine branch %s: %w", cfg.CombineBranch, err)
	}

	var prList strings.Builder
	for _, pr := range candidates {
		res := o.combine(ctx, workspace, pr)
		result.PRs = append(result.PRs, res)

		if err := builder.Record(res.Outcome, report.Entry{Number: pr.Number, Title: pr.Title, URL: pr.URL}); err != nil {
			return Result{}, err
		}
		if res.Outcome == report.OutcomeCombined {
			prList.WriteString(summaryLine(pr))
		}

		prCopy := res.PR
		o.emit(Event{Kind: EventPROutcome, PR: &prCopy, Outcome: res.Outcome, Reason: res.Reason})
	}
	result.Report = builder.Build()

	pending, err := workspace.HasPendingChanges(ctx, cfg.CombineBranch)
	if err != nil {
		return result, fmt.Errorf("check pending changes on %s: %w", cfg.CombineBranch, err)
	}
	if !pending {
		o.emit(Event{Kind: EventPushSkipped, Branch: cfg.CombineBranch, Reason: "no pending changes"})
		return result, nil
	}
	if cfg.DryRun {
		o.emit(Event{Kind: EventPushSkipped, Branch: cfg.CombineBranch, Reason: "dry run enabled"})
		return result, nil
	}

	if err := workspace.PushBranch(ctx, cfg.CombineBranch); err != nil {
		return result, fmt.Errorf("push combine branch %s: %w", cfg.CombineBranch, err)
	}
	result.Pushed = true
	o.emit(Event{Kind: EventBranchPushed, Branch: cfg.CombineBranch})

	if prList.Len() == 0 {
		return result, nil
	}

	summary, updated, err := o.publishSummary(ctx, summaryBodyHeader+prList.String())
	if err != nil {
		return result, err
	}

	builder.SetSummaryPR(&report.SummaryPR{
		Number:  summary.Number,
		URL:     summary.URL,
		Title:   summary.Title,
		Head:    cfg.CombineBranch,
		Base:    cfg.BaseBranch,
		Updated: updated,
	})
	result.Report = builder.Build()
	result.SummaryPR = &summary
	result.SummaryPRUpdated = updated

	kind := EventSummaryPRCreated
	if updated {
		kind = EventSummaryPRUpdated
	}
	o.emit(Event{Kind: kind, Base: cfg.BaseBranch, Branch: cfg.CombineBranch, PR: &summary})

	return result, nil
}

// combine runs the skip checks and the cherry-pick for one candidate. A failed
// pick is aborted before returning so the next candidate starts from a clean tree.
func (o *Orchestrator) combine(ctx context.Context, workspace git.Workspace, pr gh.PullRequest) PRResult {
	res := PRResult{PR: pr}

	applied, ancestorErr := workspace.IsAncestor(ctx, pr.HeadSHA)
	if ancestorErr == nil && applied {
		res.Outcome = report.OutcomeOmitted
		res.Reason = reasonAlreadyApplied
		return res
	}

	diff, diffErr := workspace.DiffOf(ctx, pr.HeadSHA)
	if diffErr == nil && strings.TrimSpace(diff) == "" {
		res.Outcome = report.OutcomeOmitted
		res.Reason = reasonEmptyDiff
		return res
	}

	if ancestorErr != nil {
		res.Outcome = report.OutcomeFailed
		res.Reason = fmt.Sprintf("check ancestry of %s: %v", shortSHA(pr.HeadSHA), ancestorErr)
		return res
	}
	if diffErr != nil {
		res.Outcome = report.OutcomeFailed
		res.Reason = fmt.Sprintf("diff %s: %v", shortSHA(pr.HeadSHA), diffErr)
		return res
	}

	if err := workspace.CherryPick(ctx, pr.HeadSHA); err != nil {
		res.Outcome = report.OutcomeFailed
		res.Reason = fmt.Sprintf("cherry-pick %s: %v", shortSHA(pr.HeadSHA), err)
		if abortErr := workspace.AbortCherryPick(ctx); abortErr != nil {
			res.Reason = fmt.Sprintf("%s (abort failed: %v)", res.Reason, abortErr)
		}
		return res
	}

	res.Outcome = report.OutcomeCombined
	res.Reason = reasonCombined
	return res
}

func (o *Orchestrator) publishSummary(ctx context.Context, body string) (gh.PullRequest, bool, error) {
	cfg := o.cfg
	input := gh.CreatePROptions{
		Title:               cfg.prTitle(),
		Body:                body,
		Head:                cfg.CombineBranch,
		Base:                cfg.BaseBranch,
		MaintainerCanModify: true,
	}

	existing, err := o.gh.FindOpenPullRequest(ctx, cfg.Owner, cfg.Repo, cfg.CombineBranch, cfg.BaseBranch)
	if err != nil {
		return gh.PullRequest{}, false, fmt.Errorf("find existing summary pull request: %w", err)
	}

	if existing != nil {
		updated, err := o.gh.UpdatePullRequest(ctx, cfg.Owner, cfg.Repo, existing.Number, input)
		if err != nil {
			return gh.PullRequest{}, false, fmt.Errorf("update summary pull request #%d: %w", existing.Number, err)
		}
		return updated, true, nil
	}

	created, err := o.gh.CreatePullRequest(ctx, cfg.Owner, cfg.Repo, input)
	if err != nil {
		return gh.PullRequest{}, false, fmt.Errorf("create summary pull request: %w", err)
	}
	return created, false, nil
}

func summaryLine(pr gh.PullRequest) string {
	return fmt.Sprintf("- #%d %s (%s)\n", pr.Number, pr.Title, pr.URL)
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
