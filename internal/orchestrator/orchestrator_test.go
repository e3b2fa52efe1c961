package orchestrator_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher/combine-dependabot-action/internal/git"
	gh "github.com/rancher/combine-dependabot-action/internal/github"
	"github.com/rancher/combine-dependabot-action/internal/orchestrator"
	"github.com/rancher/combine-dependabot-action/internal/report"
)

type fakeGHClient struct {
	prs     []gh.PullRequest
	listErr error

	existing *gh.PullRequest
	findErr  error

	createErr    error
	updateErr    error
	createInputs []gh.CreatePROptions
	updateInputs []gh.CreatePROptions
	listCalls    int
}

func (f *fakeGHClient) ListOpenPullRequests(_ context.Context, owner, repo, base, headPrefix string) ([]gh.PullRequest, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.prs, nil
}

func (f *fakeGHClient) FindOpenPullRequest(_ context.Context, owner, repo, head, base string) (*gh.PullRequest, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.existing, nil
}

func (f *fakeGHClient) CreatePullRequest(_ context.Context, owner, repo string, input gh.CreatePROptions) (gh.PullRequest, error) {
	f.createInputs = append(f.createInputs, input)
	if f.createErr != nil {
		return gh.PullRequest{}, f.createErr
	}
	return gh.PullRequest{
		Number:  100 + len(f.createInputs),
		Title:   input.Title,
		HeadRef: input.Head,
		BaseRef: input.Base,
		URL:     fmt.Sprintf("https://github.com/%s/%s/pull/%d", owner, repo, 100+len(f.createInputs)),
	}, nil
}

func (f *fakeGHClient) UpdatePullRequest(_ context.Context, owner, repo string, number int, input gh.CreatePROptions) (gh.PullRequest, error) {
	f.updateInputs = append(f.updateInputs, input)
	if f.updateErr != nil {
		return gh.PullRequest{}, f.updateErr
	}
	return gh.PullRequest{
		Number:  number,
		Title:   input.Title,
		HeadRef: input.Head,
		BaseRef: input.Base,
		URL:     fmt.Sprintf("https://github.com/%s/%s/pull/%d", owner, repo, number),
	}, nil
}

func (f *fakeGHClient) DefaultBranch(_ context.Context, owner, repo string) (string, error) {
	return "main", nil
}

type fakeGitExecutor struct {
	workspace    *fakeWorkspace
	err          error
	prepareCalls int
}

func (f *fakeGitExecutor) Prepare(ctx context.Context, owner, repo string) (git.Workspace, error) {
	f.prepareCalls++
	if f.err != nil {
		return nil, f.err
	}
	if f.workspace == nil {
		return nil, errors.New("workspace not configured")
	}
	return f.workspace, nil
}

// fakeWorkspace models the integration branch as a list of applied commits.
// A conflicting pick leaves the workspace mid-pick until it is aborted.
type fakeWorkspace struct {
	ancestors   map[string]bool
	emptyDiffs  map[string]bool
	conflicts   map[string]bool
	ancestorErr map[string]error
	diffErr     map[string]error

	// extraPending reports pending changes that did not come from this run.
	extraPending bool

	ensureErr  error
	pendingErr error
	pushErr    error
	abortErr   error
	cleanupErr error

	calls         []string
	applied       []string
	pushes        []string
	inPick        bool
	aborts        int
	cleanupCalled bool
	ensuredBase   string
	ensuredName   string
}

func (w *fakeWorkspace) EnsureIntegrationBranch(ctx context.Context, base, name string) error {
	w.calls = append(w.calls, "ensure")
	w.ensuredBase = base
	w.ensuredName = name
	return w.ensureErr
}

func (w *fakeWorkspace) IsAncestor(ctx context.Context, commit string) (bool, error) {
	w.calls = append(w.calls, "ancestor:"+commit)
	if err := w.ancestorErr[commit]; err != nil {
		return false, err
	}
	return w.ancestors[commit], nil
}

func (w *fakeWorkspace) DiffOf(ctx context.Context, commit string) (string, error) {
	w.calls = append(w.calls, "diff:"+commit)
	if err := w.diffErr[commit]; err != nil {
		return "", err
	}
	if w.emptyDiffs[commit] {
		return "", nil
	}
	return "diff --git a/go.mod b/go.mod\n+require example.com/dep v1.2.3\n", nil
}

func (w *fakeWorkspace) CherryPick(ctx context.Context, commit string) error {
	w.calls = append(w.calls, "pick:"+commit)
	if w.inPick {
		return errors.New("cherry-pick already in progress")
	}
	if w.conflicts[commit] {
		w.inPick = true
		return errors.New("CONFLICT (modify/delete): package-lock.json")
	}
	w.applied = append(w.applied, commit)
	return nil
}

func (w *fakeWorkspace) AbortCherryPick(ctx context.Context) error {
	w.calls = append(w.calls, "abort")
	w.aborts++
	if w.abortErr != nil {
		return w.abortErr
	}
	w.inPick = false
	return nil
}

func (w *fakeWorkspace) HasPendingChanges(ctx context.Context, branch string) (bool, error) {
	w.calls = append(w.calls, "pending")
	if w.pendingErr != nil {
		return false, w.pendingErr
	}
	return len(w.applied) > 0 || w.extraPending, nil
}

func (w *fakeWorkspace) PushBranch(ctx context.Context, branch string) error {
	w.calls = append(w.calls, "push")
	w.pushes = append(w.pushes, branch)
	return w.pushErr
}

func (w *fakeWorkspace) Cleanup(ctx context.Context) error {
	w.cleanupCalled = true
	return w.cleanupErr
}

func candidate(number int) gh.PullRequest {
	return gh.PullRequest{
		Number:  number,
		Title:   fmt.Sprintf("Bump dep%d from 1.0.0 to 1.1.0", number),
		HeadSHA: fmt.Sprintf("sha%d", number),
		HeadRef: fmt.Sprintf("dependabot/go_modules/dep%d-1.1.0", number),
		BaseRef: "main",
		URL:     fmt.Sprintf("https://github.com/rancher/repo/pull/%d", number),
	}
}

func numbers(entries []report.Entry) []int {
	out := make([]int, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Number)
	}
	return out
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx       context.Context
		cfg       orchestrator.Config
		client    *fakeGHClient
		workspace *fakeWorkspace
		gitExec   *fakeGitExecutor
		events    []orchestrator.Event
		observer  orchestrator.Observer
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = orchestrator.Config{
			Owner:         "rancher",
			Repo:          "repo",
			BaseBranch:    "main",
			CombineBranch: "combine-dependabot",
			HeadPrefix:    "dependabot",
		}
		client = &fakeGHClient{}
		workspace = &fakeWorkspace{}
		gitExec = &fakeGitExecutor{workspace: workspace}
		events = nil
		observer = orchestrator.ObserverFunc(func(e orchestrator.Event) {
			events = append(events, e)
		})
	})

	run := func() (orchestrator.Result, error) {
		return orchestrator.New(cfg, client, gitExec, observer).Run(ctx)
	}

	It("returns an empty report without touching the repository when there are no candidates", func() {
		result, err := run()
		Expect(err).NotTo(HaveOccurred())

		Expect(gitExec.prepareCalls).To(Equal(0))
		Expect(workspace.calls).To(BeEmpty())
		Expect(client.createInputs).To(BeEmpty())
		Expect(result.Pushed).To(BeFalse())
		Expect(result.SummaryPR).To(BeNil())
		Expect(result.Report.CombinedPRs).To(BeEmpty())
		Expect(result.Report.FailedPRs).To(BeEmpty())
		Expect(result.Report.OmittedPRs).To(BeEmpty())
		Expect(result.Report.PRCombine).To(BeNil())
		Expect(result.Report.Branch).To(Equal("combine-dependabot"))
		Expect(result.Report.Base).To(Equal("main"))
	})

	It("buckets new, applied, empty and conflicting updates and opens a summary PR for the combined one", func() {
		client.prs = []gh.PullRequest{candidate(1), candidate(2), candidate(3), candidate(4)}
		workspace.ancestors = map[string]bool{"sha2": true}
		workspace.emptyDiffs = map[string]bool{"sha3": true}
		workspace.conflicts = map[string]bool{"sha4": true}

		result, err := run()
		Expect(err).NotTo(HaveOccurred())

		Expect(numbers(result.Report.CombinedPRs)).To(Equal([]int{1}))
		Expect(numbers(result.Report.OmittedPRs)).To(Equal([]int{2, 3}))
		Expect(numbers(result.Report.FailedPRs)).To(Equal([]int{4}))
		Expect(result.Report.Total()).To(Equal(4))

		Expect(workspace.pushes).To(Equal([]string{"combine-dependabot"}))
		Expect(result.Pushed).To(BeTrue())

		Expect(client.createInputs).To(HaveLen(1))
		input := client.createInputs[0]
		Expect(input.Head).To(Equal("combine-dependabot"))
		Expect(input.Base).To(Equal("main"))
		Expect(input.Title).To(Equal(orchestrator.DefaultPRTitle))
		Expect(input.Body).To(ContainSubstring("- #1 Bump dep1 from 1.0.0 to 1.1.0 (https://github.com/rancher/repo/pull/1)\n"))
		Expect(input.Body).NotTo(ContainSubstring("#2"))
		Expect(input.Body).NotTo(ContainSubstring("#3"))
		Expect(input.Body).NotTo(ContainSubstring("#4"))

		Expect(result.SummaryPR).NotTo(BeNil())
		Expect(result.Report.PRCombine).NotTo(BeNil())
		Expect(result.Report.PRCombine.Number).To(Equal(result.SummaryPR.Number))
		Expect(result.Report.PRCombine.URL).To(Equal(result.SummaryPR.URL))
		Expect(result.Report.PRCombine.Updated).To(BeFalse())

		Expect(result.PRs).To(HaveLen(4))
		Expect(result.PRs[1].Reason).To(Equal("already applied"))
		Expect(result.PRs[2].Reason).To(Equal("empty diff"))
		Expect(result.PRs[3].Reason).To(ContainSubstring("CONFLICT"))
		Expect(result.Combined()).To(HaveLen(1))
	})

	It("processes candidates in the order the API returned them", func() {
		client.prs = []gh.PullRequest{candidate(9), candidate(3), candidate(7)}

		result, err := run()
		Expect(err).NotTo(HaveOccurred())
		Expect(workspace.applied).To(Equal([]string{"sha9", "sha3", "sha7"}))
		Expect(numbers(result.Report.CombinedPRs)).To(Equal([]int{9, 3, 7}))
	})

	It("never cherry-picks a commit that is already an ancestor", func() {
		client.prs = []gh.PullRequest{candidate(1)}
		workspace.ancestors = map[string]bool{"sha1": true}

		result, err := run()
		Expect(err).NotTo(HaveOccurred())
		Expect(workspace.calls).NotTo(ContainElement("pick:sha1"))
		Expect(numbers(result.Report.OmittedPRs)).To(Equal([]int{1}))
	})

	It("omits an empty diff even when the ancestry check fails", func() {
		client.prs = []gh.PullRequest{candidate(1)}
		workspace.ancestorErr = map[string]error{"sha1": errors.New("object not found")}
		workspace.emptyDiffs = map[string]bool{"sha1": true}

		result, err := run()
		Expect(err).NotTo(HaveOccurred())
		Expect(numbers(result.Report.OmittedPRs)).To(Equal([]int{1}))
		Expect(result.PRs[0].Reason).To(Equal("empty diff"))
		Expect(workspace.calls).NotTo(ContainElement("pick:sha1"))
	})

	It("records gateway errors during the skip checks as failures and continues", func() {
		client.prs = []gh.PullRequest{candidate(1), candidate(2), candidate(3)}
		workspace.ancestorErr = map[string]error{"sha1": errors.New("bad object")}
		workspace.diffErr = map[string]error{"sha2": errors.New("unknown revision")}

		result, err := run()
		Expect(err).NotTo(HaveOccurred())
		Expect(numbers(result.Report.FailedPRs)).To(Equal([]int{1, 2}))
		Expect(numbers(result.Report.CombinedPRs)).To(Equal([]int{3}))
		Expect(result.PRs[0].Reason).To(ContainSubstring("bad object"))
		Expect(result.PRs[1].Reason).To(ContainSubstring("unknown revision"))
	})

	It("aborts a failed cherry-pick before moving to the next candidate", func() {
		client.prs = []gh.PullRequest{candidate(1), candidate(2)}
		workspace.conflicts = map[string]bool{"sha1": true}

		result, err := run()
		Expect(err).NotTo(HaveOccurred())
		Expect(workspace.aborts).To(Equal(1))
		Expect(workspace.calls).To(Equal([]string{
			"ensure",
			"ancestor:sha1", "diff:sha1", "pick:sha1", "abort",
			"ancestor:sha2", "diff:sha2", "pick:sha2",
			"pending", "push",
		}))
		Expect(numbers(result.Report.FailedPRs)).To(Equal([]int{1}))
		Expect(numbers(result.Report.CombinedPRs)).To(Equal([]int{2}))
	})

	It("notes a failed abort in the failure reason", func() {
		client.prs = []gh.PullRequest{candidate(1)}
		workspace.conflicts = map[string]bool{"sha1": true}
		workspace.abortErr = errors.New("index.lock exists")

		result, err := run()
		Expect(err).NotTo(HaveOccurred())
		Expect(result.PRs[0].Outcome).To(Equal(report.OutcomeFailed))
		Expect(result.PRs[0].Reason).To(ContainSubstring("abort failed: index.lock exists"))
	})

	It("pushes pending changes but opens no summary PR when nothing was combined", func() {
		client.prs = []gh.PullRequest{candidate(1)}
		workspace.conflicts = map[string]bool{"sha1": true}
		workspace.extraPending = true

		result, err := run()
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Pushed).To(BeTrue())
		Expect(client.createInputs).To(BeEmpty())
		Expect(client.updateInputs).To(BeEmpty())
		Expect(result.SummaryPR).To(BeNil())
		Expect(result.Report.PRCombine).To(BeNil())
	})

	It("skips push and PR creation when every candidate is already applied", func() {
		client.prs = []gh.PullRequest{candidate(1), candidate(2)}
		workspace.ancestors = map[string]bool{"sha1": true, "sha2": true}

		result, err := run()
		Expect(err).NotTo(HaveOccurred())
		Expect(numbers(result.Report.OmittedPRs)).To(Equal([]int{1, 2}))
		Expect(result.Report.CombinedPRs).To(BeEmpty())
		Expect(workspace.pushes).To(BeEmpty())
		Expect(client.createInputs).To(BeEmpty())
		Expect(result.Report.PRCombine).To(BeNil())

		var skipped []orchestrator.Event
		for _, e := range events {
			if e.Kind == orchestrator.EventPushSkipped {
				skipped = append(skipped, e)
			}
		}
		Expect(skipped).To(HaveLen(1))
		Expect(skipped[0].Reason).To(Equal("no pending changes"))
	})

	It("combines locally but neither pushes nor opens a PR in dry-run mode", func() {
		cfg.DryRun = true
		client.prs = []gh.PullRequest{candidate(1)}

		result, err := run()
		Expect(err).NotTo(HaveOccurred())
		Expect(result.DryRun).To(BeTrue())
		Expect(workspace.applied).To(Equal([]string{"sha1"}))
		Expect(workspace.pushes).To(BeEmpty())
		Expect(client.createInputs).To(BeEmpty())
		Expect(numbers(result.Report.CombinedPRs)).To(Equal([]int{1}))
		Expect(result.Report.PRCombine).To(BeNil())
	})

	It("updates the existing summary PR instead of opening a second one", func() {
		client.prs = []gh.PullRequest{candidate(1), candidate(2)}
		client.existing = &gh.PullRequest{Number: 42, HeadRef: "combine-dependabot", BaseRef: "main"}
		cfg.PRTitle = "chore(deps): weekly bundle"

		result, err := run()
		Expect(err).NotTo(HaveOccurred())
		Expect(client.createInputs).To(BeEmpty())
		Expect(client.updateInputs).To(HaveLen(1))
		Expect(client.updateInputs[0].Title).To(Equal("chore(deps): weekly bundle"))
		Expect(client.updateInputs[0].Body).To(ContainSubstring("- #1 "))
		Expect(client.updateInputs[0].Body).To(ContainSubstring("- #2 "))

		Expect(result.SummaryPRUpdated).To(BeTrue())
		Expect(result.Report.PRCombine).NotTo(BeNil())
		Expect(result.Report.PRCombine.Number).To(Equal(42))
		Expect(result.Report.PRCombine.Updated).To(BeTrue())
		Expect(events[len(events)-1].Kind).To(Equal(orchestrator.EventSummaryPRUpdated))
	})

	It("fails the run when listing pull requests fails", func() {
		client.listErr = errors.New("401 Bad credentials")

		_, err := run()
		Expect(err).To(MatchError(ContainSubstring("list pull requests")))
		Expect(gitExec.prepareCalls).To(Equal(0))
	})

	It("fails the run when the workspace cannot be prepared", func() {
		client.prs = []gh.PullRequest{candidate(1)}
		gitExec.err = errors.New("clone failed")

		_, err := run()
		Expect(err).To(MatchError(ContainSubstring("prepare workspace")))
	})

	It("fails the run and cleans up when the combine branch cannot be prepared", func() {
		client.prs = []gh.PullRequest{candidate(1)}
		workspace.ensureErr = errors.New(`base branch "main" not found on origin`)

		_, err := run()
		Expect(err).To(MatchError(ContainSubstring("prepare combine branch combine-dependabot")))
		Expect(workspace.cleanupCalled).To(BeTrue())
		Expect(workspace.applied).To(BeEmpty())
	})

	It("returns the partial result when the push fails", func() {
		client.prs = []gh.PullRequest{candidate(1)}
		workspace.pushErr = errors.New("permission denied")

		result, err := run()
		Expect(err).To(MatchError(ContainSubstring("push combine branch")))
		Expect(numbers(result.Report.CombinedPRs)).To(Equal([]int{1}))
		Expect(result.Pushed).To(BeFalse())
		Expect(client.createInputs).To(BeEmpty())
		Expect(result.Report.PRCombine).To(BeNil())
	})

	It("returns the partial result when the summary PR cannot be created", func() {
		client.prs = []gh.PullRequest{candidate(1)}
		client.createErr = errors.New("422 Validation Failed")

		result, err := run()
		Expect(err).To(MatchError(ContainSubstring("create summary pull request")))
		Expect(result.Pushed).To(BeTrue())
		Expect(numbers(result.Report.CombinedPRs)).To(Equal([]int{1}))
		Expect(result.Report.PRCombine).To(BeNil())
	})

	It("returns the partial result when pending changes cannot be determined", func() {
		client.prs = []gh.PullRequest{candidate(1)}
		workspace.pendingErr = errors.New("rev-list failed")

		result, err := run()
		Expect(err).To(MatchError(ContainSubstring("check pending changes")))
		Expect(result.Report.Total()).To(Equal(1))
		Expect(workspace.pushes).To(BeEmpty())
	})

	It("reports cleanup failures through the observer", func() {
		client.prs = []gh.PullRequest{candidate(1)}
		workspace.cleanupErr = errors.New("device busy")

		_, err := run()
		Expect(err).NotTo(HaveOccurred())
		Expect(events[len(events)-1].Kind).To(Equal(orchestrator.EventCleanupFailed))
		Expect(events[len(events)-1].Err).To(MatchError("device busy"))
	})

	It("emits one outcome event per candidate", func() {
		client.prs = []gh.PullRequest{candidate(1), candidate(2)}
		workspace.ancestors = map[string]bool{"sha2": true}

		_, err := run()
		Expect(err).NotTo(HaveOccurred())

		Expect(events[0].Kind).To(Equal(orchestrator.EventRunStarted))
		Expect(events[1].Kind).To(Equal(orchestrator.EventCandidatesListed))
		Expect(events[1].Count).To(Equal(2))

		var outcomes []report.Outcome
		for _, e := range events {
			if e.Kind == orchestrator.EventPROutcome {
				Expect(e.PR).NotTo(BeNil())
				outcomes = append(outcomes, e.Outcome)
			}
		}
		Expect(outcomes).To(Equal([]report.Outcome{report.OutcomeCombined, report.OutcomeOmitted}))
	})

	It("works without an observer", func() {
		client.prs = []gh.PullRequest{candidate(1)}
		result, err := orchestrator.New(cfg, client, gitExec, nil).Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Report.Total()).To(Equal(1))
	})

	It("passes the configured base and combine branch to the workspace", func() {
		cfg.BaseBranch = "release/v2"
		cfg.CombineBranch = "deps/combined"
		client.prs = []gh.PullRequest{candidate(1)}

		_, err := run()
		Expect(err).NotTo(HaveOccurred())
		Expect(workspace.ensuredBase).To(Equal("release/v2"))
		Expect(workspace.ensuredName).To(Equal("deps/combined"))
		Expect(workspace.pushes).To(Equal([]string{"deps/combined"}))
	})

	It("rejects incomplete configuration", func() {
		cfg.BaseBranch = ""

		_, err := run()
		Expect(err).To(MatchError(ContainSubstring("base branch")))
		Expect(client.listCalls).To(Equal(0))
	})

	It("rejects a combine branch equal to the base branch", func() {
		cfg.CombineBranch = "main"

		_, err := run()
		Expect(err).To(MatchError(ContainSubstring("must differ")))
	})

	It("requires a github client", func() {
		_, err := orchestrator.New(cfg, nil, gitExec, observer).Run(ctx)
		Expect(err).To(MatchError("github client is required"))
	})
})
