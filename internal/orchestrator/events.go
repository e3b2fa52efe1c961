package orchestrator

import (
	gh "github.com/rancher/combine-dependabot-action/internal/github"
	"github.com/rancher/combine-dependabot-action/internal/report"
)

// EventKind identifies a step of a combination run.
type EventKind string

const (
	EventRunStarted       EventKind = "run_started"
	EventCandidatesListed EventKind = "candidates_listed"
	EventPROutcome        EventKind = "pr_outcome"
	EventBranchPushed     EventKind = "branch_pushed"
	EventPushSkipped      EventKind = "push_skipped"
	EventSummaryPRCreated EventKind = "summary_pr_created"
	EventSummaryPRUpdated EventKind = "summary_pr_updated"
	EventCleanupFailed    EventKind = "cleanup_failed"
)

// Event is emitted by the orchestrator as a run progresses. Only the fields
// relevant to Kind are populated.
type Event struct {
	Kind    EventKind
	Base    string
	Branch  string
	Count   int
	PR      *gh.PullRequest
	Outcome report.Outcome
	Reason  string
	Err     error
}

// Observer receives orchestrator events. Implementations must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) {
	f(e)
}
