package app

import (
	"log/slog"

	"github.com/rancher/combine-dependabot-action/internal/orchestrator"
	"github.com/rancher/combine-dependabot-action/internal/report"
)

// logObserver turns orchestrator events into structured log lines.
type logObserver struct {
	log *slog.Logger
}

func newLogObserver(log *slog.Logger) orchestrator.Observer {
	if log == nil {
		return nil
	}
	return &logObserver{log: log}
}

func (o *logObserver) Observe(e orchestrator.Event) {
	switch e.Kind {
	case orchestrator.EventRunStarted:
		o.log.Info("preparing combine branch", "base", e.Base, "branch", e.Branch)
	case orchestrator.EventCandidatesListed:
		o.log.Info("listed candidate pull requests", "base", e.Base, "count", e.Count)
	case orchestrator.EventPROutcome:
		if e.PR == nil {
			return
		}
		attrs := []any{"number", e.PR.Number, "title", e.PR.Title, "head", e.PR.HeadRef, "sha", e.PR.HeadSHA, "outcome", e.Outcome, "reason", e.Reason}
		switch e.Outcome {
		case report.OutcomeFailed:
			o.log.Warn("could not combine pull request", attrs...)
		case report.OutcomeOmitted:
			o.log.Info("omitted pull request", attrs...)
		default:
			o.log.Info("combined pull request", attrs...)
		}
	case orchestrator.EventBranchPushed:
		o.log.Info("pushed combine branch", "branch", e.Branch)
	case orchestrator.EventPushSkipped:
		o.log.Info("skipping push", "branch", e.Branch, "reason", e.Reason)
	case orchestrator.EventSummaryPRCreated, orchestrator.EventSummaryPRUpdated:
		if e.PR == nil {
			return
		}
		msg := "created summary pull request"
		if e.Kind == orchestrator.EventSummaryPRUpdated {
			msg = "updated summary pull request"
		}
		o.log.Info(msg, "number", e.PR.Number, "url", e.PR.URL, "head", e.Branch, "base", e.Base)
	case orchestrator.EventCleanupFailed:
		o.log.Warn("failed to cleanup workspace", "branch", e.Branch, "error", e.Err)
	default:
		o.log.Debug("orchestrator event", "kind", e.Kind)
	}
}
