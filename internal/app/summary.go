package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rancher/combine-dependabot-action/internal/orchestrator"
	"github.com/rancher/combine-dependabot-action/internal/report"
)

func (r *Runner) writeStepSummary(result orchestrator.Result) error {
	path := strings.TrimSpace(os.Getenv("GITHUB_STEP_SUMMARY"))
	if path == "" {
		return nil
	}

	ensureParentDir(path, "summary")

	var builder strings.Builder
	builder.WriteString("## Combine Dependabot summary\n\n")
	builder.WriteString(renderResultDetails(result))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open step summary: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close step summary file: %v\n", closeErr)
		}
	}()

	if _, err := file.WriteString(builder.String()); err != nil {
		return fmt.Errorf("write step summary: %w", err)
	}

	if !strings.HasSuffix(builder.String(), "\n") {
		if _, err := file.WriteString("\n"); err != nil {
			return fmt.Errorf("terminate step summary: %w", err)
		}
	}

	return nil
}

func (r *Runner) writeGitHubOutputs(result orchestrator.Result) error {
	path := strings.TrimSpace(os.Getenv("GITHUB_OUTPUT"))
	if path == "" {
		return nil
	}

	ensureParentDir(path, "outputs")

	rep := result.Report
	outputs := []struct {
		key   string
		value any
	}{
		{"combined_prs", nonNilEntries(rep.CombinedPRs)},
		{"failed_prs", nonNilEntries(rep.FailedPRs)},
		{"omitted_prs", nonNilEntries(rep.OmittedPRs)},
		{"pr_combine", rep.PRCombine},
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open github output: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close github output file: %v\n", closeErr)
		}
	}()

	for _, output := range outputs {
		data, err := json.Marshal(output.value)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", output.key, err)
		}
		if err := writeMultilineOutput(file, output.key, string(data)); err != nil {
			return err
		}
	}

	return nil
}

func renderResultDetails(result orchestrator.Result) string {
	var builder strings.Builder

	rep := result.Report
	if len(result.PRs) == 0 {
		base := rep.Base
		if base == "" {
			base = "the base branch"
		}
		builder.WriteString(fmt.Sprintf("No open Dependabot pull requests target `%s`.\n", sanitizeMarkdownCell(base)))
		return builder.String()
	}

	builder.WriteString(fmt.Sprintf("Combined %d, failed %d, omitted %d pull request(s) on `%s`.\n\n",
		len(rep.CombinedPRs), len(rep.FailedPRs), len(rep.OmittedPRs), sanitizeMarkdownCell(rep.Branch)))

	builder.WriteString("| PR | Title | Outcome | Details |\n")
	builder.WriteString("| --- | --- | --- | --- |\n")
	for _, res := range result.PRs {
		prCell := fmt.Sprintf("#%d", res.PR.Number)
		if res.PR.URL != "" {
			prCell = fmt.Sprintf("[#%d](%s)", res.PR.Number, res.PR.URL)
		}
		builder.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
			sanitizeMarkdownCell(prCell),
			sanitizeMarkdownCell(res.PR.Title),
			sanitizeMarkdownCell(string(res.Outcome)),
			sanitizeMarkdownCell(res.Reason),
		))
	}
	builder.WriteString("\n")

	switch {
	case rep.PRCombine != nil:
		verb := "Opened"
		if rep.PRCombine.Updated {
			verb = "Updated"
		}
		builder.WriteString(fmt.Sprintf("%s summary pull request [#%d](%s).\n", verb, rep.PRCombine.Number, rep.PRCombine.URL))
	case result.DryRun:
		builder.WriteString("Dry run: the combine branch was not pushed and no pull request was opened.\n")
	default:
		builder.WriteString("No summary pull request was opened.\n")
	}

	return builder.String()
}

func nonNilEntries(entries []report.Entry) []report.Entry {
	if entries == nil {
		return []report.Entry{}
	}
	return entries
}

func ensureParentDir(path, kind string) {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			fmt.Fprintf(os.Stderr, "warning: could not create %s directory: %v\n", kind, mkErr)
		}
	}
}

func writeMultilineOutput(file *os.File, key, value string) error {
	if _, err := fmt.Fprintf(file, "%s<<EOF\n%s\nEOF\n", key, value); err != nil {
		return fmt.Errorf("write output %s: %w", key, err)
	}
	return nil
}

func sanitizeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "|", "\\|")
	value = strings.ReplaceAll(value, "\n", "<br>")
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return value
}
