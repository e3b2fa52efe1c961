package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Outcome buckets a candidate pull request after a combine run.
type Outcome string

const (
	OutcomeCombined Outcome = "combined"
	OutcomeFailed   Outcome = "failed"
	OutcomeOmitted  Outcome = "omitted"
)

// Entry identifies a pull request inside a report bucket.
type Entry struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	URL    string `json:"url"`
}

// SummaryPR references the combined pull request opened or refreshed by the run.
type SummaryPR struct {
	Number  int    `json:"number"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Head    string `json:"head"`
	Base    string `json:"base"`
	Updated bool   `json:"updated"`
}

// Report is the JSON document consumed by later workflow steps.
type Report struct {
	CombinedPRs []Entry    `json:"combined_prs"`
	FailedPRs   []Entry    `json:"failed_prs"`
	OmittedPRs  []Entry    `json:"omitted_prs"`
	PRCombine   *SummaryPR `json:"pr_combine"`
	Branch      string     `json:"branch"`
	Base        string     `json:"base"`
}

// Total returns the number of pull requests across all buckets.
func (r Report) Total() int {
	return len(r.CombinedPRs) + len(r.FailedPRs) + len(r.OmittedPRs)
}

// Builder accumulates per-PR outcomes in the order they are recorded.
type Builder struct {
	branch   string
	base     string
	combined []Entry
	failed   []Entry
	omitted  []Entry
	summary  *SummaryPR
}

// NewBuilder returns a Builder for the given integration and base branches.
func NewBuilder(branch, base string) *Builder {
	return &Builder{branch: branch, base: base}
}

// Record files entry under outcome. Unknown outcomes are rejected so every
// recorded pull request lands in exactly one bucket.
func (b *Builder) Record(outcome Outcome, entry Entry) error {
	switch outcome {
	case OutcomeCombined:
		b.combined = append(b.combined, entry)
	case OutcomeFailed:
		b.failed = append(b.failed, entry)
	case OutcomeOmitted:
		b.omitted = append(b.omitted, entry)
	default:
		return fmt.Errorf("unknown outcome %q for #%d", outcome, entry.Number)
	}
	return nil
}

// SetSummaryPR stores the combined pull request reference; nil clears it.
func (b *Builder) SetSummaryPR(pr *SummaryPR) {
	if pr == nil {
		b.summary = nil
		return
	}
	cp := *pr
	b.summary = &cp
}

// Build returns a snapshot of the accumulated report. Buckets are never nil so
// they serialize as empty arrays.
func (b *Builder) Build() Report {
	r := Report{
		CombinedPRs: append(make([]Entry, 0, len(b.combined)), b.combined...),
		FailedPRs:   append(make([]Entry, 0, len(b.failed)), b.failed...),
		OmittedPRs:  append(make([]Entry, 0, len(b.omitted)), b.omitted...),
		Branch:      b.branch,
		Base:        b.base,
	}
	if b.summary != nil {
		cp := *b.summary
		r.PRCombine = &cp
	}
	return r
}

// WriteFile serializes the report as indented JSON at path, creating parent
// directories as needed.
func (r Report) WriteFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("report path is required")
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
