package orchestrator

import (
	"fmt"
	"strings"
)

// DefaultPRTitle is used for the summary pull request when Config.PRTitle is empty.
const DefaultPRTitle = "Combine Dependabot: consolidated updates"

// Config captures the runtime controls the orchestrator needs.
type Config struct {
	Owner         string
	Repo          string
	BaseBranch    string
	CombineBranch string
	HeadPrefix    string
	PRTitle       string
	DryRun        bool
}

func (c Config) validate() error {
	var missing []string
	if c.Owner == "" {
		missing = append(missing, "owner")
	}
	if c.Repo == "" {
		missing = append(missing, "repo")
	}
	if c.BaseBranch == "" {
		missing = append(missing, "base branch")
	}
	if c.CombineBranch == "" {
		missing = append(missing, "combine branch")
	}
	if len(missing) > 0 {
		return fmt.Errorf("orchestrator config missing %s", strings.Join(missing, ", "))
	}
	if c.CombineBranch == c.BaseBranch {
		return fmt.Errorf("combine branch %q must differ from the base branch", c.CombineBranch)
	}
	return nil
}

func (c Config) prTitle() string {
	if title := strings.TrimSpace(c.PRTitle); title != "" {
		return title
	}
	return DefaultPRTitle
}
