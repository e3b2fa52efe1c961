package main

import (
	"context"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/rancher/combine-dependabot-action/internal/app"
)

type flagValues struct {
	configFile    string
	repository    string
	baseBranch    string
	combineBranch string
	branchPrefix  string
	prTitle       string
	outputJSON    string
	workDir       string
	logLevel      string
	logFormat     string
	dryRun        bool
	verbose       bool
}

func main() {
	cmd := newRootCmd(func(ctx context.Context, cfg app.Config) error {
		runner, err := app.NewRunner(cfg)
		if err != nil {
			return err
		}
		return runner.Run(ctx)
	})

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		log.Printf("combine-dependabot failed: %v", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command line. Inputs come from the environment and the
// config file; flags override them only when given explicitly.
func newRootCmd(run func(context.Context, app.Config) error) *cobra.Command {
	var flags flagValues

	cmd := &cobra.Command{
		Use:   "combine-dependabot",
		Short: "Combine open Dependabot pull requests into a single branch and pull request",
		Long: `Cherry-picks the head commit of every open Dependabot pull request onto one
combine branch, pushes it and opens (or refreshes) a summary pull request that
lists what was combined. A JSON report of combined, failed and omitted pull
requests is written for later workflow steps.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ReadConfig(flags.configFile)
			if err != nil {
				return err
			}
			applyFlags(cmd, flags, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.configFile, "config", "", "Path to a TOML config file")
	f.StringVar(&flags.repository, "repo", "", "Repository in owner/repo form")
	f.StringVar(&flags.baseBranch, "base", "", "Base branch (defaults to the repository default branch)")
	f.StringVar(&flags.combineBranch, "branch", "", "Combine branch to create or reuse")
	f.StringVar(&flags.branchPrefix, "prefix", "", "Head branch prefix that marks Dependabot pull requests")
	f.StringVar(&flags.prTitle, "title", "", "Title of the summary pull request")
	f.StringVar(&flags.outputJSON, "output", "", "Write the JSON report to this path")
	f.StringVar(&flags.workDir, "workdir", "", "Use an existing checkout instead of cloning")
	f.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	f.StringVar(&flags.logFormat, "log-format", "", "Log format: text or json")
	f.BoolVar(&flags.dryRun, "dry-run", false, "Combine locally without pushing or opening a pull request")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")

	return cmd
}

func applyFlags(cmd *cobra.Command, flags flagValues, cfg *app.Config) {
	changed := cmd.Flags().Changed

	if changed("repo") {
		cfg.Repository = flags.repository
	}
	if changed("base") {
		cfg.BaseBranch = flags.baseBranch
	}
	if changed("branch") {
		cfg.CombineBranch = flags.combineBranch
	}
	if changed("prefix") {
		cfg.BranchPrefix = flags.branchPrefix
	}
	if changed("title") {
		cfg.PRTitle = flags.prTitle
	}
	if changed("output") {
		cfg.OutputJSON = flags.outputJSON
	}
	if changed("workdir") {
		cfg.WorkDir = flags.workDir
	}
	if changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if changed("log-format") {
		cfg.LogFormat = flags.logFormat
	}
	if changed("dry-run") {
		cfg.DryRun = flags.dryRun
	}
	if changed("verbose") {
		cfg.Verbose = flags.verbose
	}
}
