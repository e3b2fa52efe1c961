package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/rancher/combine-dependabot-action/internal/branch"
	"github.com/rancher/combine-dependabot-action/internal/orchestrator"
)

const (
	defaultCombineBranch = "combine-dependabot"
	defaultBranchPrefix  = "dependabot"
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultGitUserName   = "dependabot[bot]"
	defaultGitUserEmail  = "dependabot[bot]@users.noreply.github.com"
)

// Config captures runtime options sourced from GitHub Action inputs, environment
// variables, an optional TOML file and command-line flags.
type Config struct {
	GitHubToken     string
	GitHubBaseURL   string
	GitHubUploadURL string

	// Repository is the owner/repo slug. Owner and Repo are derived from it by Validate.
	Repository string
	Owner      string
	Repo       string

	// BaseBranch is resolved to the repository default branch when empty.
	BaseBranch    string
	CombineBranch string
	BranchPrefix  string
	PRTitle       string

	GitUserName  string
	GitUserEmail string

	OutputJSON string
	WorkDir    string
	ConfigFile string

	DryRun    bool
	Verbose   bool
	LogLevel  string
	LogFormat string
}

// fileConfig mirrors the keys accepted in the TOML config file. Unset keys keep
// their defaults.
type fileConfig struct {
	BaseBranch    string `toml:"base_branch"`
	CombineBranch string `toml:"combine_branch"`
	BranchPrefix  string `toml:"branch_prefix"`
	PRTitle       string `toml:"pr_title"`
	GitUserName   string `toml:"git_user_name"`
	GitUserEmail  string `toml:"git_user_email"`
	OutputJSON    string `toml:"output_json"`
	LogLevel      string `toml:"log_level"`
	LogFormat     string `toml:"log_format"`
	DryRun        *bool  `toml:"dry_run"`
}

// DefaultConfig returns the configuration used when nothing else is set.
func DefaultConfig() Config {
	return Config{
		CombineBranch: defaultCombineBranch,
		BranchPrefix:  defaultBranchPrefix,
		PRTitle:       orchestrator.DefaultPRTitle,
		GitUserName:   defaultGitUserName,
		GitUserEmail:  defaultGitUserEmail,
		LogLevel:      defaultLogLevel,
		LogFormat:     defaultLogFormat,
	}
}

// LoadConfig reads the configuration from the environment (and the config file it
// names) and validates it.
func LoadConfig() (Config, error) {
	cfg, err := ReadConfig("")
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReadConfig layers defaults, the TOML file at configFile (falling back to
// INPUT_CONFIG_FILE) and the environment. The result is not validated so callers
// can apply further overrides first.
func ReadConfig(configFile string) (Config, error) {
	cfg := DefaultConfig()

	cfg.ConfigFile = strings.TrimSpace(configFile)
	if cfg.ConfigFile == "" {
		cfg.ConfigFile = strings.TrimSpace(os.Getenv("INPUT_CONFIG_FILE"))
	}
	if cfg.ConfigFile != "" {
		if err := cfg.applyFile(cfg.ConfigFile); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setIfNotEmpty(&c.BaseBranch, fc.BaseBranch)
	setIfNotEmpty(&c.CombineBranch, fc.CombineBranch)
	setIfNotEmpty(&c.BranchPrefix, fc.BranchPrefix)
	setIfNotEmpty(&c.PRTitle, fc.PRTitle)
	setIfNotEmpty(&c.GitUserName, fc.GitUserName)
	setIfNotEmpty(&c.GitUserEmail, fc.GitUserEmail)
	setIfNotEmpty(&c.OutputJSON, fc.OutputJSON)
	setIfNotEmpty(&c.LogLevel, strings.ToLower(fc.LogLevel))
	setIfNotEmpty(&c.LogFormat, strings.ToLower(fc.LogFormat))
	if fc.DryRun != nil {
		c.DryRun = *fc.DryRun
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.GitHubToken = firstEnv("INPUT_GITHUB_TOKEN", "GITHUB_TOKEN")
	c.GitHubBaseURL = strings.TrimSpace(os.Getenv("INPUT_GITHUB_BASE_URL"))
	c.GitHubUploadURL = strings.TrimSpace(os.Getenv("INPUT_GITHUB_UPLOAD_URL"))

	setIfNotEmpty(&c.Repository, firstEnv("INPUT_REPOSITORY", "GITHUB_REPOSITORY"))
	setIfNotEmpty(&c.BaseBranch, firstEnv("INPUT_BASE_BRANCH", "BASE_BRANCH"))
	setIfNotEmpty(&c.CombineBranch, firstEnv("INPUT_COMBINE_BRANCH", "COMBINE_BRANCH"))
	setIfNotEmpty(&c.BranchPrefix, firstEnv("INPUT_BRANCH_PREFIX", "BRANCH_PREFIX"))
	setIfNotEmpty(&c.PRTitle, firstEnv("INPUT_PR_TITLE"))
	setIfNotEmpty(&c.GitUserName, firstEnv("INPUT_GIT_USER_NAME", "GIT_USERNAME"))
	setIfNotEmpty(&c.GitUserEmail, firstEnv("INPUT_GIT_USER_EMAIL", "GIT_EMAIL"))
	setIfNotEmpty(&c.OutputJSON, firstEnv("INPUT_OUTPUT_JSON", "OUTPUT_JSON"))
	setIfNotEmpty(&c.WorkDir, firstEnv("INPUT_WORKDIR"))
	setIfNotEmpty(&c.LogLevel, strings.ToLower(firstEnv("INPUT_LOG_LEVEL")))
	setIfNotEmpty(&c.LogFormat, strings.ToLower(firstEnv("INPUT_LOG_FORMAT")))

	if rawDryRun := firstEnv("INPUT_DRY_RUN"); rawDryRun != "" {
		dryRun, err := strconv.ParseBool(rawDryRun)
		if err != nil {
			return fmt.Errorf("parse INPUT_DRY_RUN: %w", err)
		}
		c.DryRun = dryRun
	}

	if rawVerbose := firstEnv("INPUT_VERBOSE"); rawVerbose != "" {
		verbose, err := strconv.ParseBool(rawVerbose)
		if err != nil {
			return fmt.Errorf("parse INPUT_VERBOSE: %w", err)
		}
		c.Verbose = verbose
	}

	return nil
}

// Validate normalizes the configuration and reports the first problem found.
func (c *Config) Validate() error {
	if c.GitHubToken == "" {
		return fmt.Errorf("github token is required (set INPUT_GITHUB_TOKEN or GITHUB_TOKEN)")
	}

	owner, repo, err := splitRepository(c.Repository)
	if err != nil {
		return err
	}
	c.Owner, c.Repo = owner, repo

	if (c.GitHubBaseURL == "") != (c.GitHubUploadURL == "") {
		return fmt.Errorf("INPUT_GITHUB_BASE_URL and INPUT_GITHUB_UPLOAD_URL must both be set for GitHub Enterprise")
	}

	c.CombineBranch = branch.Normalize(c.CombineBranch)
	if c.CombineBranch == "" {
		c.CombineBranch = defaultCombineBranch
	}
	if err := branch.Validate(c.CombineBranch); err != nil {
		return fmt.Errorf("invalid combine branch %q: %w", c.CombineBranch, err)
	}

	c.BaseBranch = branch.Normalize(c.BaseBranch)
	if c.BaseBranch != "" {
		if err := branch.Validate(c.BaseBranch); err != nil {
			return fmt.Errorf("invalid base branch %q: %w", c.BaseBranch, err)
		}
		if c.BaseBranch == c.CombineBranch {
			return fmt.Errorf("combine branch %q must differ from the base branch", c.CombineBranch)
		}
	}

	c.BranchPrefix = strings.TrimSpace(c.BranchPrefix)
	if strings.ContainsAny(c.BranchPrefix, " \t\n\r") {
		return fmt.Errorf("branch prefix %q cannot contain whitespace", c.BranchPrefix)
	}

	if strings.TrimSpace(c.PRTitle) == "" {
		c.PRTitle = orchestrator.DefaultPRTitle
	}
	if c.GitUserName == "" {
		c.GitUserName = defaultGitUserName
	}
	if c.GitUserEmail == "" {
		c.GitUserEmail = defaultGitUserEmail
	}

	if c.Verbose {
		c.LogLevel = "debug"
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}

	if c.LogFormat == "" {
		c.LogFormat = defaultLogFormat
	}
	supportedFormats := map[string]struct{}{"text": {}, "json": {}}
	if _, ok := supportedFormats[c.LogFormat]; !ok {
		return fmt.Errorf("unsupported log format %q", c.LogFormat)
	}

	return nil
}

func splitRepository(slug string) (string, string, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return "", "", fmt.Errorf("repository is required (set INPUT_REPOSITORY or GITHUB_REPOSITORY as owner/repo)")
	}
	parts := strings.Split(slug, "/")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", fmt.Errorf("repository %q must be in owner/repo form", slug)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSuffix(strings.TrimSpace(parts[1]), ".git"), nil
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

func setIfNotEmpty(dst *string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		*dst = v
	}
}
