package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// emptyTreeHash is the object id of the empty tree, used as the diff base for
// root commits.
const emptyTreeHash = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// ShellExecutor shells out to the system git binary to prepare workspaces for
// combining dependency update commits.
type ShellExecutor struct {
	// Git is the git binary to execute. Defaults to "git" when empty.
	Git string

	// BaseDir is the directory under which temporary clones are created. When
	// empty, os.TempDir() is used.
	BaseDir string

	// WorkDir, when set, is an existing checkout that is used in place instead
	// of a fresh clone. It is left on disk by Cleanup.
	WorkDir string

	// RemoteURL constructs the git remote URL for the given owner/repo pair. When
	// unset, https://github.com/<owner>/<repo>.git is assumed.
	RemoteURL func(owner, repo string) string

	// Token, if provided, is embedded into HTTPS remotes using the
	// x-access-token format.
	Token string

	// UserName and UserEmail configure the committer identity for picked commits.
	UserName  string
	UserEmail string

	// RemoteName controls which remote the workspace interacts with. Defaults to "origin".
	RemoteName string

	// NetworkRetries controls how many additional attempts should be made for network
	// oriented git commands (clone, fetch, push). When zero, a default of 2 retries is used.
	NetworkRetries int

	// NetworkRetryDelay controls the initial backoff delay between retries. When zero,
	// a default of 1 second is used. Backoff grows exponentially per attempt.
	NetworkRetryDelay time.Duration

	// NetworkTimeout bounds network commands that would otherwise inherit an unbounded
	// context. When zero, a default of 2 minutes is used.
	NetworkTimeout time.Duration
}

// NewShellExecutor returns an Executor backed by system git commands.
func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{}
}

func (e *ShellExecutor) gitBinary() string {
	if e.Git == "" {
		return "git"
	}
	return e.Git
}

func (e *ShellExecutor) remoteName() string {
	if e.RemoteName == "" {
		return "origin"
	}
	return e.RemoteName
}

func (e *ShellExecutor) remoteURL(owner, repo string) string {
	if e.RemoteURL != nil {
		return e.RemoteURL(owner, repo)
	}
	url := fmt.Sprintf("https://github.com/%s/%s.git", owner, repo)
	if e.Token == "" {
		return url
	}
	parts := strings.SplitN(strings.TrimPrefix(url, "https://"), "/", 2)
	if len(parts) != 2 {
		return url
	}
	return fmt.Sprintf("https://x-access-token:%s@%s/%s", e.Token, parts[0], parts[1])
}

func (e *ShellExecutor) workspaceDir(repo string) (string, error) {
	base := e.BaseDir
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("create workspace base: %w", err)
	}
	return os.MkdirTemp(base, fmt.Sprintf("combine-%s-", strings.ReplaceAll(repo, " ", "_")))
}

func (e *ShellExecutor) Prepare(ctx context.Context, owner, repo string) (Workspace, error) {
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("owner and repo are required")
	}

	if e.WorkDir != "" {
		return e.prepareExisting(ctx)
	}

	remoteURL := e.remoteURL(owner, repo)
	if remoteURL == "" {
		return nil, fmt.Errorf("remote url could not be determined")
	}

	workDir, err := e.workspaceDir(repo)
	if err != nil {
		return nil, err
	}

	cleanup := func() {
		_ = os.RemoveAll(workDir)
	}

	// Full clone: go-git reads commit objects directly and cannot lazily fetch
	// blobs from a promisor remote.
	if _, err := e.runGit(ctx, "clone", "--no-checkout", "--origin", e.remoteName(), remoteURL, workDir); err != nil {
		cleanup()
		return nil, fmt.Errorf("git clone: %w", err)
	}

	if err := e.configureIdentity(ctx, workDir); err != nil {
		cleanup()
		return nil, err
	}

	return &shellWorkspace{
		executor:   e,
		path:       workDir,
		remoteName: e.remoteName(),
		owned:      true,
	}, nil
}

func (e *ShellExecutor) prepareExisting(ctx context.Context) (Workspace, error) {
	if _, err := e.runGit(ctx, "-C", e.WorkDir, "rev-parse", "--git-dir"); err != nil {
		return nil, fmt.Errorf("%s is not a git checkout: %w", e.WorkDir, err)
	}
	if err := e.configureIdentity(ctx, e.WorkDir); err != nil {
		return nil, err
	}
	return &shellWorkspace{
		executor:   e,
		path:       e.WorkDir,
		remoteName: e.remoteName(),
	}, nil
}

func (e *ShellExecutor) configureIdentity(ctx context.Context, workDir string) error {
	if e.UserName != "" {
		if _, err := e.runGit(ctx, "-C", workDir, "config", "user.name", e.UserName); err != nil {
			return fmt.Errorf("git config user.name: %w", err)
		}
	}
	if e.UserEmail != "" {
		if _, err := e.runGit(ctx, "-C", workDir, "config", "user.email", e.UserEmail); err != nil {
			return fmt.Errorf("git config user.email: %w", err)
		}
	}
	return nil
}

type shellWorkspace struct {
	path       string
	remoteName string
	executor   *ShellExecutor
	owned      bool
}

func (w *shellWorkspace) remoteRef(branch string) string {
	return fmt.Sprintf("%s/%s", w.remoteName, branch)
}

func (w *shellWorkspace) EnsureIntegrationBranch(ctx context.Context, base, name string) error {
	if err := w.exec(ctx, "fetch", "--all", "--prune"); err != nil {
		return fmt.Errorf("git fetch: %w", err)
	}

	exists, err := remoteBranchExists(w.path, w.remoteName, name)
	if err != nil {
		return err
	}

	if exists {
		ref := w.remoteRef(name)
		if err := w.exec(ctx, "checkout", "--force", "-B", name, ref); err != nil {
			return fmt.Errorf("git checkout %s: %w", name, err)
		}
		if err := w.exec(ctx, "reset", "--hard", ref); err != nil {
			return fmt.Errorf("git reset %s: %w", ref, err)
		}
	} else {
		baseExists, err := remoteBranchExists(w.path, w.remoteName, base)
		if err != nil {
			return err
		}
		if !baseExists {
			return fmt.Errorf("base branch %q not found on %s", base, w.remoteName)
		}
		if err := w.exec(ctx, "checkout", "--force", "-B", name, w.remoteRef(base)); err != nil {
			return fmt.Errorf("git checkout %s from %s: %w", name, base, err)
		}
	}

	if err := w.exec(ctx, "clean", "-fd"); err != nil {
		return fmt.Errorf("git clean: %w", err)
	}
	return nil
}

func (w *shellWorkspace) IsAncestor(ctx context.Context, commit string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return isAncestor(w.path, commit)
}

func (w *shellWorkspace) DiffOf(ctx context.Context, commit string) (string, error) {
	parents, err := w.parents(ctx, commit)
	if err != nil {
		return "", fmt.Errorf("resolve parents of %s: %w", commit, err)
	}
	// Merge commits are compared against their first parent, matching how they
	// are picked.
	from := emptyTreeHash
	if len(parents) > 0 {
		from = parents[0]
	}
	out, err := w.output(ctx, "diff", from, commit)
	if err != nil {
		return "", fmt.Errorf("git diff %s: %w", commit, err)
	}
	return out, nil
}

func (w *shellWorkspace) CherryPick(ctx context.Context, commit string) error {
	isMerge, err := w.isMergeCommit(ctx, commit)
	if err != nil {
		return fmt.Errorf("check if merge commit: %w", err)
	}

	args := []string{"cherry-pick", "--strategy=recursive", "-X", "theirs"}
	if isMerge {
		args = append(args, "-m", "1")
	}
	args = append(args, commit)

	if err := w.exec(ctx, args...); err != nil {
		if isEmptyPick(err) && !w.hasUnmergedPaths(ctx) {
			if skipErr := w.exec(ctx, "cherry-pick", "--skip"); skipErr != nil {
				return fmt.Errorf("drop empty cherry-pick %s: %w", commit, skipErr)
			}
			return nil
		}
		return fmt.Errorf("git cherry-pick %s: %w", commit, err)
	}
	return nil
}

func (w *shellWorkspace) isMergeCommit(ctx context.Context, commit string) (bool, error) {
	parents, err := w.parents(ctx, commit)
	if err != nil {
		return false, err
	}
	return len(parents) > 1, nil
}

func (w *shellWorkspace) parents(ctx context.Context, commit string) ([]string, error) {
	// "commit parent1 [parent2 ...]"
	output, err := w.output(ctx, "rev-list", "--parents", "-n", "1", commit)
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(strings.TrimSpace(output))
	if len(fields) == 0 {
		return nil, fmt.Errorf("commit %s not found", commit)
	}
	return fields[1:], nil
}

func (w *shellWorkspace) hasUnmergedPaths(ctx context.Context) bool {
	out, err := w.output(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return true
	}
	return strings.TrimSpace(out) != ""
}

func (w *shellWorkspace) AbortCherryPick(ctx context.Context) error {
	err := w.exec(ctx, "cherry-pick", "--abort")
	if err == nil {
		return nil
	}
	var gitErr *GitError
	if errors.As(err, &gitErr) {
		if strings.Contains(strings.ToLower(gitErr.Output), "no cherry-pick") {
			return nil
		}
	}
	if resetErr := w.exec(ctx, "reset", "--hard", "HEAD"); resetErr != nil {
		return fmt.Errorf("abort cherry-pick: %v; reset: %w", err, resetErr)
	}
	return nil
}

func (w *shellWorkspace) HasPendingChanges(ctx context.Context, branch string) (bool, error) {
	status, err := w.output(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	if strings.TrimSpace(status) != "" {
		return true, nil
	}

	exists, err := remoteBranchExists(w.path, w.remoteName, branch)
	if err != nil {
		return false, err
	}
	if !exists {
		return true, nil
	}

	count, err := w.output(ctx, "rev-list", "--count", w.remoteRef(branch)+"..HEAD")
	if err != nil {
		return false, fmt.Errorf("git rev-list: %w", err)
	}
	ahead, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil {
		return false, fmt.Errorf("parse rev-list count %q: %w", count, err)
	}
	return ahead > 0, nil
}

func (w *shellWorkspace) PushBranch(ctx context.Context, branch string) error {
	if err := w.exec(ctx, "push", "--force-with-lease", "--set-upstream", w.remoteName, fmt.Sprintf("%s:%s", branch, branch)); err != nil {
		return fmt.Errorf("git push %s: %w", branch, err)
	}
	return nil
}

func (w *shellWorkspace) Cleanup(ctx context.Context) error {
	if !w.owned {
		return nil
	}
	return os.RemoveAll(w.path)
}

func (w *shellWorkspace) exec(ctx context.Context, args ...string) error {
	_, err := w.output(ctx, args...)
	return err
}

func (w *shellWorkspace) output(ctx context.Context, args ...string) (string, error) {
	cmd := append([]string{"-C", w.path}, args...)
	return w.executor.runGit(ctx, cmd...)
}

// runGit runs git and returns its standard output. Network commands are retried
// with exponential backoff and bounded by NetworkTimeout.
func (e *ShellExecutor) runGit(ctx context.Context, args ...string) (string, error) {
	primary := primaryGitCommand(args)
	isNetwork := isNetworkCommand(primary)

	retries := 0
	if isNetwork {
		retries = e.networkRetriesValue()
	}

	delay := e.networkRetryDelayValue()
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		attemptCtx, cancel := e.applyNetworkTimeout(ctx, isNetwork)
		out, err := e.runGitOnce(attemptCtx, args...)
		cancel()

		if err == nil {
			return out, nil
		}
		lastErr = err

		if !isNetwork {
			break
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if attempt == retries {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		if delay < time.Second {
			delay = time.Second
		}
		delay *= 2
	}

	return "", lastErr
}

func (e *ShellExecutor) runGitOnce(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, e.gitBinary(), args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	setProcessGroup(cmd)

	var stdout, combined bytes.Buffer
	cmd.Stdout = io.MultiWriter(&stdout, &combined)
	cmd.Stderr = &combined

	if err := cmd.Start(); err != nil {
		return "", &GitError{Args: args, Output: combined.String(), Err: err}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		terminateProcessGroup(cmd)
		<-done
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", &GitError{Args: args, Output: combined.String(), Err: err}
		}
	}

	return stdout.String(), nil
}

func primaryGitCommand(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			if i+1 < len(args) {
				return args[i+1]
			}
			return ""
		}
		if strings.HasPrefix(arg, "-") {
			switch arg {
			case "-C", "--git-dir", "-c":
				i++
			}
			continue
		}
		return arg
	}
	return ""
}

func isNetworkCommand(cmd string) bool {
	switch cmd {
	case "clone", "fetch", "push", "pull", "remote":
		return true
	default:
		return false
	}
}

func (e *ShellExecutor) networkRetriesValue() int {
	if e.NetworkRetries < 0 {
		return 0
	}
	if e.NetworkRetries == 0 {
		return 2
	}
	return e.NetworkRetries
}

func (e *ShellExecutor) networkRetryDelayValue() time.Duration {
	if e.NetworkRetryDelay <= 0 {
		return time.Second
	}
	return e.NetworkRetryDelay
}

func (e *ShellExecutor) networkTimeoutValue() time.Duration {
	if e.NetworkTimeout <= 0 {
		return 2 * time.Minute
	}
	return e.NetworkTimeout
}

func (e *ShellExecutor) applyNetworkTimeout(ctx context.Context, network bool) (context.Context, context.CancelFunc) {
	if !network {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && !deadline.IsZero() {
		return ctx, func() {}
	}
	timeout := e.networkTimeoutValue()
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// urlCredentials matches the password part of userinfo in a URL.
var urlCredentials = regexp.MustCompile(`(://[^/\s:@]+):[^/\s@]+@`)

func redactCredentials(s string) string {
	return urlCredentials.ReplaceAllString(s, "$1:xxxxx@")
}

// GitError wraps failures when invoking the git binary. Error redacts URL
// credentials; Args and Output keep the raw values.
type GitError struct {
	Args   []string
	Output string
	Err    error
}

func (e *GitError) Error() string {
	if e == nil {
		return ""
	}
	return redactCredentials(fmt.Sprintf("git %s: %v\n%s", strings.Join(e.Args, " "), e.Err, e.Output))
}

func (e *GitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func isEmptyPick(err error) bool {
	var gitErr *GitError
	if !errors.As(err, &gitErr) {
		return false
	}
	out := strings.ToLower(gitErr.Output)
	return strings.Contains(out, "now empty") || strings.Contains(out, "nothing to commit")
}
