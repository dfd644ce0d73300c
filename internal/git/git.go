package git

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Context runs git commands against one repository.
type Context struct {
	repoPath string
	workDir  string
	runner   CommandRunner

	// mu serializes compound worktree mutations.
	mu *sync.Mutex
}

// ContextOption configures Context.
type ContextOption func(*Context)

// WithRunner sets a custom command runner for git operations.
func WithRunner(runner CommandRunner) ContextOption {
	return func(g *Context) {
		g.runner = runner
	}
}

// NewContext creates a git context for the repository containing repoPath.
// The repository root is resolved with rev-parse --show-toplevel.
func NewContext(ctx context.Context, repoPath string, opts ...ContextOption) (*Context, error) {
	absPath, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	cmd.Dir = absPath
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotGitRepo, absPath)
	}
	top := strings.TrimSpace(string(out))
	if resolved, err := filepath.EvalSymlinks(top); err == nil {
		top = resolved
	}

	g := &Context{
		repoPath: top,
		workDir:  top,
		runner:   NewExecRunner(),
		mu:       &sync.Mutex{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// RepoPath returns the repository root.
func (g *Context) RepoPath() string {
	return g.repoPath
}

// WorkDir returns the working directory for git commands.
func (g *Context) WorkDir() string {
	return g.workDir
}

// InWorktree returns a Context that runs commands inside the given worktree.
// Worktree mutations stay serialized with the parent.
func (g *Context) InWorktree(worktreePath string) *Context {
	return &Context{
		repoPath: g.repoPath,
		workDir:  worktreePath,
		runner:   g.runner,
		mu:       g.mu,
	}
}

// RunGit executes a git command in the work dir and returns stdout.
func (g *Context) RunGit(ctx context.Context, args ...string) (string, error) {
	return g.runner.Run(ctx, g.workDir, "git", args...)
}

// CurrentBranch returns the current branch name.
func (g *Context) CurrentBranch(ctx context.Context) (string, error) {
	branch, err := g.RunGit(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", &GitError{Op: "get current branch", Err: err}
	}
	return branch, nil
}

// RefExists reports whether ref resolves to a commit.
func (g *Context) RefExists(ctx context.Context, ref string) bool {
	_, err := g.RunGit(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	return err == nil
}

// BranchExists reports whether a local branch exists.
func (g *Context) BranchExists(ctx context.Context, name string) bool {
	return g.RefExists(ctx, "refs/heads/"+name)
}

// DeleteBranch deletes a local branch. If force is true, uses -D instead of -d.
func (g *Context) DeleteBranch(ctx context.Context, name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	if _, err := g.RunGit(ctx, "branch", flag, name); err != nil {
		return &GitError{Op: "delete branch", Err: err}
	}
	return nil
}

// HeadCommit returns the current HEAD commit SHA.
func (g *Context) HeadCommit(ctx context.Context) (string, error) {
	sha, err := g.RunGit(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", &GitError{Op: "get HEAD commit", Err: err}
	}
	return sha, nil
}

// BaseRefCandidates is the base-reference priority order for new branches.
var BaseRefCandidates = []string{"origin/main", "origin/master", "main", "master"}

// DetectBaseRef returns the first existing candidate, falling back to HEAD.
// Remote refs come first so a stale local branch is not preferred.
func (g *Context) DetectBaseRef(ctx context.Context) string {
	for _, ref := range BaseRefCandidates {
		if g.RefExists(ctx, ref) {
			return ref
		}
	}
	return "HEAD"
}
