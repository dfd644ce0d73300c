package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WorktreeInfo represents a git worktree.
type WorktreeInfo struct {
	Path   string
	Branch string
	Commit string
	// Primary is true for the main working tree of the repository.
	Primary bool
}

// AddWorktree creates a worktree at path on a new branch rooted at base.
//
// If the first attempt fails it prunes stale registrations (a directory
// deleted without `git worktree remove`) and retries once. The compound
// operation is serialized so concurrent creations never prune under each other.
func (g *Context) AddWorktree(ctx context.Context, path, branch, base string) error {
	if err := ValidateBranchName(branch); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrWorktreeExists, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create worktrees dir: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	attempt := func() error {
		if _, err := g.RunGit(ctx, "worktree", "add", "-b", branch, path, base); err == nil {
			return nil
		}
		// A failed -b attempt can leave the new branch behind.
		_, err := g.RunGit(ctx, "worktree", "add", path, branch)
		return err
	}

	if err := attempt(); err == nil {
		return nil
	}

	_, _ = g.RunGit(ctx, "worktree", "prune")

	if err := attempt(); err != nil {
		return &GitError{Op: "create worktree", Err: err}
	}
	return nil
}

// RemoveWorktree removes a worktree, retrying with --force for dirty trees.
func (g *Context) RemoveWorktree(ctx context.Context, path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.RunGit(ctx, "worktree", "remove", path); err != nil {
		if _, err = g.RunGit(ctx, "worktree", "remove", "--force", path); err != nil {
			return &GitError{Op: "remove worktree", Err: err}
		}
	}
	return nil
}

// PruneWorktrees removes stale worktree administrative files.
func (g *Context) PruneWorktrees(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.RunGit(ctx, "worktree", "prune"); err != nil {
		return &GitError{Op: "prune worktrees", Err: err}
	}
	return nil
}

// ListWorktrees returns every worktree known to git. The first entry git
// reports is the primary checkout.
func (g *Context) ListWorktrees(ctx context.Context) ([]WorktreeInfo, error) {
	output, err := g.RunGit(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, &GitError{Op: "list worktrees", Err: err}
	}
	worktrees := ParseWorktreeList(output)
	if len(worktrees) > 0 {
		worktrees[0].Primary = true
	}
	return worktrees, nil
}

// ParseWorktreeList parses `git worktree list --porcelain` output.
func ParseWorktreeList(output string) []WorktreeInfo {
	var worktrees []WorktreeInfo
	var current WorktreeInfo

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			if current.Path != "" {
				worktrees = append(worktrees, current)
				current = WorktreeInfo{}
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.Commit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "detached":
			current.Branch = "(detached)"
		}
	}
	if current.Path != "" {
		worktrees = append(worktrees, current)
	}
	return worktrees
}

// SamePath reports whether a and b resolve to the same location,
// following symlinks where possible.
func SamePath(a, b string) bool {
	return CanonicalPath(a) == CanonicalPath(b)
}

// CanonicalPath returns the absolute, symlink-resolved form of p.
func CanonicalPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}
