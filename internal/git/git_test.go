package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
)

func runCmd(t *testing.T, dir string, name string, args ...string) {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("%s %v failed: %v\n%s", name, args, err, out)
	}
}

func setupTestRepo(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()

	runCmd(t, tmpDir, "git", "init", "-q", "-b", "main")
	runCmd(t, tmpDir, "git", "config", "user.email", "test@test.com")
	runCmd(t, tmpDir, "git", "config", "user.name", "Test User")
	runCmd(t, tmpDir, "git", "config", "commit.gpgsign", "false")

	if err := os.WriteFile(filepath.Join(tmpDir, "README.md"), []byte("# Test\n"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	runCmd(t, tmpDir, "git", "add", ".")
	runCmd(t, tmpDir, "git", "commit", "-q", "-m", "Initial commit")

	return tmpDir
}

func TestNewContext(t *testing.T) {
	dir := setupTestRepo(t)
	sub := filepath.Join(dir, "pkg")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	g, err := NewContext(context.Background(), sub)
	if err != nil {
		t.Fatalf("NewContext() failed: %v", err)
	}
	if !SamePath(g.RepoPath(), dir) {
		t.Errorf("RepoPath = %s, want %s", g.RepoPath(), dir)
	}
}

func TestNewContextNotRepo(t *testing.T) {
	_, err := NewContext(context.Background(), t.TempDir())
	if !errors.Is(err, ErrNotGitRepo) {
		t.Errorf("expected ErrNotGitRepo, got %v", err)
	}
}

func TestDetectBaseRef(t *testing.T) {
	ctx := context.Background()
	dir := setupTestRepo(t)
	g, err := NewContext(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}

	if got := g.DetectBaseRef(ctx); got != "main" {
		t.Errorf("DetectBaseRef = %s, want main", got)
	}

	// A remote-tracking ref outranks the local branch.
	runCmd(t, dir, "git", "update-ref", "refs/remotes/origin/master", "HEAD")
	if got := g.DetectBaseRef(ctx); got != "origin/master" {
		t.Errorf("DetectBaseRef = %s, want origin/master", got)
	}
	runCmd(t, dir, "git", "update-ref", "refs/remotes/origin/main", "HEAD")
	if got := g.DetectBaseRef(ctx); got != "origin/main" {
		t.Errorf("DetectBaseRef = %s, want origin/main", got)
	}
}

func TestDetectBaseRefFallsBackToHead(t *testing.T) {
	ctx := context.Background()
	dir := setupTestRepo(t)
	runCmd(t, dir, "git", "branch", "-m", "main", "trunk")

	g, err := NewContext(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := g.DetectBaseRef(ctx); got != "HEAD" {
		t.Errorf("DetectBaseRef = %s, want HEAD", got)
	}
}

func TestAddListRemoveWorktree(t *testing.T) {
	ctx := context.Background()
	dir := setupTestRepo(t)
	g, err := NewContext(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}

	wtPath := filepath.Join(dir, ".storyloop", "worktrees", "one")
	if err := g.AddWorktree(ctx, wtPath, "storyloop/one-abc123", "main"); err != nil {
		t.Fatalf("AddWorktree: %v", err)
	}
	if _, err := os.Stat(filepath.Join(wtPath, "README.md")); err != nil {
		t.Errorf("worktree should contain checked out files: %v", err)
	}

	wts, err := g.ListWorktrees(ctx)
	if err != nil {
		t.Fatalf("ListWorktrees: %v", err)
	}
	if len(wts) != 2 {
		t.Fatalf("expected 2 worktrees, got %d", len(wts))
	}
	if !wts[0].Primary || !SamePath(wts[0].Path, dir) {
		t.Errorf("first worktree should be the primary checkout: %+v", wts[0])
	}
	if wts[1].Branch != "storyloop/one-abc123" || wts[1].Primary {
		t.Errorf("unexpected second worktree: %+v", wts[1])
	}

	if err := g.AddWorktree(ctx, wtPath, "storyloop/other", "main"); !errors.Is(err, ErrWorktreeExists) {
		t.Errorf("expected ErrWorktreeExists, got %v", err)
	}

	// Dirty worktrees need --force.
	if err := os.WriteFile(filepath.Join(wtPath, "scratch.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := g.RemoveWorktree(ctx, wtPath); err != nil {
		t.Fatalf("RemoveWorktree: %v", err)
	}
	if _, err := os.Stat(wtPath); !os.IsNotExist(err) {
		t.Error("worktree directory should be gone")
	}
	if err := g.DeleteBranch(ctx, "storyloop/one-abc123", true); err != nil {
		t.Errorf("DeleteBranch: %v", err)
	}
	if g.BranchExists(ctx, "storyloop/one-abc123") {
		t.Error("branch should be deleted")
	}
}

func TestAddWorktreeStaleRegistration(t *testing.T) {
	ctx := context.Background()
	dir := setupTestRepo(t)
	g, err := NewContext(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}

	stale := filepath.Join(dir, ".storyloop", "worktrees", "stale")
	if err := g.AddWorktree(ctx, stale, "storyloop/stale-1", "main"); err != nil {
		t.Fatal(err)
	}
	// Delete the directory behind git's back, then reuse the path.
	if err := os.RemoveAll(stale); err != nil {
		t.Fatal(err)
	}
	if err := g.AddWorktree(ctx, stale, "storyloop/stale-2", "main"); err != nil {
		t.Fatalf("AddWorktree after stale removal: %v", err)
	}
}

func TestAddWorktreeRejectsInvalidBranch(t *testing.T) {
	ctx := context.Background()
	dir := setupTestRepo(t)
	g, err := NewContext(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddWorktree(ctx, filepath.Join(dir, "wt"), "bad branch;rm", "main")
	if !errors.Is(err, ErrInvalidBranchName) {
		t.Errorf("expected ErrInvalidBranchName, got %v", err)
	}
}

func TestAddWorktreeConcurrent(t *testing.T) {
	ctx := context.Background()
	dir := setupTestRepo(t)
	g, err := NewContext(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := string(rune('a' + i))
			errs[i] = g.AddWorktree(ctx, filepath.Join(dir, "wts", name), "storyloop/"+name, "main")
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("worktree %d: %v", i, err)
		}
	}
}

func TestParseWorktreeList(t *testing.T) {
	out := `worktree /repo
HEAD 1111
branch refs/heads/main

worktree /repo/.storyloop/worktrees/x
HEAD 2222
detached
`
	wts := ParseWorktreeList(out)
	if len(wts) != 2 {
		t.Fatalf("expected 2, got %d", len(wts))
	}
	if wts[0].Branch != "main" || wts[0].Commit != "1111" {
		t.Errorf("unexpected first: %+v", wts[0])
	}
	if wts[1].Branch != "(detached)" {
		t.Errorf("unexpected second: %+v", wts[1])
	}
}
