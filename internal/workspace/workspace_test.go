package workspace

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/storyloop/internal/config"
)

func runCmd(t *testing.T, dir string, name string, args ...string) {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "%s %v: %s", name, args, out)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func setupTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runCmd(t, dir, "git", "init", "-q", "-b", "main")
	runCmd(t, dir, "git", "config", "user.email", "test@test.com")
	runCmd(t, dir, "git", "config", "user.name", "Test User")
	runCmd(t, dir, "git", "config", "commit.gpgsign", "false")
	writeFile(t, filepath.Join(dir, "README.md"), "# Test\n")
	writeFile(t, filepath.Join(dir, ".gitignore"), ".env\n.env.*\n.storyloop/\nnode_modules/\n")
	runCmd(t, dir, "git", "add", ".")
	runCmd(t, dir, "git", "commit", "-q", "-m", "Initial commit")
	return dir
}

func isolateUserConfig(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for name := range config.EnvVarMapping {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func newManager(t *testing.T, dir string, opts ...Option) *Manager {
	t.Helper()
	isolateUserConfig(t)
	m, err := NewManager(context.Background(), dir, opts...)
	require.NoError(t, err)
	return m
}

func TestCreateWorkspace(t *testing.T) {
	ctx := context.Background()
	dir := setupTestRepo(t)
	writeFile(t, filepath.Join(dir, ".env"), "SECRET=1\n")
	writeFile(t, filepath.Join(dir, "services", "api", ".env.local"), "PORT=1\n")
	writeFile(t, filepath.Join(dir, "node_modules", "pkg", ".env"), "NOPE=1\n")

	m := newManager(t, dir)
	info, err := m.CreateWorkspace(ctx, "TASK-001")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(info.Branch, "storyloop/TASK-001-"), info.Branch)
	assert.Len(t, strings.TrimPrefix(info.Branch, "storyloop/TASK-001-"), 6)
	assert.Equal(t, StatusActive, info.Status)
	assert.Equal(t, IDForPath(info.Path), info.ID)
	assert.True(t, strings.HasPrefix(info.Path, m.RootDir()))

	assert.FileExists(t, filepath.Join(info.Path, "README.md"))
	assert.FileExists(t, filepath.Join(info.Path, ".env"))
	assert.FileExists(t, filepath.Join(info.Path, "services", "api", ".env.local"))
	assert.NoFileExists(t, filepath.Join(info.Path, "node_modules", "pkg", ".env"))

	got, err := m.Get(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, "TASK-001", got.TaskID)
}

func TestWorkspaceIsolation(t *testing.T) {
	ctx := context.Background()
	dir := setupTestRepo(t)
	m := newManager(t, dir)

	a, err := m.CreateWorkspace(ctx, "TASK-A")
	require.NoError(t, err)
	b, err := m.CreateWorkspace(ctx, "TASK-B")
	require.NoError(t, err)

	assert.NotEqual(t, a.Path, b.Path)
	assert.NotEqual(t, a.Branch, b.Branch)
	assert.NotEqual(t, a.ID, b.ID)

	writeFile(t, filepath.Join(b.Path, "work.txt"), "b's work")

	require.NoError(t, m.RemoveWorkspace(ctx, a.ID))
	assert.NoDirExists(t, a.Path)
	assert.FileExists(t, filepath.Join(b.Path, "work.txt"))
	assert.FileExists(t, filepath.Join(b.Path, "README.md"))

	list, err := m.ListWorkspaces(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)
}

func TestSameTaskTwiceGetsDistinctWorkspaces(t *testing.T) {
	ctx := context.Background()
	dir := setupTestRepo(t)
	m := newManager(t, dir)

	a, err := m.CreateWorkspace(ctx, "TASK-1")
	require.NoError(t, err)
	b, err := m.CreateWorkspace(ctx, "TASK-1")
	require.NoError(t, err)
	assert.NotEqual(t, a.Branch, b.Branch)
	assert.NotEqual(t, a.Path, b.Path)
}

func TestRemovePrimaryCheckoutRefused(t *testing.T) {
	ctx := context.Background()
	dir := setupTestRepo(t)
	m := newManager(t, dir)

	err := m.RemoveWorkspace(ctx, IDForPath(dir))
	assert.True(t, errors.Is(err, ErrPrimaryCheckout), "got %v", err)

	assert.FileExists(t, filepath.Join(dir, "README.md"))
	assert.DirExists(t, filepath.Join(dir, ".git"))
}

func TestRemovePrimaryCheckoutRefusedWhenTracked(t *testing.T) {
	ctx := context.Background()
	dir := setupTestRepo(t)
	m := newManager(t, dir)

	// A corrupted registration pointing at the main tree must still be refused.
	id := IDForPath(dir)
	m.tracked[id] = &Info{ID: id, Path: dir, Branch: "main"}

	err := m.RemoveWorkspace(ctx, id)
	assert.ErrorIs(t, err, ErrPrimaryCheckout)
	assert.FileExists(t, filepath.Join(dir, "README.md"))
}

func TestRemoveUnknownWorkspace(t *testing.T) {
	m := newManager(t, setupTestRepo(t))
	err := m.RemoveWorkspace(context.Background(), "0000000000000000")
	assert.ErrorIs(t, err, ErrWorkspaceNotFound)
}

func TestListWorkspacesSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := setupTestRepo(t)

	first := newManager(t, dir)
	info, err := first.CreateWorkspace(ctx, "TASK-9")
	require.NoError(t, err)

	second, err := NewManager(ctx, dir)
	require.NoError(t, err)
	list, err := second.ListWorkspaces(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, info.ID, list[0].ID)
	assert.Equal(t, "TASK-9", list[0].TaskID)
	assert.Equal(t, info.Branch, list[0].Branch)

	require.NoError(t, second.RemoveWorkspace(ctx, info.ID))
	assert.NoDirExists(t, info.Path)
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, setupTestRepo(t))
	info, err := m.CreateWorkspace(ctx, "T")
	require.NoError(t, err)

	require.NoError(t, m.SetStatus(info.ID, StatusCompleted))
	got, err := m.Get(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	assert.ErrorIs(t, m.SetStatus("missing", StatusError), ErrWorkspaceNotFound)
}

func TestProjectConfigMergesPatterns(t *testing.T) {
	dir := setupTestRepo(t)
	writeFile(t, config.ProjectConfigPath(dir), `
workspace:
  branch_prefix: "agent/"
  root_dir: ".wt"
  preserve: ["config/local.json", ".env"]
  exclude: ["fixtures/**"]
`)
	m := newManager(t, dir)
	cfg := m.Config()

	assert.Equal(t, "agent/", cfg.BranchPrefix)
	assert.Equal(t, filepath.Join(m.Root(), ".wt"), m.RootDir())
	for _, p := range config.DefaultPreservePatterns {
		assert.Contains(t, cfg.Preserve, p)
	}
	assert.Contains(t, cfg.Preserve, "config/local.json")
	assert.Contains(t, cfg.Exclude, "fixtures/**")
	assert.Contains(t, cfg.Exclude, "node_modules/**")

	count := 0
	for _, p := range cfg.Preserve {
		if p == ".env" {
			count++
		}
	}
	assert.Equal(t, 1, count)

	info, err := m.CreateWorkspace(context.Background(), "X")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(info.Branch, "agent/X-"))
}

func TestNewManagerNotRepo(t *testing.T) {
	isolateUserConfig(t)
	_, err := NewManager(context.Background(), t.TempDir())
	assert.Error(t, err)
}
