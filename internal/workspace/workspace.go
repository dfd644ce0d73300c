// Package workspace manages isolated git worktrees, one per task.
package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/storyloop/internal/config"
	"github.com/randalmurphal/storyloop/internal/git"
	"github.com/randalmurphal/storyloop/internal/metrics"
)

var (
	// ErrWorkspaceNotFound is returned for ids that match no known worktree.
	ErrWorkspaceNotFound = errors.New("workspace not found")
	// ErrPrimaryCheckout is returned when an operation would touch the main working tree.
	ErrPrimaryCheckout = errors.New("refusing to remove the primary checkout")
)

// Status is the lifecycle state of a workspace.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Info describes an isolated checkout.
type Info struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id,omitempty"`
	Branch    string    `json:"branch"`
	Path      string    `json:"path"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// IDForPath returns the workspace id for a checkout path: the first 16 hex
// characters of the sha256 of its canonical absolute path.
func IDForPath(path string) string {
	sum := sha256.Sum256([]byte(git.CanonicalPath(path)))
	return hex.EncodeToString(sum[:])[:16]
}

// Manager creates, lists and removes task workspaces for one repository.
type Manager struct {
	git    *git.Context
	root   string
	cfg    config.WorkspaceConfig
	logger *slog.Logger
	suffix func() string

	mu      sync.RWMutex
	tracked map[string]*Info
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithConfig replaces the workspace settings loaded from the project config.
func WithConfig(cfg config.WorkspaceConfig) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// NewManager opens the repository containing projectRoot and loads the
// workspace section of its configuration. Project pattern lists add to the
// defaults; scalar settings replace them.
func NewManager(ctx context.Context, projectRoot string, opts ...Option) (*Manager, error) {
	g, err := git.NewContext(ctx, projectRoot)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadWorkspace(g.RepoPath())
	if err != nil {
		return nil, fmt.Errorf("load workspace config: %w", err)
	}

	m := &Manager{
		git:     g,
		root:    g.RepoPath(),
		cfg:     cfg,
		logger:  slog.Default(),
		suffix:  randomSuffix,
		tracked: make(map[string]*Info),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.BranchPrefix == "" {
		m.cfg.BranchPrefix = config.DefaultWorkspace().BranchPrefix
	}
	if m.cfg.RootDir == "" {
		m.cfg.RootDir = config.DefaultWorkspace().RootDir
	}
	return m, nil
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

// Root returns the primary checkout path.
func (m *Manager) Root() string {
	return m.root
}

// Config returns the effective workspace settings.
func (m *Manager) Config() config.WorkspaceConfig {
	return m.cfg
}

// RootDir returns the absolute directory holding workspaces.
func (m *Manager) RootDir() string {
	if filepath.IsAbs(m.cfg.RootDir) {
		return m.cfg.RootDir
	}
	return filepath.Join(m.root, m.cfg.RootDir)
}

// CreateWorkspace creates a worktree on a fresh branch for taskID and copies
// preserved files into it.
func (m *Manager) CreateWorkspace(ctx context.Context, taskID string) (*Info, error) {
	branch := git.BranchName(m.cfg.BranchPrefix, taskID, m.suffix())
	if err := git.ValidateBranchName(branch); err != nil {
		metrics.Workspaces.WithLabelValues("create", "error").Inc()
		return nil, err
	}
	path := filepath.Join(m.RootDir(), git.DirName(branch))
	base := m.git.DetectBaseRef(ctx)

	if err := m.git.AddWorktree(ctx, path, branch, base); err != nil {
		metrics.Workspaces.WithLabelValues("create", "error").Inc()
		return nil, fmt.Errorf("create workspace for %s: %w", taskID, err)
	}
	metrics.Workspaces.WithLabelValues("create", "ok").Inc()

	report, err := m.PreserveFiles(m.root, path)
	if err != nil {
		m.logger.Warn("preserve files failed", "task_id", taskID, "path", path, "error", err)
	}

	info := &Info{
		ID:        IDForPath(path),
		TaskID:    taskID,
		Branch:    branch,
		Path:      path,
		Status:    StatusActive,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.tracked[info.ID] = info
	m.mu.Unlock()

	m.logger.Info("workspace created",
		"task_id", taskID,
		"workspace_id", info.ID,
		"branch", branch,
		"base", base,
		"path", path,
		"preserved", len(report.Copied),
		"skipped", len(report.Skipped),
	)

	cp := *info
	return &cp, nil
}

// RemoveWorkspace force-removes the worktree for id, prunes git metadata and
// deletes its branch. The primary checkout is never removed.
func (m *Manager) RemoveWorkspace(ctx context.Context, id string) error {
	info, primary, err := m.resolve(ctx, id)
	if err != nil {
		return err
	}
	if primary || git.SamePath(info.Path, m.root) {
		m.logger.Warn("refused to remove primary checkout", "workspace_id", id, "path", info.Path)
		return fmt.Errorf("%w: %s", ErrPrimaryCheckout, info.Path)
	}

	if err := m.git.RemoveWorktree(ctx, info.Path); err != nil {
		metrics.Workspaces.WithLabelValues("remove", "error").Inc()
		return fmt.Errorf("remove workspace %s: %w", id, err)
	}
	metrics.Workspaces.WithLabelValues("remove", "ok").Inc()

	if err := m.git.PruneWorktrees(ctx); err != nil {
		m.logger.Warn("prune worktrees failed", "error", err)
	}
	if info.Branch != "" && info.Branch != "(detached)" {
		if err := m.git.DeleteBranch(ctx, info.Branch, true); err != nil {
			m.logger.Warn("delete workspace branch failed", "branch", info.Branch, "error", err)
		}
	}

	m.mu.Lock()
	delete(m.tracked, id)
	m.mu.Unlock()

	m.logger.Info("workspace removed", "workspace_id", id, "path", info.Path)
	return nil
}

// resolve finds id among tracked workspaces, then among every worktree git
// knows about, including the primary checkout.
func (m *Manager) resolve(ctx context.Context, id string) (Info, bool, error) {
	m.mu.RLock()
	if info, ok := m.tracked[id]; ok {
		cp := *info
		m.mu.RUnlock()
		return cp, false, nil
	}
	m.mu.RUnlock()

	wts, err := m.git.ListWorktrees(ctx)
	if err != nil {
		return Info{}, false, err
	}
	for _, wt := range wts {
		if IDForPath(wt.Path) == id {
			return m.fromWorktree(wt), wt.Primary, nil
		}
	}
	return Info{}, false, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, id)
}

// ListWorkspaces returns every isolated worktree known to git, excluding the
// primary checkout, so workspaces survive a restart of this process.
func (m *Manager) ListWorkspaces(ctx context.Context) ([]Info, error) {
	wts, err := m.git.ListWorktrees(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(wts))
	for _, wt := range wts {
		if wt.Primary || git.SamePath(wt.Path, m.root) {
			continue
		}
		out = append(out, m.fromWorktree(wt))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *Manager) fromWorktree(wt git.WorktreeInfo) Info {
	id := IDForPath(wt.Path)

	m.mu.RLock()
	tracked, ok := m.tracked[id]
	m.mu.RUnlock()
	if ok {
		return *tracked
	}

	return Info{
		ID:     id,
		TaskID: m.taskFromBranch(wt.Branch),
		Branch: wt.Branch,
		Path:   wt.Path,
		Status: StatusActive,
	}
}

// taskFromBranch recovers the sanitized task id from <prefix><id>-<suffix>.
func (m *Manager) taskFromBranch(branch string) string {
	if !strings.HasPrefix(branch, m.cfg.BranchPrefix) {
		return ""
	}
	rest := strings.TrimPrefix(branch, m.cfg.BranchPrefix)
	if i := strings.LastIndexByte(rest, '-'); i > 0 {
		return rest[:i]
	}
	return rest
}

// Get returns the workspace with id.
func (m *Manager) Get(ctx context.Context, id string) (Info, error) {
	info, primary, err := m.resolve(ctx, id)
	if err != nil {
		return Info{}, err
	}
	if primary {
		return Info{}, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, id)
	}
	return info, nil
}

// SetStatus records the lifecycle status of a tracked workspace.
func (m *Manager) SetStatus(id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.tracked[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkspaceNotFound, id)
	}
	info.Status = status
	return nil
}
