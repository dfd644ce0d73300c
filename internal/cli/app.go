package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/randalmurphal/storyloop/internal/config"
	"github.com/randalmurphal/storyloop/internal/db"
	"github.com/randalmurphal/storyloop/internal/events"
	"github.com/randalmurphal/storyloop/internal/loopdetect"
	"github.com/randalmurphal/storyloop/internal/provider"
	"github.com/randalmurphal/storyloop/internal/runner"
	"github.com/randalmurphal/storyloop/internal/session"
	"github.com/randalmurphal/storyloop/internal/textgen"
	"github.com/randalmurphal/storyloop/internal/verify"
	"github.com/randalmurphal/storyloop/internal/workflow"
	"github.com/randalmurphal/storyloop/internal/workspace"
)

// workspaces is what the CLI needs from the workspace manager.
type workspaces interface {
	CreateWorkspace(ctx context.Context, taskID string) (*workspace.Info, error)
	RemoveWorkspace(ctx context.Context, id string) error
	ListWorkspaces(ctx context.Context) ([]workspace.Info, error)
	SetStatus(id string, status workspace.Status) error
}

// noWorkspaces stands in when the project is not a git repository. Sessions
// still run their PRD phases but cannot code.
type noWorkspaces struct{ err error }

func (n noWorkspaces) CreateWorkspace(context.Context, string) (*workspace.Info, error) {
	return nil, n.err
}
func (n noWorkspaces) RemoveWorkspace(context.Context, string) error { return n.err }
func (n noWorkspaces) ListWorkspaces(context.Context) ([]workspace.Info, error) {
	return nil, n.err
}
func (n noWorkspaces) SetStatus(string, workspace.Status) error { return nil }

// engineOptions are per-command engine settings.
type engineOptions struct {
	autoAdvance          bool
	reviewBeforeComplete bool
}

// app wires every collaborator for one project.
type app struct {
	root   string
	cfg    *config.Config
	logger *slog.Logger

	db         *db.DB
	store      *db.Store
	providers  *provider.Registry
	runner     *runner.Runner
	detector   *loopdetect.Detector
	workspaces workspaces
	verifier   *verify.Runner
	textgen    *textgen.Service
	publisher  *events.MemoryPublisher
	sessions   *session.Registry
}

// openApp opens the project's database and builds the session registry.
func openApp(ctx context.Context, tc *config.TrackedConfig, opts engineOptions) (*app, error) {
	root, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("resolve project dir: %w", err)
	}
	cfg := tc.Config
	logger := slog.Default()

	providers := provider.NewRegistry()
	if err := providers.SetDefault(cfg.Provider); err != nil {
		return nil, err
	}

	d, err := db.OpenProject(ctx, root, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &app{
		root:      root,
		cfg:       cfg,
		logger:    logger,
		db:        d,
		store:     db.NewStore(d),
		providers: providers,
		runner: runner.New(providers,
			runner.WithFlushDelay(cfg.Runner.FlushDelay),
			runner.WithShell(cfg.Runner.Shell),
			runner.WithEnvAllow(cfg.Runner.EnvAllow...),
			runner.WithLogger(logger),
		),
		detector:  loopdetect.New(),
		verifier:  verify.New(cfg.Verify, logger),
		publisher: events.NewMemoryPublisher(),
	}

	mgr, err := workspace.NewManager(ctx, root, workspace.WithConfig(cfg.Workspace), workspace.WithLogger(logger))
	if err != nil {
		logger.Warn("workspaces unavailable", "error", err)
		a.workspaces = noWorkspaces{err: err}
	} else {
		a.workspaces = mgr
	}

	genProvider := cfg.TextGen.Provider
	if genProvider == "" {
		genProvider = cfg.Provider
	}
	gen, err := textgen.NewCommandGenerator(genProvider, root)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	a.textgen = textgen.NewService(gen, textgen.WithRetries(cfg.TextGen.Retries), textgen.WithLogger(logger))

	a.sessions = session.NewRegistry(func(taskID string) *workflow.Engine {
		return workflow.New(workflow.Config{
			TaskID:               taskID,
			ProviderID:           cfg.Provider,
			MaxIterations:        cfg.MaxIterations,
			AutoApprove:          cfg.AutoApprove,
			AutoAdvance:          opts.autoAdvance,
			ReviewBeforeComplete: opts.reviewBeforeComplete,
		}, workflow.Deps{
			Workspaces: a.workspaces,
			Runner:     a.runner,
			Verifier:   a.verifier,
			Detector:   a.detector,
			Store:      a.store,
			Generator:  a.textgen,
			Publisher:  a.publisher,
			Logger:     logger,
		})
	},
		session.WithCleanup(a.runner.Forget, a.detector.Forget),
		session.WithLogger(logger),
	)
	return a, nil
}

// Close stops every session, kills remaining agents and closes the database.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.sessions.EvictAll(ctx)
	shutdownErr := a.runner.Shutdown(ctx)
	a.publisher.Close()
	return errors.Join(shutdownErr, a.db.Close())
}
