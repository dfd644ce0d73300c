// Package workflow implements the per-task state machine that takes a PRD
// story through coding, verification and retry.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/storyloop/internal/db"
	"github.com/randalmurphal/storyloop/internal/events"
	"github.com/randalmurphal/storyloop/internal/loopdetect"
	"github.com/randalmurphal/storyloop/internal/metrics"
	"github.com/randalmurphal/storyloop/internal/prd"
	"github.com/randalmurphal/storyloop/internal/runner"
	"github.com/randalmurphal/storyloop/internal/textgen"
	"github.com/randalmurphal/storyloop/internal/verify"
	"github.com/randalmurphal/storyloop/internal/workspace"
)

var (
	// ErrInvalidTransition is returned when a command is not valid in the current phase.
	ErrInvalidTransition = errors.New("invalid phase transition")
	// ErrWorkspaceRequired is returned when coding is requested without a workspace.
	ErrWorkspaceRequired = errors.New("workspace required before coding")
	// ErrNoStory is returned when coding is requested but every story passes.
	ErrNoStory = errors.New("no unfinished story")
	// ErrMaxIterations is attached to the error phase when the retry budget is spent.
	ErrMaxIterations = errors.New("maximum iterations reached")
)

// TransitionError reports a command issued in a phase that does not allow it.
// It matches ErrInvalidTransition.
type TransitionError struct {
	From Phase
	To   Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

func invalidTransition(from, to Phase) error {
	return &TransitionError{From: from, To: to}
}

// Workspaces creates isolated checkouts.
type Workspaces interface {
	CreateWorkspace(ctx context.Context, taskID string) (*workspace.Info, error)
	SetStatus(id string, status workspace.Status) error
}

// Runner supervises agent processes.
type Runner interface {
	Spawn(ctx context.Context, opts runner.SpawnOptions) (*runner.Handle, error)
	Kill(sessionID string) error
}

// Verifier runs the project's test command.
type Verifier interface {
	Verify(ctx context.Context, workDir string) (verify.Result, error)
}

// LoopDetector flags repeated verification failures per session.
type LoopDetector interface {
	Check(sessionID, failureText string) loopdetect.Result
	Reset(sessionID string)
}

// Store is the authoritative record of PRDs and attempts.
type Store interface {
	LoadPRD(ctx context.Context, taskID string) (*prd.Document, error)
	SavePRD(ctx context.Context, doc *prd.Document) error
	MarkStoryPassed(ctx context.Context, taskID, storyID string) error
	SaveIteration(ctx context.Context, rec db.IterationRecord) error
	SaveFailure(ctx context.Context, f db.FailureSnapshot) error
}

// QuestionGenerator produces clarifying questions and PRDs.
type QuestionGenerator interface {
	Questions(ctx context.Context, description string) ([]textgen.Question, error)
	PRD(ctx context.Context, description string, questions []textgen.Question, answers []textgen.Answer) (*prd.Document, error)
}

// Config holds per-engine settings.
type Config struct {
	TaskID        string
	ProviderID    string
	MaxIterations int
	AutoApprove   bool
	// AutoAdvance selects and codes the next story whenever planning is entered.
	AutoAdvance bool
	// ReviewBeforeComplete stops in task_reviewing once every story passes.
	ReviewBeforeComplete bool
}

// Deps are the engine's collaborators.
type Deps struct {
	Workspaces Workspaces
	Runner     Runner
	Verifier   Verifier
	Detector   LoopDetector
	Store      Store
	Generator  QuestionGenerator
	Publisher  events.Publisher
	Logger     *slog.Logger
}

// Engine drives one task. All transitions are serialized by mu; runner
// callbacks take the same lock.
type Engine struct {
	cfg  Config
	deps Deps

	mu      sync.Mutex
	session Session
	// cycle is cancelled by Stop to abandon an in-flight verification.
	cycle       context.Context
	cancelCycle context.CancelFunc
}

// New creates an engine in the idle phase.
func New(cfg Config, deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	now := time.Now()
	e := &Engine{
		cfg:  cfg,
		deps: deps,
		session: Session{
			ID:            SessionID(cfg.TaskID),
			TaskID:        cfg.TaskID,
			ProviderID:    cfg.ProviderID,
			Phase:         PhaseIdle,
			MaxIterations: cfg.MaxIterations,
			StartedAt:     now,
			LastActivity:  now,
		},
	}
	e.deps.Logger = deps.Logger.With("session_id", e.session.ID, "task_id", cfg.TaskID)
	e.resetCycle()
	return e
}

// ID returns the session id.
func (e *Engine) ID() string {
	return e.session.ID
}

// TaskID returns the task id.
func (e *Engine) TaskID() string {
	return e.session.TaskID
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Phase
}

// Snapshot returns a copy of the session state.
func (e *Engine) Snapshot() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.clone()
}

// Subscribe returns a channel of this session's events.
func (e *Engine) Subscribe() <-chan events.Event {
	return e.deps.Publisher.Subscribe(e.session.ID)
}

// Unsubscribe detaches a channel returned by Subscribe.
func (e *Engine) Unsubscribe(ch <-chan events.Event) {
	e.deps.Publisher.Unsubscribe(e.session.ID, ch)
}

// transitionLocked moves to `to`, or returns ErrInvalidTransition.
func (e *Engine) transitionLocked(to Phase, reason string) error {
	from := e.session.Phase
	if !CanTransition(from, to) {
		return invalidTransition(from, to)
	}
	e.session.Phase = to
	e.session.LastActivity = time.Now()

	metrics.PhaseTransitions.WithLabelValues(string(to)).Inc()
	e.deps.Publisher.Publish(events.NewEvent(events.EventTransition, e.session.ID, events.TransitionData{
		From:   string(from),
		To:     string(to),
		Reason: reason,
	}))
	e.deps.Logger.Info("phase transition", "from", from, "phase", to, "reason", reason)
	return nil
}

// checkLocked reports whether to is reachable without transitioning.
func (e *Engine) checkLocked(to Phase) error {
	if !CanTransition(e.session.Phase, to) {
		return invalidTransition(e.session.Phase, to)
	}
	return nil
}

func (e *Engine) resetCycle() {
	if e.cancelCycle != nil {
		e.cancelCycle()
	}
	e.cycle, e.cancelCycle = context.WithCancel(context.Background())
}
