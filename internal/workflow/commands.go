package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/randalmurphal/storyloop/internal/db"
	"github.com/randalmurphal/storyloop/internal/prd"
	"github.com/randalmurphal/storyloop/internal/textgen"
	"github.com/randalmurphal/storyloop/internal/workspace"
)

// Initialize enters initializing, acquires a workspace and materializes the
// stored PRD into it. A workspace failure leaves the session without a
// workspace instead of failing the call.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Phase.busy() {
		return invalidTransition(e.session.Phase, PhaseInitializing)
	}
	if err := e.transitionLocked(PhaseInitializing, "initialize"); err != nil {
		return err
	}
	e.session.LastFailure = ""
	e.resetCycle()
	e.acquireWorkspaceLocked(ctx)
	return nil
}

func (e *Engine) acquireWorkspaceLocked(ctx context.Context) {
	if e.session.WorkspacePath == "" {
		info, err := e.deps.Workspaces.CreateWorkspace(ctx, e.session.TaskID)
		if err != nil {
			e.deps.Logger.Warn("workspace creation failed, continuing without workspace", "error", err)
			return
		}
		e.session.WorkspaceID = info.ID
		e.session.WorkspacePath = info.Path
	}
	e.materializeLocked(ctx)
}

// materializeLocked writes the stored PRD into the workspace. Failures are logged.
func (e *Engine) materializeLocked(ctx context.Context) *prd.Document {
	doc, err := e.deps.Store.LoadPRD(ctx, e.session.TaskID)
	if err != nil {
		if errors.Is(err, db.ErrPRDNotFound) {
			e.deps.Logger.Debug("no stored prd to materialize")
		} else {
			e.deps.Logger.Warn("load prd failed", "error", err)
		}
		return nil
	}
	if e.session.WorkspacePath == "" {
		return doc
	}
	if err := prd.Materialize(e.session.WorkspacePath, doc); err != nil {
		e.deps.Logger.Warn("materialize prd failed", "error", err)
	}
	return doc
}

// StartPrdWizard enters prd_clarifying and asks the generator for questions.
func (e *Engine) StartPrdWizard(ctx context.Context, description string) ([]textgen.Question, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, fmt.Errorf("prd wizard: empty description")
	}

	e.mu.Lock()
	if err := e.transitionLocked(PhasePRDClarifying, "prd wizard"); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.session.Description = description
	e.session.Questions = nil
	e.mu.Unlock()

	questions, err := e.deps.Generator.Questions(ctx, description)
	if err != nil {
		e.deps.Logger.Warn("question generation failed", "error", err)
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Phase == PhasePRDClarifying {
		e.session.Questions = questions
	}
	return questions, nil
}

// GeneratePRD writes the PRD from the wizard description and answers,
// persists it and enters prd_reviewing. On failure the session returns to
// prd_clarifying.
func (e *Engine) GeneratePRD(ctx context.Context, answers []textgen.Answer) (*prd.Document, error) {
	e.mu.Lock()
	if e.session.Description == "" {
		e.mu.Unlock()
		return nil, fmt.Errorf("generate prd: start the prd wizard first")
	}
	if err := e.transitionLocked(PhasePRDGenerating, "generate prd"); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	description := e.session.Description
	questions := append([]textgen.Question(nil), e.session.Questions...)
	e.mu.Unlock()

	doc, genErr := e.deps.Generator.PRD(ctx, description, questions, answers)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Phase != PhasePRDGenerating {
		return nil, fmt.Errorf("generate prd: session moved to %s", e.session.Phase)
	}
	if genErr != nil {
		_ = e.transitionLocked(PhasePRDClarifying, "prd generation failed")
		return nil, genErr
	}

	doc.SetTaskID(e.session.TaskID)
	if err := e.deps.Store.SavePRD(ctx, doc); err != nil {
		_ = e.transitionLocked(PhasePRDClarifying, "prd save failed")
		return nil, fmt.Errorf("save prd: %w", err)
	}
	if err := e.transitionLocked(PhasePRDReviewing, "prd generated"); err != nil {
		return nil, err
	}
	return doc, nil
}

// ApprovePRD queues the task for execution.
func (e *Engine) ApprovePRD(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.session.Phase.IsPRD() {
		return invalidTransition(e.session.Phase, PhaseQueued)
	}
	return e.transitionLocked(PhaseQueued, "prd approved")
}

// StartExecution moves a queued task to initializing and acquires its workspace.
func (e *Engine) StartExecution(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Phase != PhaseQueued {
		return invalidTransition(e.session.Phase, PhaseInitializing)
	}
	if err := e.transitionLocked(PhaseInitializing, "start execution"); err != nil {
		return err
	}
	e.acquireWorkspaceLocked(ctx)
	return nil
}

// EnterPlanning selects the next unfinished story. When none remain the
// task moves on to completion.
func (e *Engine) EnterPlanning(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enterPlanningLocked(ctx, "enter planning")
}

func (e *Engine) enterPlanningLocked(ctx context.Context, reason string) error {
	if err := e.checkLocked(PhasePlanning); err != nil {
		return err
	}
	doc, err := e.deps.Store.LoadPRD(ctx, e.session.TaskID)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	if e.session.Phase != PhasePlanning {
		if err := e.transitionLocked(PhasePlanning, reason); err != nil {
			return err
		}
	}

	story, ok := doc.NextStory()
	if !ok {
		e.session.CurrentStoryID = ""
		return e.finishLocked()
	}
	if story.ID != e.session.CurrentStoryID {
		e.session.CurrentStoryID = story.ID
		e.session.Iteration = 0
		e.deps.Detector.Reset(e.session.ID)
	}
	e.deps.Logger.Info("story selected", "story_id", story.ID, "remaining", doc.Remaining())

	if e.cfg.AutoAdvance {
		return e.startCodingLocked(ctx, &story, "")
	}
	return nil
}

// finishLocked runs completion once every story passes.
func (e *Engine) finishLocked() error {
	if e.cfg.ReviewBeforeComplete {
		return e.transitionLocked(PhaseTaskReviewing, "all stories pass")
	}
	return e.completeLocked()
}

// Complete finishes a task waiting in task_reviewing.
func (e *Engine) Complete(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Phase != PhaseTaskReviewing {
		return invalidTransition(e.session.Phase, PhaseCompleting)
	}
	return e.completeLocked()
}

func (e *Engine) completeLocked() error {
	if err := e.transitionLocked(PhaseCompleting, "all stories pass"); err != nil {
		return err
	}
	e.setWorkspaceStatus(workspace.StatusCompleted)
	return e.transitionLocked(PhaseCompleted, "task complete")
}

func (e *Engine) setWorkspaceStatus(status workspace.Status) {
	if e.session.WorkspaceID == "" {
		return
	}
	if err := e.deps.Workspaces.SetStatus(e.session.WorkspaceID, status); err != nil {
		e.deps.Logger.Debug("set workspace status failed", "status", status, "error", err)
	}
}

// Stop abandons the task: the agent process is killed and any pending
// verification result is discarded.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.transitionLocked(PhaseStopped, "stopped"); err != nil {
		return err
	}
	e.haltLocked(OutcomeFailure)
	return nil
}

// Fail moves the task to failed with reason.
func (e *Engine) Fail(ctx context.Context, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failLocked(reason)
}

func (e *Engine) failLocked(reason string) error {
	if err := e.transitionLocked(PhaseFailed, reason); err != nil {
		return err
	}
	e.session.LastFailure = reason
	e.haltLocked(OutcomeFailure)
	e.setWorkspaceStatus(workspace.StatusError)
	return nil
}

// haltLocked cancels the cycle, kills the agent and closes the open iteration.
func (e *Engine) haltLocked(outcome Outcome) {
	e.cancelCycle()
	if err := e.deps.Runner.Kill(e.session.ID); err != nil {
		e.deps.Logger.Warn("kill agent failed", "error", err)
	}
	e.closeIterationLocked(outcome)
}
