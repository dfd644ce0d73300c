package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/randalmurphal/storyloop/internal/db"
	"github.com/randalmurphal/storyloop/internal/events"
	"github.com/randalmurphal/storyloop/internal/prd"
	"github.com/randalmurphal/storyloop/internal/runner"
	"github.com/randalmurphal/storyloop/internal/verify"
	"github.com/randalmurphal/storyloop/internal/workspace"
)

// maxHintOutput bounds the failure text carried into a retry prompt.
const maxHintOutput = 8000

// StartCoding spawns the agent on story, or on the current story when nil.
// It returns once the process is running; the exit is handled asynchronously
// by verification.
func (e *Engine) StartCoding(ctx context.Context, story *prd.Story, retryHint string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startCodingLocked(ctx, story, retryHint)
}

func (e *Engine) startCodingLocked(ctx context.Context, story *prd.Story, hint string) error {
	if err := e.checkLocked(PhaseCoding); err != nil {
		return err
	}
	if e.session.WorkspacePath == "" {
		return ErrWorkspaceRequired
	}

	doc := e.materializeLocked(ctx)
	if story == nil {
		s, err := e.resolveStory(doc, hint != "")
		if err != nil {
			return err
		}
		story = &s
	}
	if story.ID != e.session.CurrentStoryID {
		e.session.CurrentStoryID = story.ID
		e.session.Iteration = 0
		e.deps.Detector.Reset(e.session.ID)
	}

	it := Iteration{
		ID:        uuid.NewString(),
		StoryID:   story.ID,
		Attempt:   e.session.Iteration,
		Outcome:   OutcomeRunning,
		StartedAt: time.Now(),
	}
	prompt := prd.Prompt(*story, hint)

	// Spawn before entering coding so a failed start leaves the phase
	// unchanged. Callbacks block on mu until this returns.
	_, err := e.deps.Runner.Spawn(ctx, runner.SpawnOptions{
		SessionID:   e.session.ID,
		ProviderID:  e.session.ProviderID,
		WorkDir:     e.session.WorkspacePath,
		Prompt:      prompt,
		AutoApprove: e.cfg.AutoApprove,
		OnData:      func(chunk string) { e.handleData(it.ID, chunk) },
		OnExit:      func(info runner.ExitInfo) { e.handleExit(it.ID, info) },
	})
	if err != nil {
		e.deps.Logger.Error("agent spawn failed", "story_id", story.ID, "error", err)
		return fmt.Errorf("start coding: %w", err)
	}

	e.session.Iterations = append(e.session.Iterations, it)
	e.saveIterationLocked(it)
	reason := "start coding"
	if hint != "" {
		reason = "retry"
	}
	return e.transitionLocked(PhaseCoding, reason)
}

// resolveStory picks the current story, or the next unfinished one. A retry
// always stays on the current story.
func (e *Engine) resolveStory(doc *prd.Document, retry bool) (prd.Story, error) {
	if doc == nil {
		return prd.Story{}, fmt.Errorf("start coding: %w", db.ErrPRDNotFound)
	}
	if id := e.session.CurrentStoryID; id != "" {
		if s, ok := doc.Story(id); ok && (retry || !s.Passes) {
			return s, nil
		}
	}
	s, ok := doc.NextStory()
	if !ok {
		return prd.Story{}, ErrNoStory
	}
	return s, nil
}

// handleData records a chunk against its iteration and publishes it.
func (e *Engine) handleData(iterationID, chunk string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if it := e.session.current(); it != nil && it.ID == iterationID {
		it.Output = append(it.Output, chunk)
	}
	e.session.LastActivity = time.Now()
	e.deps.Publisher.Publish(events.NewEvent(events.EventData, e.session.ID, chunk))
}

// handleExit runs on the runner's goroutine after the agent exits. It
// consolidates prd.json, enters verifying and runs verification without
// holding the lock.
func (e *Engine) handleExit(iterationID string, info runner.ExitInfo) {
	e.mu.Lock()
	it := e.session.current()
	if e.session.Phase != PhaseCoding || it == nil || it.ID != iterationID {
		e.mu.Unlock()
		return
	}
	ctx := e.cycle
	e.deps.Logger.Info("agent exited", "exit_code", info.Code, "signal", info.Signal, "story_id", it.StoryID)

	e.consolidateLocked(ctx)
	if err := e.transitionLocked(PhaseVerifying, fmt.Sprintf("agent exited with code %d", info.Code)); err != nil {
		e.mu.Unlock()
		return
	}
	workDir := e.session.WorkspacePath
	e.mu.Unlock()

	res, err := e.deps.Verifier.Verify(ctx, workDir)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Phase != PhaseVerifying || ctx.Err() != nil {
		return
	}
	e.handleVerificationLocked(ctx, res, err)
}

// consolidateLocked copies the agent-edited prd.json back into the store.
func (e *Engine) consolidateLocked(ctx context.Context) {
	doc, err := prd.Consolidate(e.session.WorkspacePath)
	if err != nil {
		if !errors.Is(err, prd.ErrNoDocument) {
			e.deps.Logger.Warn("consolidate prd failed", "error", err)
		}
		return
	}
	doc.SetTaskID(e.session.TaskID)
	// Only a passing verification marks the story in progress as done.
	for i := range doc.Stories {
		if doc.Stories[i].ID == e.session.CurrentStoryID {
			doc.Stories[i].Passes = false
		}
	}
	if err := e.deps.Store.SavePRD(ctx, doc); err != nil {
		e.deps.Logger.Warn("save consolidated prd failed", "error", err)
	}
}

func (e *Engine) handleVerificationLocked(ctx context.Context, res verify.Result, verr error) {
	storyID := e.session.CurrentStoryID

	if verr != nil {
		e.closeIterationLocked(OutcomeFailure)
		e.session.LastFailure = verr.Error()
		e.setWorkspaceStatus(workspace.StatusError)
		_ = e.transitionLocked(PhaseError, "verification could not run: "+verr.Error())
		return
	}

	if res.Passed {
		e.closeIterationLocked(OutcomeSuccess)
		if err := e.deps.Store.MarkStoryPassed(ctx, e.session.TaskID, storyID); err != nil {
			e.deps.Logger.Warn("mark story passed failed", "story_id", storyID, "error", err)
		}
		e.deps.Detector.Reset(e.session.ID)
		e.session.LastFailure = ""
		if err := e.transitionLocked(PhasePlanning, "verification passed"); err != nil {
			return
		}
		if e.cfg.AutoAdvance {
			if err := e.enterPlanningLocked(ctx, "next story"); err != nil {
				e.retryFailedLocked(err)
			}
		}
		return
	}

	e.closeIterationLocked(OutcomeFailure)
	output := res.Output
	e.session.LastFailure = output

	if e.session.Iteration >= e.session.MaxIterations {
		e.snapshotFailureLocked(ctx, output)
		e.setWorkspaceStatus(workspace.StatusError)
		_ = e.transitionLocked(PhaseError, fmt.Sprintf("%v: %d", ErrMaxIterations, e.session.MaxIterations))
		return
	}

	loop := e.deps.Detector.Check(e.session.ID, output)
	e.session.Iteration++
	e.snapshotFailureLocked(ctx, output)

	var hint string
	if loop.LoopDetected {
		e.deps.Logger.Warn("repeated failure detected", "similarity", loop.SimilarityScore, "count", loop.Count)
		if err := e.transitionLocked(PhaseCircularDetected, "repeated failure"); err != nil {
			return
		}
		hint = ChangeApproachHint(output)
	} else {
		hint = FixErrorsHint(output)
	}
	if err := e.startCodingLocked(ctx, nil, hint); err != nil {
		e.retryFailedLocked(err)
	}
}

// retryFailedLocked fails the task when an automatic step cannot proceed.
func (e *Engine) retryFailedLocked(err error) {
	_ = e.failLocked(err.Error())
}

func (e *Engine) snapshotFailureLocked(ctx context.Context, output string) {
	err := e.deps.Store.SaveFailure(ctx, db.FailureSnapshot{
		SessionID: e.session.ID,
		TaskID:    e.session.TaskID,
		StoryID:   e.session.CurrentStoryID,
		Attempt:   e.session.Iteration,
		Output:    output,
		CreatedAt: time.Now(),
	})
	if err != nil {
		e.deps.Logger.Warn("save failure snapshot failed", "error", err)
	}
}

// closeIterationLocked closes the open iteration, if any, with outcome.
func (e *Engine) closeIterationLocked(outcome Outcome) {
	it := e.session.current()
	if it == nil {
		return
	}
	it.Outcome = outcome
	it.EndedAt = time.Now()
	closed := *it
	e.saveIterationLocked(closed)
	e.deps.Publisher.Publish(events.NewEvent(events.EventIteration, e.session.ID, events.IterationData{
		IterationID: closed.ID,
		StoryID:     closed.StoryID,
		Outcome:     string(closed.Outcome),
		Attempt:     closed.Attempt,
	}))
}

func (e *Engine) saveIterationLocked(it Iteration) {
	err := e.deps.Store.SaveIteration(context.Background(), db.IterationRecord{
		ID:        it.ID,
		SessionID: e.session.ID,
		TaskID:    e.session.TaskID,
		StoryID:   it.StoryID,
		Attempt:   it.Attempt,
		Outcome:   string(it.Outcome),
		Output:    it.Text(),
		StartedAt: it.StartedAt,
		EndedAt:   it.EndedAt,
	})
	if err != nil {
		e.deps.Logger.Warn("save iteration failed", "iteration_id", it.ID, "error", err)
	}
}

// FixErrorsHint frames a plain retry around the failing output.
func FixErrorsHint(output string) string {
	return "The previous attempt failed verification. Fix these errors:\n\n```\n" +
		clip(output) + "\n```"
}

// ChangeApproachHint frames a retry after the same failure kept repeating.
func ChangeApproachHint(output string) string {
	return "Your recent attempts keep failing verification with the same error. " +
		"The current approach is not working. Step back, find the root cause, " +
		"and take a different approach instead of patching the same code again.\n\n" +
		"Most recent failure:\n```\n" + clip(output) + "\n```"
}

func clip(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxHintOutput {
		return s
	}
	cut := len(s) - maxHintOutput
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return "...[truncated]\n" + s[cut:]
}
