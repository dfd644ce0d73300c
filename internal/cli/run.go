package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/randalmurphal/storyloop/internal/db"
	apperrors "github.com/randalmurphal/storyloop/internal/errors"
	"github.com/randalmurphal/storyloop/internal/events"
	"github.com/randalmurphal/storyloop/internal/prd"
	"github.com/randalmurphal/storyloop/internal/workflow"
)

// errTaskFailed is returned when a run ends anywhere but completed.
var errTaskFailed = errors.New("task did not complete")

func newRunCmd() *cobra.Command {
	var prdFile string
	var review bool

	cmd := &cobra.Command{
		Use:   "run <task-id>",
		Short: "Execute every story of a task's PRD",
		Long: `Run the task's PRD to completion. Each unfinished story is coded by the
agent in the task's worktree and verified with the project's test command;
failures are retried with the failing output until the story passes or the
retry budget is spent.

Agent output streams to the terminal and lines typed on stdin are sent to
the agent. Ctrl+C stops the task.

Example:
  storyloop run T-1
  storyloop run T-1 --prd prd.json     # import the PRD first`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]
			tc, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, tc, engineOptions{autoAdvance: true, reviewBeforeComplete: review})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if prdFile != "" {
				if err := importPRD(ctx, a.store, taskID, prdFile); err != nil {
					return err
				}
			}
			return runTask(ctx, a, taskID, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&prdFile, "prd", "", "import this prd.json before running")
	cmd.Flags().BoolVar(&review, "review", false, "stop for review once every story passes")
	return cmd
}

// importPRD stores a prd.json file for taskID.
func importPRD(ctx context.Context, store *db.Store, taskID, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read prd: %w", err)
	}
	doc, err := prd.Parse(data)
	if err != nil {
		return err
	}
	doc.SetTaskID(taskID)
	return store.SavePRD(ctx, doc)
}

// runTask drives one engine with auto-advance until it reaches a resting phase.
func runTask(ctx context.Context, a *app, taskID string, out io.Writer) error {
	e, _ := a.sessions.GetOrCreate(taskID)
	ch := e.Subscribe()
	defer e.Unsubscribe(ch)

	styles := newRunStyles(out)
	sessionID := e.ID()

	if err := e.Initialize(ctx); err != nil {
		return err
	}
	if e.Snapshot().WorkspacePath == "" {
		return fmt.Errorf("task %s: %w", taskID, workflow.ErrWorkspaceRequired)
	}
	if err := e.EnterPlanning(ctx); err != nil {
		return err
	}

	go forwardInput(ctx, os.Stdin, func(line []byte) {
		if err := a.runner.Write(sessionID, line); err != nil {
			a.logger.Debug("input dropped", "error", err)
		}
	})

	winch := make(chan os.Signal, 1)
	notifyResize(winch)
	defer signal.Stop(winch)

	// Events can be dropped under load, so the phase is also polled.
	poll := time.NewTicker(time.Second)
	defer poll.Stop()

	for {
		select {
		case <-poll.C:
			if restingPhase(e.Phase()) {
				return finish(e, out, styles)
			}
		case <-ctx.Done():
			_ = e.Stop(context.Background())
			_, _ = fmt.Fprintln(out, styles.failed.Render("stopped"))
			return ctx.Err()
		case <-winch:
			resizeAgent(a, sessionID)
		case ev, ok := <-ch:
			if !ok {
				return finish(e, out, styles)
			}
			switch ev.Type {
			case events.EventData:
				if chunk, ok := ev.Data.(string); ok {
					_, _ = io.WriteString(out, chunk)
				}
			case events.EventTransition:
				td, ok := ev.Data.(events.TransitionData)
				if !ok {
					continue
				}
				_, _ = fmt.Fprintln(out, styles.banner(workflow.Phase(td.To), td.Reason))
				switch to := workflow.Phase(td.To); {
				case to == workflow.PhaseCoding:
					resizeAgent(a, sessionID)
				case restingPhase(to):
					return finish(e, out, styles)
				}
			}
		}
	}
}

// restingPhase reports whether a run has nothing left to do on its own.
func restingPhase(p workflow.Phase) bool {
	return p.IsTerminal() || p == workflow.PhaseTaskReviewing
}

func finish(e *workflow.Engine, out io.Writer, styles runStyles) error {
	s := e.Snapshot()
	switch s.Phase {
	case workflow.PhaseCompleted:
		_, _ = fmt.Fprintln(out, styles.passed.Render(fmt.Sprintf("task %s completed", s.TaskID)))
		return nil
	case workflow.PhaseTaskReviewing:
		_, _ = fmt.Fprintln(out, styles.passed.Render(fmt.Sprintf("task %s ready for review", s.TaskID)))
		return nil
	}
	if s.LastFailure != "" {
		_, _ = fmt.Fprintln(out, styles.failed.Render("last failure:"))
		_, _ = fmt.Fprintln(out, s.LastFailure)
	}
	if s.Phase == workflow.PhaseError && s.Iteration >= s.MaxIterations {
		return apperrors.ErrMaxIterations(s.CurrentStoryID, s.MaxIterations).WithCause(errTaskFailed)
	}
	return fmt.Errorf("%w: ended in %s", errTaskFailed, s.Phase)
}

// forwardInput sends each stdin line to fn until ctx ends or stdin closes.
func forwardInput(ctx context.Context, in io.Reader, fn func([]byte)) {
	r := bufio.NewReader(in)
	for ctx.Err() == nil {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			fn(line)
		}
		if err != nil {
			return
		}
	}
}

// resizeAgent matches the agent pty to the controlling terminal.
func resizeAgent(a *app, sessionID string) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return
	}
	cols, rows, err := term.GetSize(fd)
	if err != nil || cols <= 0 || rows <= 0 {
		return
	}
	if err := a.runner.Resize(sessionID, uint16(cols), uint16(rows)); err != nil {
		a.logger.Debug("resize agent failed", "error", err)
	}
}

// runStyles renders phase banners; plain text when out is not a terminal.
type runStyles struct {
	phase  lipgloss.Style
	reason lipgloss.Style
	passed lipgloss.Style
	failed lipgloss.Style
}

func newRunStyles(out io.Writer) runStyles {
	f, ok := out.(*os.File)
	if !ok || !isatty.IsTerminal(f.Fd()) {
		plain := lipgloss.NewStyle()
		return runStyles{phase: plain, reason: plain, passed: plain, failed: plain}
	}
	return runStyles{
		phase:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		reason: lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		passed: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		failed: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
}

func (s runStyles) banner(p workflow.Phase, reason string) string {
	line := "\n▶ " + s.phase.Render(string(p))
	if reason != "" {
		line += " " + s.reason.Render("("+reason+")")
	}
	return line
}
