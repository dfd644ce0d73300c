// Package verify runs a project's test command in a workspace and reports
// whether the agent's changes pass.
package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
	"unicode/utf8"

	"github.com/randalmurphal/storyloop/internal/config"
	"github.com/randalmurphal/storyloop/internal/metrics"
)

// DefaultTimeout bounds a verification run when none is configured.
const DefaultTimeout = 10 * time.Minute

// maxOutput is how much of the combined output is kept, from the end.
const maxOutput = 64 * 1024

// ErrNoCommand is returned when no command is configured or detectable.
var ErrNoCommand = errors.New("no verification command configured or detected")

// Result is the outcome of one verification run.
type Result struct {
	Passed   bool          `json:"passed"`
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
	Command  string        `json:"command"`
	TimedOut bool          `json:"timedOut,omitempty"`
}

// Runner executes verification commands.
type Runner struct {
	command string
	timeout time.Duration
	shell   string
	logger  *slog.Logger
}

// New creates a Runner from the verify config.
func New(cfg config.VerifyConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{
		command: cfg.Command,
		timeout: timeout,
		shell:   detectShell(),
		logger:  logger,
	}
}

// Command returns the command that would run in workDir.
func (r *Runner) Command(workDir string) string {
	if r.command != "" {
		return r.command
	}
	return DetectCommand(workDir)
}

// Verify runs the command in workDir. A failing command is reported through
// Result.Passed; the error is reserved for being unable to run at all.
func (r *Runner) Verify(ctx context.Context, workDir string) (Result, error) {
	command := r.Command(workDir)
	if command == "" {
		return Result{}, ErrNoCommand
	}

	r.logger.Debug("running verification", "command", command, "workdir", workDir, "timeout", r.timeout)

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.shell, "-c", command)
	cmd.Dir = workDir
	// go.work in the main checkout would otherwise leak into worktrees.
	cmd.Env = append(os.Environ(), "GOWORK=off")
	cmd.WaitDelay = 2 * time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	runErr := cmd.Run()
	res := Result{
		Command:  command,
		Duration: time.Since(start),
	}

	if ctx.Err() != nil {
		return res, ctx.Err()
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		fmt.Fprintf(&out, "\n[TIMEOUT] verification exceeded %v", r.timeout)
	case runErr == nil:
		res.Passed = true
	case errors.As(runErr, &exitErr):
		// non-zero exit: a failed run, not an error
	default:
		metrics.ObserveVerification(false, runErr, res.Duration)
		return res, fmt.Errorf("run %q: %w", command, runErr)
	}

	res.Output = tail(out.String(), maxOutput)
	metrics.ObserveVerification(res.Passed, nil, res.Duration)

	if res.Passed {
		r.logger.Info("verification passed", "command", command, "duration", res.Duration)
	} else {
		r.logger.Info("verification failed", "command", command, "timed_out", res.TimedOut, "output_len", len(res.Output))
	}
	return res, nil
}

// detectShell prefers bash and falls back to sh.
func detectShell() string {
	if _, err := exec.LookPath("bash"); err == nil {
		return "bash"
	}
	return "sh"
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Keep the cut on a rune boundary.
	cut := len(s) - n
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return "...[truncated]\n" + s[cut:]
}
