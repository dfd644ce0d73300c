// Package runner supervises coding-agent processes inside pseudo-terminals.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/randalmurphal/storyloop/internal/metrics"
	"github.com/randalmurphal/storyloop/internal/provider"
)

// ErrSessionActive is returned when a session already has a process in flight.
var ErrSessionActive = errors.New("agent process already running for session")

// StartError reports an agent CLI that could not be started in a pty.
type StartError struct {
	Executable string
	Hint       string
	Err        error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s in pty: %v", e.Executable, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

const (
	defaultFlushDelay = 500 * time.Millisecond
	defaultMaxBuffer  = 4 << 20
	maxCarry          = 64 << 10
	readChunk         = 4096
	drainTimeout      = 2 * time.Second
)

// DefaultEnvAllow lists the variables passed through to agent processes.
var DefaultEnvAllow = []string{
	"HOME", "USER", "LOGNAME", "SHELL", "PATH", "LANG", "LC_ALL", "TMPDIR",
	"ANTHROPIC_API_KEY", "CLAUDE_CODE_OAUTH_TOKEN", "OPENAI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY",
}

// ExitInfo describes how an agent process ended.
type ExitInfo struct {
	Code int
	// Signal is the terminating signal name, empty for a normal exit.
	Signal string
}

// SpawnOptions configures one agent run.
type SpawnOptions struct {
	SessionID   string
	ProviderID  string
	WorkDir     string
	Prompt      string
	AutoApprove bool
	Cols, Rows  uint16

	// OnData receives each output chunk in arrival order.
	OnData func(chunk string)
	// OnExit is called exactly once after the process ends.
	OnExit func(info ExitInfo)
}

// Handle identifies a running agent process.
type Handle struct {
	SessionID  string
	ProviderID string
	PID        int
	done       <-chan struct{}
}

// Done is closed after the process has exited and OnExit has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

type process struct {
	sessionID string
	cmd       *exec.Cmd
	pty       *os.File
	provider  provider.Provider
	buf       *outputBuffer
	onData    func(string)
	onExit    func(ExitInfo)

	completeOnce sync.Once
	done         chan struct{}
}

// Runner spawns and supervises one agent process per session.
type Runner struct {
	providers  *provider.Registry
	flushDelay time.Duration
	shell      string
	envAllow   []string
	maxBuffer  int
	lookupEnv  func(string) (string, bool)
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*process
	buffers  map[string]*outputBuffer
}

// Option configures a Runner.
type Option func(*Runner)

// WithFlushDelay sets how long output is still read after a completion signal.
func WithFlushDelay(d time.Duration) Option {
	return func(r *Runner) {
		if d >= 0 {
			r.flushDelay = d
		}
	}
}

// WithShell overrides the login shell.
func WithShell(shell string) Option {
	return func(r *Runner) { r.shell = shell }
}

// WithEnvAllow adds variable names to the environment allow-list.
func WithEnvAllow(names ...string) Option {
	return func(r *Runner) { r.envAllow = append(r.envAllow, names...) }
}

// WithMaxBuffer caps the retained output per session in bytes.
func WithMaxBuffer(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxBuffer = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Runner resolving providers from reg.
func New(reg *provider.Registry, opts ...Option) *Runner {
	r := &Runner{
		providers:  reg,
		flushDelay: defaultFlushDelay,
		envAllow:   append([]string(nil), DefaultEnvAllow...),
		maxBuffer:  defaultMaxBuffer,
		lookupEnv:  os.LookupEnv,
		logger:     slog.Default(),
		sessions:   make(map[string]*process),
		buffers:    make(map[string]*outputBuffer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Spawn starts the session's agent process and returns once it is running.
func (r *Runner) Spawn(ctx context.Context, opts SpawnOptions) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.SessionID == "" {
		return nil, fmt.Errorf("spawn: session id is required")
	}

	prov, err := r.providers.Get(opts.ProviderID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[opts.SessionID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionActive, opts.SessionID)
	}

	argv := provider.Command(prov, provider.Options{
		Prompt:      opts.Prompt,
		AutoApprove: opts.AutoApprove,
		WorkDir:     opts.WorkDir,
	})
	shell := resolveShell(r.shell, r.lookupEnv)
	line := loginCommand(shell, argv)

	cmd := exec.Command(line[0], line[1:]...)
	cmd.Dir = opts.WorkDir
	cmd.Env = buildEnv(r.envAllow, r.lookupEnv)

	size := &pty.Winsize{Cols: opts.Cols, Rows: opts.Rows}
	if size.Cols == 0 || size.Rows == 0 {
		size = &pty.Winsize{Cols: 120, Rows: 40}
	}

	f, err := pty.StartWithSize(cmd, size)
	if err != nil {
		metrics.AgentSpawns.WithLabelValues(prov.ID(), "error").Inc()
		return nil, &StartError{Executable: prov.Executable(), Hint: prov.InstallHint(), Err: err}
	}
	metrics.AgentSpawns.WithLabelValues(prov.ID(), "ok").Inc()

	buf := newOutputBuffer(r.maxBuffer)
	p := &process{
		sessionID: opts.SessionID,
		cmd:       cmd,
		pty:       f,
		provider:  prov,
		buf:       buf,
		onData:    opts.OnData,
		onExit:    opts.OnExit,
		done:      make(chan struct{}),
	}
	r.sessions[opts.SessionID] = p
	r.buffers[opts.SessionID] = buf

	r.logger.Info("agent spawned",
		"session_id", opts.SessionID,
		"provider", prov.ID(),
		"pid", cmd.Process.Pid,
		"workdir", opts.WorkDir,
	)

	go r.supervise(p)

	return &Handle{
		SessionID:  opts.SessionID,
		ProviderID: prov.ID(),
		PID:        cmd.Process.Pid,
		done:       p.done,
	}, nil
}

// supervise drains output, waits for exit and reports it exactly once.
func (r *Runner) supervise(p *process) {
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		r.readLoop(p)
	}()

	_ = p.cmd.Wait()

	// A grandchild holding the pty open would block the reader forever.
	select {
	case <-readDone:
	case <-time.After(drainTimeout):
		p.pty.Close()
		<-readDone
	}
	p.pty.Close()

	info := exitInfo(p.cmd.ProcessState)

	r.mu.Lock()
	if r.sessions[p.sessionID] == p {
		delete(r.sessions, p.sessionID)
	}
	r.mu.Unlock()

	r.logger.Info("agent exited",
		"session_id", p.sessionID,
		"code", info.Code,
		"signal", info.Signal,
	)

	if p.onExit != nil {
		p.onExit(info)
	}
	close(p.done)
}

func (r *Runner) readLoop(p *process) {
	data := make([]byte, readChunk)
	var carry string
	for {
		n, err := p.pty.Read(data)
		if n > 0 {
			chunk := string(data[:n])
			p.buf.Append(chunk)
			if p.onData != nil {
				p.onData(chunk)
			}

			// Markers may straddle reads, so detect over the unterminated
			// tail of the previous chunk plus this one.
			window := carry + chunk
			switch p.provider.DetectSignal(window) {
			case provider.SignalComplete:
				r.scheduleTermination(p)
			case provider.SignalError:
				r.logger.Warn("agent reported error signal", "session_id", p.sessionID)
			}
			carry = window
			if i := strings.LastIndexByte(carry, '\n'); i >= 0 {
				carry = carry[i+1:]
			}
			if len(carry) > maxCarry {
				carry = carry[len(carry)-maxCarry:]
			}
		}
		if err != nil {
			return
		}
	}
}

func (r *Runner) scheduleTermination(p *process) {
	p.completeOnce.Do(func() {
		r.logger.Debug("completion signal received", "session_id", p.sessionID, "flush_delay", r.flushDelay)
		time.AfterFunc(r.flushDelay, func() {
			select {
			case <-p.done:
				return
			default:
			}
			if err := killProcessGroup(p.cmd); err != nil {
				r.logger.Debug("terminate after completion", "session_id", p.sessionID, "error", err)
			}
		})
	})
}

func (r *Runner) lookup(sessionID string) *process {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID]
}

// Write forwards input to the session's terminal. Unknown sessions are ignored.
func (r *Runner) Write(sessionID string, data []byte) error {
	p := r.lookup(sessionID)
	if p == nil {
		return nil
	}
	if _, err := p.pty.Write(data); err != nil {
		return fmt.Errorf("write to session %s: %w", sessionID, err)
	}
	return nil
}

// Resize changes the terminal geometry. Unknown sessions are ignored.
func (r *Runner) Resize(sessionID string, cols, rows uint16) error {
	p := r.lookup(sessionID)
	if p == nil {
		return nil
	}
	if err := pty.Setsize(p.pty, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("resize session %s: %w", sessionID, err)
	}
	return nil
}

// Kill forcibly terminates the session's process. Unknown sessions are ignored.
func (r *Runner) Kill(sessionID string) error {
	p := r.lookup(sessionID)
	if p == nil {
		return nil
	}
	r.logger.Info("killing agent", "session_id", sessionID)
	if err := killProcessGroup(p.cmd); err != nil {
		return fmt.Errorf("kill session %s: %w", sessionID, err)
	}
	return nil
}

// Active reports whether the session has a process in flight.
func (r *Runner) Active(sessionID string) bool {
	return r.lookup(sessionID) != nil
}

// Output returns the buffered output of the session's most recent process.
func (r *Runner) Output(sessionID string) string {
	r.mu.Lock()
	buf := r.buffers[sessionID]
	r.mu.Unlock()
	if buf == nil {
		return ""
	}
	return buf.String()
}

// Forget drops the retained output of a session with no running process.
func (r *Runner) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, running := r.sessions[sessionID]; !running {
		delete(r.buffers, sessionID)
	}
}

// Shutdown kills every running process and waits for their exit callbacks.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	procs := make([]*process, 0, len(r.sessions))
	for _, p := range r.sessions {
		procs = append(procs, p)
	}
	r.mu.Unlock()

	for _, p := range procs {
		_ = killProcessGroup(p.cmd)
	}
	for _, p := range procs {
		select {
		case <-p.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
