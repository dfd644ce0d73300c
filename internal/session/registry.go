// Package session holds the workflow engines of a host process, one per task.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/randalmurphal/storyloop/internal/metrics"
	"github.com/randalmurphal/storyloop/internal/workflow"
)

// Factory builds the engine for a task.
type Factory func(taskID string) *workflow.Engine

// Cleanup releases per-session state held outside the engine, such as
// retained agent output or loop-detector history.
type Cleanup func(sessionID string)

// Registry maps task ids to engines. Engines live until evicted.
type Registry struct {
	factory  Factory
	cleanups []Cleanup
	logger   *slog.Logger

	mu      sync.Mutex
	engines map[string]*workflow.Engine
}

// Option configures a Registry.
type Option func(*Registry)

// WithCleanup registers functions run on eviction.
func WithCleanup(fns ...Cleanup) Option {
	return func(r *Registry) { r.cleanups = append(r.cleanups, fns...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory, opts ...Option) *Registry {
	r := &Registry{
		factory: factory,
		engines: make(map[string]*workflow.Engine),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// GetOrCreate returns the engine for taskID, creating it on first use.
// The bool reports whether it was created by this call.
func (r *Registry) GetOrCreate(taskID string) (*workflow.Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.engines[taskID]; ok {
		return e, false
	}
	e := r.factory(taskID)
	r.engines[taskID] = e
	metrics.ActiveSessions.Set(float64(len(r.engines)))
	r.logger.Debug("session created", "task_id", taskID, "session_id", e.ID())
	return e, true
}

// Get returns the engine for taskID if present.
func (r *Registry) Get(taskID string) (*workflow.Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[taskID]
	return e, ok
}

// Evict stops and removes the engine for taskID. It reports whether one existed.
func (r *Registry) Evict(ctx context.Context, taskID string) bool {
	r.mu.Lock()
	e, ok := r.engines[taskID]
	if ok {
		delete(r.engines, taskID)
		metrics.ActiveSessions.Set(float64(len(r.engines)))
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	if err := e.Stop(ctx); err != nil && !errors.Is(err, workflow.ErrInvalidTransition) {
		r.logger.Warn("stop evicted session", "task_id", taskID, "error", err)
	}
	for _, fn := range r.cleanups {
		fn(e.ID())
	}
	r.logger.Info("session evicted", "task_id", taskID, "session_id", e.ID())
	return true
}

// List returns snapshots of every held session ordered by task id.
func (r *Registry) List() []workflow.Session {
	r.mu.Lock()
	engines := make([]*workflow.Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.mu.Unlock()

	out := make([]workflow.Session, 0, len(engines))
	for _, e := range engines {
		out = append(out, e.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// Len returns the number of held sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

// EvictAll stops and removes every session.
func (r *Registry) EvictAll(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Evict(ctx, id)
	}
}
