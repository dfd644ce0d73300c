package provider

import (
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"sync"
)

// DefaultID is the provider used when none is requested.
const DefaultID = "claude"

// ErrUnknownProvider is returned for ids with no registered provider.
var ErrUnknownProvider = errors.New("unknown provider")

// UnknownProviderError names the id that failed to resolve. It matches
// ErrUnknownProvider.
type UnknownProviderError struct {
	ID string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnknownProvider, e.ID)
}

func (e *UnknownProviderError) Is(target error) bool { return target == ErrUnknownProvider }

// Registry maps provider ids to providers. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	defaultID string
}

// NewRegistry returns a registry holding claude, codex and gemini with
// claude as the default.
func NewRegistry() *Registry {
	r := &Registry{
		providers: make(map[string]Provider),
		defaultID: DefaultID,
	}
	r.Register(Claude{})
	r.Register(Codex{})
	r.Register(Gemini{})
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// SetDefault changes the default provider id.
func (r *Registry) SetDefault(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[id]; !ok {
		return &UnknownProviderError{ID: id}
	}
	r.defaultID = id
	return nil
}

// Default returns the default provider.
func (r *Registry) Default() Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[r.defaultID]
}

// Get returns the provider for id. An empty id returns the default.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == "" {
		id = r.defaultID
	}
	p, ok := r.providers[id]
	if !ok {
		return nil, &UnknownProviderError{ID: id}
	}
	return p, nil
}

// List returns all providers sorted by id.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Available reports whether the provider's executable is on PATH.
func Available(p Provider) bool {
	_, err := exec.LookPath(p.Executable())
	return err == nil
}
