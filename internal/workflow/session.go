package workflow

import (
	"strings"
	"time"

	"github.com/randalmurphal/storyloop/internal/textgen"
)

// Outcome is the result of one coding attempt.
type Outcome string

const (
	OutcomeRunning Outcome = "running"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Iteration is one coding attempt at a story. It is not modified once closed.
type Iteration struct {
	ID        string    `json:"id"`
	StoryID   string    `json:"storyId"`
	Attempt   int       `json:"attempt"`
	Output    []string  `json:"output,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitzero"`
}

// Closed reports whether the attempt has an outcome.
func (it *Iteration) Closed() bool {
	return it.Outcome != OutcomeRunning
}

// Text joins the captured output chunks.
func (it *Iteration) Text() string {
	return strings.Join(it.Output, "")
}

// Session is a point-in-time copy of an engine's state.
type Session struct {
	ID             string             `json:"id"`
	TaskID         string             `json:"taskId"`
	ProviderID     string             `json:"providerId"`
	Phase          Phase              `json:"phase"`
	Iteration      int                `json:"iteration"`
	MaxIterations  int                `json:"maxIterations"`
	CurrentStoryID string             `json:"currentStoryId,omitempty"`
	WorkspaceID    string             `json:"workspaceId,omitempty"`
	WorkspacePath  string             `json:"workspacePath,omitempty"`
	Description    string             `json:"description,omitempty"`
	Questions      []textgen.Question `json:"questions,omitempty"`
	StartedAt      time.Time          `json:"startedAt"`
	LastActivity   time.Time          `json:"lastActivity"`
	Iterations     []Iteration        `json:"iterations,omitempty"`
	LastFailure    string             `json:"lastFailure,omitempty"`
}

func (s *Session) clone() Session {
	cp := *s
	cp.Questions = append([]textgen.Question(nil), s.Questions...)
	cp.Iterations = make([]Iteration, len(s.Iterations))
	for i, it := range s.Iterations {
		it.Output = append([]string(nil), it.Output...)
		cp.Iterations[i] = it
	}
	return cp
}

// current returns the open iteration, if any.
func (s *Session) current() *Iteration {
	if n := len(s.Iterations); n > 0 && !s.Iterations[n-1].Closed() {
		return &s.Iterations[n-1]
	}
	return nil
}

// SessionID derives the session id for a task.
func SessionID(taskID string) string {
	return "session-" + taskID
}
