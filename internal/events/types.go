// Package events provides per-session event publishing for storyloop.
package events

import (
	"time"
)

// EventType defines the type of event.
type EventType string

const (
	// EventTransition indicates a phase change. Data is a TransitionData.
	EventTransition EventType = "transition"
	// EventData carries a raw output chunk from the agent process. Data is a string.
	EventData EventType = "data"
	// EventIteration indicates an iteration was closed. Data is an IterationData.
	EventIteration EventType = "iteration"
)

// Event represents a published event.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Data      any       `json:"data"`
	Time      time.Time `json:"time"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, sessionID string, data any) Event {
	return Event{
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
		Time:      time.Now(),
	}
}

// TransitionData describes a phase change.
type TransitionData struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// IterationData summarizes a closed iteration.
type IterationData struct {
	IterationID string `json:"iteration_id"`
	StoryID     string `json:"story_id"`
	Outcome     string `json:"outcome"`
	Attempt     int    `json:"attempt"`
}
