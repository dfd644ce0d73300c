package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/randalmurphal/storyloop/internal/events"
)

// eventSnapshot is sent once when a stream opens so clients start from the
// current session state.
const eventSnapshot = "snapshot"

// eventPhaseChange follows every transition event with the full
// from/to/reason record.
const eventPhaseChange = "phase_change"

// sseWriter writes server-sent events and flushes after each one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

// writeEvent writes one named event with a JSON payload.
func (s *sseWriter) writeEvent(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// writeKeepAlive writes a comment line that clients ignore.
func (s *sseWriter) writeKeepAlive() error {
	if _, err := fmt.Fprint(s.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// handleStream relays a session's events until the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}

	ch := e.Subscribe()
	defer e.Unsubscribe(ch)

	sse, err := newSSEWriter(w)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := sse.writeEvent(eventSnapshot, e.Snapshot()); err != nil {
		return
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	logger := s.logger.With("session_id", e.ID())
	logger.Debug("stream opened")
	defer logger.Debug("stream closed")

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := sse.writeKeepAlive(); err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSessionEvent(sse, ev); err != nil {
				logger.Debug("stream write failed", "error", err)
				return
			}
		}
	}
}

// writeSessionEvent relays one session event. A data event carries the raw
// output chunk and a transition event carries the target phase, each as a
// JSON string.
func writeSessionEvent(sse *sseWriter, ev events.Event) error {
	switch ev.Type {
	case events.EventData:
		chunk, _ := ev.Data.(string)
		return sse.writeEvent(string(events.EventData), chunk)
	case events.EventTransition:
		td, ok := ev.Data.(events.TransitionData)
		if !ok {
			return nil
		}
		if err := sse.writeEvent(string(events.EventTransition), td.To); err != nil {
			return err
		}
		return sse.writeEvent(eventPhaseChange, td)
	}
	return sse.writeEvent(string(ev.Type), ev.Data)
}
