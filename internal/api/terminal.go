package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/randalmurphal/storyloop/internal/events"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB
)

// terminalMessage is a structured client frame. Frames that are not valid
// JSON objects with a known type are written to the agent verbatim.
type terminalMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
}

// handleTerminal attaches a websocket to the session's agent pty. Output
// chunks are pushed as text frames; text frames from the client become
// keystrokes.
func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	sessionID := e.ID()
	ch := e.Subscribe()
	logger := s.logger.With("session_id", sessionID)
	logger.Debug("terminal attached")

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.terminalReadPump(conn, sessionID, logger)
	}()
	s.terminalWritePump(conn, sessionID, ch, done)

	e.Unsubscribe(ch)
	logger.Debug("terminal detached")
}

// terminalReadPump forwards client frames to the runner until the peer goes away.
func (s *Server) terminalReadPump(conn *websocket.Conn, sessionID string, logger *slog.Logger) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("terminal connection closed unexpectedly", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		if err := s.handleTerminalFrame(sessionID, data); err != nil {
			logger.Debug("terminal input dropped", "error", err)
		}
	}
}

func (s *Server) handleTerminalFrame(sessionID string, data []byte) error {
	var msg terminalMessage
	if err := json.Unmarshal(data, &msg); err == nil {
		switch msg.Type {
		case "resize":
			return s.terminal.Resize(sessionID, msg.Cols, msg.Rows)
		case "input":
			return s.terminal.Write(sessionID, []byte(msg.Data))
		}
	}
	return s.terminal.Write(sessionID, data)
}

// terminalWritePump replays retained output, then pushes new chunks and
// pings until done is closed or a write fails.
func (s *Server) terminalWritePump(conn *websocket.Conn, sessionID string, ch <-chan events.Event, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	if backlog := s.terminal.Output(sessionID); backlog != "" {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(backlog)); err != nil {
			return
		}
	}

	for {
		select {
		case <-done:
			return
		case ev, ok := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			chunk, isChunk := ev.Data.(string)
			if ev.Type != events.EventData || !isChunk {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(chunk)); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
