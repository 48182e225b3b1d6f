package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"image-converter-go/internal/progress"
)

const wsWriteTimeout = 5 * time.Second

// handleWebSocket streams the progress frames of one session until the
// session ends or the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		s.writeError(w, "session_id is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := s.broker.Subscribe(ctx, sessionID)
	if err != nil {
		s.log.WithError(err).WithField("session", sessionID).Error("Progress subscription failed")
		s.writeError(w, "progress stream unavailable", http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = sessionID
	s.wsMutex.Unlock()

	log := s.log.WithField("session", sessionID)
	log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		log.Debug("WebSocket client disconnected")
	}()

	// a reader is required to notice the client closing
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// late joiners first get the current state
	if st, ok := s.coord.Session(sessionID); ok {
		frame := progress.Frame{Progress: st.Percent, Status: string(st.Status)}
		if err := s.writeFrame(conn, frame); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			if err := s.writeFrame(conn, progress.FrameFromEvent(e)); err != nil {
				log.WithError(err).Debug("Failed to write progress frame")
				return
			}
		}
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, f progress.Frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(f)
}
