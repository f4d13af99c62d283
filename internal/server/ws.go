package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/arcfield/agentbridge/internal/domain"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The orchestrator sits behind trusted frontends; origin policy is
	// enforced there.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebsocket streams the session's canonical events over a websocket.
// The read side is drained only to observe close frames; this endpoint is
// one-way.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, ok := s.broker.Get(sessionID); !ok {
		writeError(w, domain.ErrSessionNotFound(sessionID))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	events := make(chan domain.CanonicalEvent, 64)
	unsubscribe := s.broker.Subscribe(sessionID, func(ev domain.CanonicalEvent) {
		select {
		case events <- ev:
		default:
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev := <-events:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("websocket write failed",
					slog.String("session_id", sessionID),
					slog.String("error", err.Error()))
				return
			}
		}
	}
}
