package watch

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/deegee85/negotiation-lab/internal/store"
)

// WebSocketHandler upgrades observer requests and streams the session
// transcript: the backlog on connect, then live turns via the manager.
type WebSocketHandler struct {
	sessions      store.SessionStore
	mgr           *Manager
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates an observer WebSocket handler.
func NewWebSocketHandler(sessions store.SessionStore, mgr *Manager, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		sessions:      sessions,
		mgr:           mgr,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	handle := r.URL.Query().Get("session_id")
	if handle == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}

	session, err := h.sessions.Get(handle)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept observer WebSocket", "error", err, "session_id", handle)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "observer disconnected"); closeErr != nil {
			slog.Debug("Failed to close observer websocket", "error", closeErr)
		}
	}()

	// Send the transcript so far before registering for live turns.
	backlog, err := json.Marshal(map[string]interface{}{
		"type":  "backlog",
		"turns": session.Turns(),
	})
	if err == nil {
		if err := ws.Write(r.Context(), websocket.MessageText, backlog); err != nil {
			slog.Debug("Failed to send transcript backlog", "error", err, "session_id", handle)
			return
		}
	}

	id := h.mgr.Register(handle, ws)
	defer h.mgr.Unregister(handle, id)

	h.readLoop(r.Context(), ws, handle)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("Observer origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop drains the connection until the observer disconnects. Observers
// are read-only; inbound messages other than pings are ignored.
func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, handle string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("Observer WebSocket closed by client", "session_id", handle)
			} else {
				slog.Debug("Observer WebSocket read error", "error", err, "session_id", handle)
			}
			return
		}

		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			pong, _ := json.Marshal(map[string]string{"type": "pong"})
			if err := ws.Write(ctx, websocket.MessageText, pong); err != nil {
				slog.Debug("Failed to send pong", "error", err, "session_id", handle)
				return
			}
		}
	}
}
