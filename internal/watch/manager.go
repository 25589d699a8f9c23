// Package watch streams live negotiation transcripts to observers over
// WebSocket connections.
package watch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/deegee85/negotiation-lab/internal/domain"
)

// Manager tracks active observer connections per session.
type Manager struct {
	mu     sync.RWMutex
	active map[string]map[int64]*websocket.Conn
	nextID int64
}

// NewManager creates an empty observer manager.
func NewManager() *Manager {
	return &Manager{
		active: make(map[string]map[int64]*websocket.Conn),
	}
}

// Register adds an observer connection for a session and returns its ID.
func (m *Manager) Register(handle string, conn *websocket.Conn) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	if _, exists := m.active[handle]; !exists {
		m.active[handle] = make(map[int64]*websocket.Conn)
	}
	m.active[handle][id] = conn
	slog.Info("Observer registered", "session_id", handle, "observer_id", id)
	return id
}

// Unregister removes an observer connection.
func (m *Manager) Unregister(handle string, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conns, ok := m.active[handle]; ok {
		if _, exists := conns[id]; exists {
			delete(conns, id)
			if len(conns) == 0 {
				delete(m.active, handle)
			}
			slog.Info("Observer unregistered", "session_id", handle, "observer_id", id)
		}
	}
}

// ObserverCount returns the number of observers for a session.
func (m *Manager) ObserverCount(handle string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[handle])
}

// BroadcastTurns pushes appended turns to every observer of the session.
// Write failures only drop the broadcast; the read loop notices the dead
// connection and unregisters it.
func (m *Manager) BroadcastTurns(handle string, turns []domain.Turn) {
	m.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(m.active[handle]))
	for _, conn := range m.active[handle] {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	if len(conns) == 0 {
		return
	}

	data, err := json.Marshal(map[string]interface{}{
		"type":  "turns",
		"turns": turns,
	})
	if err != nil {
		slog.Error("Failed to marshal turn broadcast", "error", err)
		return
	}

	for _, conn := range conns {
		if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
			slog.Debug("Observer write failed", "session_id", handle, "error", err)
		}
	}
}

// CloseSession terminates all observer connections for a session.
func (m *Manager) CloseSession(handle string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, ok := m.active[handle]
	if !ok {
		return
	}
	for id, conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
		slog.Info("Observer connection closed", "session_id", handle, "observer_id", id)
	}
	delete(m.active, handle)
}
