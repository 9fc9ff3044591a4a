package realtime

import (
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Hub maintains session_id -> set of live socket connections. Room state
// lives in the classroom package; the hub only tracks sockets so they can be
// counted and force-closed on shutdown.
type Hub struct {
	// sessionID -> map[connection token]*Client
	sessions map[string]map[string]*Client
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessions: make(map[string]map[string]*Client),
		logger:   logger,
	}
}

// Register adds a connection and returns the session's connection count.
func (h *Hub) Register(c *Client) int {
	h.mu.Lock()
	if h.sessions[c.sessionID] == nil {
		h.sessions[c.sessionID] = make(map[string]*Client)
	}
	h.sessions[c.sessionID][c.token] = c
	count := len(h.sessions[c.sessionID])
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("participant_id", c.userID), zap.String("session_id", c.sessionID), zap.Int("connections", count))
	return count
}

// Unregister removes a connection and returns the remaining count for its session.
func (h *Hub) Unregister(c *Client) int {
	h.mu.Lock()
	var count int
	if m, ok := h.sessions[c.sessionID]; ok {
		delete(m, c.token)
		count = len(m)
		if count == 0 {
			delete(h.sessions, c.sessionID)
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("participant_id", c.userID), zap.String("session_id", c.sessionID), zap.Int("connections", count))
	return count
}

// Count returns the number of sockets connected to a session.
func (h *Hub) Count(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Total returns the number of sockets across all sessions.
func (h *Hub) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, m := range h.sessions {
		n += len(m)
	}
	return n
}

// CloseAll closes every socket; their pumps then unregister themselves.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var clients []*Client
	for _, m := range h.sessions {
		for _, c := range m {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range clients {
		_ = c.conn.Close()
	}
	if len(clients) > 0 {
		h.logger.Info("closed websocket connections", zap.Int("count", len(clients)))
	}
}
