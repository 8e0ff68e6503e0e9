package ws

import (
	"context"
	"log/slog"
	"sync"
)

// Toucher is the slice of the session registry the manager needs for
// heartbeat bookkeeping.
type Toucher interface {
	Touch(ctx context.Context, sessionID string) error
}

// Manager tracks which local connections belong to which room and delivers
// room broadcasts to them.
type Manager struct {
	touch  Toucher
	logger *slog.Logger

	mu    sync.RWMutex
	rooms map[int64]map[string]Conn
}

// NewManager creates an empty Manager. touch may be nil when heartbeat
// bookkeeping is handled elsewhere.
func NewManager(touch Toucher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		touch:  touch,
		logger: logger,
		rooms:  make(map[int64]map[string]Conn),
	}
}

// UpdateHeartbeat refreshes a session's liveness. Connection state stays
// local; liveness itself lives in the registry.
func (m *Manager) UpdateHeartbeat(ctx context.Context, sessionID string) error {
	if m.touch == nil {
		return nil
	}
	return m.touch.Touch(ctx, sessionID)
}

// RegisterLocal adds a connection to a room.
func (m *Manager) RegisterLocal(roomID int64, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		room = make(map[string]Conn)
		m.rooms[roomID] = room
	}
	room[conn.ID()] = conn
}

// UnregisterLocal removes a connection from a room. The last connection out
// drops the room entry, which also stops the consumer from draining that
// room's queues here.
func (m *Manager) UnregisterLocal(roomID int64, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(m.rooms, roomID)
	}
}

// BroadcastToRoom writes data to every connection in the room. A failed
// write drops that connection and delivery continues; one dead socket never
// blocks the room.
func (m *Manager) BroadcastToRoom(roomID int64, data []byte) int {
	m.mu.RLock()
	conns := make([]Conn, 0, len(m.rooms[roomID]))
	for _, c := range m.rooms[roomID] {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	sent := 0
	for _, c := range conns {
		if err := c.Send(data); err != nil {
			m.logger.Warn("broadcast write failed, dropping connection",
				"room_id", roomID, "conn_id", c.ID(), "error", err)
			m.UnregisterLocal(roomID, c.ID())
			c.Close()
			continue
		}
		sent++
	}
	return sent
}

// Rooms returns the ids of rooms with at least one local connection.
func (m *Manager) Rooms() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int64, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	return ids
}

// LocalCount reports how many connections a room has on this node.
func (m *Manager) LocalCount(roomID int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[roomID])
}
