package ws

import (
	"sync"
	"time"

	"github.com/whisper/roomchat/internal/protocol"
)

// Connection is one participant's channel into one room, as seen by the
// server.
type Connection struct {
	ID          string // connection ID (UUID)
	RoomID      string
	Participant protocol.Participant
	Conn        *Conn
	CreatedAt   time.Time
}

// ConnectionManager is a thread-safe registry of connections indexed by ID
// and by room.
type ConnectionManager struct {
	mu     sync.RWMutex
	byID   map[string]*Connection            // connection id -> Connection
	byRoom map[string]map[string]*Connection // room id -> connection id -> Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:   make(map[string]*Connection),
		byRoom: make(map[string]map[string]*Connection),
	}
}

// Add registers a connection.
func (cm *ConnectionManager) Add(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.byID[c.ID] = c
	room, ok := cm.byRoom[c.RoomID]
	if !ok {
		room = make(map[string]*Connection)
		cm.byRoom[c.RoomID] = room
	}
	room[c.ID] = c
}

// Remove unregisters a connection without closing it. Returns true if the
// connection was found, false if it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	c, ok := cm.byID[id]
	if !ok {
		return false
	}
	delete(cm.byID, id)
	if room, ok := cm.byRoom[c.RoomID]; ok {
		delete(room, id)
		if len(room) == 0 {
			delete(cm.byRoom, c.RoomID)
		}
	}
	return true
}

// Get returns the connection for the given ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byID[id]
}

// Count returns the current number of connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.byID)
}

// RoomCount returns the number of connections in a room.
func (cm *ConnectionManager) RoomCount(roomID string) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.byRoom[roomID])
}

// InRoom returns a snapshot of the connections in a room.
func (cm *ConnectionManager) InRoom(roomID string) []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	conns := make([]*Connection, 0, len(cm.byRoom[roomID]))
	for _, c := range cm.byRoom[roomID] {
		conns = append(conns, c)
	}
	return conns
}

// All returns a snapshot of all current connections.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	conns := make([]*Connection, 0, len(cm.byID))
	for _, c := range cm.byID {
		conns = append(conns, c)
	}
	return conns
}
