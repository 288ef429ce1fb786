package server

import (
	"sync"

	"github.com/coder/websocket"
)

// ConnectionManager maps transport connections to player identities. It
// enforces at most one live connection per player: binding a player to a new
// connection unbinds the old one, and the caller evicts the stale socket.
type ConnectionManager struct {
	connections   map[string]*websocket.Conn // connectionID → socket
	playersByConn map[string]string          // connectionID → playerID
	connsByPlayer map[string]string          // playerID → connectionID
	mu            sync.RWMutex
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections:   make(map[string]*websocket.Conn),
		playersByConn: make(map[string]string),
		connsByPlayer: make(map[string]string),
	}
}

func (cm *ConnectionManager) AddConnection(id string, conn *websocket.Conn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[id] = conn
}

func (cm *ConnectionManager) RemoveConnection(id string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	delete(cm.connections, id)
	if playerID, bound := cm.playersByConn[id]; bound {
		delete(cm.playersByConn, id)
		if cm.connsByPlayer[playerID] == id {
			delete(cm.connsByPlayer, playerID)
		}
	}
}

// Bind associates a connection with a player and returns the previously
// bound connection id, if any. The old connection loses its player binding
// immediately, so its disconnect handler cannot tear the player down.
func (cm *ConnectionManager) Bind(connectionID, playerID string) string {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	old := cm.connsByPlayer[playerID]
	if old == connectionID {
		return ""
	}
	if old != "" {
		delete(cm.playersByConn, old)
	}
	cm.playersByConn[connectionID] = playerID
	cm.connsByPlayer[playerID] = connectionID
	return old
}

// PlayerID returns the player bound to a connection, or "".
func (cm *ConnectionManager) PlayerID(connectionID string) string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.playersByConn[connectionID]
}

// GetConnection returns the socket for a connection id
func (cm *ConnectionManager) GetConnection(connectionID string) *websocket.Conn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.connections[connectionID]
}

// ConnectionForPlayer returns the player's live socket, or nil.
func (cm *ConnectionManager) ConnectionForPlayer(playerID string) *websocket.Conn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	connectionID, bound := cm.connsByPlayer[playerID]
	if !bound {
		return nil
	}
	return cm.connections[connectionID]
}

// AllConnections snapshots every live socket, for broadcasts.
func (cm *ConnectionManager) AllConnections() []*websocket.Conn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	conns := make([]*websocket.Conn, 0, len(cm.connections))
	for _, conn := range cm.connections {
		conns = append(conns, conn)
	}
	return conns
}
