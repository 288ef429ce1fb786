package server

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

type PlayerStatus string

const (
	StatusAvailable PlayerStatus = "available"
	StatusInvited   PlayerStatus = "invited"
	StatusInMatch   PlayerStatus = "in-match"
)

type Player struct {
	ID           string       `json:"id"`
	Username     string       `json:"username,omitempty"`
	SessionID    string       `json:"-"`
	Status       PlayerStatus `json:"status"`
	ConnectionID string       `json:"-"`
}

// PlayerRegistry tracks connected players keyed by player ID, with exactly
// one live Player per session token. All mutation funnels through the
// registry's methods; lookups return value copies.
type PlayerRegistry struct {
	players map[string]*Player
	mu      sync.RWMutex
}

func NewPlayerRegistry() *PlayerRegistry {
	return &PlayerRegistry{
		players: make(map[string]*Player),
	}
}

// Register creates a Player for the session, or refreshes the existing one
// (connection reference, and username when provided) on reconnect.
func (pr *PlayerRegistry) Register(sessionID, username, connectionID string) Player {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	for _, player := range pr.players {
		if player.SessionID == sessionID {
			player.ConnectionID = connectionID
			if username != "" {
				player.Username = username
			}
			return *player
		}
	}

	player := &Player{
		ID:           uuid.New().String(),
		Username:     username,
		SessionID:    sessionID,
		Status:       StatusAvailable,
		ConnectionID: connectionID,
	}
	pr.players[player.ID] = player
	return *player
}

func (pr *PlayerRegistry) GetPlayer(id string) (Player, bool) {
	pr.mu.RLock()
	defer pr.mu.RUnlock()

	player, exists := pr.players[id]
	if !exists {
		return Player{}, false
	}
	return *player, true
}

func (pr *PlayerRegistry) GetBySession(sessionID string) (Player, bool) {
	pr.mu.RLock()
	defer pr.mu.RUnlock()

	for _, player := range pr.players {
		if player.SessionID == sessionID {
			return *player, true
		}
	}
	return Player{}, false
}

// SetStatus fails silently (returns false) if the player is unknown.
func (pr *PlayerRegistry) SetStatus(id string, status PlayerStatus) bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	player, exists := pr.players[id]
	if !exists {
		return false
	}
	player.Status = status
	return true
}

func (pr *PlayerRegistry) SetUsername(id, username string) bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	player, exists := pr.players[id]
	if !exists {
		return false
	}
	player.Username = username
	return true
}

func (pr *PlayerRegistry) SetConnection(id, connectionID string) bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	player, exists := pr.players[id]
	if !exists {
		return false
	}
	player.ConnectionID = connectionID
	return true
}

// ReleaseInvited restores a player to "available" only while they are still
// "invited". A player who has been pulled into a match in the meantime keeps
// their status.
func (pr *PlayerRegistry) ReleaseInvited(id string) bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	player, exists := pr.players[id]
	if !exists || player.Status != StatusInvited {
		return false
	}
	player.Status = StatusAvailable
	return true
}

func (pr *PlayerRegistry) Remove(id string) bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	_, exists := pr.players[id]
	delete(pr.players, id)
	return exists
}

// ListAvailable returns available players that have set a username. Players
// who never picked a name stay out of discovery.
func (pr *PlayerRegistry) ListAvailable() []Player {
	pr.mu.RLock()
	defer pr.mu.RUnlock()

	available := make([]Player, 0, len(pr.players))
	for _, player := range pr.players {
		if player.Status != StatusAvailable {
			continue
		}
		if strings.TrimSpace(player.Username) == "" {
			continue
		}
		available = append(available, *player)
	}
	return available
}
