package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const invitationTimeout = 30 * time.Second

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
	InvitationExpired  InvitationStatus = "expired"
)

type Invitation struct {
	ID        string           `json:"id"`
	From      Player           `json:"from"`
	To        Player           `json:"to"`
	Status    InvitationStatus `json:"status"`
	CreatedAt int64            `json:"createdAt"` // unix millis
}

// InvitationRegistry tracks pending match invitations with a 30 second
// expiry. Only one transition out of "pending" can ever happen: accept,
// decline and the expiry timer all re-check the status under the lock, so
// whichever fires first wins and the rest are no-ops.
type InvitationRegistry struct {
	invitations map[string]*Invitation
	timers      map[string]clockwork.Timer
	clock       clockwork.Clock
	players     *PlayerRegistry
	onExpired   func(Invitation)
	mu          sync.Mutex
}

// NewInvitationRegistry creates the registry. onExpired is invoked (outside
// the lock) after an invitation expires and both players have been restored
// to "available"; it may be nil.
func NewInvitationRegistry(players *PlayerRegistry, clock clockwork.Clock, onExpired func(Invitation)) *InvitationRegistry {
	return &InvitationRegistry{
		invitations: make(map[string]*Invitation),
		timers:      make(map[string]clockwork.Timer),
		clock:       clock,
		players:     players,
		onExpired:   onExpired,
	}
}

// Create registers a pending invitation and marks both players "invited".
// The caller has already verified the target is available.
func (ir *InvitationRegistry) Create(from, to Player) Invitation {
	invitation := &Invitation{
		ID:        uuid.New().String(),
		From:      from,
		To:        to,
		Status:    InvitationPending,
		CreatedAt: ir.clock.Now().UnixMilli(),
	}

	ir.mu.Lock()
	ir.invitations[invitation.ID] = invitation
	ir.timers[invitation.ID] = ir.clock.AfterFunc(invitationTimeout, func() {
		ir.expire(invitation.ID)
	})
	snapshot := *invitation
	ir.mu.Unlock()

	ir.players.SetStatus(from.ID, StatusInvited)
	ir.players.SetStatus(to.ID, StatusInvited)

	return snapshot
}

func (ir *InvitationRegistry) Get(id string) (Invitation, bool) {
	ir.mu.Lock()
	defer ir.mu.Unlock()

	invitation, exists := ir.invitations[id]
	if !exists {
		return Invitation{}, false
	}
	return *invitation, true
}

// Accept transitions pending → accepted and cancels the expiry timer.
// Returns false if the invitation is unknown or no longer pending, which
// covers double-accept and accept-after-expiry.
func (ir *InvitationRegistry) Accept(id string) (Invitation, bool) {
	ir.mu.Lock()
	defer ir.mu.Unlock()

	invitation, exists := ir.invitations[id]
	if !exists || invitation.Status != InvitationPending {
		return Invitation{}, false
	}

	invitation.Status = InvitationAccepted
	ir.cancelTimerLocked(id)
	return *invitation, true
}

// Decline transitions pending → declined and cancels the expiry timer. Both
// players return to "available" unless a match has already claimed them.
func (ir *InvitationRegistry) Decline(id string) (Invitation, bool) {
	ir.mu.Lock()
	invitation, exists := ir.invitations[id]
	if !exists || invitation.Status != InvitationPending {
		ir.mu.Unlock()
		return Invitation{}, false
	}

	invitation.Status = InvitationDeclined
	ir.cancelTimerLocked(id)
	snapshot := *invitation
	ir.mu.Unlock()

	ir.players.ReleaseInvited(snapshot.From.ID)
	ir.players.ReleaseInvited(snapshot.To.ID)
	return snapshot, true
}

// Remove cancels any live timer and deletes the entry. Called after a
// successful accept once the match exists, so the id cannot be reused.
func (ir *InvitationRegistry) Remove(id string) bool {
	ir.mu.Lock()
	defer ir.mu.Unlock()

	ir.cancelTimerLocked(id)
	_, exists := ir.invitations[id]
	delete(ir.invitations, id)
	return exists
}

// expire fires from the timer 30s after creation. A concurrent accept or
// decline wins by flipping the status first.
func (ir *InvitationRegistry) expire(id string) {
	ir.mu.Lock()
	invitation, exists := ir.invitations[id]
	if !exists || invitation.Status != InvitationPending {
		ir.mu.Unlock()
		return
	}

	invitation.Status = InvitationExpired
	delete(ir.timers, id)
	snapshot := *invitation
	ir.mu.Unlock()

	log.Debug().Str("invitation_id", id).Msg("invitation expired")

	ir.players.ReleaseInvited(snapshot.From.ID)
	ir.players.ReleaseInvited(snapshot.To.ID)

	if ir.onExpired != nil {
		ir.onExpired(snapshot)
	}
}

func (ir *InvitationRegistry) cancelTimerLocked(id string) {
	if timer, exists := ir.timers[id]; exists {
		timer.Stop()
		delete(ir.timers, id)
	}
}
