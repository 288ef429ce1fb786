package server

import "shifumi-server/internal/shifumi"

// ============================================================================
// ERROR RESPONSES
// ============================================================================
type ErrorMessage struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ============================================================================
// CONNECT (connect / connection:success)
// ============================================================================
type ConnectRequest struct {
	SessionID string `json:"sessionId"`
	Username  string `json:"username,omitempty"`
}

type ConnectionSuccess struct {
	PlayerID string `json:"playerId"`
}

// ============================================================================
// PLAYER DISCOVERY (players:list broadcast)
// ============================================================================
type PlayersList struct {
	Players []Player `json:"players"`
}

// ============================================================================
// USERNAME (player:update:username)
// ============================================================================
type UpdateUsernameRequest struct {
	Username string `json:"username"`
}

// ============================================================================
// INVITATIONS (game:invite / game:invitation:*)
// ============================================================================
type InviteRequest struct {
	TargetPlayerID string `json:"targetPlayerId"`
}

type InvitationReceived struct {
	Invitation Invitation `json:"invitation"`
}

type AcceptInvitationRequest struct {
	InvitationID string `json:"invitationId"`
}

type DeclineInvitationRequest struct {
	InvitationID string `json:"invitationId"`
}

type InvitationDeclinedNotice struct {
	InvitationID string `json:"invitationId"`
}

// ============================================================================
// MATCH LIFECYCLE (game:started / game:leave / game:left)
// ============================================================================
type GameStarted struct {
	GameID   string `json:"gameId"`
	Game     Match  `json:"game"`
	Opponent Player `json:"opponent"`
}

type LeaveGameRequest struct {
	GameID string `json:"gameId"`
}

type GameLeft struct {
	GameID string `json:"gameId"`
}

type OpponentLeft struct {
	GameID string `json:"gameId"`
}

type OpponentDisconnected struct {
	GameID string `json:"gameId"`
}

// ============================================================================
// ROUNDS (game:start:round / game:move / game:round:*)
// ============================================================================
type StartRoundRequest struct {
	GameID string `json:"gameId"`
}

type MoveRequest struct {
	GameID string `json:"gameId"`
	Move   string `json:"move"`
}

// RoundStarting carries the server timestamp and both countdown durations so
// clients can render the pre-countdown and the play window against server
// time rather than their own.
type RoundStarting struct {
	GameID               string `json:"gameId"`
	Timestamp            int64  `json:"timestamp"`
	PreCountdownDuration int64  `json:"preCountdownDuration"`
	ShiFuMiDuration      int64  `json:"shiFuMiDuration"`
}

type RoundStarted struct {
	GameID    string `json:"gameId"`
	Timestamp int64  `json:"timestamp"`
}

type RoundResultMessage struct {
	GameID     string         `json:"gameId"`
	Result     shifumi.Result `json:"result"`
	YourResult shifumi.Result `json:"yourResult"`
	Scores     Scores         `json:"scores"`
	Moves      RoundMoves     `json:"moves"`
}
