package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"shifumi-server/internal/shifumi"
)

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	// Register routes
	mux.HandleFunc("/", s.statusHandler)

	mux.HandleFunc("/health", s.statusHandler)

	mux.HandleFunc("/websocket", s.websocketHandler)

	// Wrap the mux with CORS middleware
	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*") // Replace "*" with specific origins if needed
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusHandler is the liveness endpoint used by keep-alive pings.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/health" {
		http.NotFound(w, r)
		return
	}

	resp := map[string]string{"status": "ok", "service": "shi-fu-mi-websocket"}
	jsonResp, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(jsonResp); err != nil {
		log.Error().Err(err).Msg("failed to write status response")
	}
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // TODO: make environment-specific
	})
	if err != nil {
		http.Error(w, "Failed to open websocket", http.StatusInternalServerError)
		return
	}
	defer socket.Close(websocket.StatusGoingAway, "Server closing")

	ctx := r.Context()

	connectionID := uuid.New().String()
	log.Info().Str("connection_id", connectionID).Msg("new connection")
	s.connectionManager.AddConnection(connectionID, socket)
	defer func() {
		playerID := s.connectionManager.PlayerID(connectionID)

		s.rateLimiter.Forget(connectionID)
		s.connectionManager.RemoveConnection(connectionID)
		log.Info().Str("connection_id", connectionID).Msg("connection closed")

		// A connection that was evicted by a newer tab has already lost its
		// player binding; only the live binding tears the player down.
		if playerID != "" {
			s.handleDisconnect(playerID)
		}
	}()

	for {
		// Read from client
		msgType, data, err := socket.Read(ctx)

		if err != nil {
			log.Debug().Str("connection_id", connectionID).Err(err).Msg("connection read ended")
			return
		}

		if msgType != websocket.MessageText {
			log.Warn().Str("connection_id", connectionID).Msg("non-text input ignored")
			continue
		}

		if !s.rateLimiter.Allow(connectionID) {
			s.sendError(socket, ctx, "RATE_LIMIT_EXCEEDED: Too many messages, slow down")
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Str("connection_id", connectionID).Err(err).Msg("invalid JSON")
			s.sendError(socket, ctx, "MALFORMED_MESSAGE: Invalid message format")
			continue
		}

		log.Debug().Str("connection_id", connectionID).Str("type", msg.Type).Msg("message received")

		// Route the message
		switch msg.Type {
		case "ping":
			s.handlePing(socket, ctx, connectionID)

		case "connect":
			s.handleConnect(socket, ctx, connectionID, msg.Payload)

		case "player:update:username":
			s.handleUpdateUsername(socket, ctx, connectionID, msg.Payload)

		case "game:invite":
			s.handleInvite(socket, ctx, connectionID, msg.Payload)

		case "game:invitation:accept":
			s.handleAcceptInvitation(socket, ctx, connectionID, msg.Payload)

		case "game:invitation:decline":
			s.handleDeclineInvitation(socket, ctx, connectionID, msg.Payload)

		case "game:move":
			s.handleMove(socket, ctx, connectionID, msg.Payload)

		case "game:start:round":
			s.handleStartRound(socket, ctx, connectionID, msg.Payload)

		case "game:leave":
			s.handleLeaveGame(socket, ctx, connectionID, msg.Payload)

		default:
			log.Warn().Str("connection_id", connectionID).Str("type", msg.Type).Msg("unknown message type")
			s.sendError(socket, ctx, fmt.Sprintf("MALFORMED_MESSAGE: Unknown message type: %s", msg.Type))
		}
	}
}

func (s *Server) handlePing(socket *websocket.Conn, ctx context.Context, connectionID string) {
	response := ServerMessage{
		Type:    "pong",
		Payload: struct{}{},
	}

	if err := s.sendMessage(socket, ctx, response); err != nil {
		log.Warn().Str("connection_id", connectionID).Err(err).Msg("failed to send pong")
	}
}

func (s *Server) sendMessage(socket *websocket.Conn, ctx context.Context, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	return socket.Write(ctx, websocket.MessageText, data)
}

func (s *Server) sendError(socket *websocket.Conn, ctx context.Context, msg string) {
	response := ServerMessage{
		Type: "error",
		Payload: ErrorMessage{
			Message: msg,
		},
	}

	if err := s.sendMessage(socket, ctx, response); err != nil {
		log.Warn().Err(err).Msg("failed to send error message")
	}
}

// requirePlayer resolves the connection's player and reports NOT_CONNECTED
// to the socket when there is none. Every game message goes through this.
func (s *Server) requirePlayer(socket *websocket.Conn, ctx context.Context, connectionID string) (Player, bool) {
	playerID := s.connectionManager.PlayerID(connectionID)
	if playerID == "" {
		s.sendError(socket, ctx, "NOT_CONNECTED: Connect before sending game messages")
		return Player{}, false
	}

	player, exists := s.players.GetPlayer(playerID)
	if !exists {
		s.sendError(socket, ctx, "NOT_FOUND: Player not found")
		return Player{}, false
	}
	return player, true
}

func (s *Server) handleConnect(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req ConnectRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.SessionID == "" {
		s.sendError(socket, ctx, "MALFORMED_MESSAGE: Invalid connect payload")
		return
	}

	// Register reuses the existing Player for this session and refreshes its
	// connection reference and username.
	player := s.players.Register(req.SessionID, req.Username, connectionID)

	if old := s.connectionManager.Bind(connectionID, player.ID); old != "" {
		// Second tab for the same session: the newest connection wins.
		if oldConn := s.connectionManager.GetConnection(old); oldConn != nil {
			s.sendMessage(oldConn, context.Background(), ServerMessage{
				Type: "disconnected_elsewhere",
				Payload: struct {
					Message string `json:"message"`
				}{
					Message: "You connected from another tab",
				},
			})
			oldConn.Close(websocket.StatusNormalClosure, "New connection from same session")
		}
		s.connectionManager.RemoveConnection(old)
		log.Info().Str("player_id", player.ID).Msg("evicted duplicate connection")
	}

	response := ServerMessage{
		Type:    "connection:success",
		Payload: ConnectionSuccess{PlayerID: player.ID},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		log.Warn().Err(err).Msg("failed to send connection:success")
		return
	}

	s.broadcastPlayersList()
}

func (s *Server) handleUpdateUsername(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	player, ok := s.requirePlayer(socket, ctx, connectionID)
	if !ok {
		return
	}

	var req UpdateUsernameRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "MALFORMED_MESSAGE: Invalid username payload")
		return
	}

	if s.players.SetUsername(player.ID, req.Username) {
		s.broadcastPlayersList()
	}
}

func (s *Server) handleInvite(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	player, ok := s.requirePlayer(socket, ctx, connectionID)
	if !ok {
		return
	}

	var req InviteRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "MALFORMED_MESSAGE: Invalid invite payload")
		return
	}

	// An inviter who is already invited or in a match cannot open a second
	// invitation; that would let one player end up in two live matches.
	if player.Status != StatusAvailable {
		s.sendError(socket, ctx, "INVALID_STATE: You are not available")
		return
	}

	target, exists := s.players.GetPlayer(req.TargetPlayerID)
	if !exists {
		s.sendError(socket, ctx, "NOT_FOUND: Target player not found")
		return
	}

	if target.Status != StatusAvailable {
		s.sendError(socket, ctx, "INVALID_STATE: Player is not available")
		return
	}

	invitation := s.invitations.Create(player, target)

	// Deliver the invitation to the target
	if conn := s.connectionManager.ConnectionForPlayer(target.ID); conn != nil {
		s.sendMessage(conn, context.Background(), ServerMessage{
			Type:    "game:invitation:received",
			Payload: InvitationReceived{Invitation: invitation},
		})
	}

	s.broadcastPlayersList()
}

func (s *Server) handleAcceptInvitation(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	player, ok := s.requirePlayer(socket, ctx, connectionID)
	if !ok {
		return
	}

	var req AcceptInvitationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "MALFORMED_MESSAGE: Invalid accept payload")
		return
	}

	invitation, exists := s.invitations.Get(req.InvitationID)
	if !exists {
		s.sendError(socket, ctx, "NOT_FOUND: Invalid or expired invitation")
		return
	}

	// Recipient check comes before the pending→accepted transition so an
	// unauthorized accept leaves the invitation intact.
	if invitation.To.ID != player.ID {
		s.sendError(socket, ctx, "NOT_AUTHORIZED: You are not the recipient of this invitation")
		return
	}

	invitation, accepted := s.invitations.Accept(req.InvitationID)
	if !accepted {
		s.sendError(socket, ctx, "INVALID_STATE: Invalid or expired invitation")
		return
	}

	// The inviter becomes player1, the round owner.
	match := s.engine.CreateMatch(invitation.From, invitation.To)

	if conn := s.connectionManager.ConnectionForPlayer(match.Player1.ID); conn != nil {
		s.sendMessage(conn, context.Background(), ServerMessage{
			Type: "game:started",
			Payload: GameStarted{
				GameID:   match.ID,
				Game:     match,
				Opponent: match.Player2,
			},
		})
	}

	if conn := s.connectionManager.ConnectionForPlayer(match.Player2.ID); conn != nil {
		s.sendMessage(conn, context.Background(), ServerMessage{
			Type: "game:started",
			Payload: GameStarted{
				GameID:   match.ID,
				Game:     match,
				Opponent: match.Player1,
			},
		})
	}

	// Invitation is spent once the match exists
	s.invitations.Remove(req.InvitationID)
	s.broadcastPlayersList()
}

func (s *Server) handleDeclineInvitation(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	_, ok := s.requirePlayer(socket, ctx, connectionID)
	if !ok {
		return
	}

	var req DeclineInvitationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "MALFORMED_MESSAGE: Invalid decline payload")
		return
	}

	invitation, declined := s.invitations.Decline(req.InvitationID)
	if !declined {
		s.sendError(socket, ctx, "NOT_FOUND: Invalid invitation")
		return
	}

	// Notify the inviting player
	if conn := s.connectionManager.ConnectionForPlayer(invitation.From.ID); conn != nil {
		s.sendMessage(conn, context.Background(), ServerMessage{
			Type:    "game:invitation:declined",
			Payload: InvitationDeclinedNotice{InvitationID: invitation.ID},
		})
	}

	s.broadcastPlayersList()
}

func (s *Server) handleMove(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	player, ok := s.requirePlayer(socket, ctx, connectionID)
	if !ok {
		return
	}

	var req MoveRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "MALFORMED_MESSAGE: Invalid move payload")
		return
	}

	move, valid := shifumi.ParseMove(req.Move)
	if !valid {
		s.sendError(socket, ctx, fmt.Sprintf("MALFORMED_MESSAGE: Invalid move: %s", req.Move))
		return
	}

	// Out-of-phase submissions return nil and are dropped by the engine;
	// only unknown matches and non-participants are reported back.
	if err := s.engine.RecordMove(req.GameID, player.ID, move); err != nil {
		s.sendError(socket, ctx, err.Error())
	}
}

func (s *Server) handleStartRound(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	player, ok := s.requirePlayer(socket, ctx, connectionID)
	if !ok {
		return
	}

	var req StartRoundRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "MALFORMED_MESSAGE: Invalid start round payload")
		return
	}

	match, err := s.engine.StartRound(req.GameID, player.ID)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	// Both clients render their countdowns against this server timestamp.
	s.sendToMatch(match, ServerMessage{
		Type: "game:round:starting",
		Payload: RoundStarting{
			GameID:               match.ID,
			Timestamp:            match.RoundStartedAt.UnixMilli(),
			PreCountdownDuration: preCountdownDuration.Milliseconds(),
			ShiFuMiDuration:      livePlayDuration.Milliseconds(),
		},
	})
}

func (s *Server) handleLeaveGame(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	player, ok := s.requirePlayer(socket, ctx, connectionID)
	if !ok {
		return
	}

	var req LeaveGameRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, "MALFORMED_MESSAGE: Invalid leave payload")
		return
	}

	match, exists := s.engine.GetMatch(req.GameID)
	if !exists {
		s.sendError(socket, ctx, "NOT_FOUND: Game not found")
		return
	}

	opponent, isParticipant := s.engine.Opponent(match.ID, player.ID)
	if !isParticipant {
		s.sendError(socket, ctx, "NOT_AUTHORIZED: You are not part of this game")
		return
	}

	log.Info().Str("player_id", player.ID).Str("game_id", match.ID).Msg("player left game")

	if conn := s.connectionManager.ConnectionForPlayer(opponent.ID); conn != nil {
		s.sendMessage(conn, context.Background(), ServerMessage{
			Type:    "game:opponent:left",
			Payload: OpponentLeft{GameID: match.ID},
		})
	}

	// Confirm to the leaving player
	s.sendMessage(socket, ctx, ServerMessage{
		Type:    "game:left",
		Payload: GameLeft{GameID: match.ID},
	})

	s.engine.EndMatch(match.ID)
	s.broadcastPlayersList()
}

// handleDisconnect tears down the disconnecting player: the opponent is
// notified, the match is deleted and the player record removed.
func (s *Server) handleDisconnect(playerID string) {
	log.Info().Str("player_id", playerID).Msg("player disconnected")

	if match, exists := s.engine.GetMatchByPlayerID(playerID); exists {
		if opponent, ok := s.engine.Opponent(match.ID, playerID); ok {
			if conn := s.connectionManager.ConnectionForPlayer(opponent.ID); conn != nil {
				s.sendMessage(conn, context.Background(), ServerMessage{
					Type:    "game:opponent:disconnected",
					Payload: OpponentDisconnected{GameID: match.ID},
				})
			}
		}
		s.engine.EndMatch(match.ID)
	}

	s.players.Remove(playerID)
	s.broadcastPlayersList()
}

// broadcastPlayersList pushes the availability list to every connection,
// after any status-affecting change.
func (s *Server) broadcastPlayersList() {
	available := s.players.ListAvailable()

	msg := ServerMessage{
		Type:    "players:list",
		Payload: PlayersList{Players: available},
	}

	for _, conn := range s.connectionManager.AllConnections() {
		// Use background context for broadcasts
		if err := s.sendMessage(conn, context.Background(), msg); err != nil {
			log.Debug().Err(err).Msg("failed to broadcast players list")
		}
	}
}

// sendToMatch delivers a message to both participants' live connections.
func (s *Server) sendToMatch(match Match, msg ServerMessage) {
	for _, playerID := range []string{match.Player1.ID, match.Player2.ID} {
		conn := s.connectionManager.ConnectionForPlayer(playerID)
		if conn == nil {
			continue
		}
		if err := s.sendMessage(conn, context.Background(), msg); err != nil {
			log.Debug().Err(err).Str("player_id", playerID).Msg("failed to send match message")
		}
	}
}

// RoundLive implements RoundNotifier: the 5s timer fired and live-play is
// open. Clients sync their play countdown to the server timestamp.
func (s *Server) RoundLive(match Match, startedAt time.Time) {
	s.sendToMatch(match, ServerMessage{
		Type: "game:round:started",
		Payload: RoundStarted{
			GameID:    match.ID,
			Timestamp: startedAt.UnixMilli(),
		},
	})
}

// RoundFinished implements RoundNotifier: moves are revealed to both players
// at once, each with the result from their own side.
func (s *Server) RoundFinished(match Match, result RoundResult) {
	base := RoundResultMessage{
		GameID: match.ID,
		Result: result.Result,
		Scores: result.Scores,
		Moves:  result.Moves,
	}

	if conn := s.connectionManager.ConnectionForPlayer(match.Player1.ID); conn != nil {
		payload := base
		payload.YourResult = result.Player1Result
		s.sendMessage(conn, context.Background(), ServerMessage{Type: "game:round:result", Payload: payload})
	}

	if conn := s.connectionManager.ConnectionForPlayer(match.Player2.ID); conn != nil {
		payload := base
		payload.YourResult = result.Player2Result
		s.sendMessage(conn, context.Background(), ServerMessage{Type: "game:round:result", Payload: payload})
	}
}
