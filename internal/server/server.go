package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"shifumi-server/internal/config"
	"shifumi-server/internal/storage"
	redisstore "shifumi-server/internal/storage/redis"
)

type Server struct {
	cfg   config.Config
	clock clockwork.Clock

	connectionManager *ConnectionManager
	players           *PlayerRegistry
	invitations       *InvitationRegistry
	engine            *MatchEngine
	rateLimiter       *RateLimiter
	store             storage.MatchStore
}

// NewServer wires the production server: real clock, and the Redis match
// store when MATCH_BACKEND=redis.
func NewServer(cfg config.Config) (*Server, *http.Server, error) {
	var store storage.MatchStore
	if cfg.MatchBackend == config.BackendRedis {
		storeCfg := redisstore.DefaultConfig()
		storeCfg.URL = cfg.RedisURL

		st, err := redisstore.New(storeCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		store = st
		log.Info().Str("backend", cfg.MatchBackend).Msg("match store enabled")
	}

	s := newServer(cfg, clockwork.NewRealClock(), store)

	// Declare Server config
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ListenPort()),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s, httpServer, nil
}

// newServer assembles the registries around a caller-supplied clock so tests
// can drive timers deterministically.
func newServer(cfg config.Config, clock clockwork.Clock, store storage.MatchStore) *Server {
	s := &Server{
		cfg:               cfg,
		clock:             clock,
		connectionManager: NewConnectionManager(),
		players:           NewPlayerRegistry(),
		store:             store,
	}

	s.invitations = NewInvitationRegistry(s.players, clock, s.onInvitationExpired)
	s.engine = NewMatchEngine(s.players, clock, s, store)
	s.rateLimiter = NewRateLimiter(cfg.RateLimitPerSecond, time.Second, clock)

	return s
}

// onInvitationExpired fires from the invitation timer after both players have
// been returned to the available pool.
func (s *Server) onInvitationExpired(invitation Invitation) {
	log.Info().
		Str("invitation_id", invitation.ID).
		Str("from", invitation.From.ID).
		Str("to", invitation.To.ID).
		Msg("invitation expired")

	s.broadcastPlayersList()
}

// Shutdown closes every live connection and the match store. The HTTP server
// itself is shut down by the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, conn := range s.connectionManager.AllConnections() {
		conn.Close(websocket.StatusGoingAway, "Server shutting down")
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return fmt.Errorf("close match store: %w", err)
		}
	}

	return nil
}
