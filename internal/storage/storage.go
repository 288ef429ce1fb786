package storage

import (
	"context"
	"errors"
)

var ErrMatchNotFound = errors.New("MATCH_NOT_FOUND: Match not found in store")

// MatchState is the serializable snapshot of a match as published to a shared
// store. Version increases monotonically with every authoritative mutation
// (round increment, phase transition, move, score change), so concurrent
// writers racing the same transition resolve to exactly one winner.
type MatchState struct {
	ID             string `json:"id"`
	Player1ID      string `json:"player1Id"`
	Player2ID      string `json:"player2Id"`
	Player1Score   int    `json:"player1Score"`
	Player2Score   int    `json:"player2Score"`
	CurrentRound   int    `json:"currentRound"`
	Player1Move    string `json:"player1Move,omitempty"`
	Player2Move    string `json:"player2Move,omitempty"`
	Phase          string `json:"phase"`
	RoundStartedAt int64  `json:"roundStartedAt,omitempty"` // unix millis
	Version        int64  `json:"version"`
}

// MatchStore is the shared-store contract for the multi-instance deployment
// topology. PutIfNewer is the only write path for live matches: the write is
// a single conditional update that succeeds iff the stored version is lower
// than the one being written. A stale writer gets (false, nil) and must
// discard its work rather than retry with the same version.
type MatchStore interface {
	GetMatch(ctx context.Context, id string) (*MatchState, error)
	PutIfNewer(ctx context.Context, state MatchState) (bool, error)
	DeleteMatch(ctx context.Context, id string) error
	Close() error
}
