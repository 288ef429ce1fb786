package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"shifumi-server/internal/shifumi"
	"shifumi-server/internal/storage"
)

// Round timing. Measured from the owner's start request: live-play opens
// after the pre-countdown, results are calculated after live-play plus a
// grace period that absorbs network latency, and the phase returns to idle
// after the result has been on screen for a while.
const (
	preCountdownDuration = 5000 * time.Millisecond
	livePlayDuration     = 3000 * time.Millisecond
	gracePeriod          = 500 * time.Millisecond
	resultHoldDuration   = 3000 * time.Millisecond
)

type RoundPhase string

const (
	PhaseIdle         RoundPhase = "idle"
	PhasePreCountdown RoundPhase = "pre-countdown"
	PhaseLivePlay     RoundPhase = "live-play"
	PhaseResult       RoundPhase = "result"
)

type Scores struct {
	Player1 int `json:"player1"`
	Player2 int `json:"player2"`
}

type RoundMoves struct {
	Player1 shifumi.Move `json:"player1,omitempty"`
	Player2 shifumi.Move `json:"player2,omitempty"`
}

// Match is a two-player match. Player1 is the original inviter and the only
// player allowed to start a round.
type Match struct {
	ID             string     `json:"id"`
	Player1        Player     `json:"player1"`
	Player2        Player     `json:"player2"`
	Scores         Scores     `json:"scores"`
	CurrentRound   int        `json:"currentRound"`
	Moves          RoundMoves `json:"moves"`
	Phase          RoundPhase `json:"phase"`
	RoundStartedAt time.Time  `json:"-"`

	version int64 // monotonic mutation counter for the shared-store mirror
}

// RoundResult carries one round's revealed moves, outcome views and updated
// scores. Result is relative to player1; the per-player fields are what each
// recipient sees as "yourResult".
type RoundResult struct {
	Result        shifumi.Result
	Player1Result shifumi.Result
	Player2Result shifumi.Result
	Scores        Scores
	Moves         RoundMoves
}

// RoundNotifier receives engine-driven round events so the engine stays
// transport-free. Both methods are called outside the engine lock, from the
// timer callback that performed the transition.
type RoundNotifier interface {
	RoundLive(match Match, startedAt time.Time)
	RoundFinished(match Match, result RoundResult)
}

var (
	errMatchNotFound   = errors.New("NOT_FOUND: Game not found")
	errNotParticipant  = errors.New("NOT_AUTHORIZED: You are not part of this game")
	errNotOwner        = errors.New("NOT_AUTHORIZED: Only the match owner can start the round")
	errRoundInProgress = errors.New("INVALID_STATE: A round is already in progress")
)

type storeOp struct {
	state  storage.MatchState
	delete bool
}

// MatchEngine owns all match state and drives round phase transitions on its
// clock. Every deferred callback carries the match id and the round it was
// scheduled for, and re-validates both before acting, so timers left behind
// by a torn-down match or a superseded round die silently.
type MatchEngine struct {
	matches  map[string]*Match
	players  *PlayerRegistry
	clock    clockwork.Clock
	notifier RoundNotifier
	store    storage.MatchStore
	storeOps chan storeOp
	mu       sync.Mutex
}

// NewMatchEngine creates the engine. store may be nil; when set, every match
// mutation is mirrored to the shared store through version-conditional
// writes (see storage.MatchStore).
func NewMatchEngine(players *PlayerRegistry, clock clockwork.Clock, notifier RoundNotifier, store storage.MatchStore) *MatchEngine {
	e := &MatchEngine{
		matches:  make(map[string]*Match),
		players:  players,
		clock:    clock,
		notifier: notifier,
		store:    store,
	}
	if store != nil {
		e.storeOps = make(chan storeOp, 256)
		go e.runStoreMirror()
	}
	return e
}

// CreateMatch creates a match with player1 as round owner and moves both
// players to "in-match".
func (e *MatchEngine) CreateMatch(player1, player2 Player) Match {
	match := &Match{
		ID:      uuid.New().String(),
		Player1: player1,
		Player2: player2,
		Phase:   PhaseIdle,
	}

	e.mu.Lock()
	e.matches[match.ID] = match
	e.mirrorLocked(match)
	snapshot := *match
	e.mu.Unlock()

	e.players.SetStatus(player1.ID, StatusInMatch)
	e.players.SetStatus(player2.ID, StatusInMatch)

	log.Info().
		Str("game_id", match.ID).
		Str("player1_id", player1.ID).
		Str("player2_id", player2.ID).
		Msg("match created")

	return snapshot
}

// StartRound begins a new round: round counter up, moves cleared, phase to
// pre-countdown, and two deferred transitions scheduled. Only the match
// owner may start, and only from idle or result.
func (e *MatchEngine) StartRound(matchID, requesterID string) (Match, error) {
	e.mu.Lock()
	match, exists := e.matches[matchID]
	if !exists {
		e.mu.Unlock()
		return Match{}, errMatchNotFound
	}
	if match.Player1.ID != requesterID && match.Player2.ID != requesterID {
		e.mu.Unlock()
		return Match{}, errNotParticipant
	}
	if match.Player1.ID != requesterID {
		e.mu.Unlock()
		return Match{}, errNotOwner
	}
	if match.Phase != PhaseIdle && match.Phase != PhaseResult {
		e.mu.Unlock()
		return Match{}, errRoundInProgress
	}

	match.CurrentRound++
	match.Moves = RoundMoves{}
	match.Phase = PhasePreCountdown
	match.RoundStartedAt = e.clock.Now()
	e.mirrorLocked(match)

	round := match.CurrentRound
	snapshot := *match
	e.mu.Unlock()

	e.clock.AfterFunc(preCountdownDuration, func() {
		e.beginLivePlay(matchID, round)
	})
	// Result calculation fires unconditionally, whether or not anyone moved.
	e.clock.AfterFunc(preCountdownDuration+livePlayDuration+gracePeriod, func() {
		e.finishRound(matchID, round)
	})

	log.Info().
		Str("game_id", matchID).
		Int("round", round).
		Msg("round started")

	return snapshot, nil
}

// RecordMove stores a participant's selection. Accepted during pre-countdown
// and live-play only; during idle and result it is dropped without error so
// fast phase flips never produce client-side error flicker. The player can
// overwrite their selection any number of times until live-play closes.
func (e *MatchEngine) RecordMove(matchID, playerID string, move shifumi.Move) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	match, exists := e.matches[matchID]
	if !exists {
		return errMatchNotFound
	}

	isPlayer1 := match.Player1.ID == playerID
	if !isPlayer1 && match.Player2.ID != playerID {
		return errNotParticipant
	}

	if match.Phase != PhasePreCountdown && match.Phase != PhaseLivePlay {
		log.Debug().
			Str("game_id", matchID).
			Str("phase", string(match.Phase)).
			Msg("move ignored outside play window")
		return nil
	}

	if isPlayer1 {
		match.Moves.Player1 = move
	} else {
		match.Moves.Player2 = move
	}
	e.mirrorLocked(match)
	return nil
}

// EndMatch deletes all match state and restores both players to "available"
// unless they have already been pulled into a new match. Outstanding phase
// timers find the match gone and no-op.
func (e *MatchEngine) EndMatch(matchID string) bool {
	e.mu.Lock()
	match, exists := e.matches[matchID]
	if !exists {
		e.mu.Unlock()
		return false
	}
	delete(e.matches, matchID)
	e.mirrorDeleteLocked(matchID)
	player1ID, player2ID := match.Player1.ID, match.Player2.ID
	e.mu.Unlock()

	e.releasePlayer(player1ID)
	e.releasePlayer(player2ID)

	log.Info().Str("game_id", matchID).Msg("match ended")
	return true
}

func (e *MatchEngine) GetMatch(matchID string) (Match, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	match, exists := e.matches[matchID]
	if !exists {
		return Match{}, false
	}
	return *match, true
}

func (e *MatchEngine) GetMatchByPlayerID(playerID string) (Match, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, match := range e.matches {
		if match.Player1.ID == playerID || match.Player2.ID == playerID {
			return *match, true
		}
	}
	return Match{}, false
}

func (e *MatchEngine) Opponent(matchID, playerID string) (Player, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	match, exists := e.matches[matchID]
	if !exists {
		return Player{}, false
	}
	switch playerID {
	case match.Player1.ID:
		return match.Player2, true
	case match.Player2.ID:
		return match.Player1, true
	}
	return Player{}, false
}

// beginLivePlay is the 5s timer callback: pre-countdown → live-play.
func (e *MatchEngine) beginLivePlay(matchID string, round int) {
	e.mu.Lock()
	match, exists := e.matches[matchID]
	if !exists || match.CurrentRound != round || match.Phase != PhasePreCountdown {
		e.mu.Unlock()
		return // stale timer
	}

	match.Phase = PhaseLivePlay
	startedAt := e.clock.Now()
	e.mirrorLocked(match)
	snapshot := *match
	e.mu.Unlock()

	e.notifier.RoundLive(snapshot, startedAt)
}

// finishRound is the live-play + grace timer callback: substitute default
// moves, score the round once, and hand the result to the notifier. Firing
// twice for the same round is a no-op because the phase has already left
// live-play.
func (e *MatchEngine) finishRound(matchID string, round int) {
	e.mu.Lock()
	match, exists := e.matches[matchID]
	if !exists || match.CurrentRound != round {
		e.mu.Unlock()
		return // stale timer
	}
	if match.Phase != PhasePreCountdown && match.Phase != PhaseLivePlay {
		e.mu.Unlock()
		return // result already calculated for this round
	}

	match.Phase = PhaseResult
	if match.Moves.Player1 == "" {
		match.Moves.Player1 = shifumi.DefaultMove
	}
	if match.Moves.Player2 == "" {
		match.Moves.Player2 = shifumi.DefaultMove
	}

	winner := shifumi.Compare(match.Moves.Player1, match.Moves.Player2)
	switch winner {
	case shifumi.WinnerPlayer1:
		match.Scores.Player1++
	case shifumi.WinnerPlayer2:
		match.Scores.Player2++
	}

	result := RoundResult{
		Result:        winner.ResultFor(true),
		Player1Result: winner.ResultFor(true),
		Player2Result: winner.ResultFor(false),
		Scores:        match.Scores,
		Moves:         match.Moves,
	}
	e.mirrorLocked(match)
	snapshot := *match
	e.mu.Unlock()

	e.clock.AfterFunc(resultHoldDuration, func() {
		e.backToIdle(matchID, round)
	})

	log.Info().
		Str("game_id", matchID).
		Int("round", round).
		Str("result", string(result.Result)).
		Msg("round finished")

	e.notifier.RoundFinished(snapshot, result)
}

// backToIdle is the post-result timer callback: result → idle, which allows
// the owner to start the next round.
func (e *MatchEngine) backToIdle(matchID string, round int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	match, exists := e.matches[matchID]
	if !exists || match.CurrentRound != round || match.Phase != PhaseResult {
		return // stale timer
	}
	match.Phase = PhaseIdle
	e.mirrorLocked(match)
}

// releasePlayer restores a player to "available" unless another match has
// already claimed them.
func (e *MatchEngine) releasePlayer(playerID string) {
	if _, inMatch := e.GetMatchByPlayerID(playerID); inMatch {
		return
	}
	e.players.SetStatus(playerID, StatusAvailable)
}

// mirrorLocked bumps the match version and enqueues a shared-store write.
// Caller holds e.mu. The queue is best-effort: the in-memory engine is the
// single-instance authority and a dropped mirror write only delays the
// store's view until the next mutation.
func (e *MatchEngine) mirrorLocked(match *Match) {
	match.version++
	if e.storeOps == nil {
		return
	}
	select {
	case e.storeOps <- storeOp{state: matchStateOf(match)}:
	default:
		log.Warn().Str("game_id", match.ID).Msg("match store mirror queue full, write dropped")
	}
}

func (e *MatchEngine) mirrorDeleteLocked(matchID string) {
	if e.storeOps == nil {
		return
	}
	select {
	case e.storeOps <- storeOp{state: storage.MatchState{ID: matchID}, delete: true}:
	default:
		log.Warn().Str("game_id", matchID).Msg("match store mirror queue full, delete dropped")
	}
}

// runStoreMirror applies queued mirror writes in order. Writes go through
// PutIfNewer so an instance replaying stale state can never clobber a newer
// document written by another authority.
func (e *MatchEngine) runStoreMirror() {
	for op := range e.storeOps {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if op.delete {
			if err := e.store.DeleteMatch(ctx, op.state.ID); err != nil {
				log.Warn().Err(err).Str("game_id", op.state.ID).Msg("match store delete failed")
			}
		} else {
			applied, err := e.store.PutIfNewer(ctx, op.state)
			if err != nil {
				log.Warn().Err(err).Str("game_id", op.state.ID).Msg("match store write failed")
			} else if !applied {
				log.Warn().Str("game_id", op.state.ID).Msg("match store write lost to newer version")
			}
		}
		cancel()
	}
}

func matchStateOf(match *Match) storage.MatchState {
	state := storage.MatchState{
		ID:           match.ID,
		Player1ID:    match.Player1.ID,
		Player2ID:    match.Player2.ID,
		Player1Score: match.Scores.Player1,
		Player2Score: match.Scores.Player2,
		CurrentRound: match.CurrentRound,
		Player1Move:  string(match.Moves.Player1),
		Player2Move:  string(match.Moves.Player2),
		Phase:        string(match.Phase),
		Version:      match.version,
	}
	if !match.RoundStartedAt.IsZero() {
		state.RoundStartedAt = match.RoundStartedAt.UnixMilli()
	}
	return state
}
