package shifumi

// Move is a player's selection for a round.
type Move string

const (
	MoveStone    Move = "stone"
	MovePaper    Move = "paper"
	MoveScissors Move = "scissors"
)

// DefaultMove is substituted for a player who submitted nothing before the
// live-play window closed.
const DefaultMove = MoveStone

// ParseMove validates a client-supplied move string.
func ParseMove(s string) (Move, bool) {
	switch Move(s) {
	case MoveStone, MovePaper, MoveScissors:
		return Move(s), true
	}
	return "", false
}

// Result is a round outcome relative to one recipient.
type Result string

const (
	ResultWin   Result = "Win"
	ResultLoose Result = "Loose"
	ResultDraw  Result = "Draw"
)

// Winner identifies which side of a match won a round.
type Winner int

const (
	WinnerDraw Winner = iota
	WinnerPlayer1
	WinnerPlayer2
)

// Compare applies the outcome table to both recorded moves.
func Compare(player1Move, player2Move Move) Winner {
	if player1Move == player2Move {
		return WinnerDraw
	}
	switch {
	case player1Move == MoveStone && player2Move == MoveScissors,
		player1Move == MovePaper && player2Move == MoveStone,
		player1Move == MoveScissors && player2Move == MovePaper:
		return WinnerPlayer1
	}
	return WinnerPlayer2
}

// ResultFor renders the winner relative to one side of the match.
func (w Winner) ResultFor(isPlayer1 bool) Result {
	switch w {
	case WinnerDraw:
		return ResultDraw
	case WinnerPlayer1:
		if isPlayer1 {
			return ResultWin
		}
		return ResultLoose
	default:
		if isPlayer1 {
			return ResultLoose
		}
		return ResultWin
	}
}
