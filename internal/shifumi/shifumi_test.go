package shifumi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare_OutcomeTable(t *testing.T) {
	cases := []struct {
		name     string
		p1, p2   Move
		expected Winner
	}{
		{"stone beats scissors", MoveStone, MoveScissors, WinnerPlayer1},
		{"paper beats stone", MovePaper, MoveStone, WinnerPlayer1},
		{"scissors beats paper", MoveScissors, MovePaper, WinnerPlayer1},
		{"scissors loses to stone", MoveScissors, MoveStone, WinnerPlayer2},
		{"stone loses to paper", MoveStone, MovePaper, WinnerPlayer2},
		{"paper loses to scissors", MovePaper, MoveScissors, WinnerPlayer2},
		{"stone draws stone", MoveStone, MoveStone, WinnerDraw},
		{"paper draws paper", MovePaper, MovePaper, WinnerDraw},
		{"scissors draws scissors", MoveScissors, MoveScissors, WinnerDraw},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Compare(tc.p1, tc.p2))
		})
	}
}

func TestResultFor(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(ResultWin, WinnerPlayer1.ResultFor(true))
	assert.Equal(ResultLoose, WinnerPlayer1.ResultFor(false))
	assert.Equal(ResultLoose, WinnerPlayer2.ResultFor(true))
	assert.Equal(ResultWin, WinnerPlayer2.ResultFor(false))
	assert.Equal(ResultDraw, WinnerDraw.ResultFor(true))
	assert.Equal(ResultDraw, WinnerDraw.ResultFor(false))
}

func TestParseMove(t *testing.T) {
	assert := assert.New(t)

	for _, valid := range []string{"stone", "paper", "scissors"} {
		mv, ok := ParseMove(valid)
		assert.True(ok)
		assert.Equal(Move(valid), mv)
	}

	for _, invalid := range []string{"", "rock", "Stone", "lizard"} {
		_, ok := ParseMove(invalid)
		assert.False(ok, "expected %q to be rejected", invalid)
	}
}
