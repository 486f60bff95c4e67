package slptest

import (
	"time"

	"github.com/verte-zerg/slpwatch/internal/model"
)

// Match describes a short 1v1 used across tests. Winner is the port index of
// the winning player; the loser loses all four stocks to the winner.
type Match struct {
	Mode    model.GameMode
	StartAt time.Time
	P1, P2  Player
	Winner  int
}

// OnlineMatch returns a match between the two connect codes on ports 0 and 1.
func OnlineMatch(p1Code, p2Code string, winner int, startAt time.Time) Match {
	return Match{
		Mode:    model.GameModeOnline,
		StartAt: startAt,
		P1:      Player{Index: 0, CharacterID: 2, Stocks: 4, Name: "p1 " + p1Code, Code: p1Code},
		P2:      Player{Index: 1, CharacterID: 20, Stocks: 4, Name: "p2 " + p2Code, Code: p2Code},
		Winner:  winner,
	}
}

// Raw returns the raw event stream of the match.
func (m Match) Raw() []byte {
	b := NewBuilder().GameStart(Start{
		Mode:    m.Mode,
		StageID: 31,
		Players: []Player{m.P1, m.P2},
	})
	loser := 1 - m.Winner
	frame := -123
	post := func(stocks int, percent float32) {
		frame += 60
		b.FrameStart(frame)
		b.PostFrame(Post{Frame: frame, PlayerIndex: m.Winner, Stocks: 4, LastHitBy: loser})
		b.PostFrame(Post{Frame: frame, PlayerIndex: loser, Percent: percent, Stocks: stocks, LastHitBy: m.Winner})
	}
	// Each stock takes three 40% hits, then the loser dies and respawns at 0%.
	for stocks := 4; stocks > 0; stocks-- {
		post(stocks, 40)
		post(stocks, 80)
		post(stocks, 120)
		post(stocks-1, 0)
	}
	placements := [4]int{-1, -1, -1, -1}
	placements[m.Winner] = 0
	placements[loser] = 1
	return b.GameEnd(model.GameEndGame, -1, placements).Bytes()
}

// Meta returns the metadata written for the match.
func (m Match) Meta() *Meta {
	return &Meta{
		StartAt:   m.StartAt,
		LastFrame: m.LastFrame(),
		PlayedOn:  "dolphin",
		Players: map[int]MetaPlayer{
			m.P1.Index: {Name: m.P1.Name, Code: m.P1.Code, Characters: map[int]int{m.P1.CharacterID: 900}},
			m.P2.Index: {Name: m.P2.Name, Code: m.P2.Code, Characters: map[int]int{m.P2.CharacterID: 900}},
		},
	}
}

// LastFrame returns the frame of the last update in Raw.
func (m Match) LastFrame() int {
	// Four updates per stock, 60 frames apart.
	return -123 + 16*60
}

// File returns complete replay file contents.
func (m Match) File() []byte {
	return File(m.Raw(), m.Meta())
}
