package slp

import (
	"testing"

	"github.com/verte-zerg/slpwatch/internal/model"
)

func twoPlayers() model.MatchSettings {
	return model.MatchSettings{Players: []model.PlayerSettings{{PlayerIndex: 0}, {PlayerIndex: 1}}}
}

func TestWinnersLRAS(t *testing.T) {
	end := model.GameEnd{Method: model.GameEndNoContest, LRASInitiator: 0}
	got := Winners(end, twoPlayers(), nil)
	if len(got) != 1 || got[0].PlayerIndex != 1 {
		t.Fatalf("expected port 2 to win, got %+v", got)
	}

	end.LRASInitiator = -1
	if got := Winners(end, twoPlayers(), nil); len(got) != 0 {
		t.Fatalf("expected no winner without lras, got %+v", got)
	}
}

func TestWinnersTimeout(t *testing.T) {
	end := model.GameEnd{Method: model.GameEndTime, LRASInitiator: -1}
	cases := []struct {
		name  string
		posts []PostFrame
		want  int
	}{
		{"stocks", []PostFrame{{PlayerIndex: 0, StocksRemaining: 2, Percent: 10}, {PlayerIndex: 1, StocksRemaining: 1}}, 0},
		{"percent", []PostFrame{{PlayerIndex: 0, StocksRemaining: 1, Percent: 80.9}, {PlayerIndex: 1, StocksRemaining: 1, Percent: 40}}, 1},
		{"tie", []PostFrame{{PlayerIndex: 0, StocksRemaining: 1, Percent: 40.2}, {PlayerIndex: 1, StocksRemaining: 1, Percent: 40.7}}, -1},
	}
	for _, tc := range cases {
		got := Winners(end, twoPlayers(), tc.posts)
		if tc.want < 0 {
			if len(got) != 0 {
				t.Fatalf("%s: expected no winner, got %+v", tc.name, got)
			}
			continue
		}
		if len(got) != 1 || got[0].PlayerIndex != tc.want {
			t.Fatalf("%s: expected %d, got %+v", tc.name, tc.want, got)
		}
	}
}

func TestWinnersTeams(t *testing.T) {
	settings := model.MatchSettings{
		IsTeams: true,
		Players: []model.PlayerSettings{
			{PlayerIndex: 0, TeamID: 1},
			{PlayerIndex: 1, TeamID: 0},
			{PlayerIndex: 2, TeamID: 1},
			{PlayerIndex: 3, TeamID: 0},
		},
	}
	end := model.GameEnd{
		Method:        model.GameEndGame,
		LRASInitiator: -1,
		Placements: []model.Placement{
			{PlayerIndex: 0, Position: 1},
			{PlayerIndex: 1, Position: 0},
			{PlayerIndex: 2, Position: 2},
			{PlayerIndex: 3, Position: 0},
		},
	}
	got := Winners(end, settings, nil)
	if len(got) != 2 || got[0].PlayerIndex != 1 || got[1].PlayerIndex != 3 {
		t.Fatalf("expected team of ports 2 and 4, got %+v", got)
	}
}
