package slp

import (
	"math"

	"github.com/verte-zerg/slpwatch/internal/model"
)

// Winners returns the placements of the players who won the match. It is
// empty when no winner can be determined.
func Winners(end model.GameEnd, settings model.MatchSettings, finalPosts []PostFrame) []model.Placement {
	players := settings.Players
	switch end.Method {
	case model.GameEndNoContest, model.GameEndUnresolved:
		if end.LRASInitiator < 0 || len(players) != 2 {
			return nil
		}
		for _, p := range players {
			if p.PlayerIndex != end.LRASInitiator {
				return []model.Placement{{PlayerIndex: p.PlayerIndex, Position: 0}}
			}
		}
		return nil
	case model.GameEndTime:
		if len(players) == 2 {
			return timeoutWinner(players, finalPosts)
		}
	}

	first := -1
	for i, placement := range end.Placements {
		if placement.Position == 0 {
			first = i
			break
		}
	}
	if first < 0 {
		return nil
	}
	winner := end.Placements[first]
	leader, ok := settings.Player(winner.PlayerIndex)
	if !settings.IsTeams || !ok {
		return []model.Placement{winner}
	}
	var out []model.Placement
	for _, placement := range end.Placements {
		if p, ok := settings.Player(placement.PlayerIndex); ok && p.TeamID == leader.TeamID {
			out = append(out, placement)
		}
	}
	return out
}

func timeoutWinner(players []model.PlayerSettings, finalPosts []PostFrame) []model.Placement {
	var leaders []PostFrame
	for _, post := range finalPosts {
		if !post.IsFollower {
			leaders = append(leaders, post)
		}
	}
	if len(leaders) != len(players) {
		return nil
	}
	a, b := leaders[0], leaders[1]
	switch {
	case a.StocksRemaining > b.StocksRemaining:
		return []model.Placement{{PlayerIndex: a.PlayerIndex, Position: 0}}
	case b.StocksRemaining > a.StocksRemaining:
		return []model.Placement{{PlayerIndex: b.PlayerIndex, Position: 0}}
	}
	aHealth, bHealth := math.Trunc(a.Percent), math.Trunc(b.Percent)
	switch {
	case aHealth < bHealth:
		return []model.Placement{{PlayerIndex: a.PlayerIndex, Position: 0}}
	case bHealth < aHealth:
		return []model.Placement{{PlayerIndex: b.PlayerIndex, Position: 0}}
	}
	return nil
}
