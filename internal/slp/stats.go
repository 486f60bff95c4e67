package slp

import "github.com/verte-zerg/slpwatch/internal/model"

type playerTally struct {
	stats       model.PlayerStats
	lastPercent float64
	lastStocks  int
	seen        bool
	current     int // index into statsBuilder.stocks, -1 when between stocks
}

// statsBuilder accumulates per-player stats from leader post-frame updates.
type statsBuilder struct {
	order   []int
	players map[int]*playerTally
	stocks  []model.StockEvent
}

func newStatsBuilder() *statsBuilder {
	return &statsBuilder{players: map[int]*playerTally{}}
}

func (s *statsBuilder) setPlayers(players []model.PlayerSettings) {
	s.order = s.order[:0]
	s.players = map[int]*playerTally{}
	for _, p := range players {
		s.order = append(s.order, p.PlayerIndex)
		s.players[p.PlayerIndex] = &playerTally{
			stats:   model.PlayerStats{PlayerIndex: p.PlayerIndex},
			current: -1,
		}
	}
}

func (s *statsBuilder) addPostFrame(post PostFrame) {
	tally, ok := s.players[post.PlayerIndex]
	if !ok {
		return
	}
	if !tally.seen {
		tally.seen = true
		tally.lastStocks = post.StocksRemaining
	}

	if post.StocksRemaining < tally.lastStocks {
		s.endStock(post, tally)
	} else if delta := post.Percent - tally.lastPercent; delta > 0 {
		tally.stats.DamageTaken += delta
		if attacker := s.attacker(post); attacker != nil {
			attacker.stats.DamageDealt += delta
		}
	}

	if tally.current < 0 && post.StocksRemaining > 0 && post.StocksRemaining <= tally.lastStocks {
		s.stocks = append(s.stocks, model.StockEvent{
			PlayerIndex: post.PlayerIndex,
			Count:       post.StocksRemaining,
			StartFrame:  post.Frame,
		})
		tally.current = len(s.stocks) - 1
	}

	tally.lastStocks = post.StocksRemaining
	tally.lastPercent = post.Percent
	tally.stats.StocksRemaining = post.StocksRemaining
	tally.stats.FinalPercent = post.Percent
}

func (s *statsBuilder) endStock(post PostFrame, tally *playerTally) {
	tally.stats.StocksLost += tally.lastStocks - post.StocksRemaining
	if tally.current >= 0 {
		frame := post.Frame
		s.stocks[tally.current].EndFrame = &frame
		s.stocks[tally.current].EndPercent = tally.lastPercent
		tally.current = -1
	}
	if attacker := s.attacker(post); attacker != nil {
		attacker.stats.Kills++
	}
}

// attacker resolves who hit post's player last. Older replays do not record
// it reliably, so a 1v1 falls back to the only opponent.
func (s *statsBuilder) attacker(post PostFrame) *playerTally {
	if post.LastHitBy != post.PlayerIndex {
		if tally, ok := s.players[post.LastHitBy]; ok {
			return tally
		}
	}
	if len(s.order) != 2 {
		return nil
	}
	for _, idx := range s.order {
		if idx != post.PlayerIndex {
			return s.players[idx]
		}
	}
	return nil
}

func (s *statsBuilder) build() model.MatchStats {
	out := model.MatchStats{
		Players: make([]model.PlayerStats, 0, len(s.order)),
		Stocks:  append([]model.StockEvent(nil), s.stocks...),
	}
	for _, idx := range s.order {
		out.Players = append(out.Players, s.players[idx].stats)
	}
	return out
}
