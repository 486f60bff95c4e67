package replay

import (
	"context"
	"log/slog"
	"sort"

	"github.com/verte-zerg/slpwatch/internal/model"
)

const (
	// MaxScannedFiles caps how many of the newest replays are read.
	MaxScannedFiles = 25
	// MaxOpponents caps how many distinct opponents are collected.
	MaxOpponents = 3
)

// Reader loads the parts of a replay the history needs.
type Reader interface {
	ReadSummary(path string) (model.ReplaySummary, error)
}

type metaPlayer struct {
	index int
	names model.PlayerNames
	chars map[int]int
}

// BuildOpponentHistory returns the most recent opponents of localCode found
// in dir, keyed by connect code.
func BuildOpponentHistory(ctx context.Context, reader Reader, dir, localCode string) map[string]model.OpponentRecord {
	out := map[string]model.OpponentRecord{}
	files := ListMatchFiles(dir)
	if len(files) == 0 {
		return out
	}
	SortDescending(files)
	if len(files) > MaxScannedFiles {
		files = files[:MaxScannedFiles]
	}

	for _, file := range files {
		if ctx.Err() != nil {
			break
		}
		summary, err := reader.ReadSummary(file.Path())
		if err != nil {
			slog.DebugContext(ctx, "skipping unreadable replay", "path", file, "error", err)
			continue
		}
		if summary.Settings.GameMode != model.GameModeOnline {
			continue
		}

		players := joinPlayers(summary.Metadata)
		local := -1
		for _, p := range players {
			if p.names.Code == localCode {
				local = p.index
				break
			}
		}
		if local < 0 {
			continue
		}
		didWin := false
		for _, w := range summary.Winners {
			if w.PlayerIndex == local {
				didWin = true
				break
			}
		}

		for _, p := range players {
			if p.names.Code == localCode {
				continue
			}
			if _, seen := out[p.names.Code]; seen {
				continue
			}
			out[p.names.Code] = model.OpponentRecord{
				ConnectCode: p.names.Code,
				Name:        p.names.Netplay,
				PlayerIndex: p.index,
				Characters:  p.chars,
				StartedAt:   summary.Metadata.StartAt,
				DidUserWin:  didWin,
			}
			if len(out) >= MaxOpponents {
				return out
			}
		}
	}
	return out
}

// Opponents returns the history as a slice, newest match first.
func Opponents(ctx context.Context, reader Reader, dir, localCode string) []model.OpponentRecord {
	history := BuildOpponentHistory(ctx, reader, dir, localCode)
	out := make([]model.OpponentRecord, 0, len(history))
	for _, rec := range history {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ConnectCode < out[j].ConnectCode
	})
	return out
}

// joinPlayers pairs each metadata player with its port index, in port order.
func joinPlayers(meta model.Metadata) []metaPlayer {
	out := make([]metaPlayer, 0, len(meta.Players))
	for idx, p := range meta.Players {
		out = append(out, metaPlayer{index: idx, names: p.Names, chars: p.Characters})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}
