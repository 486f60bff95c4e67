// Package stats renders opponent history and match stats as text.
package stats

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/verte-zerg/slpwatch/internal/model"
)

const sparkChars = " .:-=+*#%@"

// Sparkline renders a single-line ASCII sparkline for the values.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	minVal := values[0]
	maxVal := values[0]
	for _, v := range values[1:] {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	if math.Abs(maxVal-minVal) < 1e-9 {
		return strings.Repeat(string(sparkChars[len(sparkChars)/2]), len(values))
	}
	var b strings.Builder
	for _, v := range values {
		pos := (v - minVal) / (maxVal - minVal)
		idx := int(math.Round(pos * float64(len(sparkChars)-1)))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparkChars) {
			idx = len(sparkChars) - 1
		}
		b.WriteByte(sparkChars[idx])
	}
	return b.String()
}

// StockPercents returns the percent each stock of playerIndex was lost at,
// in stock order.
func StockPercents(stats model.MatchStats, playerIndex int) []float64 {
	var out []float64
	for _, s := range stats.Stocks {
		if s.PlayerIndex != playerIndex || s.EndFrame == nil {
			continue
		}
		out = append(out, s.EndPercent)
	}
	return out
}

// OpponentRows formats opponents for a table, newest first.
func OpponentRows(opponents []model.OpponentRecord, now time.Time) (headers []string, rows [][]string) {
	headers = titles(opponentColumns)
	for _, o := range opponents {
		rows = append(rows, []string{
			o.ConnectCode,
			o.Name,
			model.CharacterName(o.MainCharacter()),
			resultLabel(o.DidUserWin),
			Ago(now, o.StartedAt),
		})
	}
	return headers, rows
}

// RenderOpponents prints previous opponents as a table. Results are colored
// when useColor is set.
func RenderOpponents(w io.Writer, opponents []model.OpponentRecord, now time.Time, useColor bool) error {
	if len(opponents) == 0 {
		_, err := fmt.Fprintln(w, "No previous opponents found.")
		return err
	}
	_, rows := OpponentRows(opponents, now)
	lines := renderTable(opponentColumns, rows, TerminalWidth())
	if _, err := fmt.Fprintln(w, lines[0]); err != nil {
		return err
	}
	for i, line := range lines[1:] {
		if useColor {
			line = colorize(line, opponents[i].DidUserWin)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// MatchRows formats per-player stats for a table.
func MatchRows(stats model.MatchStats, settings model.MatchSettings) (headers []string, rows [][]string) {
	headers = titles(matchColumns)
	for _, p := range stats.Players {
		player, _ := settings.Player(p.PlayerIndex)
		name := player.DisplayName
		if name == "" {
			name = player.ConnectCode
		}
		rows = append(rows, []string{
			fmt.Sprintf("P%d", p.PlayerIndex+1),
			name,
			model.CharacterName(player.CharacterID),
			fmt.Sprintf("%d", p.Kills),
			fmt.Sprintf("%d", p.StocksRemaining),
			fmt.Sprintf("%.1f%%", p.DamageDealt),
			fmt.Sprintf("%.1f%%", p.DamageTaken),
			Sparkline(StockPercents(stats, p.PlayerIndex)),
		})
	}
	return headers, rows
}

// RenderMatch prints the post-match summary.
func RenderMatch(w io.Writer, stats model.MatchStats, settings model.MatchSettings) error {
	status := "complete"
	if !stats.GameComplete {
		status = "incomplete"
	}
	if _, err := fmt.Fprintf(w, "%s on %s, %s (%s)\n",
		settings.GameMode, model.StageName(settings.StageID),
		FrameDuration(stats.PlayableFrameCount), status); err != nil {
		return err
	}
	_, rows := MatchRows(stats, settings)
	for _, line := range renderTable(matchColumns, rows, TerminalWidth()) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// FrameDuration converts a frame count at 60 fps into m:ss.
func FrameDuration(frames int) string {
	if frames < 0 {
		frames = 0
	}
	seconds := frames / 60
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// Ago describes how long before now t was, in the largest whole unit.
func Ago(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
}

func resultLabel(won bool) string {
	if won {
		return "W"
	}
	return "L"
}
