package stats

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/verte-zerg/slpwatch/internal/model"
)

func TestSparkline(t *testing.T) {
	if got := Sparkline(nil); got != "" {
		t.Fatalf("expected empty sparkline, got %q", got)
	}
	if got := Sparkline([]float64{0, 50, 100}); got != " +@" {
		t.Fatalf("unexpected sparkline %q", got)
	}
	if got := Sparkline([]float64{3, 3}); got != "++" {
		t.Fatalf("expected flat sparkline, got %q", got)
	}
}

func TestRenderOpponents(t *testing.T) {
	now := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	opponents := []model.OpponentRecord{
		{ConnectCode: "BBBB#2", Name: "bee", Characters: map[int]int{2: 100, 20: 50}, StartedAt: now.Add(-30 * time.Minute), DidUserWin: true},
		{ConnectCode: "CCCC#3", Name: "sea", Characters: map[int]int{9: 10}, StartedAt: now.Add(-50 * time.Hour)},
	}
	var buf bytes.Buffer
	if err := RenderOpponents(&buf, opponents, now, false); err != nil {
		t.Fatalf("render: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[1], "BBBB#2") || !strings.Contains(lines[1], model.CharacterName(2)) ||
		!strings.Contains(lines[1], " W ") || !strings.HasSuffix(lines[1], "30m ago") {
		t.Fatalf("unexpected first row %q", lines[1])
	}
	if !strings.Contains(lines[2], " L ") || !strings.HasSuffix(lines[2], "2d ago") {
		t.Fatalf("unexpected second row %q", lines[2])
	}
	if strings.Contains(buf.String(), "\x1b[") {
		t.Fatalf("expected no color codes")
	}

	buf.Reset()
	long := []model.OpponentRecord{{ConnectCode: "DDDD#4", Name: strings.Repeat("x", 200), StartedAt: now}}
	if err := RenderOpponents(&buf, long, now, false); err != nil {
		t.Fatalf("render long: %v", err)
	}
	if strings.Contains(buf.String(), strings.Repeat("x", 200)) || !strings.Contains(buf.String(), "…") {
		t.Fatalf("expected truncated name, got %q", buf.String())
	}

	buf.Reset()
	if err := RenderOpponents(&buf, nil, now, false); err != nil {
		t.Fatalf("render empty: %v", err)
	}
	if !strings.Contains(buf.String(), "No previous opponents") {
		t.Fatalf("unexpected empty output %q", buf.String())
	}
}

func TestRenderMatch(t *testing.T) {
	end := 300
	stats := model.MatchStats{
		LastFrame:          3561,
		PlayableFrameCount: 3600,
		GameComplete:       true,
		Players: []model.PlayerStats{
			{PlayerIndex: 0, Kills: 1, StocksRemaining: 4, DamageDealt: 120},
			{PlayerIndex: 1, StocksLost: 1, StocksRemaining: 3, DamageTaken: 120},
		},
		Stocks: []model.StockEvent{{PlayerIndex: 1, Count: 4, EndFrame: &end, EndPercent: 120}},
	}
	settings := model.MatchSettings{
		GameMode: model.GameModeOnline,
		StageID:  31,
		Players: []model.PlayerSettings{
			{PlayerIndex: 0, DisplayName: "one", CharacterID: 2},
			{PlayerIndex: 1, ConnectCode: "BBBB#2", CharacterID: 20},
		},
	}
	var buf bytes.Buffer
	if err := RenderMatch(&buf, stats, settings); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "online on "+model.StageName(31)+", 1:00 (complete)") {
		t.Fatalf("unexpected title %q", out)
	}
	if !strings.Contains(out, "one") || !strings.Contains(out, "BBBB#2") || !strings.Contains(out, "120.0%") {
		t.Fatalf("unexpected table %q", out)
	}
}

func TestAgo(t *testing.T) {
	now := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	cases := map[time.Duration]string{
		10 * time.Second: "just now",
		5 * time.Minute:  "5m ago",
		3 * time.Hour:    "3h ago",
		72 * time.Hour:   "3d ago",
	}
	for d, want := range cases {
		if got := Ago(now, now.Add(-d)); got != want {
			t.Fatalf("Ago(%s) = %q, want %q", d, got, want)
		}
	}
	if got := Ago(now, time.Time{}); got != "-" {
		t.Fatalf("expected dash for zero time, got %q", got)
	}
}
