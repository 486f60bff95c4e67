package slp_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/verte-zerg/slpwatch/internal/model"
	"github.com/verte-zerg/slpwatch/internal/slp"
	"github.com/verte-zerg/slpwatch/internal/slp/slptest"
)

func TestStreamSplitsChunkedCommands(t *testing.T) {
	raw := slptest.OnlineMatch("AAAA#1", "BBBB#2", 0, time.Now()).Raw()

	var starts, ends, posts int
	stream := slp.NewStream(func(cmd slp.Command, payload []byte) error {
		if payload[0] != byte(cmd) {
			t.Fatalf("payload does not start with command byte %s", cmd)
		}
		switch cmd {
		case slp.CommandGameStart:
			starts++
		case slp.CommandPostFrame:
			posts++
		case slp.CommandGameEnd:
			ends++
		}
		return nil
	})
	for i := 0; i < len(raw); i += 7 {
		end := min(i+7, len(raw))
		if _, err := stream.Write(raw[i:end]); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if starts != 1 || ends != 1 {
		t.Fatalf("expected one start and one end, got %d/%d", starts, ends)
	}
	if posts != 32 {
		t.Fatalf("expected 32 post frames, got %d", posts)
	}
}

func TestStreamRejectsUnannouncedCommand(t *testing.T) {
	stream := slp.NewStream(func(slp.Command, []byte) error { return nil })
	_, err := stream.Write([]byte{0x36, 0, 0})
	if !errors.Is(err, slp.ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestParserDecodesGameStart(t *testing.T) {
	raw := slptest.NewBuilder().GameStart(slptest.Start{
		Mode:    model.GameModeOnline,
		StageID: 8,
		Players: []slptest.Player{
			{Index: 0, CharacterID: 9, Stocks: 4, Name: "マルス", Code: "MARS#123"},
			{Index: 2, CharacterID: 20, Stocks: 4, Type: model.PlayerTypeCPU, Tag: "CPU"},
		},
	}).Bytes()

	parser := slp.NewParser()
	if _, err := slp.NewStream(parser.HandleCommand).Write(raw); err != nil {
		t.Fatalf("write: %v", err)
	}
	settings, ok := parser.Settings()
	if !ok {
		t.Fatalf("expected settings after game start")
	}
	if settings.GameMode != model.GameModeOnline || settings.StageID != 8 {
		t.Fatalf("unexpected settings %+v", settings)
	}
	if len(settings.Players) != 2 {
		t.Fatalf("expected empty ports to be dropped, got %d players", len(settings.Players))
	}
	p1 := settings.Players[0]
	if p1.ConnectCode != "MARS#123" || p1.DisplayName != "マルス" {
		t.Fatalf("unexpected names %q %q", p1.ConnectCode, p1.DisplayName)
	}
	p3, ok := settings.Player(2)
	if !ok || p3.Port != 3 || p3.Nametag != "CPU" || p3.Type != model.PlayerTypeCPU {
		t.Fatalf("unexpected port 3 %+v", p3)
	}
}

func TestParserCallsOnEnd(t *testing.T) {
	parser := slp.NewParser()
	var got []model.GameEnd
	parser.OnEnd(func(end model.GameEnd) { got = append(got, end) })

	raw := slptest.OnlineMatch("AAAA#1", "BBBB#2", 1, time.Now()).Raw()
	if _, err := slp.NewStream(parser.HandleCommand).Write(raw); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(got) != 1 || got[0].Method != model.GameEndGame || got[0].LRASInitiator != -1 {
		t.Fatalf("unexpected game ends %+v", got)
	}
	if parser.LatestFrame() != -123+16*60 {
		t.Fatalf("unexpected latest frame %d", parser.LatestFrame())
	}
}

func TestReadFileSummaryAndStats(t *testing.T) {
	startAt := time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC)
	match := slptest.OnlineMatch("AAAA#1", "BBBB#2", 1, startAt)
	path := filepath.Join(t.TempDir(), "Game_20240301T183000.slp")
	slptest.WriteFile(t, path, match.File())

	game, err := slp.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	summary := game.Summary()
	if !summary.Metadata.StartAt.Equal(startAt) {
		t.Fatalf("unexpected start %v", summary.Metadata.StartAt)
	}
	if summary.Metadata.Players[1].Names.Code != "BBBB#2" {
		t.Fatalf("unexpected metadata players %+v", summary.Metadata.Players)
	}
	if summary.Metadata.Players[1].Characters[20] != 900 {
		t.Fatalf("unexpected characters %+v", summary.Metadata.Players[1].Characters)
	}
	if len(summary.Winners) != 1 || summary.Winners[0].PlayerIndex != 1 {
		t.Fatalf("unexpected winners %+v", summary.Winners)
	}

	stats := game.Stats()
	if !stats.GameComplete {
		t.Fatalf("expected complete game")
	}
	if stats.PlayableFrameCount != stats.LastFrame-slp.FirstPlayableFrame {
		t.Fatalf("unexpected playable frames %d", stats.PlayableFrameCount)
	}
	loser, _ := stats.Player(0)
	winner, _ := stats.Player(1)
	if loser.StocksLost != 4 || loser.StocksRemaining != 0 {
		t.Fatalf("unexpected loser stats %+v", loser)
	}
	if winner.Kills != 4 || winner.DamageDealt != 480 || loser.DamageTaken != 480 {
		t.Fatalf("unexpected winner stats %+v / %+v", winner, loser)
	}
	if len(stats.Stocks) != 5 {
		t.Fatalf("expected 5 stock events, got %d", len(stats.Stocks))
	}
	first := stats.Stocks[0]
	if first.EndFrame == nil || first.EndPercent != 120 {
		t.Fatalf("unexpected first stock %+v", first)
	}
}

func TestReadFileInProgress(t *testing.T) {
	match := slptest.OnlineMatch("AAAA#1", "BBBB#2", 0, time.Now())
	path := filepath.Join(t.TempDir(), "Game_live.slp")
	slptest.WriteFile(t, path, slptest.File(match.Raw(), nil))

	game, err := slp.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !game.Metadata.StartAt.IsZero() {
		t.Fatalf("expected no metadata, got %+v", game.Metadata)
	}
	if game.Settings().GameMode != model.GameModeOnline {
		t.Fatalf("unexpected mode %v", game.Settings().GameMode)
	}
}

func TestReadFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Game_bad.slp")
	slptest.WriteFile(t, path, []byte("not a replay at all"))
	if _, err := slp.ReadFile(path); !errors.Is(err, slp.ErrInvalidReplay) {
		t.Fatalf("expected ErrInvalidReplay, got %v", err)
	}
}
