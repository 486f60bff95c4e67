package overlay

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/verte-zerg/slpwatch/internal/console"
	"github.com/verte-zerg/slpwatch/internal/model"
	"github.com/verte-zerg/slpwatch/internal/session"
)

type fakeController struct {
	inits    [][2]string
	resets   int
	connects int
	refresh  int
	tests    []string
}

func (c *fakeController) InitSession(dir, code string) { c.inits = append(c.inits, [2]string{dir, code}) }
func (c *fakeController) ReturnToSettings()            { c.resets++ }
func (c *fakeController) Connect()                     { c.connects++ }
func (c *fakeController) RefreshOpponents()            { c.refresh++ }
func (c *fakeController) RunTest(path string)          { c.tests = append(c.tests, path) }

func runCmd(cmd tea.Cmd) {
	if cmd != nil {
		cmd()
	}
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func send(m *Model, msg tea.Msg) {
	_, cmd := m.Update(msg)
	runCmd(cmd)
}

func startedModel(t *testing.T) (*Model, *fakeController) {
	t.Helper()
	ctrl := &fakeController{}
	m := NewModel(ctrl, Options{ReplayDir: "/replays", ConnectCode: "aaaa＃1"})
	send(m, tea.KeyMsg{Type: tea.KeyEnter})
	if len(ctrl.inits) != 1 {
		t.Fatalf("expected session init, got %v", ctrl.inits)
	}
	send(m, EventMsg{Event: session.InitEvent{Context: session.Context{ReplayDir: "/replays", ConnectCode: "AAAA#1", SessionID: "s1"}}})
	return m, ctrl
}

func TestSubmitNormalizesCode(t *testing.T) {
	_, ctrl := startedModel(t)
	if got := ctrl.inits[0]; got != [2]string{"/replays", "AAAA#1"} {
		t.Fatalf("unexpected init %v", got)
	}
}

func TestSubmitRequiresDir(t *testing.T) {
	ctrl := &fakeController{}
	m := NewModel(ctrl, Options{})
	send(m, tea.KeyMsg{Type: tea.KeyEnter})
	if len(ctrl.inits) != 0 {
		t.Fatalf("expected no init without a dir")
	}
	if !strings.Contains(m.View(), "replay dir is required") {
		t.Fatalf("expected form error in view")
	}
}

func TestAutoStart(t *testing.T) {
	ctrl := &fakeController{}
	m := NewModel(ctrl, Options{ReplayDir: "/replays", AutoStart: true})
	runCmd(m.Init())
	if len(ctrl.inits) != 1 {
		t.Fatalf("expected auto start, got %v", ctrl.inits)
	}
}

func TestEventsDriveView(t *testing.T) {
	m, _ := startedModel(t)
	send(m, EventMsg{Event: session.StatusEvent{State: console.StateConnected}})
	send(m, EventMsg{Event: session.OpponentsEvent{Opponents: []model.OpponentRecord{
		{ConnectCode: "BBBB#2", Name: "bee", Characters: map[int]int{2: 10}, StartedAt: time.Now(), DidUserWin: true},
	}}})
	settings := model.MatchSettings{
		GameMode: model.GameModeOnline,
		StageID:  31,
		Players: []model.PlayerSettings{
			{PlayerIndex: 0, Port: 1, CharacterID: 2, DisplayName: "one", ConnectCode: "AAAA#1"},
			{PlayerIndex: 1, Port: 2, CharacterID: 20, ConnectCode: "BBBB#2"},
		},
	}
	send(m, EventMsg{Event: session.MatchStartEvent{P1Code: "AAAA#1", P2Code: "BBBB#2", Settings: settings}})

	view := m.View()
	for _, want := range []string{"connected", "AAAA#1", "BBBB#2", "bee", model.StageName(31), "one (" + model.CharacterName(2) + ")"} {
		if !strings.Contains(view, want) {
			t.Fatalf("expected %q in view:\n%s", want, view)
		}
	}

	send(m, EventMsg{Event: session.MatchEndEvent{
		Stats: model.MatchStats{
			PlayableFrameCount: 7200,
			GameComplete:       true,
			Players:            []model.PlayerStats{{PlayerIndex: 0, Kills: 4}, {PlayerIndex: 1, StocksLost: 4}},
		},
		Settings: settings,
	}})
	if view := m.View(); !strings.Contains(view, "Game over after 2:00") {
		t.Fatalf("expected post-match section:\n%s", view)
	}

	send(m, EventMsg{Event: session.ResetEvent{}})
	if m.match != nil || m.end != nil || m.settingsMode {
		t.Fatalf("expected reset to clear the match only")
	}
	send(m, EventMsg{Event: session.ResetEvent{ToSettings: true}})
	if !m.settingsMode || m.opponents != nil {
		t.Fatalf("expected reset to settings")
	}
}

func TestSessionKeys(t *testing.T) {
	m, ctrl := startedModel(t)
	send(m, keyRunes("c"))
	send(m, keyRunes("o"))
	send(m, keyRunes("t"))
	send(m, keyRunes("s"))
	if ctrl.connects != 1 || ctrl.refresh != 1 || len(ctrl.tests) != 1 || ctrl.tests[0] != "" || ctrl.resets != 1 {
		t.Fatalf("unexpected controller calls %+v", ctrl)
	}
}

func TestScoreboard(t *testing.T) {
	m, _ := startedModel(t)
	for _, k := range []string{"1", "1", "2", "!", "@", "@"} {
		send(m, keyRunes(k))
	}
	if m.score != [2]int{1, 0} {
		t.Fatalf("unexpected score %v", m.score)
	}
	if !strings.Contains(m.View(), "P1 1 - 0 P2") {
		t.Fatalf("expected score in view")
	}
	send(m, keyRunes("r"))
	if m.score != [2]int{} {
		t.Fatalf("expected score reset, got %v", m.score)
	}
}

func TestCopyOpponentCode(t *testing.T) {
	m, _ := startedModel(t)
	var copied []string
	m.copyText = func(s string) error {
		copied = append(copied, s)
		return nil
	}
	send(m, keyRunes("y"))
	if len(copied) != 0 || m.notice != "no opponent to copy" {
		t.Fatalf("expected nothing to copy, got %v %q", copied, m.notice)
	}

	send(m, EventMsg{Event: session.OpponentsEvent{Opponents: []model.OpponentRecord{
		{ConnectCode: "BBBB#2"}, {ConnectCode: "CCCC#3"},
	}}})
	send(m, keyRunes("y"))
	if len(copied) != 1 || copied[0] != "BBBB#2" {
		t.Fatalf("expected most recent opponent to be copied, got %v", copied)
	}

	m.copyText = func(string) error { return errors.New("no clipboard") }
	send(m, keyRunes("y"))
	if !strings.Contains(m.notice, "no clipboard") {
		t.Fatalf("expected copy failure notice, got %q", m.notice)
	}
}

func TestFooterFollowsMode(t *testing.T) {
	m := NewModel(&fakeController{}, Options{})
	if !strings.Contains(m.renderFooter(), "enter start") {
		t.Fatalf("expected form help")
	}
	send(m, EventMsg{Event: session.InitEvent{}})
	if !containsAll(m.renderFooter(), []string{"y copy code", "o opponents", "c connect", "t test", "s settings", "q quit"}) {
		t.Fatalf("footer missing expected segments: %s", m.renderFooter())
	}
}

func containsAll(haystack string, needles []string) bool {
	for _, needle := range needles {
		if !strings.Contains(haystack, needle) {
			return false
		}
	}
	return true
}
