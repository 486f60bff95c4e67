package session

import (
	"log/slog"
	"sync"

	"github.com/verte-zerg/slpwatch/internal/console"
	"github.com/verte-zerg/slpwatch/internal/model"
)

// Event is a notification for the display layer.
type Event interface {
	// Kind names the event on the wire.
	Kind() string
}

// StatusEvent reports a connection status.
type StatusEvent struct {
	State console.State `json:"state"`
}

// MatchStartEvent is sent when a match begins.
type MatchStartEvent struct {
	P1Code   string              `json:"p1ConnectCode"`
	P2Code   string              `json:"p2ConnectCode"`
	Settings model.MatchSettings `json:"settings"`
}

// MatchEndEvent carries the post-match stats.
type MatchEndEvent struct {
	GameEnd   model.GameEnd       `json:"gameEnd"`
	LastFrame int                 `json:"lastFrame"`
	Stats     model.MatchStats    `json:"stats"`
	Settings  model.MatchSettings `json:"settings"`
}

// OpponentsEvent lists the previous opponents, newest first.
type OpponentsEvent struct {
	Opponents []model.OpponentRecord `json:"opponents"`
}

// InitEvent is sent when a session starts.
type InitEvent struct {
	Context Context `json:"context"`
}

// ResetEvent clears the display. ToSettings is set when the user left the
// session; otherwise the display goes back to waiting for a match.
type ResetEvent struct {
	ToSettings bool `json:"toSettings"`
}

// TestModeEvent announces a simulated match from Path.
type TestModeEvent struct {
	Path string `json:"path"`
}

func (StatusEvent) Kind() string     { return "status" }
func (MatchStartEvent) Kind() string { return "match-start" }
func (MatchEndEvent) Kind() string   { return "match-end" }
func (OpponentsEvent) Kind() string  { return "previous-opponents" }
func (InitEvent) Kind() string       { return "init" }
func (ResetEvent) Kind() string      { return "reset" }
func (TestModeEvent) Kind() string   { return "test-mode" }

// Notifier receives events in the order they were observed.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

// Notify calls f.
func (f NotifierFunc) Notify(ev Event) {
	f(ev)
}

// Fanout forwards every event to all notifiers in order.
type Fanout struct {
	mu        sync.Mutex
	notifiers []Notifier
}

// NewFanout returns a Fanout over notifiers.
func NewFanout(notifiers ...Notifier) *Fanout {
	return &Fanout{notifiers: notifiers}
}

// Add registers n.
func (f *Fanout) Add(n Notifier) {
	f.mu.Lock()
	f.notifiers = append(f.notifiers, n)
	f.mu.Unlock()
}

// Notify forwards ev.
func (f *Fanout) Notify(ev Event) {
	f.mu.Lock()
	notifiers := append([]Notifier(nil), f.notifiers...)
	f.mu.Unlock()
	for _, n := range notifiers {
		n.Notify(ev)
	}
}

// LogNotifier writes events to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs ev at info level.
func (n LogNotifier) Notify(ev Event) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch e := ev.(type) {
	case StatusEvent:
		logger.Info("console status", "state", e.State)
	case MatchStartEvent:
		logger.Info("match started", "p1", e.P1Code, "p2", e.P2Code,
			"stage", model.StageName(e.Settings.StageID), "mode", e.Settings.GameMode)
	case MatchEndEvent:
		logger.Info("match ended", "method", e.GameEnd.Method, "last_frame", e.LastFrame,
			"playable_frames", e.Stats.PlayableFrameCount)
		for _, p := range e.Stats.Players {
			logger.Info("player stats", "port", p.PlayerIndex+1, "kills", p.Kills,
				"stocks_lost", p.StocksLost, "damage_dealt", p.DamageDealt)
		}
	case OpponentsEvent:
		for _, o := range e.Opponents {
			logger.Info("previous opponent", "code", o.ConnectCode, "name", o.Name,
				"character", model.CharacterName(o.MainCharacter()), "won", o.DidUserWin)
		}
	case InitEvent:
		logger.Info("session started", "dir", e.Context.ReplayDir,
			"code", e.Context.ConnectCode, "session", e.Context.SessionID)
	case ResetEvent:
		logger.Info("session reset", "to_settings", e.ToSettings)
	case TestModeEvent:
		logger.Info("test mode", "replay", e.Path)
	}
}
