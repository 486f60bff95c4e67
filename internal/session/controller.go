// Package session follows a console through match lifecycles and reports
// what happens to the display layer.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/verte-zerg/slpwatch/internal/console"
	"github.com/verte-zerg/slpwatch/internal/model"
	"github.com/verte-zerg/slpwatch/internal/replay"
)

// Default delays.
const (
	DefaultSettleDelay = 500 * time.Millisecond
	testStartDelay     = 2 * time.Second
	testEndDelay       = 8 * time.Second
	testResetDelay     = 30 * time.Second
)

// Phase is the match lifecycle state.
type Phase int

// Lifecycle phases.
const (
	PhaseIdle Phase = iota
	PhaseInMatch
	PhaseAwaitingStats
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseInMatch:
		return "in-match"
	case PhaseAwaitingStats:
		return "awaiting-stats"
	default:
		return "unknown"
	}
}

// Conn is the console connection the controller drives.
type Conn interface {
	Connect(host string, port int)
	State() console.State
	OnStatus(func(console.State)) func()
	OnMessage(func(console.Message)) func()
	OnError(func(error)) func()
}

// Reader loads replay files.
type Reader interface {
	replay.Reader
	ReadStats(path string) (model.MatchStats, error)
}

// Context identifies the session the user started.
type Context struct {
	ReplayDir   string `json:"replayDir"`
	ConnectCode string `json:"connectCode"`
	SessionID   string `json:"sessionId"`
}

// Config holds the controller collaborators.
type Config struct {
	Conn     Conn
	Reader   Reader
	Notifier Notifier
	Clock    Clock
	Host     string
	Port     int
	// SettleDelay passes between a match end and reading its replay.
	SettleDelay time.Duration
	// AutoConnect starts a connection attempt when Run starts.
	AutoConnect bool
}

type pendingStats struct {
	timer    Timer
	files    []replay.FileRef
	end      MatchEnd
	settings model.MatchSettings
}

// Controller runs the session state machine. Every input is handled on the
// goroutine that calls Run.
type Controller struct {
	cfg   Config
	inbox chan func()
	done  chan struct{}

	// Owned by the Run goroutine.
	ctx        context.Context
	phase      Phase
	settings   *model.MatchSettings
	session    Context
	decoder    *Decoder
	pending    map[*pendingStats]struct{}
	testTimers []Timer
}

// NewController returns a Controller; call Run to start it.
func NewController(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Host == "" {
		cfg.Host = console.DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = console.PortDefault
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NotifierFunc(func(Event) {})
	}
	c := &Controller{
		cfg:     cfg,
		inbox:   make(chan func(), 256),
		done:    make(chan struct{}),
		ctx:     context.Background(),
		pending: map[*pendingStats]struct{}{},
	}
	c.decoder = NewDecoder(c.handleMatchStart, c.handleMatchEnd)
	return c
}

// Run handles events until ctx is done. It returns ctx.Err().
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	unsubs := []func(){
		c.cfg.Conn.OnStatus(func(s console.State) {
			c.post(func() { c.handleStatus(s) })
		}),
		c.cfg.Conn.OnMessage(func(msg console.Message) {
			c.post(func() { c.handleMessage(msg) })
		}),
		c.cfg.Conn.OnError(func(err error) {
			c.post(func() { slog.Warn("console connection error", "error", err) })
		}),
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
		c.cancelTimers()
		close(c.done)
	}()

	c.notify(StatusEvent{State: c.cfg.Conn.State()})
	if c.cfg.AutoConnect {
		c.connect()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-c.inbox:
			fn()
		}
	}
}

// post queues fn for the Run goroutine. It is dropped once Run has returned.
func (c *Controller) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.done:
	}
}

// call runs fn on the Run goroutine and waits for it.
func (c *Controller) call(fn func()) bool {
	finished := make(chan struct{})
	c.post(func() {
		fn()
		close(finished)
	})
	select {
	case <-finished:
		return true
	case <-c.done:
		return false
	}
}

// InitSession starts a session over dir for the player with connectCode.
func (c *Controller) InitSession(dir, connectCode string) {
	c.post(func() {
		c.session = Context{ReplayDir: dir, ConnectCode: connectCode, SessionID: uuid.NewString()}
		c.notify(InitEvent{Context: c.session})
		c.refreshOpponents()
	})
}

// RefreshOpponents rebuilds the previous opponents of the current session.
func (c *Controller) RefreshOpponents() {
	c.post(c.refreshOpponents)
}

// ReplayChanged refreshes the previous opponents when no match is being
// tracked. It is meant for replay directory watchers.
func (c *Controller) ReplayChanged() {
	c.post(func() {
		if c.phase != PhaseIdle {
			return
		}
		c.refreshOpponents()
	})
}

// ReturnToSettings ends the session and cancels every pending timer.
func (c *Controller) ReturnToSettings() {
	c.post(func() {
		c.cancelTimers()
		c.session = Context{}
		c.settings = nil
		c.phase = PhaseIdle
		c.notify(ResetEvent{ToSettings: true})
	})
}

// Connect starts a connection attempt when the console is disconnected.
func (c *Controller) Connect() {
	c.post(c.connect)
}

// RequestStatus re-sends the current connection status.
func (c *Controller) RequestStatus() {
	c.post(func() {
		c.notify(StatusEvent{State: c.cfg.Conn.State()})
	})
}

// RunTest plays a stored replay through the display: the match starts after
// two seconds, ends eight seconds later and the display resets after thirty
// more. An empty path picks a random online replay of the session.
func (c *Controller) RunTest(path string) {
	c.post(func() {
		if err := c.runTest(path); err != nil {
			slog.Warn("test run failed", "error", err)
		}
	})
}

// Phase returns the current phase. It blocks until Run handles the request
// and returns PhaseIdle once Run has stopped.
func (c *Controller) Phase() Phase {
	phase := PhaseIdle
	c.call(func() { phase = c.phase })
	return phase
}

// Session returns the current session context.
func (c *Controller) Session() Context {
	var session Context
	c.call(func() { session = c.session })
	return session
}

func (c *Controller) connect() {
	if c.cfg.Conn.State() != console.StateDisconnected {
		return
	}
	c.cfg.Conn.Connect(c.cfg.Host, c.cfg.Port)
}

func (c *Controller) notify(ev Event) {
	c.cfg.Notifier.Notify(ev)
}

func (c *Controller) handleStatus(state console.State) {
	// A dropped link leaves the match alone; the buffered data finishes it.
	c.notify(StatusEvent{State: state})
}

func (c *Controller) handleMessage(msg console.Message) {
	if msg.Type != console.MessageGameEvent {
		return
	}
	if msg.ForcePos {
		c.decoder.Reset()
	}
	if err := c.decoder.Write(msg.Payload); err != nil {
		slog.Debug("failed to decode console data", "error", err)
	}
}

func (c *Controller) handleMatchStart(start MatchStart) {
	settings := start.Settings.Clone()
	c.settings = &settings
	c.phase = PhaseInMatch
	c.notify(MatchStartEvent{P1Code: start.P1Code, P2Code: start.P2Code, Settings: settings.Clone()})
}

func (c *Controller) handleMatchEnd(end MatchEnd) {
	if c.phase != PhaseInMatch || c.settings == nil {
		slog.Debug("match end outside of a match", "phase", c.phase)
		return
	}
	files := replay.ListMatchFiles(c.session.ReplayDir)
	if len(files) == 0 {
		c.phase = PhaseIdle
		return
	}
	c.phase = PhaseAwaitingStats
	p := &pendingStats{files: files, end: end, settings: c.settings.Clone()}
	p.timer = c.cfg.Clock.AfterFunc(c.cfg.SettleDelay, func() {
		c.post(func() { c.deliverStats(p) })
	})
	c.pending[p] = struct{}{}
}

func (c *Controller) deliverStats(p *pendingStats) {
	if _, ok := c.pending[p]; !ok {
		return
	}
	delete(c.pending, p)
	defer func() {
		if c.phase == PhaseAwaitingStats {
			c.phase = PhaseIdle
		}
	}()

	file, _ := replay.MostRecent(p.files)
	stats, err := c.cfg.Reader.ReadStats(file.Path())
	if err != nil {
		slog.Warn("failed to compute match stats", "path", file, "error", err)
		return
	}
	c.notify(MatchEndEvent{
		GameEnd:   p.end.GameEnd,
		LastFrame: p.end.LastFrame,
		Stats:     stats,
		Settings:  p.settings,
	})
}

func (c *Controller) refreshOpponents() {
	if c.session.ReplayDir == "" {
		return
	}
	opponents := replay.Opponents(c.ctx, c.cfg.Reader, c.session.ReplayDir, c.session.ConnectCode)
	if len(opponents) == 0 {
		return
	}
	c.notify(OpponentsEvent{Opponents: opponents})
}

func (c *Controller) cancelTimers() {
	for p := range c.pending {
		p.timer.Stop()
		delete(c.pending, p)
	}
	for _, t := range c.testTimers {
		t.Stop()
	}
	c.testTimers = nil
}

func (c *Controller) runTest(path string) error {
	if path == "" {
		picked, err := c.pickTestReplay()
		if err != nil {
			return err
		}
		path = picked
	}
	summary, err := c.cfg.Reader.ReadSummary(path)
	if err != nil {
		return fmt.Errorf("failed to read test replay: %w", err)
	}

	for _, t := range c.testTimers {
		t.Stop()
	}
	c.testTimers = nil
	c.notify(TestModeEvent{Path: path})

	settings := summary.Settings
	p1, p2 := settings.ConnectCodes()
	c.afterTest(testStartDelay, func() {
		c.notify(MatchStartEvent{P1Code: p1, P2Code: p2, Settings: settings.Clone()})
		c.afterTest(testEndDelay, func() {
			stats, err := c.cfg.Reader.ReadStats(path)
			if err != nil {
				slog.Warn("failed to compute test stats", "path", path, "error", err)
				return
			}
			ev := MatchEndEvent{LastFrame: stats.LastFrame, Stats: stats, Settings: settings.Clone()}
			if summary.GameEnd != nil {
				ev.GameEnd = *summary.GameEnd
			}
			c.notify(ev)
			c.afterTest(testResetDelay, func() {
				c.notify(ResetEvent{})
			})
		})
	})
	return nil
}

// afterTest schedules fn on the Run goroutine as part of a test run.
func (c *Controller) afterTest(d time.Duration, fn func()) {
	var t Timer
	t = c.cfg.Clock.AfterFunc(d, func() {
		c.post(func() {
			if c.dropTestTimer(t) {
				fn()
			}
		})
	})
	c.testTimers = append(c.testTimers, t)
}

// dropTestTimer forgets t and reports whether it was still scheduled.
func (c *Controller) dropTestTimer(t Timer) bool {
	for i, other := range c.testTimers {
		if other == t {
			c.testTimers = append(c.testTimers[:i], c.testTimers[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Controller) pickTestReplay() (string, error) {
	var online []replay.FileRef
	for _, file := range replay.ListMatchFiles(c.session.ReplayDir) {
		summary, err := c.cfg.Reader.ReadSummary(file.Path())
		if err != nil || summary.Settings.GameMode != model.GameModeOnline {
			continue
		}
		online = append(online, file)
	}
	if len(online) == 0 {
		return "", errors.New("no online replays to test with")
	}
	return online[rand.IntN(len(online))].Path(), nil
}
