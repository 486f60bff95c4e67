// Package overlay provides the Bubble Tea match overlay.
package overlay

import (
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/slpwatch/internal/console"
	"github.com/verte-zerg/slpwatch/internal/model"
	"github.com/verte-zerg/slpwatch/internal/session"
)

// Controller is the part of the session controller the overlay drives.
type Controller interface {
	InitSession(dir, connectCode string)
	ReturnToSettings()
	Connect()
	RefreshOpponents()
	RunTest(path string)
}

// Options preset the settings form.
type Options struct {
	ReplayDir   string
	ConnectCode string
	// AutoStart starts the session right away when ReplayDir is set.
	AutoStart bool
}

// EventMsg wraps a session event for the Bubble Tea loop.
type EventMsg struct {
	Event session.Event
}

// Notifier forwards session events into a running program.
type Notifier struct {
	Program *tea.Program
}

// Notify implements session.Notifier.
func (n Notifier) Notify(ev session.Event) {
	n.Program.Send(EventMsg{Event: ev})
}

const (
	inputDir = iota
	inputCode
)

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	winStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#52C41A"))
	lossStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	cardStyle   = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
	statusStyles = map[console.State]lipgloss.Style{
		console.StateDisconnected: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F")),
		console.StateConnecting:   lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A")),
		console.StateConnected:    lipgloss.NewStyle().Foreground(lipgloss.Color("#52C41A")),
	}
)

// Model implements the Bubble Tea overlay.
type Model struct {
	ctrl      Controller
	opts      Options
	copyText  func(string) error
	inputs    []textinput.Model
	focus     int
	formError string

	settingsMode bool
	status       console.State
	spinner      spinner.Model
	session      session.Context
	opponents    []model.OpponentRecord
	match        *session.MatchStartEvent
	end          *session.MatchEndEvent
	endTable     table.Model
	testPath     string
	score        [2]int
	notice       string

	width  int
	height int
}

// NewModel constructs the overlay model.
func NewModel(ctrl Controller, opts Options) *Model {
	m := &Model{
		ctrl:         ctrl,
		opts:         opts,
		copyText:     clipboard.WriteAll,
		settingsMode: true,
		spinner:      spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
	m.inputs = []textinput.Model{
		newInput("Replay dir: ", "~/Slippi"),
		newInput("Connect code: ", "ABCD#123"),
	}
	m.inputs[inputDir].SetValue(opts.ReplayDir)
	m.inputs[inputCode].SetValue(opts.ConnectCode)
	m.inputs[inputDir].Focus()
	return m
}

func newInput(prompt, placeholder string) textinput.Model {
	input := textinput.New()
	input.Prompt = prompt
	input.Placeholder = placeholder
	input.CharLimit = 0
	input.Cursor.SetMode(cursor.CursorBlink)
	return input
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	if m.opts.AutoStart && strings.TrimSpace(m.opts.ReplayDir) != "" {
		return m.submit()
	}
	return textinput.Blink
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case EventMsg:
		return m, m.handleEvent(msg.Event)
	case spinner.TickMsg:
		if m.status != console.StateConnecting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.settingsMode {
			return m.updateForm(msg)
		}
		return m.updateSession(msg)
	}
	return m, nil
}

func (m *Model) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyEnter:
		return m, m.submit()
	case tea.KeyTab, tea.KeyDown:
		return m, m.setFocus(m.focus + 1)
	case tea.KeyShiftTab, tea.KeyUp:
		return m, m.setFocus(m.focus - 1)
	}
	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m *Model) updateSession(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.notice = ""
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "s", "esc":
		ctrl := m.ctrl
		return m, func() tea.Msg {
			ctrl.ReturnToSettings()
			return nil
		}
	case "c":
		ctrl := m.ctrl
		return m, func() tea.Msg {
			ctrl.Connect()
			return nil
		}
	case "o":
		ctrl := m.ctrl
		return m, func() tea.Msg {
			ctrl.RefreshOpponents()
			return nil
		}
	case "t":
		ctrl := m.ctrl
		return m, func() tea.Msg {
			ctrl.RunTest("")
			return nil
		}
	case "y":
		m.copyOpponent()
	case "r":
		m.score = [2]int{}
	case "1":
		m.score[0]++
	case "!":
		m.score[0] = max(0, m.score[0]-1)
	case "2":
		m.score[1]++
	case "@":
		m.score[1] = max(0, m.score[1]-1)
	default:
		if m.end != nil {
			var cmd tea.Cmd
			m.endTable, cmd = m.endTable.Update(msg)
			return m, cmd
		}
	}
	return m, nil
}

func (m *Model) setFocus(idx int) tea.Cmd {
	count := len(m.inputs)
	if idx < 0 {
		idx = count - 1
	}
	if idx >= count {
		idx = 0
	}
	m.focus = idx
	var cmd tea.Cmd
	for i := range m.inputs {
		if i == m.focus {
			cmd = m.inputs[i].Focus()
		} else {
			m.inputs[i].Blur()
		}
	}
	return cmd
}

func (m *Model) submit() tea.Cmd {
	dir := expandHome(strings.TrimSpace(m.inputs[inputDir].Value()))
	code := normalizeCode(m.inputs[inputCode].Value())
	if dir == "" {
		m.formError = "replay dir is required"
		return nil
	}
	m.formError = ""
	m.inputs[inputCode].SetValue(code)
	ctrl := m.ctrl
	return func() tea.Msg {
		ctrl.InitSession(dir, code)
		return nil
	}
}

func (m *Model) copyOpponent() {
	if len(m.opponents) == 0 {
		m.notice = "no opponent to copy"
		return
	}
	code := m.opponents[0].ConnectCode
	if err := m.copyText(code); err != nil {
		m.notice = "copy failed: " + err.Error()
		return
	}
	m.notice = "copied " + code
}

func (m *Model) handleEvent(ev session.Event) tea.Cmd {
	switch e := ev.(type) {
	case session.StatusEvent:
		prev := m.status
		m.status = e.State
		if e.State == console.StateConnecting && prev != console.StateConnecting {
			return m.spinner.Tick
		}
	case session.InitEvent:
		m.session = e.Context
		m.settingsMode = false
		m.opponents = nil
		m.score = [2]int{}
	case session.OpponentsEvent:
		m.opponents = e.Opponents
	case session.MatchStartEvent:
		m.match = &e
		m.end = nil
	case session.MatchEndEvent:
		m.end = &e
		m.endTable = buildEndTable(e, m.width)
	case session.TestModeEvent:
		m.testPath = e.Path
	case session.ResetEvent:
		m.match = nil
		m.end = nil
		m.testPath = ""
		if e.ToSettings {
			m.settingsMode = true
			m.session = session.Context{}
			m.opponents = nil
			return m.setFocus(inputDir)
		}
	}
	return nil
}
