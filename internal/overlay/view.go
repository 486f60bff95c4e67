package overlay

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/slpwatch/internal/console"
	"github.com/verte-zerg/slpwatch/internal/model"
	"github.com/verte-zerg/slpwatch/internal/session"
	"github.com/verte-zerg/slpwatch/internal/stats"
)

const nameWidth = 16

// View implements tea.Model.
func (m *Model) View() string {
	var body string
	if m.settingsMode {
		body = m.renderForm()
	} else {
		body = m.renderSession()
	}
	if m.width == 0 || m.height == 0 {
		return body
	}
	footer := m.renderFooter()
	if m.height < 3 {
		return fitLines(body, m.width, m.height)
	}
	return fitLines(body, m.width, m.height-1) + "\n" + footerStyle.Render(truncateName(footer, m.width))
}

func (m *Model) renderForm() string {
	lines := []string{titleStyle.Render("slpwatch"), ""}
	for i := range m.inputs {
		lines = append(lines, m.inputs[i].View())
	}
	if m.formError != "" {
		lines = append(lines, "", errorStyle.Render(m.formError))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderSession() string {
	sections := []string{m.renderHeader()}
	if m.match != nil {
		sections = append(sections, m.renderMatch())
	}
	if m.end != nil {
		sections = append(sections, m.renderEnd())
	}
	sections = append(sections, m.renderOpponents())
	if m.notice != "" {
		sections = append(sections, mutedStyle.Render(m.notice))
	}
	return strings.Join(sections, "\n\n")
}

func (m *Model) renderHeader() string {
	status := m.status.String()
	if m.status == console.StateConnecting {
		status = m.spinner.View() + " " + status
	}
	segments := []string{
		titleStyle.Render("slpwatch"),
		statusStyles[m.status].Render(status),
	}
	if m.session.ConnectCode != "" {
		segments = append(segments, m.session.ConnectCode)
	}
	if m.testPath != "" {
		segments = append(segments, mutedStyle.Render("test run"))
	}
	segments = append(segments, fmt.Sprintf("P1 %d - %d P2", m.score[0], m.score[1]))
	return strings.Join(segments, "  ")
}

func (m *Model) renderMatch() string {
	settings := m.match.Settings
	sides := make([]string, 0, 2)
	for i, code := range []string{m.match.P1Code, m.match.P2Code} {
		if i >= len(settings.Players) {
			break
		}
		sides = append(sides, playerLabel(settings.Players[i], code))
	}
	title := fmt.Sprintf("%s on %s", settings.GameMode, model.StageName(settings.StageID))
	return cardStyle.Render(mutedStyle.Render(title) + "\n" + strings.Join(sides, "  vs  "))
}

func playerLabel(p model.PlayerSettings, code string) string {
	name := p.DisplayName
	if name == "" {
		name = code
	}
	if name == "" {
		name = fmt.Sprintf("Port %d", p.Port)
	}
	return fmt.Sprintf("%s (%s)", truncateName(name, nameWidth), model.CharacterName(p.CharacterID))
}

func (m *Model) renderEnd() string {
	title := fmt.Sprintf("Game over after %s", stats.FrameDuration(m.end.Stats.PlayableFrameCount))
	if !m.end.Stats.GameComplete {
		title += " (incomplete)"
	}
	return mutedStyle.Render(title) + "\n" + m.endTable.View()
}

func (m *Model) renderOpponents() string {
	if len(m.opponents) == 0 {
		return mutedStyle.Render("No previous opponents.")
	}
	lines := []string{mutedStyle.Render("Previous opponents")}
	now := time.Now()
	for _, o := range m.opponents {
		result := lossStyle.Render("L")
		if o.DidUserWin {
			result = winStyle.Render("W")
		}
		name := truncateName(o.Name, nameWidth)
		lines = append(lines, fmt.Sprintf("%s %s %s %s %s",
			result,
			padName(o.ConnectCode, 10),
			padName(name, nameWidth),
			padName(model.CharacterName(o.MainCharacter()), 14),
			mutedStyle.Render(stats.Ago(now, o.StartedAt)),
		))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderFooter() string {
	if m.settingsMode {
		return "tab next · enter start · esc quit"
	}
	return "y copy code · o opponents · c connect · t test · 1/2 score · r reset · s settings · q quit"
}

func buildEndTable(ev session.MatchEndEvent, width int) table.Model {
	headers, rows := stats.MatchRows(ev.Stats, ev.Settings)
	widths := []int{4, nameWidth, 14, 5, 6, 8, 8, 6}
	columns := make([]table.Column, len(headers))
	for i, h := range headers {
		columns[i] = table.Column{Title: h, Width: widths[i]}
	}
	tableRows := make([]table.Row, 0, len(rows))
	for _, row := range rows {
		row[1] = truncateName(row[1], nameWidth)
		tableRows = append(tableRows, table.Row(row))
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithRows(tableRows),
		table.WithHeight(len(tableRows)+1),
	)
	if width > 0 {
		t.SetWidth(width)
	}
	t.SetStyles(endTableStyles())
	return t
}

func endTableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("#4A4A4A")).
		Foreground(lipgloss.Color("#C0C0C0")).
		Bold(true).
		Padding(0, 1).
		PaddingLeft(0)
	styles.Cell = styles.Cell.
		Padding(0, 1).
		PaddingLeft(0)
	styles.Selected = styles.Cell.
		Foreground(lipgloss.Color("#F0F0F0")).
		Bold(true)
	return styles
}
