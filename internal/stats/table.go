package stats

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// column is one column of a plain-text table.
type column struct {
	title string
	right bool
	// fill columns take whatever width the other columns leave and
	// truncate cells that do not fit.
	fill bool
}

// minFillWidth keeps a fill column readable on narrow terminals.
const minFillWidth = 8

var (
	opponentColumns = []column{
		{title: "Code"},
		{title: "Name", fill: true},
		{title: "Character"},
		{title: "Result"},
		{title: "Played", right: true},
	}
	matchColumns = []column{
		{title: "Port"},
		{title: "Player", fill: true},
		{title: "Character"},
		{title: "Kills", right: true},
		{title: "Stocks", right: true},
		{title: "Dealt", right: true},
		{title: "Taken", right: true},
		{title: "Deaths"},
	}
)

func titles(cols []column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.title
	}
	return out
}

// renderTable lays rows out under cols, one space between columns. With a
// positive width the fill column shrinks so each line fits in width cells.
func renderTable(cols []column, rows [][]string, width int) []string {
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = displayWidth(c.title)
		for _, row := range rows {
			widths[i] = max(widths[i], displayWidth(cell(row, i)))
		}
	}

	fill := -1
	used := len(cols) - 1
	for i, c := range cols {
		if c.fill && fill < 0 {
			fill = i
			continue
		}
		used += widths[i]
	}
	if width > 0 && fill >= 0 {
		widths[fill] = min(widths[fill], max(width-used, minFillWidth))
	}

	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, renderRow(cols, widths, titles(cols)))
	for _, row := range rows {
		lines = append(lines, renderRow(cols, widths, row))
	}
	return lines
}

func renderRow(cols []column, widths []int, row []string) string {
	var b strings.Builder
	for i, c := range cols {
		if i > 0 {
			b.WriteByte(' ')
		}
		value := cell(row, i)
		if c.fill {
			value = Truncate(value, widths[i])
		}
		pad := strings.Repeat(" ", max(widths[i]-displayWidth(value), 0))
		if c.right {
			b.WriteString(pad + value)
		} else {
			b.WriteString(value + pad)
		}
	}
	return strings.TrimRight(b.String(), " ")
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

// Player names are often fullwidth kana, which take two cells.
func displayWidth(value string) int {
	return runewidth.StringWidth(value)
}

// Truncate shortens value to at most width cells, marking the cut with "…".
func Truncate(value string, width int) string {
	if width <= 0 {
		return ""
	}
	return runewidth.Truncate(value, width, "…")
}
