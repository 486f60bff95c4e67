package stats

import (
	"io"
	"os"

	"golang.org/x/term"
)

const (
	colorReset          = "\x1b[0m"
	colorWin            = "\x1b[32m"
	colorLoss           = "\x1b[31m"
	terminalWidthBackup = 80
)

// TerminalWidth returns the width of stdout, or 80 when it is not a terminal.
func TerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return terminalWidthBackup
	}
	return width
}

// ShouldUseColor reports whether w is a terminal that should get ANSI colors.
func ShouldUseColor(w io.Writer, force bool) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if force {
		return true
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

func colorize(line string, won bool) string {
	code := colorLoss
	if won {
		code = colorWin
	}
	return code + line + colorReset
}
