package ui

import (
	"os"

	"github.com/rotisserie/eris"
	"golang.org/x/term"
)

var ErrNoInteractiveTTY = eris.New("no interactive terminal available")

// IsInteractive reports whether both stdin and stdout are attached to a terminal.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// TerminalSize returns the columns and rows of the terminal on stdout.
func TerminalSize() (int, int, error) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0, 0, ErrNoInteractiveTTY
	}

	w, h, err := term.GetSize(fd)
	if err != nil {
		return 0, 0, eris.Wrap(err, "failed to get terminal size")
	}
	return w, h, nil
}
