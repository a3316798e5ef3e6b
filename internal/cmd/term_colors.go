package cmd

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const defaultWidth = 100

// terminalInfo describes where command output goes.
type terminalInfo struct {
	IsTTY bool
	Width int
}

// detectTerminal reports whether w is an interactive terminal and how wide
// it is. Cygwin and MSYS ptys count as terminals.
func detectTerminal(w io.Writer) terminalInfo {
	info := terminalInfo{Width: defaultWidth}
	f, ok := w.(*os.File)
	if !ok {
		return info
	}
	fd := f.Fd()
	info.IsTTY = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	if !info.IsTTY {
		return info
	}
	if width, _, err := term.GetSize(int(fd)); err == nil && width > 0 {
		info.Width = width
	}
	return info
}

// newOutput returns a termenv output for w. Non-terminals and NO_COLOR get
// plain text.
func newOutput(w io.Writer) (*termenv.Output, terminalInfo) {
	info := detectTerminal(w)
	if !info.IsTTY || os.Getenv("NO_COLOR") != "" {
		return termenv.NewOutput(w, termenv.WithProfile(termenv.Ascii)), info
	}
	return termenv.NewOutput(w), info
}

// palette picks readable colours for the background.
type palette struct {
	good  termenv.Color
	warn  termenv.Color
	muted termenv.Color
}

// newPalette queries the background colour only on a colour terminal.
func newPalette(o *termenv.Output, info terminalInfo) palette {
	if info.IsTTY && o.Profile != termenv.Ascii && o.HasDarkBackground() {
		return palette{good: o.Color("10"), warn: o.Color("11"), muted: o.Color("8")}
	}
	return palette{good: o.Color("2"), warn: o.Color("3"), muted: o.Color("8")}
}
