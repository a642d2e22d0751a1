// Package diag prints one-line, severity-colored diagnostics: a red line
// for fatal errors (tagged with the failing location), a yellow line for
// advisory warnings. Color is suppressed when the destination is not a
// terminal.
package diag

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	errColor  = color.New(color.FgRed)
	warnColor = color.New(color.FgYellow)
)

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Error prints "<location>: <err>" to stderr in red (plain text if stderr is
// not a terminal, e.g. when redirected to a log file).
func Error(location string, err error) {
	line := fmt.Sprintf("%s: %v", location, err)
	if isTerminal(os.Stderr) {
		errColor.Fprintln(os.Stderr, line)
		return
	}
	fmt.Fprintln(os.Stderr, line)
}

// Warn prints an advisory message to stderr in yellow.
func Warn(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	if isTerminal(os.Stderr) {
		warnColor.Fprintln(os.Stderr, line)
		return
	}
	fmt.Fprintln(os.Stderr, line)
}

// Progress prints a plain progress line to stderr, only when enabled is true
// (wired to the -p/--log-progress flag).
func Progress(enabled bool, format string, args ...interface{}) {
	if !enabled {
		return
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
