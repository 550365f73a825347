// Package ui holds the colored output helpers of the codequery CLI.
//
// Red is for errors, yellow for warnings, green for success, cyan for
// information and dim for paths and other secondary details.
package ui

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	Red    = color.New(color.FgRed)
	Yellow = color.New(color.FgYellow)
	Green  = color.New(color.FgGreen)
	Cyan   = color.New(color.FgCyan)
	Bold   = color.New(color.Bold)
	Dim    = color.New(color.Faint)
)

// InitColors disables color when noColor is set. fatih/color already honors
// NO_COLOR and non-TTY output.
func InitColors(noColor bool) {
	if noColor {
		color.NoColor = true
	}
}

// Successf prints a green line prefixed with a check mark.
func Successf(w io.Writer, format string, args ...any) {
	_, _ = Green.Fprintf(w, "✓ "+format+"\n", args...)
}

// Warningf prints a yellow line prefixed with a warning sign.
func Warningf(w io.Writer, format string, args ...any) {
	_, _ = Yellow.Fprintf(w, "⚠ "+format+"\n", args...)
}

// Errorf prints a red line prefixed with a cross.
func Errorf(w io.Writer, format string, args ...any) {
	_, _ = Red.Fprintf(w, "✗ "+format+"\n", args...)
}

// Infof prints a cyan line prefixed with an info sign.
func Infof(w io.Writer, format string, args ...any) {
	_, _ = Cyan.Fprintf(w, "ℹ "+format+"\n", args...)
}

// Header prints a bold line.
func Header(w io.Writer, text string) {
	_, _ = Bold.Fprintln(w, text)
}

// Location renders path:start-end dimmed.
func Location(path string, start, end int) string {
	return Dim.Sprint(fmt.Sprintf("%s:%d-%d", path, start, end))
}
