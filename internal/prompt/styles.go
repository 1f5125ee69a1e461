package prompt

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Faint(true)
)

// Heading renders a section title.
func Heading(s string) string { return headingStyle.Render(s) }

// OK renders a success message.
func OK(s string) string { return okStyle.Render(s) }

// Warn renders a warning.
func Warn(s string) string { return warnStyle.Render(s) }

// Error renders an error.
func Error(s string) string { return errStyle.Render(s) }

// Muted renders secondary detail.
func Muted(s string) string { return mutedStyle.Render(s) }

// Printf writes a formatted line rendered with style.
func Printf(w io.Writer, style func(string) string, format string, args ...any) {
	_, _ = fmt.Fprintln(w, style(fmt.Sprintf(format, args...)))
}
