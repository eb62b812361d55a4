package cmd

import (
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/conductor/internal/exitcode"
)

var (
	// Colors meet WCAG AA contrast on dark backgrounds
	primaryColor = lipgloss.Color("#A78BFA") // Purple
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#F87171") // Red
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray
	pausedColor  = lipgloss.Color("#60A5FA") // Blue
)

// styles renders for one output stream. The renderer detects whether the
// stream supports color, so piped output stays plain.
type styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Paused  lipgloss.Style
	Box     lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		Title:   r.NewStyle().Bold(true).Foreground(primaryColor),
		Label:   r.NewStyle().Bold(true).Width(14),
		Muted:   r.NewStyle().Foreground(mutedColor),
		Success: r.NewStyle().Foreground(successColor),
		Warning: r.NewStyle().Foreground(warningColor),
		Error:   r.NewStyle().Foreground(errorColor),
		Paused:  r.NewStyle().Foreground(pausedColor),
		Box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1),
	}
}

// code colors a taxonomy code by how the caller should react to it.
func (s styles) code(c exitcode.Code) string {
	switch {
	case c == exitcode.Success:
		return s.Success.Render(string(c))
	case c == exitcode.PartialSuccess:
		return s.Warning.Render(string(c))
	case c == exitcode.HumanInputRequired, c == exitcode.NeedsRefinement, c == exitcode.NeedsEscalation:
		return s.Paused.Render(string(c))
	case c == "":
		return s.Muted.Render("-")
	}
	return s.Error.Render(string(c))
}
