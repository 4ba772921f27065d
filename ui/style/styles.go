package style

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Styles holds the lipgloss styles for supervisor status lines.
type Styles struct {
	Tag lipgloss.Style

	// Status indicators
	Status lipgloss.Style
	Reload lipgloss.Style

	// Misc
	Muted   lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
}

// StylesFor returns styles whose color support is detected from w.
func StylesFor(w io.Writer) Styles {
	r := lipgloss.NewRenderer(w)
	return Styles{
		Tag: r.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true),

		Status: r.NewStyle().
			Foreground(lipgloss.Color("252")),
		Reload: r.NewStyle().
			Foreground(lipgloss.Color("179")), // Muted yellow

		Muted: r.NewStyle().
			Foreground(lipgloss.Color("243")), // Gray
		Error: r.NewStyle().
			Foreground(lipgloss.Color("196")),
		Warning: r.NewStyle().
			Foreground(lipgloss.Color("214")),
	}
}
