// Package watch implements the tower watch TUI: live agent health, budget
// state, and the control-plane event stream over the SSE endpoint.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme centralizes all styling for the watch TUI.
// Even with a single default theme, this keeps all colors in one place
// and makes future theme support trivial.
type Theme struct {
	// Status colors
	StatusOK       lipgloss.Style
	StatusStarting lipgloss.Style
	StatusFailed   lipgloss.Style
	StatusBlocked  lipgloss.Style
	StatusDegraded lipgloss.Style

	// UI elements
	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	// Budget gauge
	GaugeOK       lipgloss.Style
	GaugeWarning  lipgloss.Style
	GaugeCritical lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:       lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusStarting: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusBlocked:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8800")),
		StatusDegraded: lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#61AFEF")),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		GaugeOK:       lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		GaugeWarning:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		GaugeCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
	}
}
