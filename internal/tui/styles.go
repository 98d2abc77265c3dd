package tui

import "github.com/charmbracelet/lipgloss"

var (
	primary = lipgloss.Color("#00ff9f")
	dim     = lipgloss.Color("#6e7681")
	danger  = lipgloss.Color("#ff5f87")
	accent  = lipgloss.Color("#5fafff")
)

type styles struct {
	title     lipgloss.Style
	status    lipgloss.Style
	error     lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
	border    lipgloss.Style
	help      lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:     lipgloss.NewStyle().Bold(true).Foreground(primary).Padding(0, 1),
		status:    lipgloss.NewStyle().Bold(true).Foreground(accent),
		error:     lipgloss.NewStyle().Bold(true).Foreground(danger),
		user:      lipgloss.NewStyle().Bold(true).Foreground(primary),
		assistant: lipgloss.NewStyle().Bold(true).Foreground(accent),
		border:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(dim),
		help:      lipgloss.NewStyle().Foreground(dim),
	}
}
