// Package tui renders the live fleet dashboard for swarm serve.
//
// The dashboard is opt-in (--tui) and shows the same status the
// coordinator logs periodically. It never feeds anything back into the
// fleet except an interrupt when the user quits.
package tui

import "github.com/charmbracelet/lipgloss"

var (
	purple = lipgloss.Color("#7C3AED")
	green  = lipgloss.Color("#10B981")
	amber  = lipgloss.Color("#F59E0B")
	red    = lipgloss.Color("#EF4444")
	gray   = lipgloss.Color("#6B7280")
	blue   = lipgloss.Color("#3B82F6")
	white  = lipgloss.Color("#FFFFFF")
)

func fg(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }

// Text styles.
var (
	TitleStyle = fg(purple).Bold(true).MarginBottom(1)
	LabelStyle = fg(gray).Width(12)
	ValueStyle = fg(white)
	HelpStyle  = fg(gray).MarginTop(1)
)

// Slot styles, keyed by how far a slot has progressed.
var (
	SuccessStyle = fg(green)
	WarningStyle = fg(amber)
	ErrorStyle   = fg(red)
	PendingStyle = fg(gray)
)

// Counter box styles for the summary row.
var (
	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 2).
			Width(16).
			Align(lipgloss.Center)
	StatLabelStyle = fg(gray).Align(lipgloss.Center)
	StatValueStyle = fg(white).Bold(true).Align(lipgloss.Center)
)

// StateStyle returns the grid style for an actor state name. Slots that
// have not connected are pending and any non-terminal state is in flight.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "done":
		return SuccessStyle
	case "error":
		return ErrorStyle
	case "", "prelaunch":
		return PendingStyle
	default:
		return WarningStyle
	}
}
