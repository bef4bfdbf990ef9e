package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/swarm/reactor"
	"github.com/pithecene-io/swarm/types"
)

// StatusMsg carries a fleet status snapshot into the model.
type StatusMsg reactor.Status

// FinishedMsg reports the fleet outcome. The model keeps rendering the last
// status until the user quits.
type FinishedMsg struct {
	Outcome types.OutcomeStatus
}

// FleetModel is a Bubble Tea model for a running fleet.
type FleetModel struct {
	title      string
	numParts   int
	status     reactor.Status
	outcome    types.OutcomeStatus
	showLabels bool
	width      int
	height     int
	quitting   bool
}

// NewFleetModel creates a model for a fleet of numParts actors.
func NewFleetModel(title string, numParts int) FleetModel {
	return FleetModel{
		title:    title,
		numParts: numParts,
		status:   reactor.Status{Prelaunch: numParts},
	}
}

// Init implements tea.Model.
func (m FleetModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m FleetModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case StatusMsg:
		m.status = reactor.Status(msg)
		return m, nil

	case FinishedMsg:
		m.outcome = msg.Outcome
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Labels):
			m.showLabels = !m.showLabels
			return m, nil
		}
	}

	return m, nil
}

// Quitting reports whether the user asked to leave.
func (m FleetModel) Quitting() bool { return m.quitting }

// View implements tea.Model.
func (m FleetModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.title))
	b.WriteString("\n")

	st := m.status
	boxes := []string{
		renderStatBox("Active", st.Active, blue),
		renderStatBox("Done", st.Done, green),
		renderStatBox("Prelaunch", st.Prelaunch, gray),
		renderStatBox("Errors", st.Errors, red),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n")

	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Elapsed"), ValueStyle.Render(st.Elapsed.Round(time.Second).String()))
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Progress"), progressBar(st.Done, m.numParts, 30))
	if m.outcome != "" {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Outcome"), outcomeStyle(m.outcome).Render(string(m.outcome)))
	}
	b.WriteString("\n")

	if m.showLabels {
		b.WriteString(m.renderLabels())
	} else {
		b.WriteString(m.renderGrid())
	}

	help := "q quit • l toggle state labels"
	b.WriteString("\n")
	b.WriteString(HelpStyle.Render(help))
	return b.String()
}

// slotStates pads the reported states out to numParts, with unfilled
// slots shown as prelaunch.
func (m FleetModel) slotStates() []string {
	states := make([]string, max(m.numParts, len(m.status.States)))
	for i := range states {
		if i < len(m.status.States) {
			states[i] = m.status.States[i]
		} else {
			states[i] = "prelaunch"
		}
	}
	return states
}

func (m FleetModel) renderGrid() string {
	cols := 40
	if m.width > 4 {
		cols = m.width / 2
	}
	var b strings.Builder
	for i, state := range m.slotStates() {
		if i > 0 && i%cols == 0 {
			b.WriteString("\n")
		}
		b.WriteString(StateStyle(state).Render("■"))
		b.WriteString(" ")
	}
	b.WriteString("\n")
	return b.String()
}

func (m FleetModel) renderLabels() string {
	var b strings.Builder
	for i, state := range m.slotStates() {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render(fmt.Sprintf("slot %d", i)), StateStyle(state).Render(state))
	}
	return b.String()
}

func renderStatBox(label string, value int, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr))
}

func progressBar(done, total, width int) string {
	if total <= 0 {
		return PendingStyle.Render(strings.Repeat("░", width))
	}
	filled := min(width*done/total, width)
	return SuccessStyle.Render(strings.Repeat("█", filled)) +
		PendingStyle.Render(strings.Repeat("░", width-filled)) +
		fmt.Sprintf(" %d/%d", done, total)
}

func outcomeStyle(o types.OutcomeStatus) lipgloss.Style {
	if o == types.OutcomeSuccess {
		return SuccessStyle
	}
	return ErrorStyle
}

// RenderStatic renders one status snapshot without a running program.
func RenderStatic(title string, numParts int, st reactor.Status) string {
	m := NewFleetModel(title, numParts)
	m.status = st
	m.width = 80
	m.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(m.View())
}
