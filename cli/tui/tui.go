package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/swarm/reactor"
	"github.com/pithecene-io/swarm/types"
)

// ErrQuit is returned by Dashboard.Run when the user quit the dashboard.
var ErrQuit = errors.New("dashboard closed by user")

// Dashboard runs a FleetModel fed from reactor status updates.
type Dashboard struct {
	prog    *tea.Program
	updates chan reactor.Status
}

// NewDashboard creates a dashboard. Options are passed to tea.NewProgram;
// with none given it takes over the terminal's alternate screen.
func NewDashboard(title string, numParts int, opts ...tea.ProgramOption) *Dashboard {
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return &Dashboard{
		prog:    tea.NewProgram(NewFleetModel(title, numParts), opts...),
		updates: make(chan reactor.Status, 1),
	}
}

// Observe is a reactor.Observer. It never blocks; when the dashboard lags
// only the newest status is kept.
func (d *Dashboard) Observe(st reactor.Status) {
	for {
		select {
		case d.updates <- st:
			return
		default:
		}
		select {
		case <-d.updates:
		default:
		}
	}
}

// Finish shows the final outcome.
func (d *Dashboard) Finish(o types.OutcomeStatus) {
	d.prog.Send(FinishedMsg{Outcome: o})
}

// Close stops the program.
func (d *Dashboard) Close() {
	d.prog.Quit()
}

// Run blocks until the program exits. It returns ErrQuit if the user quit
// before ctx ended.
func (d *Dashboard) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				d.prog.Quit()
				return
			case st := <-d.updates:
				d.prog.Send(StatusMsg(st))
			}
		}
	}()

	final, err := d.prog.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(FleetModel); ok && m.Quitting() {
		return ErrQuit
	}
	return nil
}
