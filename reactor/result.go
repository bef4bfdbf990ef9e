package reactor

import (
	"fmt"
	"strings"
	"time"

	"github.com/pithecene-io/swarm/types"
)

// ActorReport summarises one actor slot at the end of a run.
type ActorReport struct {
	Index  int
	Num    int
	Status types.ActorStatus
	// State is the name of the final state.
	State string
	Err   string
	// Timestamps are relative to the start of the run.
	Timestamps []time.Duration
	Trail      []string
	Info       map[string]string
}

// Result is the outcome of a run.
type Result struct {
	Start    time.Time
	Duration time.Duration
	// Actors is indexed by slot, including slots no worker ever filled.
	Actors []ActorReport
	// Failed lists failing slot indices in ascending order.
	Failed []int
	// TimedOut is set when the run ended on the fleet timeout.
	TimedOut bool
}

// Outcome classifies the result.
func (r *Result) Outcome() types.RunOutcome {
	switch {
	case r.TimedOut:
		return types.RunOutcome{Status: types.OutcomeTimeout, Message: "fleet made no progress", FailedActors: r.Failed}
	case len(r.Failed) > 0:
		return types.RunOutcome{
			Status:       types.OutcomeActorFailure,
			Message:      fmt.Sprintf("%d of %d actors failed", len(r.Failed), len(r.Actors)),
			FailedActors: r.Failed,
		}
	default:
		return types.RunOutcome{Status: types.OutcomeSuccess, Message: "all actors completed"}
	}
}

// FleetError is the single aggregate failure of a run. It names every actor
// that errored or never reached a terminal state.
type FleetError struct {
	Indices []int
	Details []string
	Timeout bool
}

func (e *FleetError) Error() string {
	var b strings.Builder
	if e.Timeout {
		b.WriteString("fleet timed out; ")
	}
	fmt.Fprintf(&b, "the following workers terminated abnormally: %v", e.Indices)
	for _, d := range e.Details {
		b.WriteString("\n  ")
		b.WriteString(d)
	}
	return b.String()
}
