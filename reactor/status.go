package reactor

import "time"

// Status is the periodic fleet summary.
type Status struct {
	Elapsed time.Duration
	// Active counts slots still registered for I/O.
	Active int
	// Done counts slots that finished normally.
	Done int
	// Prelaunch counts slots no worker has filled yet.
	Prelaunch int
	// Errors counts slots in an error state.
	Errors int
	// States holds the current state name per slot, by index.
	States []string
}

// Observer receives status updates on the reactor goroutine. It must not block.
type Observer func(Status)
