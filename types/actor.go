// Package types defines core domain types shared by the coordinator, worker and relay.
//
//nolint:revive // types is a common Go package naming convention
package types

// ActorStatus classifies how an actor slot ended (or did not end) a run.
type ActorStatus string

const (
	// ActorDone indicates the actor reached a normal terminal state.
	ActorDone ActorStatus = "done"
	// ActorError indicates the actor reached an error state.
	ActorError ActorStatus = "error"
	// ActorPending indicates the actor never reached a terminal state.
	ActorPending ActorStatus = "pending"
	// ActorMissing indicates the slot was never filled by a connecting worker.
	ActorMissing ActorStatus = "missing"
)

// Failed reports whether the status counts against the fleet.
func (s ActorStatus) Failed() bool {
	return s != ActorDone
}
