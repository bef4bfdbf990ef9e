package types

import (
	"errors"
	"fmt"
)

// RunMeta identifies one coordinator run.
// There is no automatic retry; an operator re-run carries Attempt > 1 and
// links its predecessor through ParentRunID.
type RunMeta struct {
	// RunID is the run identifier. Also scopes relay rendezvous keys.
	RunID string
	// Pipeline is the name of the pipeline driven by this run.
	Pipeline string
	// ParentRunID links an operator re-run to the run it replaces.
	ParentRunID *string
	// Attempt starts at 1.
	Attempt int
}

// Validate checks lineage rules:
//   - run_id must be non-empty and contain no ':' (it travels inside HELLO_STATE)
//   - attempt >= 1
//   - attempt == 1 => no parent_run_id; attempt > 1 => parent_run_id present
func (r *RunMeta) Validate() error {
	if r.RunID == "" {
		return errors.New("run_id must be non-empty")
	}
	for _, c := range r.RunID {
		if c == ':' {
			return fmt.Errorf("run_id %q must not contain ':'", r.RunID)
		}
	}

	if r.Attempt < 1 {
		return fmt.Errorf("attempt must be >= 1, got %d", r.Attempt)
	}

	if r.Attempt == 1 && r.ParentRunID != nil {
		return errors.New("initial run (attempt=1) must not have parent_run_id")
	}

	if r.Attempt > 1 && r.ParentRunID == nil {
		return fmt.Errorf("re-run (attempt=%d) must have parent_run_id", r.Attempt)
	}

	return nil
}

// OutcomeStatus is the fleet-level result of a run.
type OutcomeStatus string

const (
	// OutcomeSuccess indicates every actor reached a normal terminal state.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeActorFailure indicates at least one actor errored or never finished.
	OutcomeActorFailure OutcomeStatus = "actor_failure"
	// OutcomeTimeout indicates the fleet made no progress within the poll bound.
	OutcomeTimeout OutcomeStatus = "timeout"
	// OutcomeSetupFailure indicates the run could not start (listen, TLS, launch).
	OutcomeSetupFailure OutcomeStatus = "setup_failure"
)

// RunOutcome is the final outcome of a run.
type RunOutcome struct {
	// Status is the outcome classification.
	Status OutcomeStatus
	// Message is a human-readable description.
	Message string
	// FailedActors lists the slot indices that failed, in ascending order.
	FailedActors []int
}
