// Package adapter defines the completion-notification boundary.
//
// Adapters publish a fleet completion event to a downstream system once a
// coordinator run ends. The coordinator owns adapter lifecycle; users
// provide configuration only.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/swarm/types"
)

// EventType is the event_type of every fleet completion event.
const EventType = "fleet_completed"

// FleetCompletedEvent is the payload published when a run finishes.
type FleetCompletedEvent struct {
	Version      string `json:"version"`
	EventType    string `json:"event_type"`
	RunID        string `json:"run_id"`
	Pipeline     string `json:"pipeline"`
	Attempt      int    `json:"attempt"`
	Outcome      string `json:"outcome"`
	Message      string `json:"message,omitempty"`
	NumParts     int    `json:"num_parts"`
	FailedActors []int  `json:"failed_actors,omitempty"`
	OutFile      string `json:"out_file,omitempty"`
	Timestamp    string `json:"timestamp"`
	DurationMs   int64  `json:"duration_ms"`
}

// NewFleetCompletedEvent builds the event for a finished run.
func NewFleetCompletedEvent(meta *types.RunMeta, outcome types.RunOutcome, numParts int, duration time.Duration, outFile string, now time.Time) *FleetCompletedEvent {
	ev := &FleetCompletedEvent{
		Version:      types.Version,
		EventType:    EventType,
		Outcome:      string(outcome.Status),
		Message:      outcome.Message,
		NumParts:     numParts,
		FailedActors: outcome.FailedActors,
		OutFile:      outFile,
		Timestamp:    now.UTC().Format(time.RFC3339),
		DurationMs:   duration.Milliseconds(),
	}
	if meta != nil {
		ev.RunID = meta.RunID
		ev.Pipeline = meta.Pipeline
		ev.Attempt = meta.Attempt
	}
	return ev
}

// Adapter publishes fleet completion events to a downstream system.
type Adapter interface {
	// Publish sends the event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *FleetCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Backoff returns the delay before retry attempt i (i >= 1).
func Backoff(i int) time.Duration {
	return time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
}

// Retry calls fn up to 1+retries times with exponential backoff between
// attempts. It stops early when fn succeeds, ctx is done, or permanent
// reports the error as non-retriable.
func Retry(ctx context.Context, name string, retries int, fn func(context.Context) error, permanent func(error) bool) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(Backoff(i)):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
