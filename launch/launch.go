// Package launch starts workers for a coordinator run.
//
// A Launcher turns one Request into Count worker invocations, each handed
// the same JSON payload apart from its region. Launching is fire-and-forget
// from the coordinator's point of view: workers report back by dialing the
// reactor, not through the launcher.
package launch

import (
	"context"
	"errors"
	"fmt"

	"github.com/pithecene-io/swarm/types"
)

// Credentials are handed to launched workers for object storage access.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Env returns the credentials as AWS environment assignments. Empty fields
// are omitted.
func (c Credentials) Env() []string {
	var env []string
	if c.AccessKeyID != "" {
		env = append(env, "AWS_ACCESS_KEY_ID="+c.AccessKeyID)
	}
	if c.SecretAccessKey != "" {
		env = append(env, "AWS_SECRET_ACCESS_KEY="+c.SecretAccessKey)
	}
	if c.SessionToken != "" {
		env = append(env, "AWS_SESSION_TOKEN="+c.SessionToken)
	}
	return env
}

// Request describes one batch of worker invocations.
type Request struct {
	// Count is the number of invocations (num_parts + overprovision).
	Count int
	// Function names what to invoke. For LocalLauncher it overrides the
	// configured binary when set.
	Function string
	// Credentials are passed through to every worker.
	Credentials Credentials
	// Payload is the worker event; Region is filled per invocation.
	Payload types.WorkerEvent
	// Regions are assigned round-robin. Empty keeps Payload.Region.
	Regions []string
}

// Validate checks the request.
func (r Request) Validate() error {
	if r.Count <= 0 {
		return fmt.Errorf("launch count must be positive, got %d", r.Count)
	}
	return nil
}

// EventFor returns the payload for invocation i.
func (r Request) EventFor(i int) types.WorkerEvent {
	ev := r.Payload
	if len(r.Regions) > 0 {
		ev.Region = r.Regions[i%len(r.Regions)]
	}
	return ev
}

// Result summarises a Launch call.
type Result struct {
	Launched int
	Failed   int
	// Errors holds one entry per failed invocation.
	Errors []error
}

// Err joins the invocation errors, or returns nil.
func (r *Result) Err() error {
	return errors.Join(r.Errors...)
}

// Launcher starts workers.
type Launcher interface {
	Launch(ctx context.Context, req Request) (*Result, error)
}

// Nop launches nothing. Used when workers are started out of band.
type Nop struct{}

// Launch implements Launcher.
func (Nop) Launch(context.Context, Request) (*Result, error) {
	return &Result{}, nil
}
