// Package metrics provides per-run counters for the coordinator, worker and relay.
//
// The Collector is a leaf package with no internal dependencies. Every
// increment method is nil-receiver safe so callers can pass a nil collector
// when metrics are not wanted.
package metrics

import (
	"maps"
	"sync"
)

// Snapshot is an immutable point-in-time view of all counters.
// Safe to read concurrently after creation.
type Snapshot struct {
	// Fleet
	ActorsAccepted    int64
	ActorsCompleted   int64
	ActorsErrored     int64
	HandshakeFailures int64
	FrameErrors       int64
	MessagesIn        int64
	MessagesOut       int64
	FleetTimeouts     int64
	ErrorsByKind      map[string]int64

	// Launcher
	LaunchSuccess int64
	LaunchFailure int64

	// Object storage (per call)
	StorageOpSuccess int64
	StorageOpFailure int64

	// Relay
	RelayForwarded int64
	RelayBuffered  int64
	RelayDelivered int64
	RelayExpired   int64

	// Dimensions (informational, set at construction)
	Role           string
	Pipeline       string
	StorageBackend string
	RunID          string
}

// Collector accumulates counters during a single run.
type Collector struct {
	mu sync.Mutex

	actorsAccepted    int64
	actorsCompleted   int64
	actorsErrored     int64
	handshakeFailures int64
	frameErrors       int64
	messagesIn        int64
	messagesOut       int64
	fleetTimeouts     int64
	errorsByKind      map[string]int64

	launchSuccess int64
	launchFailure int64

	storageOpSuccess int64
	storageOpFailure int64

	relayForwarded int64
	relayBuffered  int64
	relayDelivered int64
	relayExpired   int64

	role           string
	pipeline       string
	storageBackend string
	runID          string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(role, pipeline, storageBackend, runID string) *Collector {
	return &Collector{
		errorsByKind:   make(map[string]int64),
		role:           role,
		pipeline:       pipeline,
		storageBackend: storageBackend,
		runID:          runID,
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Fleet ---

// IncActorAccepted records an accepted worker connection.
func (c *Collector) IncActorAccepted() {
	if c == nil {
		return
	}
	c.add(&c.actorsAccepted, 1)
}

// IncActorCompleted records an actor reaching its normal terminal state.
func (c *Collector) IncActorCompleted() {
	if c == nil {
		return
	}
	c.add(&c.actorsCompleted, 1)
}

// IncActorErrored records an actor reaching an error state, classified by kind
// (transport, protocol, handshake, frame, timeout).
func (c *Collector) IncActorErrored(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.actorsErrored++
	c.errorsByKind[kind]++
	c.mu.Unlock()
}

// IncHandshakeFailure records a failed TLS handshake.
func (c *Collector) IncHandshakeFailure() {
	if c == nil {
		return
	}
	c.add(&c.handshakeFailures, 1)
}

// IncFrameError records a framing error.
func (c *Collector) IncFrameError() {
	if c == nil {
		return
	}
	c.add(&c.frameErrors, 1)
}

// AddMessages records frames received and sent.
func (c *Collector) AddMessages(in, out int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.messagesIn += in
	c.messagesOut += out
	c.mu.Unlock()
}

// IncFleetTimeout records a fleet-level timeout.
func (c *Collector) IncFleetTimeout() {
	if c == nil {
		return
	}
	c.add(&c.fleetTimeouts, 1)
}

// --- Launcher ---

// AddLaunch records launcher invocations.
func (c *Collector) AddLaunch(success, failure int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.launchSuccess += success
	c.launchFailure += failure
	c.mu.Unlock()
}

// --- Object storage ---
// Counted per call: an emit of N files counts N operations, a failed
// retrieve counts one.

// IncStorageOp records one object-storage operation outcome.
func (c *Collector) IncStorageOp(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.add(&c.storageOpSuccess, 1)
		return
	}
	c.add(&c.storageOpFailure, 1)
}

// --- Relay ---

// IncRelayForwarded records a message forwarded to a connected partner.
func (c *Collector) IncRelayForwarded() {
	if c == nil {
		return
	}
	c.add(&c.relayForwarded, 1)
}

// IncRelayBuffered records a message stored as a tombstone.
func (c *Collector) IncRelayBuffered() {
	if c == nil {
		return
	}
	c.add(&c.relayBuffered, 1)
}

// AddRelayDelivered records tombstoned messages delivered on hello.
func (c *Collector) AddRelayDelivered(n int64) {
	if c == nil {
		return
	}
	c.add(&c.relayDelivered, n)
}

// AddRelayExpired records tombstoned messages discarded after retention.
func (c *Collector) AddRelayExpired(n int64) {
	if c == nil {
		return
	}
	c.add(&c.relayExpired, n)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		ActorsAccepted:    c.actorsAccepted,
		ActorsCompleted:   c.actorsCompleted,
		ActorsErrored:     c.actorsErrored,
		HandshakeFailures: c.handshakeFailures,
		FrameErrors:       c.frameErrors,
		MessagesIn:        c.messagesIn,
		MessagesOut:       c.messagesOut,
		FleetTimeouts:     c.fleetTimeouts,
		ErrorsByKind:      maps.Clone(c.errorsByKind),

		LaunchSuccess: c.launchSuccess,
		LaunchFailure: c.launchFailure,

		StorageOpSuccess: c.storageOpSuccess,
		StorageOpFailure: c.storageOpFailure,

		RelayForwarded: c.relayForwarded,
		RelayBuffered:  c.relayBuffered,
		RelayDelivered: c.relayDelivered,
		RelayExpired:   c.relayExpired,

		Role:           c.role,
		Pipeline:       c.pipeline,
		StorageBackend: c.storageBackend,
		RunID:          c.runID,
	}
}
