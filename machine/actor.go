package machine

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/swarm/command"
)

// Port is the message queue surface of an actor's connection.
type Port interface {
	// Enqueue frames and queues msg for sending.
	Enqueue(msg string)
	// Dequeue pops the oldest received message.
	Dequeue() (string, bool)
	// PushFront puts msg back at the head of the receive queue.
	PushFront(msg string)
	// Pending returns the number of received messages queued.
	Pending() int
}

// kickPrefix marks synthetic entry tokens. Worker replies never start with it.
const kickPrefix = "kick:"

// InfoUpdate is one applied INFO message.
type InfoUpdate struct {
	Key   string
	Value string
}

// Actor is the per-worker record driven by the reactor.
type Actor struct {
	// Index is the accept-order slot index.
	Index int
	// Num is the actor number after placement. Equal to Index unless the
	// pipeline groups actors.
	Num int
	// Port carries the actor's messages.
	Port Port
	// Info holds out-of-band metadata from INFO messages and hand-offs.
	Info map[string]string
	// Timestamps records the time of every message that advanced the actor.
	Timestamps []time.Time
	// Trail names every state entered, in order.
	Trail []string
	// Now is the clock used for timestamps.
	Now func() time.Time

	state   State
	kicks   []string
	updates []InfoUpdate
}

// NewActor creates an actor and enters its initial step.
func NewActor(index, num int, port Port, initial Step) *Actor {
	a := &Actor{
		Index: index,
		Num:   num,
		Port:  port,
		Info:  make(map[string]string),
		Now:   time.Now,
	}
	a.state = a.enter(initial)
	return a
}

// State returns the current state.
func (a *Actor) State() State { return a.state }

// Done reports whether the actor reached a terminal state.
func (a *Actor) Done() bool { return IsTerminal(a.state) }

// Err returns the actor's error, if it ended in an ErrorState.
func (a *Actor) Err() error {
	if es, ok := a.state.(*ErrorState); ok {
		return es
	}
	return nil
}

// HasWork reports whether Handle would find anything to consume.
func (a *Actor) HasWork() bool {
	return !a.Done() && (len(a.kicks) > 0 || a.Port.Pending() > 0)
}

// Fail moves the actor to an ErrorState unless it is already terminal.
// Used by the reactor for transport errors.
func (a *Actor) Fail(err error) {
	if a.Done() {
		return
	}
	a.state = &ErrorState{Err: err, From: a.state.Name()}
	a.Trail = append(a.Trail, a.state.Name())
}

// SetInfo stores key in the Info map and notifies the current state.
// Used for explicit hand-offs from one actor to another.
func (a *Actor) SetInfo(key, value string) {
	a.Info[key] = value
	if !a.Done() {
		a.state.InfoUpdated(a)
	}
}

// TakeInfoUpdates returns and clears the INFO messages applied since the
// last call.
func (a *Actor) TakeInfoUpdates() []InfoUpdate {
	u := a.updates
	a.updates = nil
	return u
}

// Send queues a command to the worker.
func (a *Actor) Send(cmd string) {
	a.Port.Enqueue(cmd)
}

// InfoSnapshot returns a copy of the Info map.
func (a *Actor) InfoSnapshot() map[string]string {
	return maps.Clone(a.Info)
}

func (a *Actor) enter(s Step) State {
	st := s.Enter(a)
	a.Trail = append(a.Trail, st.Name())
	return st
}

func (a *Actor) currentName() string {
	if a.state == nil {
		return ""
	}
	return a.state.Name()
}

// newKick returns a fresh unguessable token and queues it so that the
// state expecting it can transition without waiting on the worker.
func (a *Actor) newKick() string {
	tok := kickPrefix + uuid.NewString()
	a.kicks = append(a.kicks, tok)
	return tok
}

// queueKick re-queues an existing token.
func (a *Actor) queueKick(tok string) {
	a.kicks = append(a.kicks, tok)
}

func isKick(msg string) bool {
	return strings.HasPrefix(msg, kickPrefix)
}

func (a *Actor) next() (msg string, kicked, ok bool) {
	if len(a.kicks) > 0 {
		msg = a.kicks[0]
		a.kicks = a.kicks[1:]
		return msg, true, true
	}
	msg, ok = a.Port.Dequeue()
	return msg, false, ok
}

// applyInfo removes INFO messages from the receive queue and applies them.
// Other messages keep their order.
func (a *Actor) applyInfo() error {
	var rest []string
	changed := false
	for {
		msg, ok := a.Port.Dequeue()
		if !ok {
			break
		}
		if !command.IsInfo(msg) {
			rest = append(rest, msg)
			continue
		}
		k, v, ok := command.ParseInfo(msg)
		if !ok {
			return fmt.Errorf("malformed info message %q", msg)
		}
		a.Info[k] = v
		a.updates = append(a.updates, InfoUpdate{Key: k, Value: v})
		changed = true
	}
	for i := len(rest) - 1; i >= 0; i-- {
		a.Port.PushFront(rest[i])
	}
	if changed {
		a.state.InfoUpdated(a)
	}
	return nil
}

// Handle applies queued INFO messages, then consumes queued messages until
// the queue drains, the actor finishes, or no further progress is possible.
//
// A message the current state cannot consume is set aside and retried once,
// after every other available message has been tried. A second miss moves
// the actor to an ErrorState. Stale kick tokens are dropped.
func (a *Actor) Handle() {
	if a.Done() {
		return
	}
	if err := a.applyInfo(); err != nil {
		a.Fail(err)
		return
	}

	var deferred []string
	strikes := make(map[string]int)

	for !a.Done() {
		msg, kicked, ok := a.next()
		if !ok {
			if len(deferred) == 0 {
				break
			}
			for i := len(deferred) - 1; i >= 0; i-- {
				a.Port.PushFront(deferred[i])
				strikes[deferred[i]]++
			}
			deferred = nil
			continue
		}

		next, err := a.state.Transition(a, msg)
		if errors.Is(err, ErrUnmatched) {
			if kicked {
				continue
			}
			if strikes[msg] > 0 {
				a.Fail(fmt.Errorf("%w: %q (expected %s)", ErrUnmatched, msg, strings.Join(a.state.Expects(), " | ")))
				break
			}
			deferred = append(deferred, msg)
			continue
		}
		if strikes[msg] > 0 {
			strikes[msg]--
		}
		if err != nil {
			a.Fail(err)
			break
		}
		if !kicked {
			a.Timestamps = append(a.Timestamps, a.Now())
		}
		a.state = next
	}

	for i := len(deferred) - 1; i >= 0; i-- {
		a.Port.PushFront(deferred[i])
	}
}
