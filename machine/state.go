// Package machine implements the coordinator-side state-machine algebra.
//
// A pipeline is assembled from definitions (OnePass, CommandList, ForLoop,
// IfElse, Superposition, InfoWatcher, Done, Fail) that implement Step. Entering
// a Step produces the runtime State that is current for one actor. Per-actor
// fields (Info, timestamps, trail) live on the Actor, so a transition only
// has to say which state is active next.
package machine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnmatched is returned by State.Transition when a message matches none
// of the state's current expectations.
var ErrUnmatched = errors.New("message does not match current expectation")

// ErrAmbiguous is reported when sibling branches of a superposition start
// with overlapping expectations.
var ErrAmbiguous = errors.New("ambiguous superposition")

// State is the runtime node currently active for an actor. The set of
// implementations is closed to this package.
type State interface {
	// Name labels the state in the actor's trail.
	Name() string
	// Expects lists the reply prefixes the state can consume right now.
	Expects() []string
	// Transition consumes msg and returns the state that is active next,
	// which may be the receiver itself.
	Transition(a *Actor, msg string) (State, error)
	// InfoUpdated is called after the actor's Info map changed.
	InfoUpdated(a *Actor)

	sealed()
}

// Step constructs a state on entry. Entering may queue a kick token or send
// nothing at all; it never blocks.
type Step interface {
	Enter(a *Actor) State
}

// StepFunc adapts a function to Step.
type StepFunc func(a *Actor) State

// Enter calls f.
func (f StepFunc) Enter(a *Actor) State { return f(a) }

// Later defers dereferencing s until entry, for pipelines that refer to a
// step that is assigned after the reference is built (loops).
func Later(s *Step) Step {
	return StepFunc(func(a *Actor) State { return (*s).Enter(a) })
}

// matchesAny reports whether msg starts with any of the expectations.
func matchesAny(expects []string, msg string) bool {
	for _, e := range expects {
		if strings.HasPrefix(msg, e) {
			return true
		}
	}
	return false
}

// Terminal is the normal completion state.
type Terminal struct{}

// Done enters Terminal.
var Done Step = StepFunc(func(*Actor) State { return Terminal{} })

func (Terminal) Name() string      { return "done" }
func (Terminal) Expects() []string { return nil }
func (Terminal) InfoUpdated(*Actor) {}
func (Terminal) sealed()            {}

// Transition always fails: a finished actor consumes nothing.
func (t Terminal) Transition(*Actor, string) (State, error) {
	return t, ErrUnmatched
}

// ErrorState is the abnormal terminal state.
type ErrorState struct {
	// Err is the cause.
	Err error
	// From names the state that failed.
	From string
}

// Fail enters an ErrorState carrying err.
func Fail(err error) Step {
	return StepFunc(func(a *Actor) State {
		return &ErrorState{Err: err, From: a.currentName()}
	})
}

func (e *ErrorState) Name() string      { return "error" }
func (e *ErrorState) Expects() []string { return nil }
func (e *ErrorState) InfoUpdated(*Actor) {}
func (e *ErrorState) sealed()            {}

// Transition always fails: a failed actor consumes nothing.
func (e *ErrorState) Transition(*Actor, string) (State, error) {
	return e, ErrUnmatched
}

func (e *ErrorState) Error() string {
	if e.From == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.From, e.Err)
}

func (e *ErrorState) Unwrap() error { return e.Err }

// IsTerminal reports whether s is Terminal or an ErrorState.
func IsTerminal(s State) bool {
	switch s.(type) {
	case Terminal, *ErrorState:
		return true
	default:
		return false
	}
}

// IsError reports whether s is an ErrorState.
func IsError(s State) bool {
	_, ok := s.(*ErrorState)
	return ok
}
