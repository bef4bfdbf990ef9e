package machine

import (
	"fmt"
	"maps"
	"strconv"
)

// exchange is the runtime of every single-message state: it waits for one
// message matching expect, sends at most one command and asks post for the
// next step. A nil step from post keeps the exchange current.
type exchange struct {
	label   string
	expect  string
	command func(a *Actor) string
	post    func(a *Actor, msg string) (Step, error)
	// rearm re-queues the token whenever Info changes.
	rearm bool
	armed bool
}

func (e *exchange) Name() string      { return e.label }
func (e *exchange) Expects() []string { return []string{e.expect} }
func (e *exchange) sealed()           {}

func (e *exchange) InfoUpdated(a *Actor) {
	if e.rearm && !e.armed {
		e.armed = true
		a.queueKick(e.expect)
	}
}

func (e *exchange) Transition(a *Actor, msg string) (State, error) {
	if !matchesAny(e.Expects(), msg) {
		return e, ErrUnmatched
	}
	e.armed = false
	if e.command != nil {
		if cmd := e.command(a); cmd != "" {
			a.Send(cmd)
		}
	}
	if e.post == nil {
		return e, fmt.Errorf("state %s has no successor", e.label)
	}
	next, err := e.post(a, msg)
	if err != nil {
		return e, err
	}
	if next == nil {
		return e, nil
	}
	return a.enter(next), nil
}

func staticCommand(cmd string, fn func(a *Actor) string) func(a *Actor) string {
	if fn != nil {
		return fn
	}
	if cmd == "" {
		return nil
	}
	return func(*Actor) string { return cmd }
}

// newExchange builds the runtime and queues a kick when expect is empty.
func newExchange(a *Actor, label, expect string) *exchange {
	e := &exchange{label: label, expect: expect}
	if expect == "" {
		e.expect = a.newKick()
		e.armed = true
	}
	return e
}

// OnePass waits for one message, optionally sends one command and moves on.
type OnePass struct {
	// Label names the state in the trail. Defaults to "one_pass".
	Label string
	// Expect is the reply prefix to wait for. Empty means: generate a kick
	// token and transition as soon as the reactor handles the actor.
	Expect string
	// Command is sent after the expected message arrives. Empty sends nothing.
	Command string
	// CommandFunc builds the command from the actor when set.
	CommandFunc func(a *Actor) string
	// Next is entered after the exchange.
	Next Step
	// Post, when set, replaces Next and may inspect the consumed message.
	// Returning (nil, nil) keeps the state current.
	Post func(a *Actor, msg string) (Step, error)
}

// Enter implements Step.
func (o OnePass) Enter(a *Actor) State {
	e := newExchange(a, labelOr(o.Label, "one_pass"), o.Expect)
	e.command = staticCommand(o.Command, o.CommandFunc)
	e.post = o.Post
	if e.post == nil && o.Next != nil {
		next := o.Next
		e.post = func(*Actor, string) (Step, error) { return next, nil }
	}
	return e
}

// IfElse is a single exchange that branches on a predicate over Info.
type IfElse struct {
	Label       string
	Expect      string
	Command     string
	CommandFunc func(a *Actor) string
	// Test receives a copy of the Info map.
	Test func(info map[string]string) bool
	Then Step
	Else Step
}

// Enter implements Step.
func (s IfElse) Enter(a *Actor) State {
	e := newExchange(a, labelOr(s.Label, "if_else"), s.Expect)
	e.command = staticCommand(s.Command, s.CommandFunc)
	e.post = func(a *Actor, _ string) (Step, error) {
		if s.Test(maps.Clone(a.Info)) {
			return s.Then, nil
		}
		return s.Else, nil
	}
	return e
}

// Default Info keys used by ForLoop.
const (
	DefaultIterKey  = "_loop_iter"
	DefaultBreakKey = "_loop_break"
)

// ForLoop runs Body until the counter in Info reaches Fin or the break key
// is set to "true", then enters Exit. Both keys live in Info, so the loop
// state survives being re-entered from the end of Body.
type ForLoop struct {
	Label    string
	IterKey  string
	BreakKey string
	Init     int
	Fin      int
	// Body should lead back to the loop through Later.
	Body Step
	Exit Step
}

// Enter implements Step.
func (l ForLoop) Enter(a *Actor) State {
	iterKey := labelOr(l.IterKey, DefaultIterKey)
	breakKey := labelOr(l.BreakKey, DefaultBreakKey)

	e := newExchange(a, labelOr(l.Label, "for_loop"), "")
	e.post = func(a *Actor, _ string) (Step, error) {
		if _, started := a.Info[breakKey]; !started {
			a.Info[breakKey] = "false"
			a.Info[iterKey] = strconv.Itoa(l.Init)
		}
		iter, err := strconv.Atoi(a.Info[iterKey])
		if err != nil {
			return nil, fmt.Errorf("loop counter %s=%q: %w", iterKey, a.Info[iterKey], err)
		}
		if iter >= l.Fin || a.Info[breakKey] == "true" {
			delete(a.Info, breakKey)
			return l.Exit, nil
		}
		a.Info[iterKey] = strconv.Itoa(iter + 1)
		return l.Body, nil
	}
	return e
}

// InfoWatcher waits until Ready holds over Info, re-checking every time the
// actor's Info changes, then sends its command and enters Next.
type InfoWatcher struct {
	Label       string
	Ready       func(info map[string]string) bool
	Command     string
	CommandFunc func(a *Actor) string
	Next        Step
}

// Enter implements Step.
func (w InfoWatcher) Enter(a *Actor) State {
	e := newExchange(a, labelOr(w.Label, "info_watcher"), "")
	e.rearm = true
	cmd := staticCommand(w.Command, w.CommandFunc)
	e.post = func(a *Actor, _ string) (Step, error) {
		if !w.Ready(maps.Clone(a.Info)) {
			return nil, nil
		}
		if cmd != nil {
			if c := cmd(a); c != "" {
				a.Send(c)
			}
		}
		return w.Next, nil
	}
	return e
}

func labelOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
