package machine

import (
	"fmt"
	"strings"
)

// Superposition runs several sub-machines over the same connection. Each
// message goes to the first unfinished branch whose expectation matches it.
// Next is entered once every branch has finished; a branch error fails the
// whole actor.
//
// Branches must start with expectations that cannot match the same message.
// Overlapping starting expectations are rejected on entry with ErrAmbiguous;
// later overlaps resolve to the first matching branch.
type Superposition struct {
	Label    string
	Branches []Step
	Next     Step
}

type superposition struct {
	label    string
	branches []State
	next     Step
}

// Enter implements Step.
func (s Superposition) Enter(a *Actor) State {
	sp := &superposition{label: labelOr(s.Label, "superposition"), next: s.Next}
	for _, b := range s.Branches {
		sp.branches = append(sp.branches, a.enter(b))
	}
	for _, b := range sp.branches {
		if es, ok := b.(*ErrorState); ok {
			return es
		}
	}
	if err := checkOverlap(sp.branches); err != nil {
		return &ErrorState{Err: err, From: sp.label}
	}
	if sp.allDone() {
		// The caller records Next's state; record the superposition it skipped.
		a.Trail = append(a.Trail, sp.label)
		return s.Next.Enter(a)
	}
	return sp
}

func checkOverlap(branches []State) error {
	for i := range branches {
		for j := i + 1; j < len(branches); j++ {
			for _, x := range branches[i].Expects() {
				for _, y := range branches[j].Expects() {
					if isKick(x) || isKick(y) {
						continue
					}
					if strings.HasPrefix(x, y) || strings.HasPrefix(y, x) {
						return fmt.Errorf("%w: branches %d and %d both expect %q / %q", ErrAmbiguous, i, j, x, y)
					}
				}
			}
		}
	}
	return nil
}

func (s *superposition) Name() string { return s.label }
func (s *superposition) sealed()      {}

// Expects is the union of the unfinished branches' expectations.
func (s *superposition) Expects() []string {
	var out []string
	for _, b := range s.branches {
		if !IsTerminal(b) {
			out = append(out, b.Expects()...)
		}
	}
	return out
}

func (s *superposition) InfoUpdated(a *Actor) {
	for _, b := range s.branches {
		if !IsTerminal(b) {
			b.InfoUpdated(a)
		}
	}
}

func (s *superposition) allDone() bool {
	for _, b := range s.branches {
		if !IsTerminal(b) {
			return false
		}
	}
	return true
}

func (s *superposition) Transition(a *Actor, msg string) (State, error) {
	for i, b := range s.branches {
		if IsTerminal(b) || !matchesAny(b.Expects(), msg) {
			continue
		}
		next, err := b.Transition(a, msg)
		if err != nil {
			return s, fmt.Errorf("branch %d: %w", i, err)
		}
		if es, ok := next.(*ErrorState); ok {
			return s, fmt.Errorf("branch %d: %w", i, es)
		}
		s.branches[i] = next
		if s.allDone() {
			return a.enter(s.next), nil
		}
		return s, nil
	}
	return s, ErrUnmatched
}
