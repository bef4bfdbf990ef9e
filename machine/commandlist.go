package machine

import (
	"fmt"

	"github.com/pithecene-io/swarm/command"
)

// Kick is a Pair expectation meaning "generate a token and proceed without
// waiting on the worker".
const Kick = "\x00kick"

// Pair is one (expect, command) step of a CommandList.
type Pair struct {
	// Expect is the reply prefix awaited before Command is sent. Empty
	// derives it from the previous command's response tag.
	Expect string
	// Command is sent once Expect is matched. Empty only waits.
	Command string
}

// Send is a Pair whose expectation is derived.
func Send(cmd string) Pair { return Pair{Command: cmd} }

// Expect is a Pair with an explicit expectation.
func Expect(prefix, cmd string) Pair { return Pair{Expect: prefix, Command: cmd} }

// KickOff is a Pair that sends cmd as soon as the list is entered. Only
// meaningful as the first pair.
func KickOff(cmd string) Pair { return Pair{Expect: Kick, Command: cmd} }

// CommandList walks a fixed list of pairs.
//
// Sequential: wait for expects[i], send commands[i], advance. Pipelined: on
// the first expectation, send every non-empty command back to back, then
// consume one reply per command in order. In both modes the reply to the
// final command is left for Next, so Next declares how to wait for it.
type CommandList struct {
	Label     string
	Pairs     []Pair
	Pipelined bool
	Next      Step
}

type commandListState struct {
	def     CommandList
	expects []string
	// pos indexes expects; in sequential mode it also indexes Pairs.
	pos int
}

// Enter implements Step.
func (c CommandList) Enter(a *Actor) State {
	s := &commandListState{def: c}
	if len(c.Pairs) == 0 {
		return c.Next.Enter(a)
	}

	first := c.Pairs[0].Expect
	switch first {
	case Kick:
		first = a.newKick()
	case "":
		first = command.DefaultResponse
	}

	if !c.Pipelined {
		s.expects = make([]string, len(c.Pairs))
		s.expects[0] = first
		for i := 1; i < len(c.Pairs); i++ {
			s.expects[i] = deriveExpect(c.Pairs[i].Expect, c.Pairs[i-1].Command)
		}
		return s
	}

	// Pipelined: trigger, then one reply per non-empty command except the last.
	s.expects = []string{first}
	for i := 0; i < len(c.Pairs)-1; i++ {
		if c.Pairs[i].Command == "" {
			continue
		}
		s.expects = append(s.expects, deriveExpect(c.Pairs[i+1].Expect, c.Pairs[i].Command))
	}
	return s
}

func deriveExpect(explicit, prevCmd string) string {
	if explicit != "" && explicit != Kick {
		return explicit
	}
	return command.ExpectedResponse(prevCmd)
}

func (s *commandListState) Name() string {
	if s.def.Label != "" {
		return s.def.Label
	}
	if s.def.Pipelined {
		return "pipelined_list"
	}
	return "command_list"
}

func (s *commandListState) Expects() []string {
	if s.pos >= len(s.expects) {
		return nil
	}
	return []string{s.expects[s.pos]}
}

func (s *commandListState) InfoUpdated(*Actor) {}
func (s *commandListState) sealed()            {}

func (s *commandListState) Transition(a *Actor, msg string) (State, error) {
	if !matchesAny(s.Expects(), msg) {
		return s, ErrUnmatched
	}

	if s.def.Pipelined {
		if s.pos == 0 {
			for _, p := range s.def.Pairs {
				if p.Command != "" {
					a.Send(p.Command)
				}
			}
		}
	} else {
		if s.pos >= len(s.def.Pairs) {
			return s, fmt.Errorf("command list overrun at %d", s.pos)
		}
		if cmd := s.def.Pairs[s.pos].Command; cmd != "" {
			a.Send(cmd)
		}
	}

	s.pos++
	if s.pos < len(s.expects) {
		return s, nil
	}
	return a.enter(s.def.Next), nil
}
