package pipeline

import (
	"strconv"

	"github.com/pithecene-io/swarm/command"
	"github.com/pithecene-io/swarm/machine"
	"github.com/pithecene-io/swarm/types"
)

// Echo builds a smoke-test pipeline: every actor records its number, echoes
// it back and quits. It needs no storage.
func Echo(p Params) (*Pipeline, error) {
	if err := p.validate("echo", false); err != nil {
		return nil, err
	}
	return &Pipeline{
		Name: "echo",
		Initial: func(num int) machine.Step {
			n := strconv.Itoa(num)
			return machine.CommandList{
				Label: "echo",
				Pairs: []machine.Pair{
					machine.Expect(command.Hello, set("actor", n)),
					machine.Send("echo:" + n),
					machine.Expect(command.OK("ECHO", n), "quit:"),
				},
				Next: machine.Done,
			}
		},
		Event: types.WorkerEvent{Mode: types.ModeConnect},
	}, nil
}
