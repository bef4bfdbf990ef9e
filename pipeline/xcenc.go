package pipeline

import (
	"fmt"
	"net"
	"strconv"

	"github.com/pithecene-io/swarm/command"
	"github.com/pithecene-io/swarm/machine"
	"github.com/pithecene-io/swarm/reactor"
	"github.com/pithecene-io/swarm/types"
	"github.com/pithecene-io/swarm/worker"
)

// DefaultXCEncCommand encodes input.y4m, seeding the encoder with the
// neighbour's state on passes after the first.
const DefaultXCEncCommand = `##INSTATEWAIT## xc-enc ##QUALITY## -i y4m -O "##TMPDIR##/final.state" -o "##TMPDIR##/output.ivf" ##INSTATESWITCH## "##TMPDIR##/input.y4m"`

// Default encoder settings.
const (
	DefaultNumPasses = 7
	DefaultQualityY  = 30
	DefaultQualityS  = 127
)

// Info keys used by xcenc.
const (
	// ConnectHostKey holds host:port of the next actor's peer listener.
	ConnectHostKey = "connecthost"
	passIterKey    = "pass_iter"
)

// XCEnc builds the chained encoder pipeline. Every worker listens for its
// predecessor; actor num connects to actor num+1, and each encode pass after
// the first starts from the state the predecessor produced one pass earlier.
// Actor num runs min(NumPasses, num+1) passes.
func XCEnc(p Params) (*Pipeline, error) {
	if err := p.validate("xcenc", true); err != nil {
		return nil, err
	}
	if p.NumPasses <= 0 {
		p.NumPasses = DefaultNumPasses
	}
	if p.QualityY <= 0 {
		p.QualityY = DefaultQualityY
	}
	if p.QualityS <= 0 {
		p.QualityS = DefaultQualityS
	}
	cmd := p.command(DefaultXCEncCommand)

	return &Pipeline{
		Name:    "xcenc",
		Initial: func(num int) machine.Step { return xcencActor(p, cmd, num) },
		Handoff: forwardListener,
		Event:   types.WorkerEvent{Mode: types.ModeListen, Nonblock: true, Bucket: p.Bucket},
	}, nil
}

// forwardListener hands every listener port to the previous actor as the
// address it should connect to.
func forwardListener(f reactor.Fleet, from *machine.Actor, u machine.InfoUpdate) {
	if u.Key != worker.InfoListenPort || from.Num == 0 {
		return
	}
	host := from.Info[reactor.RemoteHostKey]
	if host == "" {
		return
	}
	f.SetInfo(from.Num-1, ConnectHostKey, net.JoinHostPort(host, u.Value))
}

func xcencActor(p Params, cmd string, num int) machine.Step {
	chunk := p.chunk(num)
	forward := num != p.NumParts-1
	passes := min(p.NumPasses, num+1)

	upload := machine.CommandList{
		Label: "upload",
		Pairs: []machine.Pair{
			machine.KickOff("upload:"),
			machine.Expect("OK:UPLOADING(", ""),
			machine.Expect("OK:UPLOAD(", "quit:"),
		},
		Next: machine.Done,
	}

	var loop machine.Step
	encode := machine.StepFunc(func(a *machine.Actor) machine.State {
		pass, _ := strconv.Atoi(a.Info[passIterKey])
		return machine.CommandList{
			Label: "encode",
			Pairs: []machine.Pair{
				machine.KickOff(seti("run_iter", pass-1)),
				machine.Send("run:" + cmd),
				machine.Expect("OK:RUNNING(", ""),
				machine.Expect("OK:RETVAL(0)", set("cmdquality", fmt.Sprintf("--s-ac-qi %d", p.QualityS))),
				machine.Expect("OK:SET(cmdquality)", ""),
			},
			Next: machine.Later(&loop),
		}.Enter(a)
	})
	loop = machine.ForLoop{
		Label:   "pass_loop",
		IterKey: passIterKey,
		Fin:     passes,
		Body:    encode,
		Exit:    upload,
	}

	connected := machine.Step(machine.Done)
	if forward {
		connected = machine.StepFunc(func(a *machine.Actor) machine.State {
			return machine.CommandList{
				Label: "connect",
				Pairs: []machine.Pair{
					machine.KickOff("connect:" + a.Info[ConnectHostKey]),
					machine.Expect("OK:CONNECT(", ""),
				},
				Next: machine.Done,
			}.Enter(a)
		})
	}
	hasTarget := func(info map[string]string) bool { return !forward || info[ConnectHostKey] != "" }
	link := machine.IfElse{
		Label: "check_neighbour",
		Test:  hasTarget,
		Then:  connected,
		Else: machine.InfoWatcher{
			Label: "wait_neighbour",
			Ready: hasTarget,
			Next:  connected,
		},
	}
	retrieved := machine.CommandList{
		Label: "finish_retrieve",
		Pairs: []machine.Pair{
			machine.Expect("OK:RETRIEVING(", ""),
			machine.Expect("OK:RETRIEVE(", ""),
		},
		Next: machine.Done,
	}

	settings := []machine.Pair{
		machine.Expect(command.OKPrefix+":", set("inkey", p.Input+"/"+chunk+".y4m")),
		machine.Send(set("targfile", "##TMPDIR##/input.y4m")),
		machine.Send(set("fromfile", "##TMPDIR##/output.ivf")),
		machine.Send(set("outkey", p.output()+"/"+chunk+".ivf")),
		machine.Send(set("cmdquality", fmt.Sprintf("--y-ac-qi %d", p.QualityY))),
	}
	if forward {
		settings = append(settings, machine.Send(seti("send_statefile", 1)))
	}
	settings = append(settings, machine.Send("retrieve:"))

	setup := machine.CommandList{
		Label: "settings",
		Pairs: settings,
		Next: machine.Superposition{
			Label:    "retrieve_and_link",
			Branches: []machine.Step{retrieved, link},
			Next:     loop,
		},
	}

	return machine.OnePass{
		Label:  "listening",
		Expect: "OK:LISTEN(",
		CommandFunc: func(*machine.Actor) string {
			if num == 0 {
				return "close_listen:"
			}
			return seti("expect_statefile", 1)
		},
		Next: setup,
	}
}
