package pipeline

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/pithecene-io/swarm/command"
	"github.com/pithecene-io/swarm/machine"
	"github.com/pithecene-io/swarm/types"
)

// DefaultGrayscaleCommand converts ##INFILE## to grayscale in ##OUTFILE##.
const DefaultGrayscaleCommand = `ffmpeg -hide_banner -loglevel error -y -i "##INFILE##" -vf hue=s=0 "##OUTFILE##"`

const frameIterKey = "frame_iter"

// Grayscale builds the per-frame conversion pipeline. Actor num handles
// FramesPerActor consecutive PNG frames starting at
// 1 + FramesPerActor*(num+NumOffset); for each it retrieves the frame, runs
// the conversion and uploads the result under Output.
func Grayscale(p Params) (*Pipeline, error) {
	if err := p.validate("grayscale", true); err != nil {
		return nil, err
	}
	if p.FramesPerActor <= 0 {
		return nil, errors.New("grayscale: frames per actor must be positive")
	}
	cmd := p.command(DefaultGrayscaleCommand)

	return &Pipeline{
		Name: "grayscale",
		Initial: func(num int) machine.Step {
			var loop machine.Step
			quit := machine.CommandList{
				Label: "quit",
				Pairs: []machine.Pair{machine.KickOff("quit:")},
				Next:  machine.Done,
			}
			body := machine.StepFunc(func(a *machine.Actor) machine.State {
				pass, _ := strconv.Atoi(a.Info[frameIterKey])
				frame := fmt.Sprintf("%08d", 1+p.FramesPerActor*(num+p.NumOffset)+pass-1)
				in := "##TMPDIR##/" + frame + ".png"
				out := "##TMPDIR##/" + frame + "-gray.png"
				return machine.CommandList{
					Label: "convert_frame",
					Pairs: []machine.Pair{
						machine.KickOff(set("inkey", p.Input+"/"+frame+".png")),
						machine.Send(set("targfile", in)),
						machine.Send(set("cmdinfile", in)),
						machine.Send(set("cmdoutfile", out)),
						machine.Send(set("fromfile", out)),
						machine.Send(set("outkey", p.output()+"/"+frame+".png")),
						machine.Send("retrieve:"),
						machine.Send("run:" + cmd),
						machine.Expect("OK:RETVAL(0)", "upload:"),
						machine.Expect("OK:UPLOAD(", ""),
					},
					Next: machine.Later(&loop),
				}.Enter(a)
			})
			loop = machine.ForLoop{
				Label:   "frame_loop",
				IterKey: frameIterKey,
				Fin:     p.FramesPerActor,
				Body:    body,
				Exit:    quit,
			}
			return machine.CommandList{
				Label: "configure",
				Pairs: []machine.Pair{
					machine.Expect(command.Hello, seti("nonblock", 0)),
					machine.Send("run:mkdir -p ##TMPDIR##"),
					machine.Expect("OK:RETVAL(0)", ""),
				},
				Next: loop,
			}
		},
		Event: types.WorkerEvent{Mode: types.ModeConnect, Bucket: p.Bucket},
	}, nil
}
