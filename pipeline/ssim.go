package pipeline

import (
	"github.com/pithecene-io/swarm/command"
	"github.com/pithecene-io/swarm/machine"
	"github.com/pithecene-io/swarm/types"
)

// DefaultSSIMCommand decodes the encoded chunk and scores it against the
// original.
const DefaultSSIMCommand = `vpxdec --codec=vp8 -o ##TMPDIR##/decoded.y4m ##TMPDIR##/encoded.ivf && dump_ssim ##TMPDIR##/original.y4m ##TMPDIR##/decoded.y4m > ##TMPDIR##/ssim.txt`

// SSIM builds the quality-scoring pipeline. Each actor fetches its original
// chunk and the encoded chunk concurrently, then runs the scorer and
// uploads ssim.txt under Output/ssim.
func SSIM(p Params) (*Pipeline, error) {
	if err := p.validate("ssim", true); err != nil {
		return nil, err
	}
	cmd := p.command(DefaultSSIMCommand)

	return &Pipeline{
		Name: "ssim",
		Initial: func(num int) machine.Step {
			chunk := p.chunk(num)
			origKey := p.Input + "/" + chunk + ".y4m"
			encKey := p.output() + "/" + chunk + ".ivf"

			score := machine.CommandList{
				Label: "score",
				Pairs: []machine.Pair{
					machine.KickOff(seti("nonblock", 0)),
					machine.Send("run:" + cmd),
					machine.Expect("OK:RETVAL(0)", "upload:"+object(p.output()+"/ssim/"+chunk+".txt", "##TMPDIR##/ssim.txt")),
					machine.Expect("OK:UPLOAD(", "quit:"),
				},
				Next: machine.Done,
			}
			fetch := func(label, key, path string) machine.Step {
				return machine.CommandList{
					Label: label,
					Pairs: []machine.Pair{
						machine.KickOff("retrieve:" + object(key, path)),
						machine.Expect(command.OK("RETRIEVE", p.Bucket+"/"+key), ""),
					},
					Next: machine.Done,
				}
			}
			return machine.CommandList{
				Label:     "configure",
				Pipelined: true,
				Pairs: []machine.Pair{
					machine.Expect(command.Hello, seti("nonblock", 1)),
					machine.Send(seti("bg_silent", 1)),
					machine.Expect("OK:SETI(bg_silent)", ""),
				},
				Next: machine.Superposition{
					Label: "fetch",
					Branches: []machine.Step{
						fetch("fetch_original", origKey, "##TMPDIR##/original.y4m"),
						fetch("fetch_encoded", encKey, "##TMPDIR##/encoded.ivf"),
					},
					Next: score,
				},
			}
		},
		Event: types.WorkerEvent{Mode: types.ModeConnect, Bucket: p.Bucket},
	}, nil
}
