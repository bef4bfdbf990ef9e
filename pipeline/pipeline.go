// Package pipeline assembles the coordinator-side state machines of the
// supported workloads. A pipeline is selected by name and parameterised by
// Params; it supplies the initial step of every actor, the hand-off hook run
// on INFO updates and the launch payload defaults.
package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/pithecene-io/swarm/machine"
	"github.com/pithecene-io/swarm/reactor"
	"github.com/pithecene-io/swarm/types"
)

// Params configures a pipeline. Fields unused by a pipeline are ignored.
type Params struct {
	// NumParts is the number of actors.
	NumParts int
	// NumOffset shifts every actor's input index.
	NumOffset int
	// Bucket holds inputs and outputs.
	Bucket string
	// Input is the key prefix of the inputs.
	Input string
	// Output is the key prefix results are uploaded under. Defaults to
	// Input + "/out".
	Output string
	// Command overrides the pipeline's default run command.
	Command string
	// FramesPerActor is the number of frames each grayscale actor converts.
	FramesPerActor int
	// NumPasses bounds the encode passes of xcenc.
	NumPasses int
	// QualityY and QualityS are the xcenc quantizer settings for the first
	// pass and the state-driven passes.
	QualityY int
	QualityS int
}

func (p Params) output() string {
	if p.Output != "" {
		return p.Output
	}
	return p.Input + "/out"
}

func (p Params) command(def string) string {
	if p.Command != "" {
		return p.Command
	}
	return def
}

// chunk returns the zero-padded input index of actor num.
func (p Params) chunk(num int) string {
	return fmt.Sprintf("%08d", num+p.NumOffset)
}

func (p Params) validate(name string, needStorage bool) error {
	if p.NumParts <= 0 {
		return fmt.Errorf("%s: num_parts must be positive, got %d", name, p.NumParts)
	}
	if p.NumOffset < 0 {
		return fmt.Errorf("%s: num_offset must not be negative, got %d", name, p.NumOffset)
	}
	if needStorage {
		if p.Bucket == "" {
			return fmt.Errorf("%s: bucket is required", name)
		}
		if p.Input == "" {
			return fmt.Errorf("%s: input prefix is required", name)
		}
	}
	return nil
}

// Pipeline is one buildable workload.
type Pipeline struct {
	Name string
	// Initial returns the first step of actor number num.
	Initial func(num int) machine.Step
	// Handoff is passed to the reactor; nil when the pipeline has none.
	Handoff reactor.Handoff
	// Event holds the launch payload fields the pipeline depends on. The
	// coordinator fills in address, port and certificates.
	Event types.WorkerEvent
}

// Builder constructs a pipeline from params.
type Builder func(p Params) (*Pipeline, error)

var registry = map[string]Builder{
	"echo":      Echo,
	"grayscale": Grayscale,
	"ssim":      SSIM,
	"xcenc":     XCEnc,
}

// ErrUnknown is returned by Build for names outside the registry.
var ErrUnknown = errors.New("unknown pipeline")

// Names lists the registered pipelines, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Build constructs the named pipeline.
func Build(name string, p Params) (*Pipeline, error) {
	b, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (want one of %s)", ErrUnknown, name, strings.Join(Names(), ", "))
	}
	return b(p)
}

// set formats a set: command.
func set(key, value string) string { return "set:" + key + ":" + value }

// seti formats a seti: command.
func seti(key string, value int) string { return fmt.Sprintf("seti:%s:%d", key, value) }

// object formats the inline "key\x00path" argument of retrieve and upload.
func object(key, path string) string { return key + "\x00" + path }
