package cmd

import (
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/swarm/cli/render"
	"github.com/pithecene-io/swarm/frame"
	"github.com/pithecene-io/swarm/types"
)

// VersionResponse describes this build. Coordinator, worker and relay share
// one version; FrameHeader lets operators spot a wire mismatch between a
// coordinator and an older worker image.
type VersionResponse struct {
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	GoVersion   string `json:"go_version"`
	FrameHeader int    `json:"frame_header"`
}

func newVersionResponse(commit string) VersionResponse {
	return VersionResponse{
		Version:     types.Version,
		Commit:      commit,
		GoVersion:   runtime.Version(),
		FrameHeader: frame.HeaderLen,
	}
}

// VersionCommand returns the version command.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Flags: OutputFlags(),
		Action: func(c *cli.Context) error {
			if c.Bool("tui") {
				return cli.Exit("--tui is not supported for version command", exitUsage)
			}
			r, err := render.NewRenderer(c)
			if err != nil {
				return cli.Exit(err.Error(), exitUsage)
			}
			return r.Render(newVersionResponse(commit))
		},
	}
}
