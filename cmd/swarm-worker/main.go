// Package main provides the swarm-worker entrypoint: one worker invocation
// per process, reading its launch event as JSON on stdin or from --event.
//
// Exit codes:
//   - 0: coordinator said quit
//   - 1: worker error
//   - 2: bad event
//   - 3: idle timeout
//   - 4: setup failure
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/swarm/cli/cmd"
	"github.com/pithecene-io/swarm/types"
)

var commit = "unknown"

func main() {
	app := &cli.App{
		Name:    "swarm-worker",
		Usage:   "Run one swarm worker",
		Version: fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Flags:   cmd.WorkerFlags(),
		Action:  cmd.WorkerAction,
		ExitErrHandler: func(_ *cli.Context, err error) {
			if err == nil {
				return
			}
			var exitCoder cli.ExitCoder
			if errors.As(err, &exitCoder) {
				if msg := exitCoder.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", exitCoder.ExitCode()) {
					fmt.Fprintln(os.Stderr, msg)
				}
				os.Exit(exitCoder.ExitCode())
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}
