// Package cmd provides CLI commands for the swarm binary.
package cmd

import (
	"os"

	"github.com/urfave/cli/v2"
)

// Shared flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables the live fleet dashboard. Only serve supports it.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Show a live fleet dashboard (serve only)",
	}

	// ConfigFlag points at a swarm.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to swarm.yaml",
		EnvVars: []string{"SWARM_CONFIG"},
	}
)

// OutputFlags returns the flags shared by every command that renders a
// result. Includes --tui so that unsupported commands can provide explicit
// error messages instead of generic "flag not defined" errors.
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
