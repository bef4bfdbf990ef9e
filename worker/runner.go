package worker

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// Runner executes one shell command string.
type Runner interface {
	// Run returns the exit code and combined stdout/stderr. err is non-nil
	// only when the command could not be started or waited on.
	Run(ctx context.Context, command string) (code int, output string, err error)
}

// ShellRunner runs commands through /bin/sh -c.
type ShellRunner struct {
	// Shell overrides the interpreter. Defaults to /bin/sh.
	Shell string
	// Dir is the working directory.
	Dir string
}

// Run implements Runner.
func (r ShellRunner) Run(ctx context.Context, command string) (int, string, error) {
	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	if err == nil {
		return 0, string(out), nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1, string(out), fmt.Errorf("run %q: %w", command, err)
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		if status.Signaled() {
			return 128 + int(status.Signal()), string(out), nil
		}
		return status.ExitStatus(), string(out), nil
	}
	return -1, string(out), nil
}
