package launch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/pithecene-io/swarm/log"
	"github.com/pithecene-io/swarm/metrics"
	"github.com/pithecene-io/swarm/types"
)

// DefaultWorkerBinary is the worker executable looked up on PATH.
const DefaultWorkerBinary = "swarm-worker"

// LocalLauncher runs each invocation as a local process that reads the
// worker event as JSON on stdin. Intended for development and tests.
type LocalLauncher struct {
	// Binary is the worker executable (default swarm-worker).
	Binary string
	// Args are passed to every process.
	Args []string
	// Env is appended to the inherited environment.
	Env []string
	// Logger receives process lifecycle events. Nil discards them.
	Logger *log.Logger
	// Collector counts successful and failed launches.
	Collector *metrics.Collector

	mu    sync.Mutex
	procs []*process
}

type process struct {
	index  int
	region string
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
}

// Exit is the outcome of one local worker process.
type Exit struct {
	Index    int
	Region   string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Launch starts req.Count processes and returns once all have been started.
// Processes keep running; collect them with Wait or stop them with Kill.
func (l *LocalLauncher) Launch(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	bin := l.Binary
	if req.Function != "" {
		bin = req.Function
	}
	if bin == "" {
		bin = DefaultWorkerBinary
	}
	logger := l.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	env := append(os.Environ(), l.Env...)
	env = append(env, req.Credentials.Env()...)

	res := &Result{}
	for i := range req.Count {
		ev := req.EventFor(i)
		p, err := l.start(ctx, i, bin, env, ev)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, err)
			logger.Warn("worker launch failed", map[string]any{"index": i, "error": err.Error()})
			continue
		}
		res.Launched++
		l.mu.Lock()
		l.procs = append(l.procs, p)
		l.mu.Unlock()
	}

	l.Collector.AddLaunch(int64(res.Launched), int64(res.Failed))
	logger.Info("workers launched", map[string]any{"launched": res.Launched, "failed": res.Failed, "binary": bin})
	if res.Launched == 0 {
		return res, fmt.Errorf("no workers launched: %w", res.Err())
	}
	return res, nil
}

func (l *LocalLauncher) start(ctx context.Context, i int, bin string, env []string, ev types.WorkerEvent) (*process, error) {
	input, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode worker event %d: %w", i, err)
	}

	cmd := exec.CommandContext(ctx, bin, l.Args...)
	penv := env
	if ev.Region != "" {
		penv = append(append([]string(nil), env...), "AWS_REGION="+ev.Region)
	}
	cmd.Env = deduplicateEnv(penv)
	cmd.Stdin = bytes.NewReader(append(input, '\n'))

	p := &process{index: i, region: ev.Region, cmd: cmd}
	cmd.Stdout = &p.stdout
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %d: %w", i, err)
	}
	return p, nil
}

// Wait blocks until every launched process has exited and returns their
// outcomes in launch order. Processes are forgotten once collected.
func (l *LocalLauncher) Wait() ([]Exit, error) {
	l.mu.Lock()
	procs := l.procs
	l.procs = nil
	l.mu.Unlock()

	exits := make([]Exit, 0, len(procs))
	var errs []error
	for _, p := range procs {
		code, err := exitCode(p.cmd.Wait())
		if err != nil {
			errs = append(errs, fmt.Errorf("worker %d: %w", p.index, err))
		}
		exits = append(exits, Exit{
			Index:    p.index,
			Region:   p.region,
			ExitCode: code,
			Stdout:   p.stdout.Bytes(),
			Stderr:   p.stderr.Bytes(),
		})
	}
	return exits, errors.Join(errs...)
}

// Kill terminates every running process.
func (l *LocalLauncher) Kill() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.procs {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	}
}

func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1, err
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		if status.Signaled() {
			return 128 + int(status.Signal()), nil
		}
		return status.ExitStatus(), nil
	}
	return -1, nil
}

// deduplicateEnv keeps the last occurrence of each variable.
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	out := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			out = append(out, entry)
		}
	}
	return out
}

// Verify LocalLauncher implements Launcher.
var _ Launcher = (*LocalLauncher)(nil)
