package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/swarm/cli/config"
	"github.com/pithecene-io/swarm/metrics"
	"github.com/pithecene-io/swarm/types"
	"github.com/pithecene-io/swarm/worker"
)

// WorkerFlags are the flags of the worker entrypoint, shared by
// `swarm worker` and the swarm-worker binary.
func WorkerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "event", Usage: "Worker event JSON file, or - for stdin", Value: "-"},
		&cli.StringFlag{Name: "storage-backend", Usage: "Object storage backend: fs, memory or s3", EnvVars: []string{"SWARM_STORAGE_BACKEND"}},
		&cli.StringFlag{Name: "storage-root", Usage: "Root directory of the fs backend", EnvVars: []string{"SWARM_STORAGE_ROOT"}},
		&cli.StringFlag{Name: "storage-endpoint", Usage: "Custom S3 endpoint", EnvVars: []string{"SWARM_STORAGE_ENDPOINT"}},
		&cli.BoolFlag{Name: "storage-path-style", Usage: "Force S3 path-style addressing", EnvVars: []string{"SWARM_STORAGE_PATH_STYLE"}},
		&cli.StringFlag{Name: "tmpdir", Usage: "Working directory (default: fresh temp dir)"},
		&cli.DurationFlag{Name: "idle-timeout", Usage: "Exit after this long with nothing to do", Value: worker.DefaultIdleTimeout},
		&cli.IntFlag{Name: "transfer-limit", Usage: "Concurrent transfers for emit and collect", Value: worker.DefaultTransferLimit},
		&cli.StringFlag{Name: "log-file", Usage: "Also log to this file", EnvVars: []string{"SWARM_LOG_FILE"}},
	}
}

// WorkerCommand returns the worker command.
func WorkerCommand() *cli.Command {
	return &cli.Command{
		Name:   "worker",
		Usage:  "Run one worker invocation from a launch event",
		Flags:  WorkerFlags(),
		Action: WorkerAction,
	}
}

// WorkerAction runs a worker until the coordinator says quit.
func WorkerAction(c *cli.Context) error {
	ev, err := readEvent(c.String("event"), os.Stdin)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	logger, closer := newLogger(nil, "worker", config.LogConfig{File: c.String("log-file")}, false)
	defer func() { _ = closer.Close() }()
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	sc := config.StorageConfig{
		Backend:   c.String("storage-backend"),
		Root:      c.String("storage-root"),
		Region:    ev.Region,
		Endpoint:  c.String("storage-endpoint"),
		PathStyle: c.Bool("storage-path-style"),
	}
	if sc.Backend == "" && ev.Bucket != "" {
		sc.Backend = "s3"
	}
	collector := metrics.NewCollector("worker", "", sc.Backend, "")
	store, err := newStore(ctx, sc, collector)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupFailure)
	}

	cfg := worker.Config{
		Event:         ev,
		TmpDir:        c.String("tmpdir"),
		IdleTimeout:   c.Duration("idle-timeout"),
		TransferLimit: c.Int("transfer-limit"),
		Logger:        logger,
	}
	if store != nil {
		cfg.Storage = store
	}
	w, err := worker.New(cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupFailure)
	}

	if err := w.Run(ctx); err != nil {
		logger.Error("worker failed", map[string]any{"error": err.Error()})
		if errors.Is(err, worker.ErrIdleTimeout) {
			return cli.Exit(err.Error(), exitTimeout)
		}
		return cli.Exit(err.Error(), exitActorFailure)
	}
	return nil
}

// readEvent decodes the launch event from path, or from stdin for "-".
func readEvent(path string, stdin io.Reader) (types.WorkerEvent, error) {
	var ev types.WorkerEvent
	r := stdin
	if path != "-" && path != "" {
		f, err := os.Open(path)
		if err != nil {
			return ev, fmt.Errorf("open event: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return ev, fmt.Errorf("read event: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return ev, errors.New("empty worker event")
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("invalid worker event JSON: %w", err)
	}
	switch ev.Mode {
	case types.ModeOneShot, types.ModeConnect, types.ModeListen:
	default:
		return ev, fmt.Errorf("unknown worker mode %d", ev.Mode)
	}
	if ev.Mode != types.ModeOneShot && (ev.Addr == "" || ev.Port == 0) {
		return ev, errors.New("worker event needs addr and port")
	}
	return ev, nil
}
