package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/swarm/adapter"
	"github.com/pithecene-io/swarm/cli/config"
	"github.com/pithecene-io/swarm/cli/render"
	"github.com/pithecene-io/swarm/cli/tui"
	"github.com/pithecene-io/swarm/launch"
	"github.com/pithecene-io/swarm/log"
	"github.com/pithecene-io/swarm/metrics"
	"github.com/pithecene-io/swarm/pipeline"
	"github.com/pithecene-io/swarm/reactor"
	"github.com/pithecene-io/swarm/report"
	"github.com/pithecene-io/swarm/transport"
	"github.com/pithecene-io/swarm/types"
)

// publishTimeout bounds the completion notification after a run.
const publishTimeout = 30 * time.Second

// ServeCommand returns the serve command, which launches a fleet and
// coordinates it to completion.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Launch a worker fleet and drive it through a pipeline",
		Flags: append([]cli.Flag{
			ConfigFlag,
			&cli.StringFlag{Name: "pipeline", Aliases: []string{"p"}, Usage: "Pipeline: " + fmt.Sprint(pipeline.Names())},
			&cli.StringFlag{Name: "listen", Usage: "Coordinator listen address", Value: ":13579"},
			&cli.StringFlag{Name: "public-addr", Usage: "Address workers dial (default: listen host or 127.0.0.1)"},
			&cli.IntFlag{Name: "num-parts", Aliases: []string{"n"}, Usage: "Number of actors"},
			&cli.IntFlag{Name: "overprovision", Usage: "Extra workers launched beyond num-parts"},
			&cli.IntFlag{Name: "keyframe-distance", Usage: "Group actors into keyframe groups of this size"},
			&cli.DurationFlag{Name: "idle-timeout", Usage: "Fail the run after this long without progress", Value: reactor.DefaultIdleTimeout},
			&cli.DurationFlag{Name: "status-interval", Usage: "Fleet status period", Value: reactor.DefaultStatusInterval},
			&cli.StringFlag{Name: "out-file", Usage: "Write per-actor timestamps to this file"},
			&cli.StringFlag{Name: "profile-file", Usage: "Write a CPU profile of the run to this file"},
			&cli.StringFlag{Name: "ca-cert", Usage: "CA certificate PEM handed to workers"},
			&cli.StringFlag{Name: "server-cert", Usage: "Coordinator certificate PEM"},
			&cli.StringFlag{Name: "server-key", Usage: "Coordinator private key PEM"},
			&cli.StringFlag{Name: "bucket", Usage: "Object storage bucket for pipeline data"},
			&cli.StringFlag{Name: "input", Usage: "Input key prefix"},
			&cli.StringFlag{Name: "output", Usage: "Output key prefix (default <input>/out)"},
			&cli.StringFlag{Name: "command", Usage: "Override the pipeline's run command"},
			&cli.IntFlag{Name: "num-offset", Usage: "Added to actor numbers when naming chunks"},
			&cli.IntFlag{Name: "frames-per-actor", Usage: "Frames each actor converts (grayscale)"},
			&cli.IntFlag{Name: "num-passes", Usage: "Encode passes (xcenc)"},
			&cli.StringFlag{Name: "launcher", Usage: "Launcher: local or none", Value: "local"},
			&cli.StringFlag{Name: "function", Usage: "Worker function or binary to invoke"},
			&cli.StringSliceFlag{Name: "region", Usage: "Regions assigned to workers round-robin"},
			&cli.StringFlag{Name: "run-id", Usage: "Run ID (default: random UUID)"},
			&cli.IntFlag{Name: "attempt", Usage: "Attempt number (starts at 1)", Value: 1},
			&cli.StringFlag{Name: "parent-run-id", Usage: "Run this attempt replaces (required when attempt > 1)"},
			&cli.BoolFlag{Name: "quiet", Usage: "Suppress result output"},
		}, OutputFlags()...),
		Action: serveAction,
	}
}

// serveOptions is the merged config plus lineage for one run.
type serveOptions struct {
	cfg     *config.Config
	meta    *types.RunMeta
	tui     bool
	quiet   bool
	payload payloadPEM
}

// payloadPEM holds PEM bodies for the worker event.
type payloadPEM struct {
	ca, cert, key string
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	mergeServeFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	meta := &types.RunMeta{
		RunID:    c.String("run-id"),
		Pipeline: cfg.Pipeline.Name,
		Attempt:  c.Int("attempt"),
	}
	if meta.RunID == "" {
		meta.RunID = uuid.NewString()
	}
	if parent := c.String("parent-run-id"); parent != "" {
		meta.ParentRunID = &parent
	}
	if err := meta.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("invalid run lineage: %v", err), exitUsage)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	opts := serveOptions{cfg: cfg, meta: meta, tui: c.Bool("tui"), quiet: c.Bool("quiet")}
	if opts.tui && !isStderrTTY() {
		return cli.Exit("--tui requires a terminal", exitUsage)
	}

	ctx, cancel := signalContext()
	defer cancel()

	summary, err := serve(ctx, opts)
	if err != nil {
		return err
	}
	if !opts.quiet {
		if err := r.Render(summary); err != nil {
			return err
		}
	}
	return cli.Exit("", outcomeToExitCode(summary.Outcome))
}

func mergeServeFlags(c *cli.Context, cfg *config.Config) {
	co := &cfg.Coordinator
	mergeString(c, "listen", &co.Listen)
	mergeString(c, "public-addr", &co.PublicAddr)
	mergeInt(c, "num-parts", &co.NumParts)
	mergeInt(c, "overprovision", &co.Overprovision)
	mergeInt(c, "keyframe-distance", &co.KeyframeDistance)
	mergeDuration(c, "idle-timeout", &co.IdleTimeout)
	mergeDuration(c, "status-interval", &co.StatusInterval)
	mergeString(c, "out-file", &co.OutFile)
	mergeString(c, "profile-file", &co.ProfileFile)

	mergeString(c, "ca-cert", &cfg.TLS.CACert)
	mergeString(c, "server-cert", &cfg.TLS.ServerCert)
	mergeString(c, "server-key", &cfg.TLS.ServerKey)

	pc := &cfg.Pipeline
	mergeString(c, "pipeline", &pc.Name)
	mergeString(c, "bucket", &pc.Bucket)
	mergeString(c, "input", &pc.Input)
	mergeString(c, "output", &pc.Output)
	mergeString(c, "command", &pc.Command)
	mergeInt(c, "num-offset", &pc.NumOffset)
	mergeInt(c, "frames-per-actor", &pc.FramesPerActor)
	mergeInt(c, "num-passes", &pc.NumPasses)

	mergeString(c, "launcher", &cfg.Launcher.Type)
	mergeString(c, "function", &cfg.Launcher.Function)
	mergeStrings(c, "region", &cfg.Launcher.Regions)
}

// serve runs one fleet. Setup failures are returned as cli exit errors; a
// finished run, successful or not, is returned as a summary.
func serve(ctx context.Context, opts serveOptions) (RunSummary, error) {
	cfg := opts.cfg
	logger, closer := newLogger(opts.meta, "coordinator", cfg.Log, opts.tui)
	defer func() { _ = closer.Close() }()
	defer logger.Sync()

	setupFailed := func(msg string, err error) (RunSummary, error) {
		logger.Error(msg, map[string]any{"error": err.Error()})
		return RunSummary{}, cli.Exit(fmt.Sprintf("%s: %v", msg, err), exitSetupFailure)
	}

	p, err := pipeline.Build(cfg.Pipeline.Name, pipeline.Params{
		NumParts:       cfg.Coordinator.NumParts,
		NumOffset:      cfg.Pipeline.NumOffset,
		Bucket:         cfg.Pipeline.Bucket,
		Input:          cfg.Pipeline.Input,
		Output:         cfg.Pipeline.Output,
		Command:        cfg.Pipeline.Command,
		FramesPerActor: cfg.Pipeline.FramesPerActor,
		NumPasses:      cfg.Pipeline.NumPasses,
		QualityY:       cfg.Pipeline.QualityY,
		QualityS:       cfg.Pipeline.QualityS,
	})
	if err != nil {
		return RunSummary{}, cli.Exit(err.Error(), exitUsage)
	}

	collector := metrics.NewCollector("coordinator", p.Name, cfg.Storage.Backend, opts.meta.RunID)
	store, err := newStore(ctx, cfg.Storage, collector)
	if err != nil {
		return setupFailed("storage", err)
	}

	tlsCfg, pem, err := loadTLS(cfg.TLS)
	if err != nil {
		return setupFailed("tls", err)
	}
	opts.payload = pem

	var dash *tui.Dashboard
	observer := reactor.Observer(nil)
	if opts.tui {
		dash = tui.NewDashboard(fmt.Sprintf("swarm %s · %s", p.Name, opts.meta.RunID), cfg.Coordinator.NumParts)
		observer = dash.Observe
	}

	rx, err := reactor.New(reactor.Config{
		ListenAddr:       cfg.Coordinator.Listen,
		NumParts:         cfg.Coordinator.NumParts,
		KeyframeDistance: cfg.Coordinator.KeyframeDistance,
		TLS:              tlsCfg,
		Initial:          p.Initial,
		Handoff:          p.Handoff,
		StatusInterval:   cfg.Coordinator.StatusInterval.Duration,
		IdleTimeout:      cfg.Coordinator.IdleTimeout.Duration,
		ProfileFile:      cfg.Coordinator.ProfileFile,
		Observer:         observer,
		Logger:           logger,
		Collector:        collector,
	})
	if err != nil {
		return setupFailed("coordinator", err)
	}

	launcher, err := newLauncher(cfg.Launcher, logger, collector)
	if err != nil {
		return RunSummary{}, cli.Exit(err.Error(), exitUsage)
	}
	req, err := launchRequest(cfg, p.Event, rx.Addr(), opts.payload)
	if err != nil {
		return setupFailed("launch", err)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	if dash != nil {
		dashDone := make(chan struct{})
		go func() {
			defer close(dashDone)
			if err := dash.Run(runCtx); errors.Is(err, tui.ErrQuit) {
				cancelRun()
			}
		}()
		defer func() {
			dash.Close()
			<-dashDone
		}()
	}

	if _, err := launcher.Launch(runCtx, req); err != nil {
		return setupFailed("launch", err)
	}
	if l, ok := launcher.(*launch.LocalLauncher); ok {
		defer collectLocal(l, logger)
	}

	res, runErr := rx.Run(runCtx)
	if res == nil {
		return setupFailed("coordinator", runErr)
	}
	var fe *reactor.FleetError
	if runErr != nil && !errors.As(runErr, &fe) {
		logger.Warn("run ended with error", map[string]any{"error": runErr.Error()})
	}
	outcome := res.Outcome()
	if dash != nil {
		dash.Finish(outcome.Status)
	}
	logger.Info("run finished", map[string]any{
		"outcome":     string(outcome.Status),
		"message":     outcome.Message,
		"duration_ms": res.Duration.Milliseconds(),
	})

	if cfg.Coordinator.OutFile != "" {
		if err := report.SaveOutFile(cfg.Coordinator.OutFile, res); err != nil {
			logger.Error("out file write failed", map[string]any{"path": cfg.Coordinator.OutFile, "error": err.Error()})
		}
	}
	if cfg.Report.Bucket != "" && store != nil {
		w, err := report.NewDatasetWriter(opts.meta, store.StoreFactory(cfg.Report.Bucket))
		if err == nil {
			err = w.Write(ctx, res, collector.Snapshot())
		}
		if err != nil {
			logger.Error("run report write failed", map[string]any{"bucket": cfg.Report.Bucket, "error": err.Error()})
		}
	}
	publish(cfg.Adapter, opts.meta, res, cfg.Coordinator.OutFile, logger)

	return newRunSummary(opts.meta, res), nil
}

// loadTLS reads the configured PEM files. The returned payload carries the
// CA and the worker listener key pair without armor lines.
func loadTLS(tc config.TLSConfig) (*tls.Config, payloadPEM, error) {
	var pem payloadPEM
	if !tc.Enabled() {
		return nil, pem, nil
	}
	if tc.ServerCert == "" {
		return nil, pem, errors.New("tls requires server_cert and server_key")
	}
	cfg, err := transport.LoadServerTLS(tc.ServerCert, tc.ServerKey)
	if err != nil {
		return nil, pem, err
	}
	read := func(path string) (string, error) {
		if path == "" {
			return "", nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		return transport.StripPEM(string(b)), nil
	}
	if pem.ca, err = read(tc.CACert); err != nil {
		return nil, pem, err
	}
	if pem.cert, err = read(tc.ServerCert); err != nil {
		return nil, pem, err
	}
	if pem.key, err = read(tc.ServerKey); err != nil {
		return nil, pem, err
	}
	return cfg, pem, nil
}

func newLauncher(lc config.LauncherConfig, logger *log.Logger, collector *metrics.Collector) (launch.Launcher, error) {
	switch lc.Type {
	case "", "local":
		return &launch.LocalLauncher{Binary: lc.Binary, Logger: logger, Collector: collector}, nil
	case "none":
		return launch.Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown launcher %q (want local or none)", lc.Type)
	}
}

// launchRequest builds num_parts + overprovision invocations pointing at
// the coordinator's bound address.
func launchRequest(cfg *config.Config, ev types.WorkerEvent, bound net.Addr, pem payloadPEM) (launch.Request, error) {
	host, port, err := workerAddr(cfg.Coordinator.PublicAddr, cfg.Coordinator.Listen, bound)
	if err != nil {
		return launch.Request{}, err
	}
	ev.Addr = host
	ev.Port = port
	ev.CACert = pem.ca
	ev.SrvCert = pem.cert
	ev.SrvKey = pem.key
	return launch.Request{
		Count:    cfg.Coordinator.NumParts + cfg.Coordinator.Overprovision,
		Function: cfg.Launcher.Function,
		Credentials: launch.Credentials{
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		},
		Payload: ev,
		Regions: cfg.Launcher.Regions,
	}, nil
}

// workerAddr picks the host workers dial: public, else the listen host,
// else loopback. The port is always the bound one.
func workerAddr(public, listen string, bound net.Addr) (string, int, error) {
	_, portStr, err := net.SplitHostPort(bound.String())
	if err != nil {
		return "", 0, fmt.Errorf("coordinator address %s: %w", bound, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("coordinator port %q: %w", portStr, err)
	}
	if public != "" {
		return public, port, nil
	}
	host, _, err := net.SplitHostPort(listen)
	if err != nil {
		return "", 0, fmt.Errorf("listen address %q: %w", listen, err)
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return host, port, nil
}

func collectLocal(l *launch.LocalLauncher, logger *log.Logger) {
	l.Kill()
	exits, _ := l.Wait()
	for _, e := range exits {
		if e.ExitCode != 0 && len(e.Stderr) > 0 {
			logger.Debug("local worker exited", map[string]any{
				"index":     e.Index,
				"exit_code": e.ExitCode,
				"stderr":    truncate(string(e.Stderr), 512),
			})
		}
	}
}

func publish(ac config.AdapterConfig, meta *types.RunMeta, res *reactor.Result, outFile string, logger *log.Logger) {
	a, err := newAdapter(ac)
	if err != nil {
		logger.Error("adapter setup failed", map[string]any{"type": ac.Type, "error": err.Error()})
		return
	}
	if a == nil {
		return
	}
	defer func() { _ = a.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	ev := adapter.NewFleetCompletedEvent(meta, res.Outcome(), len(res.Actors), res.Duration, outFile, time.Now())
	if err := a.Publish(ctx, ev); err != nil {
		logger.Error("completion publish failed", map[string]any{"type": ac.Type, "error": err.Error()})
		return
	}
	logger.Info("completion published", map[string]any{"type": ac.Type})
}
