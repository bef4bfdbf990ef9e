package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/swarm/adapter"
	redisadapter "github.com/pithecene-io/swarm/adapter/redis"
	"github.com/pithecene-io/swarm/adapter/webhook"
	"github.com/pithecene-io/swarm/cli/config"
	"github.com/pithecene-io/swarm/log"
	"github.com/pithecene-io/swarm/metrics"
	"github.com/pithecene-io/swarm/objstore"
	"github.com/pithecene-io/swarm/types"
)

// Exit codes shared by all commands.
const (
	exitSuccess      = 0
	exitActorFailure = 1
	exitUsage        = 2
	exitTimeout      = 3
	exitSetupFailure = 4
)

func outcomeToExitCode(status types.OutcomeStatus) int {
	switch status {
	case types.OutcomeSuccess:
		return exitSuccess
	case types.OutcomeActorFailure:
		return exitActorFailure
	case types.OutcomeTimeout:
		return exitTimeout
	case types.OutcomeSetupFailure:
		return exitSetupFailure
	default:
		return exitActorFailure
	}
}

// loadConfig reads --config when given. A missing flag yields an empty
// config so that flags alone are enough.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String(ConfigFlag.Name)
	if path == "" {
		return &config.Config{}, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}
	return cfg, nil
}

// Flag override helpers. A flag wins when set explicitly, and its default
// fills values the config left empty.

func mergeString(c *cli.Context, name string, dst *string) {
	if c.IsSet(name) || *dst == "" {
		*dst = c.String(name)
	}
}

func mergeInt(c *cli.Context, name string, dst *int) {
	if c.IsSet(name) || *dst == 0 {
		*dst = c.Int(name)
	}
}

func mergeDuration(c *cli.Context, name string, dst *config.Duration) {
	if c.IsSet(name) || dst.Duration == 0 {
		dst.Duration = c.Duration(name)
	}
}

func mergeStrings(c *cli.Context, name string, dst *[]string) {
	if c.IsSet(name) || len(*dst) == 0 {
		*dst = c.StringSlice(name)
	}
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// newLogger builds the role logger. quiet drops the stderr sink, keeping
// only the rotating file when one is configured.
func newLogger(meta *types.RunMeta, role string, lc config.LogConfig, quiet bool) (*log.Logger, io.Closer) {
	logger, closer := log.NewFileLogger(meta, role, log.FileOptions{
		Path:       lc.File,
		MaxSizeMB:  lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
	})
	if !quiet {
		return logger, closer
	}
	if w, ok := closer.(io.Writer); ok && lc.File != "" {
		return logger.WithOutput(w), closer
	}
	return log.NewNop(), closer
}

// newStore opens object storage, or returns nil when no backend is set.
func newStore(ctx context.Context, sc config.StorageConfig, collector *metrics.Collector) (*objstore.Client, error) {
	if sc.Backend == "" {
		return nil, nil
	}
	client, err := objstore.New(ctx, objstore.Config{
		Backend:      sc.Backend,
		Root:         sc.Root,
		Region:       sc.Region,
		Endpoint:     sc.Endpoint,
		UsePathStyle: sc.PathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return client.WithCollector(collector), nil
}

// newAdapter builds the completion adapter, or returns nil when none is
// configured.
func newAdapter(ac config.AdapterConfig) (adapter.Adapter, error) {
	retries := -1
	if ac.Retries != nil {
		retries = *ac.Retries
	}
	switch ac.Type {
	case "":
		return nil, nil
	case "redis":
		cfg := redisadapter.Config{
			URL:          ac.URL,
			Channel:      ac.Channel,
			Timeout:      ac.Timeout.Duration,
			Retries:      redisadapter.DefaultRetries,
			RecordPrefix: ac.RecordPrefix,
			RecordTTL:    ac.RecordTTL.Duration,
		}
		if retries >= 0 {
			cfg.Retries = retries
		}
		a, err := redisadapter.New(cfg)
		if err != nil {
			return nil, err
		}
		return a, nil
	case "webhook":
		cfg := webhook.Config{
			URL:     ac.URL,
			Headers: ac.Headers,
			Timeout: ac.Timeout.Duration,
			Retries: webhook.DefaultRetries,
			Secret:  ac.Secret,
		}
		if retries >= 0 {
			cfg.Retries = retries
		}
		a, err := webhook.New(cfg)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown adapter type %q", ac.Type)
	}
}
