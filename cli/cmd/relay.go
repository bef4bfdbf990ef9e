package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/swarm/metrics"
	"github.com/pithecene-io/swarm/relay"
	"github.com/pithecene-io/swarm/transport"
)

// RelayCommand returns the relay command.
func RelayCommand() *cli.Command {
	return &cli.Command{
		Name:  "relay",
		Usage: "Run the state-exchange relay",
		Flags: []cli.Flag{
			ConfigFlag,
			&cli.StringFlag{Name: "listen", Usage: "Relay listen address", Value: ":13575"},
			&cli.DurationFlag{Name: "retention", Usage: "How long messages for absent peers are kept", Value: relay.DefaultRetention},
			&cli.DurationFlag{Name: "sweep-interval", Usage: "Tombstone expiry period", Value: relay.DefaultSweepInterval},
			&cli.StringFlag{Name: "redis-url", Usage: "Keep tombstones in Redis instead of memory", EnvVars: []string{"SWARM_RELAY_REDIS_URL"}},
			&cli.StringFlag{Name: "key-prefix", Usage: "Redis key prefix", Value: relay.DefaultKeyPrefix},
			&cli.StringFlag{Name: "server-cert", Usage: "TLS certificate PEM"},
			&cli.StringFlag{Name: "server-key", Usage: "TLS private key PEM"},
		},
		Action: relayAction,
	}
}

func relayAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	rc := &cfg.Relay
	mergeString(c, "listen", &rc.Listen)
	mergeDuration(c, "retention", &rc.Retention)
	mergeDuration(c, "sweep-interval", &rc.SweepInterval)
	mergeString(c, "redis-url", &rc.RedisURL)
	mergeString(c, "key-prefix", &rc.KeyPrefix)
	mergeString(c, "server-cert", &cfg.TLS.ServerCert)
	mergeString(c, "server-key", &cfg.TLS.ServerKey)
	if err := cfg.Validate(); err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	logger, closer := newLogger(nil, "relay", cfg.Log, false)
	defer func() { _ = closer.Close() }()
	defer logger.Sync()

	// The relay closes the store on shutdown.
	var store relay.TombstoneStore = relay.NewMemoryTombstones()
	if rc.RedisURL != "" {
		rt, err := relay.NewRedisTombstones(relay.RedisConfig{
			URL:       rc.RedisURL,
			KeyPrefix: rc.KeyPrefix,
			TTL:       rc.Retention.Duration,
		})
		if err != nil {
			return cli.Exit(err.Error(), exitSetupFailure)
		}
		store = rt
	}

	rcfg := relay.Config{
		ListenAddr:    rc.Listen,
		Retention:     rc.Retention.Duration,
		SweepInterval: rc.SweepInterval.Duration,
		Tombstones:    store,
		Logger:        logger,
		Collector:     metrics.NewCollector("relay", "", "", ""),
	}
	if cfg.TLS.ServerCert != "" {
		tlsCfg, err := transport.LoadServerTLS(cfg.TLS.ServerCert, cfg.TLS.ServerKey)
		if err != nil {
			return cli.Exit(err.Error(), exitSetupFailure)
		}
		rcfg.TLS = tlsCfg
	}

	r, err := relay.New(rcfg)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupFailure)
	}

	ctx, cancel := signalContext()
	defer cancel()
	if err := r.Run(ctx); err != nil && ctx.Err() == nil {
		return cli.Exit(err.Error(), exitActorFailure)
	}
	return nil
}
