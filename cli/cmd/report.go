package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/swarm/cli/render"
	"github.com/pithecene-io/swarm/metrics"
	"github.com/pithecene-io/swarm/report"
)

// ReportCommand returns the report command, which reads run records back
// from the dataset written by serve.
func ReportCommand() *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Show the latest recorded run",
		Flags: append([]cli.Flag{
			ConfigFlag,
			&cli.StringFlag{Name: "run-id", Usage: "Show this run instead of the latest"},
			&cli.StringFlag{Name: "bucket", Usage: "Dataset bucket"},
			&cli.StringFlag{Name: "storage-backend", Usage: "Object storage backend: fs, memory or s3"},
			&cli.StringFlag{Name: "storage-root", Usage: "Root directory of the fs backend"},
		}, OutputFlags()...),
		Action: reportAction,
	}
}

func reportAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	mergeString(c, "bucket", &cfg.Report.Bucket)
	mergeString(c, "storage-backend", &cfg.Storage.Backend)
	mergeString(c, "storage-root", &cfg.Storage.Root)
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for report command", exitUsage)
	}
	if cfg.Report.Bucket == "" || cfg.Storage.Backend == "" {
		return cli.Exit("report needs a bucket and a storage backend", exitUsage)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, err := newStore(ctx, cfg.Storage, metrics.NewCollector("report", "", cfg.Storage.Backend, ""))
	if err != nil {
		return cli.Exit(err.Error(), exitSetupFailure)
	}
	ds, err := report.NewDataset(store.StoreFactory(cfg.Report.Bucket))
	if err != nil {
		return cli.Exit(err.Error(), exitSetupFailure)
	}
	rec, err := report.QueryLatestRun(ctx, ds, c.String("run-id"))
	if errors.Is(err, report.ErrNoRunFound) {
		return cli.Exit("no run recorded", exitActorFailure)
	}
	if err != nil {
		return fmt.Errorf("query runs: %w", err)
	}
	return r.Render(rec)
}
