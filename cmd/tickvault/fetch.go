package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/tickvault/tickvault/config"
	"github.com/tickvault/tickvault/internal/dataset"
	"github.com/tickvault/tickvault/internal/logging"
	"github.com/tickvault/tickvault/internal/registry"
	"github.com/tickvault/tickvault/internal/runlock"
	"github.com/tickvault/tickvault/internal/scheduler"
	"github.com/tickvault/tickvault/internal/source"
	"github.com/tickvault/tickvault/internal/storage"
)

var fetchCmd = &cli.Command{
	Name:  "fetch",
	Usage: "run one fetch pass over the configured venues",
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		if err := cfg.EnsureDirectories(); err != nil {
			return err
		}

		lock := runlock.New(cfg.Root, runlock.Options{
			StaleAfter: cfg.Lock.StaleAfter.Duration(),
		})
		if err := lock.Acquire(); err != nil {
			return fmt.Errorf("another run is active: %w", err)
		}
		defer func() {
			if rerr := lock.Release(); rerr != nil {
				logging.Warn("release run lock", "error", rerr)
			}
		}()

		// A previous crash may have left temp files behind. The lock is
		// held, so nobody else is writing and the sweep is safe.
		recovered, err := lock.CleanupTempFiles()
		if err != nil {
			return fmt.Errorf("recover temp files: %w", err)
		}
		if recovered > 0 {
			logging.Info("recovered temp files from previous run", "count", recovered)
		}

		jobs := venueJobs(cfg)
		if len(jobs) == 0 {
			logging.Warn("no venues configured, nothing to fetch")
			return nil
		}

		backend := storage.New(cfg.Root, dataset.BarCodec{}, storageOptions(cfg))

		reg, err := registry.Open(cfg.RegistryPath(), registry.Options{
			MaxFailures: cfg.Registry.MaxFailures,
			Cooldown:    cfg.Registry.Cooldown.Duration(),
		})
		if err != nil {
			return fmt.Errorf("open registry: %w", err)
		}

		src := source.NewHTTP(&source.Config{
			BaseURL:        cfg.Source.BaseURL,
			Token:          cfg.Source.Token,
			RequestTimeout: cfg.Source.RequestTimeout.Duration(),
		})

		var limiter *source.Limiter
		if cfg.Source.RequestsPerMinute > 0 {
			limiter = source.NewLimiter(cfg.Source.RequestsPerMinute)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sched := scheduler.New(backend, src, reg, limiter, scheduler.Options{})
		stats, err := sched.RunPass(ctx, jobs)

		srcStats := src.Stats()
		logging.Info("fetch pass finished",
			"pairs_total", stats.PairsTotal,
			"pairs_fetched", stats.PairsFetched,
			"pairs_skipped", stats.PairsSkipped,
			"pairs_failed", stats.PairsFailed,
			"rows_stored", stats.RowsStored,
			"requests", srcStats.Requests,
			"request_errors", srcStats.Errors,
			"latency_p50_ms", srcStats.LatencyP50Ms,
			"latency_p95_ms", srcStats.LatencyP95Ms,
		)
		return err
	},
}

// venueJobs maps configured venues onto scheduler jobs.
func venueJobs(cfg *config.Config) []scheduler.VenueJob {
	jobs := make([]scheduler.VenueJob, 0, len(cfg.Venues))
	for _, v := range cfg.Venues {
		jobs = append(jobs, scheduler.VenueJob{
			Market:    v.Market,
			Source:    v.Source,
			Dataset:   cfg.Dataset,
			Intervals: v.Intervals,
			Tickers:   v.Tickers,
		})
	}
	return jobs
}
