package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/tickvault/tickvault/internal/logging"
	"github.com/tickvault/tickvault/internal/runlock"
)

var cleanupCmd = &cli.Command{
	Name:  "cleanup",
	Usage: "promote or remove temp files left behind by a crashed run",
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
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

		n, err := lock.CleanupTempFiles()
		if err != nil {
			return err
		}

		logging.Info("cleanup finished", "temp_files", n)
		fmt.Fprintf(cctx.App.Writer, "processed %d temp file(s)\n", n)
		return nil
	},
}
