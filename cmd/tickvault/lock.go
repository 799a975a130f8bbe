package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tickvault/tickvault/internal/logging"
	"github.com/tickvault/tickvault/internal/runlock"
)

var lockCmd = &cli.Command{
	Name:  "lock",
	Usage: "inspect or break the store's run lock",
	Subcommands: []*cli.Command{
		{
			Name:  "status",
			Usage: "show who holds the run lock",
			Action: func(cctx *cli.Context) error {
				cfg, err := loadConfig(cctx)
				if err != nil {
					return err
				}

				lock := runlock.New(cfg.Root, runlock.Options{
					StaleAfter: cfg.Lock.StaleAfter.Duration(),
				})
				owner, err := lock.OwnerInfo()
				if err != nil {
					return err
				}
				if owner == nil {
					fmt.Fprintln(cctx.App.Writer, "lock: free")
					return nil
				}

				age := time.Since(owner.AcquiredAt).Round(time.Second)
				fmt.Fprintf(cctx.App.Writer, "lock: held\n")
				fmt.Fprintf(cctx.App.Writer, "  pid:      %d\n", owner.PID)
				fmt.Fprintf(cctx.App.Writer, "  host:     %s\n", owner.Host)
				fmt.Fprintf(cctx.App.Writer, "  acquired: %s (%s ago)\n",
					owner.AcquiredAt.Format(time.RFC3339), age)
				return nil
			},
		},
		{
			Name:  "release",
			Usage: "force-break the run lock",
			Description: `Removes the lock directory no matter who holds it. Only use this
when the owning process is known to be dead; breaking the lock under a
live run allows concurrent writers.`,
			Action: func(cctx *cli.Context) error {
				cfg, err := loadConfig(cctx)
				if err != nil {
					return err
				}

				lock := runlock.New(cfg.Root, runlock.Options{
					StaleAfter: cfg.Lock.StaleAfter.Duration(),
				})
				owner, err := lock.OwnerInfo()
				if err != nil {
					return err
				}
				if owner == nil {
					fmt.Fprintln(cctx.App.Writer, "lock already free")
					return nil
				}

				if err := lock.Release(); err != nil {
					return err
				}
				logging.Info("run lock broken",
					"pid", owner.PID, "host", owner.Host, "acquired_at", owner.AcquiredAt)
				fmt.Fprintf(cctx.App.Writer, "broke lock held by pid %d on %s\n",
					owner.PID, owner.Host)
				return nil
			},
		},
	},
}
