package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tickvault/tickvault/internal/logging"
	"github.com/tickvault/tickvault/internal/migrate"
	"github.com/tickvault/tickvault/internal/runlock"
)

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "move flat legacy files into the partitioned layout",
	Subcommands: []*cli.Command{
		migrateRunCmd,
		migrateStatusCmd,
	},
}

var migrateRunCmd = &cli.Command{
	Name:  "run",
	Usage: "execute or resume a migration plan",
	Description: `Copies flat legacy ticker files into the partitioned store, one
venue interval at a time, checkpointing the plan after every file.
Interrupted runs resume from the last checkpoint. Legacy files are
never deleted.`,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "plan", Required: true, Usage: "migration plan path"},
		&cli.StringFlag{Name: "venue", Usage: "migrate only this venue (market:source)"},
		&cli.StringFlag{Name: "counter", Value: "duckdb", Usage: "row-count verifier: duckdb|footer"},
	},
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}

		planPath := cctx.String("plan")
		plan, err := migrate.LoadPlan(planPath)
		if err != nil {
			return err
		}

		var counter migrate.RowCounter
		switch cctx.String("counter") {
		case "duckdb":
			c, err := migrate.NewDuckDBCounter()
			if err != nil {
				return err
			}
			defer c.Close()
			counter = c
		case "footer":
			counter = migrate.FooterCounter{}
		default:
			return fmt.Errorf("unknown counter %q (want duckdb or footer)", cctx.String("counter"))
		}

		// Migration writes through the same merge path as fetch, so it
		// holds the same run lock while it does.
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

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		exec := migrate.NewExecutor(plan, planPath, counter, migrate.ExecutorOptions{
			Dataset: cfg.Dataset,
			Storage: storageOptions(cfg),
		})
		if err := exec.Run(ctx, cctx.String("venue")); err != nil {
			return err
		}

		logging.Info("migration run finished", "plan", planPath)
		return nil
	},
}

var migrateStatusCmd = &cli.Command{
	Name:  "status",
	Usage: "show per-interval migration progress",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "plan", Required: true, Usage: "migration plan path"},
	},
	Action: func(cctx *cli.Context) error {
		plan, err := migrate.LoadPlan(cctx.String("plan"))
		if err != nil {
			return err
		}

		w := cctx.App.Writer
		fmt.Fprintf(w, "plan: %s (created by %s at %s)\n",
			cctx.String("plan"), plan.CreatedBy, plan.GeneratedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "legacy root: %s\n\n", plan.LegacyRoot)

		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VENUE\tINTERVAL\tSTATUS\tJOBS\tLEGACY\tPARTITION\tVERIFIED")
		for _, v := range plan.Venues {
			for _, name := range v.IntervalNames() {
				im := v.Intervals[name]
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
					v.ID, name, im.Status,
					im.Jobs.Completed, im.Jobs.Total,
					formatRows(im.Totals.LegacyRows),
					formatRows(im.Totals.PartitionRows),
					formatVerified(im.Verification))
			}
		}
		return tw.Flush()
	},
}

func formatRows(n *int64) string {
	if n == nil {
		return "-"
	}
	return strconv.FormatInt(*n, 10)
}

func formatVerified(v migrate.Verification) string {
	if v.VerifiedAt == nil {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", v.VerifiedAt.Format(time.RFC3339), v.Method)
}
