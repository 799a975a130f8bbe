package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tickvault/tickvault/internal/dataset"
	"github.com/tickvault/tickvault/internal/errors"
	"github.com/tickvault/tickvault/internal/layout"
	"github.com/tickvault/tickvault/internal/logging"
	"github.com/tickvault/tickvault/internal/storage"
)

// legacyExt is the file suffix of flat legacy ticker files.
const legacyExt = ".parquet"

// ExecutorOptions configures a migration run.
type ExecutorOptions struct {
	// Dataset names the dataset being migrated, e.g. "bars".
	Dataset string

	// Storage configures the partitioned backends the executor writes
	// through.
	Storage storage.Options

	// Now is the clock used for ledger stamps.
	Now func() time.Time
}

// DefaultExecutorOptions returns options suitable for production runs.
func DefaultExecutorOptions() ExecutorOptions {
	return ExecutorOptions{
		Dataset: "bars",
		Storage: storage.DefaultOptions(),
		Now:     time.Now,
	}
}

// Executor drives a migration plan: it copies flat legacy ticker files
// into the partitioned store, checkpoints the plan after every file,
// and verifies row counts before declaring an interval complete.
//
// Legacy files are never deleted. A verified migration leaves them in
// place for rollback; removing them is an operator decision.
type Executor struct {
	plan     *Plan
	planPath string
	base     string
	counter  RowCounter
	opts     ExecutorOptions
	log      *slog.Logger
}

// NewExecutor builds an executor over a loaded plan. planPath is where
// checkpoints are written; relative plan paths resolve against its
// directory.
func NewExecutor(plan *Plan, planPath string, counter RowCounter, opts ExecutorOptions) *Executor {
	if opts.Dataset == "" {
		opts.Dataset = "bars"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Executor{
		plan:     plan,
		planPath: planPath,
		base:     filepath.Dir(planPath),
		counter:  counter,
		opts:     opts,
		log:      logging.Component("migrate"),
	}
}

// Run migrates every venue in plan order, or just venueID when
// non-empty. It stops at the first interval that fails, after recording
// the failure in the plan. Completed intervals are skipped, so
// rerunning after a failure picks up where the last run stopped.
func (e *Executor) Run(ctx context.Context, venueID string) error {
	if venueID != "" {
		if _, err := e.plan.Venue(venueID); err != nil {
			return err
		}
	}

	for _, v := range e.plan.Venues {
		if venueID != "" && v.ID != venueID {
			continue
		}
		for _, interval := range v.IntervalNames() {
			im := v.Intervals[interval]
			if im.Status == StatusComplete {
				e.log.Debug("interval already complete, skipping",
					"venue", v.ID, "interval", interval)
				continue
			}
			if err := e.migrateInterval(ctx, v, interval, im); err != nil {
				return fmt.Errorf("venue %s interval %s: %w", v.ID, interval, err)
			}
		}
	}
	return nil
}

// migrateInterval runs one (venue, interval) migration end to end. A
// corrupt legacy file fails the interval but is left in place, since it
// is the rollback copy.
func (e *Executor) migrateInterval(ctx context.Context, v *Venue, interval string, im *IntervalMigration) error {
	legacyDir := im.ResolveLegacyPath(e.base)
	partRoot := im.ResolvePartitionPath(e.base)
	log := e.log.With("venue", v.ID, "interval", interval)

	files, err := listLegacyFiles(legacyDir)
	if err != nil {
		e.recordFailure(v.ID, interval, err)
		return err
	}

	status := StatusMigrating
	total := len(files)
	if err := e.checkpoint(v.ID, interval, IntervalUpdate{
		Status:    &status,
		JobsTotal: &total,
	}); err != nil {
		return err
	}
	log.Info("migrating interval",
		"legacy_dir", legacyDir,
		"partition_root", partRoot,
		"files", total,
		"resume_token", im.ResumeToken)

	backend := storage.New(partRoot, dataset.BarCodec{}, e.opts.Storage)
	completed := 0
	for _, lf := range files {
		if im.ResumeToken != "" && lf.ticker <= im.ResumeToken {
			completed++
			continue
		}
		if err := ctx.Err(); err != nil {
			e.recordFailure(v.ID, interval, err)
			return err
		}

		frame, err := backend.ReadLegacyFile(lf.path)
		if err != nil {
			e.recordFailure(v.ID, interval, err)
			return fmt.Errorf("read legacy file %s: %w", lf.path, err)
		}

		req := storage.Request{
			Market:   v.Market,
			Source:   v.Source,
			Dataset:  e.opts.Dataset,
			Interval: interval,
			Ticker:   lf.ticker,
		}
		if _, err := backend.Save(req, frame.Rows); err != nil {
			e.recordFailure(v.ID, interval, err)
			return fmt.Errorf("save ticker %s: %w", lf.ticker, err)
		}

		completed++
		token := lf.ticker
		if err := e.checkpoint(v.ID, interval, IntervalUpdate{
			JobsCompleted: &completed,
			ResumeToken:   &token,
		}); err != nil {
			return err
		}
		log.Debug("migrated ticker",
			"ticker", lf.ticker,
			"rows", frame.Len(),
			"completed", completed,
			"total", total)
	}

	return e.verifyInterval(ctx, v, interval, files, partRoot, log)
}

// verifyInterval counts rows on both sides and finalizes the ledger
// entry. A count mismatch fails the interval and leaves the legacy
// files as the source of truth.
func (e *Executor) verifyInterval(ctx context.Context, v *Venue, interval string, files []legacyFile, partRoot string, log *slog.Logger) error {
	legacyPaths := make([]string, len(files))
	for i, lf := range files {
		legacyPaths[i] = lf.path
	}
	legacyRows, err := e.counter.CountRows(ctx, legacyPaths)
	if err != nil {
		e.recordFailure(v.ID, interval, err)
		return fmt.Errorf("count legacy rows: %w", err)
	}

	intervalDir := filepath.Join(partRoot, v.Market, v.Source, e.opts.Dataset+"_"+interval)
	partPaths, err := collectPartitionFiles(intervalDir)
	if err != nil {
		e.recordFailure(v.ID, interval, err)
		return fmt.Errorf("list partition files: %w", err)
	}
	partRows, err := e.counter.CountRows(ctx, partPaths)
	if err != nil {
		e.recordFailure(v.ID, interval, err)
		return fmt.Errorf("count partition rows: %w", err)
	}

	if legacyRows != partRows {
		status := StatusFailed
		if cerr := e.checkpoint(v.ID, interval, IntervalUpdate{
			Status:        &status,
			LegacyRows:    &legacyRows,
			PartitionRows: &partRows,
		}); cerr != nil {
			return cerr
		}
		log.Error("row count mismatch, legacy files preserved",
			"legacy_rows", legacyRows,
			"partition_rows", partRows)
		return fmt.Errorf("legacy %d vs partition %d: %w",
			legacyRows, partRows, errors.ErrRowCountMismatch)
	}

	status := StatusComplete
	token := ""
	method := e.counter.Method()
	verifiedAt := e.opts.Now().UTC()
	if err := e.checkpoint(v.ID, interval, IntervalUpdate{
		Status:        &status,
		LegacyRows:    &legacyRows,
		PartitionRows: &partRows,
		ResumeToken:   &token,
		VerifyMethod:  &method,
		VerifiedAt:    &verifiedAt,
	}); err != nil {
		return err
	}
	log.Info("interval migration verified",
		"rows", legacyRows,
		"method", method)
	return nil
}

// checkpoint applies an interval update and persists the plan.
func (e *Executor) checkpoint(venueID, interval string, upd IntervalUpdate) error {
	if err := e.plan.UpdateInterval(venueID, interval, upd, e.opts.Now()); err != nil {
		return err
	}
	if err := e.plan.Write(e.planPath); err != nil {
		return fmt.Errorf("checkpoint plan: %w", err)
	}
	return nil
}

// recordFailure marks an interval failed on a best-effort basis. The
// original error is what the caller reports; a checkpoint failure on
// top of it is only logged.
func (e *Executor) recordFailure(venueID, interval string, cause error) {
	status := StatusFailed
	if err := e.checkpoint(venueID, interval, IntervalUpdate{Status: &status}); err != nil {
		e.log.Error("failed to record migration failure",
			"venue", venueID,
			"interval", interval,
			"cause", cause,
			"error", err)
	}
}

// legacyFile is one flat ticker file in a legacy interval directory.
type legacyFile struct {
	ticker string
	path   string
}

// listLegacyFiles returns the parquet files of a legacy interval
// directory sorted by ticker. Temp files and other names are ignored.
func listLegacyFiles(dir string) ([]legacyFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read legacy dir: %w", err)
	}

	files := make([]legacyFile, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || layout.IsTempName(name) || !strings.HasSuffix(name, legacyExt) {
			continue
		}
		files = append(files, legacyFile{
			ticker: strings.ToUpper(strings.TrimSuffix(name, legacyExt)),
			path:   filepath.Join(dir, name),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ticker < files[j].ticker })
	return files, nil
}

// collectPartitionFiles walks an interval's partition subtree and
// returns every data file, sorted. A missing directory yields an empty
// list: zero partitions is a valid count of zero rows.
func collectPartitionFiles(dir string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == layout.DataFileName {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk partition dir: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}
