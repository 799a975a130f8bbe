package migrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tickvault/tickvault/internal/dataset"
	"github.com/tickvault/tickvault/internal/errors"
	"github.com/tickvault/tickvault/internal/storage"
	"github.com/tickvault/tickvault/internal/storage/parquet"
)

const (
	ts20240105 = int64(1704412800000) // 2024-01-05 00:00:00 UTC
	ts20240106 = int64(1704499200000) // 2024-01-06 00:00:00 UTC
	ts20240108 = int64(1704672000000) // 2024-01-08 00:00:00 UTC
	ts20240201 = int64(1706745600000) // 2024-02-01 00:00:00 UTC
)

func mkBar(ticker string, ts, seq int64, close float64) dataset.Bar {
	return dataset.Bar{
		Ticker:      ticker,
		TimestampMs: ts,
		Open:        close - 1,
		High:        close + 1,
		Low:         close - 2,
		Close:       close,
		AdjClose:    close,
		Volume:      1000,
		Sequence:    seq,
	}
}

func writeLegacy(t *testing.T, dir, ticker string, bars []dataset.Bar) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir legacy dir: %v", err)
	}
	path := filepath.Join(dir, ticker+".parquet")
	if err := parquet.WriteFile(path, bars, parquet.DefaultOptions()); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}
}

func testExecOptions() ExecutorOptions {
	opts := DefaultExecutorOptions()
	opts.Now = func() time.Time { return planNow }
	return opts
}

// setupMigration builds a workspace with legacy files for AAPL (3 bars)
// and MSFT (2 bars) plus a plan covering one venue and interval.
func setupMigration(t *testing.T) (base, planPath string, plan *Plan) {
	t.Helper()
	base = t.TempDir()
	legacyDir := filepath.Join(base, "legacy", "bars_1d")
	writeLegacy(t, legacyDir, "AAPL", []dataset.Bar{
		mkBar("AAPL", ts20240105, 1, 185.5),
		mkBar("AAPL", ts20240106, 1, 186.0),
		mkBar("AAPL", ts20240108, 1, 187.2),
	})
	writeLegacy(t, legacyDir, "MSFT", []dataset.Bar{
		mkBar("MSFT", ts20240105, 1, 402.1),
		mkBar("MSFT", ts20240106, 1, 404.8),
	})

	plan = NewPlan("legacy", "test", planNow)
	plan.AddInterval("us", "yahoo", "1d", "legacy/bars_1d", "store", planNow)
	planPath = filepath.Join(base, "plan.json")
	if err := plan.Write(planPath); err != nil {
		t.Fatalf("write plan: %v", err)
	}
	return base, planPath, plan
}

func TestExecutorMigratesAndVerifies(t *testing.T) {
	base, planPath, plan := setupMigration(t)

	exec := NewExecutor(plan, planPath, FooterCounter{}, testExecOptions())
	if err := exec.Run(context.Background(), ""); err != nil {
		t.Fatalf("run migration: %v", err)
	}

	// The ledger on disk reflects the finished state.
	loaded, err := LoadPlan(planPath)
	if err != nil {
		t.Fatalf("reload plan: %v", err)
	}
	v := mustVenue(t, loaded, "us:yahoo")
	if v.Status != StatusComplete {
		t.Errorf("expected venue status complete, got %s", v.Status)
	}
	im := v.Intervals["1d"]
	if im.Status != StatusComplete {
		t.Errorf("expected interval status complete, got %s", im.Status)
	}
	if im.Jobs.Total != 2 || im.Jobs.Completed != 2 {
		t.Errorf("expected jobs 2/2, got %d/%d", im.Jobs.Completed, im.Jobs.Total)
	}
	if im.ResumeToken != "" {
		t.Errorf("expected cleared resume token, got %q", im.ResumeToken)
	}
	if im.Totals.LegacyRows == nil || *im.Totals.LegacyRows != 5 {
		t.Errorf("expected 5 legacy rows, got %v", im.Totals.LegacyRows)
	}
	if im.Totals.PartitionRows == nil || *im.Totals.PartitionRows != 5 {
		t.Errorf("expected 5 partition rows, got %v", im.Totals.PartitionRows)
	}
	if im.Verification.Method != "parquet_footer" {
		t.Errorf("expected parquet_footer method, got %q", im.Verification.Method)
	}
	if im.Verification.VerifiedAt == nil {
		t.Error("expected verified_at to be set")
	}

	// Rows landed in day partitions under the store root.
	partFile := filepath.Join(base, "store", "us", "yahoo", "bars_1d",
		"ticker=AAPL", "year=2024", "month=01", "day=05", "data.parquet")
	if _, err := os.Stat(partFile); err != nil {
		t.Errorf("expected partition file %s: %v", partFile, err)
	}

	be := storage.New(filepath.Join(base, "store"), dataset.BarCodec{}, storage.DefaultOptions())
	frame, err := be.Read(storage.Request{
		Market: "us", Source: "yahoo", Dataset: "bars", Interval: "1d", Ticker: "AAPL",
	})
	if err != nil {
		t.Fatalf("read migrated ticker: %v", err)
	}
	if frame.Len() != 3 {
		t.Errorf("expected 3 migrated rows, got %d", frame.Len())
	}

	// Legacy files stay in place as the rollback copy.
	for _, name := range []string{"AAPL.parquet", "MSFT.parquet"} {
		if _, err := os.Stat(filepath.Join(base, "legacy", "bars_1d", name)); err != nil {
			t.Errorf("expected legacy file %s preserved: %v", name, err)
		}
	}
}

func TestExecutorSkipsCompleteInterval(t *testing.T) {
	base := t.TempDir()
	plan := NewPlan("legacy", "test", planNow)
	// Legacy directory does not exist, so any attempt to migrate
	// would fail. A complete interval must never be touched.
	plan.AddInterval("us", "yahoo", "1d", "legacy/absent", "store", planNow)
	status := StatusComplete
	if err := plan.UpdateInterval("us:yahoo", "1d", IntervalUpdate{Status: &status}, planNow); err != nil {
		t.Fatalf("update interval: %v", err)
	}
	planPath := filepath.Join(base, "plan.json")
	if err := plan.Write(planPath); err != nil {
		t.Fatalf("write plan: %v", err)
	}

	exec := NewExecutor(plan, planPath, FooterCounter{}, testExecOptions())
	if err := exec.Run(context.Background(), ""); err != nil {
		t.Fatalf("expected complete interval to be skipped, got %v", err)
	}
}

func TestExecutorResumesFromToken(t *testing.T) {
	base, planPath, plan := setupMigration(t)

	// Simulate a prior run that finished AAPL: its rows are already in
	// the store, stamped with a sentinel close price and a low
	// sequence. The legacy AAPL file carries a higher sequence, so a
	// re-read would overwrite the sentinel.
	be := storage.New(filepath.Join(base, "store"), dataset.BarCodec{}, storage.DefaultOptions())
	_, err := be.Save(storage.Request{
		Market: "us", Source: "yahoo", Dataset: "bars", Interval: "1d", Ticker: "AAPL",
	}, []dataset.Bar{
		mkBar("AAPL", ts20240105, 0, 999),
		mkBar("AAPL", ts20240106, 0, 999),
		mkBar("AAPL", ts20240108, 0, 999),
	})
	if err != nil {
		t.Fatalf("pre-populate store: %v", err)
	}

	status := StatusMigrating
	total := 2
	completed := 1
	token := "AAPL"
	if err := plan.UpdateInterval("us:yahoo", "1d", IntervalUpdate{
		Status:        &status,
		JobsTotal:     &total,
		JobsCompleted: &completed,
		ResumeToken:   &token,
	}, planNow); err != nil {
		t.Fatalf("update interval: %v", err)
	}
	if err := plan.Write(planPath); err != nil {
		t.Fatalf("write plan: %v", err)
	}

	exec := NewExecutor(plan, planPath, FooterCounter{}, testExecOptions())
	if err := exec.Run(context.Background(), ""); err != nil {
		t.Fatalf("resume run: %v", err)
	}

	loaded, err := LoadPlan(planPath)
	if err != nil {
		t.Fatalf("reload plan: %v", err)
	}
	im := mustVenue(t, loaded, "us:yahoo").Intervals["1d"]
	if im.Status != StatusComplete {
		t.Errorf("expected status complete, got %s", im.Status)
	}
	if im.Jobs.Completed != 2 {
		t.Errorf("expected 2 jobs completed, got %d", im.Jobs.Completed)
	}

	// The sentinel prices survived: AAPL was skipped, not re-migrated.
	frame, err := be.Read(storage.Request{
		Market: "us", Source: "yahoo", Dataset: "bars", Interval: "1d", Ticker: "AAPL",
	})
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	for _, bar := range frame.Rows {
		if bar.Close != 999 {
			t.Errorf("expected sentinel close 999 at %d, got %v", bar.TimestampMs, bar.Close)
		}
	}
}

func TestExecutorRowCountMismatchFails(t *testing.T) {
	base, planPath, plan := setupMigration(t)

	// A stray row already in the store at a timestamp no legacy file
	// covers makes the partition count exceed the legacy count.
	be := storage.New(filepath.Join(base, "store"), dataset.BarCodec{}, storage.DefaultOptions())
	_, err := be.Save(storage.Request{
		Market: "us", Source: "yahoo", Dataset: "bars", Interval: "1d", Ticker: "AAPL",
	}, []dataset.Bar{mkBar("AAPL", ts20240201, 1, 190)})
	if err != nil {
		t.Fatalf("pre-populate store: %v", err)
	}

	exec := NewExecutor(plan, planPath, FooterCounter{}, testExecOptions())
	err = exec.Run(context.Background(), "")
	if err == nil {
		t.Fatal("expected row count mismatch error")
	}
	if !errors.Is(err, errors.ErrRowCountMismatch) {
		t.Errorf("expected ErrRowCountMismatch, got %v", err)
	}

	loaded, lerr := LoadPlan(planPath)
	if lerr != nil {
		t.Fatalf("reload plan: %v", lerr)
	}
	v := mustVenue(t, loaded, "us:yahoo")
	if v.Status != StatusFailed {
		t.Errorf("expected venue status failed, got %s", v.Status)
	}
	im := v.Intervals["1d"]
	if im.Status != StatusFailed {
		t.Errorf("expected interval status failed, got %s", im.Status)
	}
	if im.Totals.LegacyRows == nil || *im.Totals.LegacyRows != 5 {
		t.Errorf("expected 5 legacy rows recorded, got %v", im.Totals.LegacyRows)
	}
	if im.Totals.PartitionRows == nil || *im.Totals.PartitionRows != 6 {
		t.Errorf("expected 6 partition rows recorded, got %v", im.Totals.PartitionRows)
	}

	// Legacy files remain the source of truth after a failed verify.
	if _, err := os.Stat(filepath.Join(base, "legacy", "bars_1d", "AAPL.parquet")); err != nil {
		t.Errorf("expected legacy file preserved: %v", err)
	}
}

func TestExecutorVenueFilter(t *testing.T) {
	_, planPath, plan := setupMigration(t)
	// Second venue whose legacy directory does not exist: running it
	// would fail, so a filtered run must not reach it.
	plan.AddInterval("eu", "xetra", "1d", "legacy/absent", "store", planNow)
	if err := plan.Write(planPath); err != nil {
		t.Fatalf("write plan: %v", err)
	}

	exec := NewExecutor(plan, planPath, FooterCounter{}, testExecOptions())

	if err := exec.Run(context.Background(), "nope:src"); !errors.Is(err, errors.ErrVenueNotFound) {
		t.Errorf("expected ErrVenueNotFound for unknown filter, got %v", err)
	}

	if err := exec.Run(context.Background(), "us:yahoo"); err != nil {
		t.Fatalf("filtered run: %v", err)
	}

	loaded, err := LoadPlan(planPath)
	if err != nil {
		t.Fatalf("reload plan: %v", err)
	}
	if got := mustVenue(t, loaded, "us:yahoo").Status; got != StatusComplete {
		t.Errorf("expected us:yahoo complete, got %s", got)
	}
	if got := mustVenue(t, loaded, "eu:xetra").Status; got != StatusPending {
		t.Errorf("expected eu:xetra untouched at pending, got %s", got)
	}
}

func TestExecutorCorruptLegacyFilePreserved(t *testing.T) {
	base := t.TempDir()
	legacyDir := filepath.Join(base, "legacy", "bars_1d")
	if err := os.MkdirAll(legacyDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	corruptPath := filepath.Join(legacyDir, "AAPL.parquet")
	if err := os.WriteFile(corruptPath, []byte("this is not a parquet file"), 0644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	plan := NewPlan("legacy", "test", planNow)
	plan.AddInterval("us", "yahoo", "1d", "legacy/bars_1d", "store", planNow)
	planPath := filepath.Join(base, "plan.json")
	if err := plan.Write(planPath); err != nil {
		t.Fatalf("write plan: %v", err)
	}

	exec := NewExecutor(plan, planPath, FooterCounter{}, testExecOptions())
	if err := exec.Run(context.Background(), ""); err == nil {
		t.Fatal("expected error for corrupt legacy file")
	}

	loaded, err := LoadPlan(planPath)
	if err != nil {
		t.Fatalf("reload plan: %v", err)
	}
	if got := mustVenue(t, loaded, "us:yahoo").Intervals["1d"].Status; got != StatusFailed {
		t.Errorf("expected status failed, got %s", got)
	}

	// Unlike corrupt partitions, corrupt legacy files are never
	// deleted. They are the rollback copy.
	if _, err := os.Stat(corruptPath); err != nil {
		t.Errorf("expected corrupt legacy file preserved: %v", err)
	}
}

func TestExecutorMissingLegacyDirFails(t *testing.T) {
	base := t.TempDir()
	plan := NewPlan("legacy", "test", planNow)
	plan.AddInterval("us", "yahoo", "1d", "legacy/absent", "store", planNow)
	planPath := filepath.Join(base, "plan.json")
	if err := plan.Write(planPath); err != nil {
		t.Fatalf("write plan: %v", err)
	}

	exec := NewExecutor(plan, planPath, FooterCounter{}, testExecOptions())
	if err := exec.Run(context.Background(), ""); err == nil {
		t.Fatal("expected error for missing legacy directory")
	}

	loaded, err := LoadPlan(planPath)
	if err != nil {
		t.Fatalf("reload plan: %v", err)
	}
	if got := mustVenue(t, loaded, "us:yahoo").Intervals["1d"].Status; got != StatusFailed {
		t.Errorf("expected status failed, got %s", got)
	}
}
