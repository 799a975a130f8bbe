package storage_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tickvault/tickvault/internal/dataset"
	"github.com/tickvault/tickvault/internal/layout"
	"github.com/tickvault/tickvault/internal/runlock"
	"github.com/tickvault/tickvault/internal/storage"
)

func intBar(ticker string, ts, seq int64, close float64) dataset.Bar {
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

// TestIntegration_WriteRecoverRead walks the write path the way a real
// run does: lock, save across venues, crash with temp files on disk,
// recover under the next lock, read everything back.
func TestIntegration_WriteRecoverRead(t *testing.T) {
	root := t.TempDir()
	backend := storage.New(root, dataset.BarCodec{}, storage.DefaultOptions())

	lock := runlock.New(root, runlock.Options{})
	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Run one: two venues, two tickers each.
	jan5 := int64(1704412800000)
	jan6 := int64(1704499200000)
	reqs := []storage.Request{
		{Market: "us", Source: "yahoo", Dataset: "bars", Interval: "1d", Ticker: "AAPL"},
		{Market: "us", Source: "yahoo", Dataset: "bars", Interval: "1d", Ticker: "MSFT"},
		{Market: "eu", Source: "xetra", Dataset: "bars", Interval: "1h", Ticker: "SAP"},
	}
	for _, req := range reqs {
		rows := []dataset.Bar{
			intBar(req.Ticker, jan5, 1, 100),
			intBar(req.Ticker, jan6, 1, 101),
		}
		if _, err := backend.Save(req, rows); err != nil {
			t.Fatalf("Save %s: %v", req.Ticker, err)
		}
	}

	// Simulate a crash: an orphaned temp next to a committed partition
	// and one whose final file never landed.
	aaplKey := layout.Key{Market: "us", Source: "yahoo", Dataset: "bars",
		Interval: "1d", Ticker: "AAPL", TimestampMs: jan5}
	aaplPath, err := layout.PartitionPath(root, aaplKey)
	if err != nil {
		t.Fatalf("PartitionPath: %v", err)
	}
	redundant := filepath.Join(filepath.Dir(aaplPath), layout.TempName(999, "deadbeef"))
	if err := os.WriteFile(redundant, []byte("stale write"), 0o644); err != nil {
		t.Fatalf("write redundant temp: %v", err)
	}

	googKey := aaplKey
	googKey.Ticker = "GOOG"
	googPath, err := layout.PartitionPath(root, googKey)
	if err != nil {
		t.Fatalf("PartitionPath: %v", err)
	}
	orphanDir := filepath.Dir(googPath)
	if err := os.MkdirAll(orphanDir, 0o755); err != nil {
		t.Fatalf("mkdir orphan dir: %v", err)
	}
	data, err := os.ReadFile(aaplPath)
	if err != nil {
		t.Fatalf("read committed partition: %v", err)
	}
	orphan := filepath.Join(orphanDir, layout.TempName(999, "cafef00d"))
	if err := os.WriteFile(orphan, data, 0o644); err != nil {
		t.Fatalf("write orphan temp: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// Run two: recover, then read.
	lock2 := runlock.New(root, runlock.Options{})
	if err := lock2.Acquire(); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	defer lock2.Release()

	n, err := lock2.CleanupTempFiles()
	if err != nil {
		t.Fatalf("CleanupTempFiles: %v", err)
	}
	if n != 2 {
		t.Errorf("cleanup processed %d temp files, want 2", n)
	}
	if _, err := os.Stat(redundant); !os.IsNotExist(err) {
		t.Errorf("redundant temp still present after cleanup")
	}
	if _, err := os.Stat(googPath); err != nil {
		t.Errorf("orphan temp was not promoted: %v", err)
	}

	for _, req := range reqs {
		frame, err := backend.Read(req)
		if err != nil {
			t.Fatalf("Read %s: %v", req.Ticker, err)
		}
		if frame.Len() != 2 {
			t.Errorf("%s: read %d rows, want 2", req.Ticker, frame.Len())
		}
	}

	// The promoted partition holds the one bar its source partition held.
	goog, err := backend.Read(storage.Request{Market: "us", Source: "yahoo",
		Dataset: "bars", Interval: "1d", Ticker: "GOOG"})
	if err != nil {
		t.Fatalf("Read promoted GOOG: %v", err)
	}
	if goog.Len() != 1 {
		t.Errorf("promoted partition read = %d rows, want 1", goog.Len())
	}
}

// TestIntegration_TwoRunsLastWriteWins replays a pair across two runs
// with overlapping timestamps and checks the higher sequence survives.
func TestIntegration_TwoRunsLastWriteWins(t *testing.T) {
	root := t.TempDir()
	backend := storage.New(root, dataset.BarCodec{}, storage.DefaultOptions())
	req := storage.Request{Market: "us", Source: "yahoo", Dataset: "bars",
		Interval: "1d", Ticker: "AAPL"}

	jan5 := int64(1704412800000)
	jan6 := int64(1704499200000)
	jan7 := int64(1704585600000)

	// First run sees jan5 and a provisional jan6 close.
	if _, err := backend.Save(req, []dataset.Bar{
		intBar("AAPL", jan5, 100, 185.64),
		intBar("AAPL", jan6, 100, 190.00),
	}); err != nil {
		t.Fatalf("first Save: %v", err)
	}

	// Second run refetches from the watermark with a revised jan6 close
	// and a new jan7 bar.
	if _, err := backend.Save(req, []dataset.Bar{
		intBar("AAPL", jan6, 200, 191.25),
		intBar("AAPL", jan7, 200, 193.80),
	}); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	frame, err := backend.Read(req)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if frame.Len() != 3 {
		t.Fatalf("read %d rows, want 3", frame.Len())
	}
	if got := frame.Rows[1]; got.Close != 191.25 || got.Sequence != 200 {
		t.Errorf("jan6 bar = close %.2f seq %d, want revised 191.25 seq 200",
			got.Close, got.Sequence)
	}
	if got := frame.Rows[0]; got.Close != 185.64 || got.Sequence != 100 {
		t.Errorf("jan5 bar = close %.2f seq %d, want original 185.64 seq 100",
			got.Close, got.Sequence)
	}
}
