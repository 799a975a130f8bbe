package storage

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tickvault/tickvault/internal/dataset"
	"github.com/tickvault/tickvault/internal/errors"
	"github.com/tickvault/tickvault/internal/layout"
	"github.com/tickvault/tickvault/internal/logging"
	"github.com/tickvault/tickvault/internal/storage/parquet"
)

// Request addresses one ticker's series within a venue.
type Request struct {
	Market   string
	Source   string
	Dataset  string
	Interval string
	Ticker   string
}

// layoutKey builds the partition key for a row timestamp.
func (r Request) layoutKey(tsMs int64) layout.Key {
	return layout.Key{
		Market:      r.Market,
		Source:      r.Source,
		Dataset:     r.Dataset,
		Interval:    r.Interval,
		Ticker:      r.Ticker,
		TimestampMs: tsMs,
	}
}

// validate rejects requests that do not fully address a venue series.
// Writes into the flat legacy layout are not possible through the
// backend, so market and source are mandatory here.
func (r Request) validate() error {
	if strings.TrimSpace(r.Market) == "" {
		return errors.NewMissingField("market")
	}
	if strings.TrimSpace(r.Source) == "" {
		return errors.NewMissingField("source")
	}
	if strings.TrimSpace(r.Dataset) == "" {
		return errors.NewMissingField("dataset")
	}
	if _, err := layout.IntervalGranularity(r.Interval); err != nil {
		return err
	}
	return layout.ValidateTicker(r.Ticker)
}

// Options configures a storage backend.
type Options struct {
	// Durability selects the fsync policy for partition commits.
	Durability DurabilityType

	// Parquet configures file encoding.
	Parquet parquet.Options

	// ReadConcurrency bounds parallel partition loads per Read call.
	ReadConcurrency int
}

// DefaultOptions returns default backend options.
func DefaultOptions() Options {
	return Options{
		Durability:      DurabilityBestEffort,
		Parquet:         parquet.DefaultOptions(),
		ReadConcurrency: 4,
	}
}

// Stats tracks backend activity.
type Stats struct {
	PartitionsWritten int64
	PartitionsRead    int64
	RowsWritten       int64
	RowsRead          int64
	CorruptRepaired   int64
}

// Backend stores bar frames as partitioned Parquet files under a root
// directory. All writes are merge-writes: new rows are reconciled with
// the partition's existing rows before the file is atomically replaced.
type Backend struct {
	root  string
	codec dataset.Codec
	opts  Options
	log   *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a backend over root using codec for row shaping.
func New(root string, codec dataset.Codec, opts Options) *Backend {
	if opts.ReadConcurrency <= 0 {
		opts.ReadConcurrency = DefaultOptions().ReadConcurrency
	}
	return &Backend{
		root:  root,
		codec: codec,
		opts:  opts,
		log:   logging.Component("storage"),
	}
}

// Root returns the backend's root directory.
func (b *Backend) Root() string {
	return b.root
}

// Stats returns a copy of the backend statistics.
func (b *Backend) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Save merges rows into their partitions and commits each changed
// partition atomically. Rows are bucketed by timestamp, reconciled with
// existing rows per (ticker, timestamp) key, sorted, and rewritten. The
// returned frame holds the post-merge contents of every touched
// partition, timestamp-ascending.
func (b *Backend) Save(req Request, rows []dataset.Bar) (*dataset.Frame, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	incoming := b.codec.Normalize(dataset.NewFrame(rows))
	if incoming.IsEmpty() {
		return b.codec.Empty(), nil
	}

	buckets := make(map[string][]dataset.Bar)
	for _, row := range incoming.Rows {
		path, err := layout.PartitionPath(b.root, req.layoutKey(row.TimestampMs))
		if err != nil {
			return nil, err
		}
		buckets[path] = append(buckets[path], row)
	}

	paths := make([]string, 0, len(buckets))
	for path := range buckets {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	out := b.codec.Empty()
	for _, path := range paths {
		existing := b.readForSave(path)
		frame := dataset.NewFrame(dataset.Merge(existing, buckets[path]))
		frame.SortByTime()

		if err := b.writePartition(path, frame.Rows); err != nil {
			return nil, errors.Wrapf(err, "save partition %s", path)
		}

		b.mu.Lock()
		b.stats.PartitionsWritten++
		b.stats.RowsWritten += int64(frame.Len())
		b.mu.Unlock()

		b.log.Debug("partition written", "path", path, "rows", frame.Len())
		out.Append(frame.Rows...)
	}

	out.SortByTime()
	return out, nil
}

// writePartition encodes rows into path through an atomic commit.
func (b *Backend) writePartition(path string, rows []dataset.Bar) error {
	return b.commitAtomic(path, func(f *os.File) error {
		w := parquet.NewBarWriter(f, b.opts.Parquet)
		if err := w.Write(rows); err != nil {
			return err
		}
		return w.Close()
	})
}

// readForSave loads a partition's current rows for merging. A missing
// file is an empty partition. An undecodable file is deleted so the
// save can proceed; its rows are gone either way.
func (b *Backend) readForSave(path string) []dataset.Bar {
	bars, err := parquet.ReadFile(path)
	if err == nil {
		return bars
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	b.log.Warn("corrupt partition replaced during save", "path", path, "error", err)
	if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		b.log.Error("delete corrupt partition failed", "path", path, "error", rmErr)
	}
	b.mu.Lock()
	b.stats.CorruptRepaired++
	b.mu.Unlock()
	return nil
}

// Read loads every partition of the requested series and returns the
// concatenated rows sorted by timestamp. A series with no partitions
// yields an empty frame. Undecodable partition files are deleted and
// reported; the read fails as a whole when any partition was corrupt,
// and the next read returns the surviving data.
func (b *Backend) Read(req Request) (*dataset.Frame, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	tickerRoot, err := layout.TickerRoot(b.root, req.layoutKey(0))
	if err != nil {
		return nil, err
	}

	paths, err := b.listPartitions(tickerRoot)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return b.codec.Empty(), nil
	}

	results := make([][]dataset.Bar, len(paths))
	readErrs := make([]error, len(paths))

	// Load partitions in parallel but never cancel siblings: every
	// corrupt file must be detected and repaired in this pass.
	var g errgroup.Group
	g.SetLimit(b.opts.ReadConcurrency)
	for i, path := range paths {
		g.Go(func() error {
			results[i], readErrs[i] = parquet.ReadFile(path)
			return nil
		})
	}
	g.Wait()

	out := b.codec.Empty()
	var corrupt []error
	for i, path := range paths {
		err := readErrs[i]
		if err == nil {
			out.Append(results[i]...)
			b.mu.Lock()
			b.stats.PartitionsRead++
			b.stats.RowsRead += int64(len(results[i]))
			b.mu.Unlock()
			continue
		}
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		b.log.Warn("corrupt partition deleted during read", "path", path, "error", err)
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			b.log.Error("delete corrupt partition failed", "path", path, "error", rmErr)
		}
		b.mu.Lock()
		b.stats.CorruptRepaired++
		b.mu.Unlock()
		corrupt = append(corrupt, errors.NewCorruptPartition(path, err))
	}

	if len(corrupt) > 0 {
		return nil, errors.Join(corrupt...)
	}

	out = b.codec.Normalize(out)
	out.SortByTime()
	return out, nil
}

// ReadLegacyFile loads one flat pre-partitioning file. Migration uses
// this; regular reads address the partitioned tree. An undecodable file
// is reported as corrupt but never deleted: legacy files are the
// rollback copy while migration is in flight, so repair is an operator
// decision.
func (b *Backend) ReadLegacyFile(path string) (*dataset.Frame, error) {
	bars, err := parquet.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.NewNotFound("legacy file", path)
		}
		b.log.Warn("corrupt legacy file", "path", path, "error", err)
		return nil, errors.NewCorruptPartition(path, err)
	}

	frame := b.codec.Normalize(dataset.NewFrame(bars))
	frame.SortByTime()
	return frame, nil
}

// listPartitions walks a ticker directory collecting partition files.
// Temp files from in-flight or abandoned writes are not partitions and
// are skipped.
func (b *Backend) listPartitions(tickerRoot string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(tickerRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if d.Name() == layout.DataFileName {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan partitions")
	}
	sort.Strings(paths)
	return paths, nil
}
