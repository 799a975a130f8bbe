// Package scheduler drives fetch passes over the configured venues.
//
// A pass walks venue by venue, interval by interval, ticker by ticker,
// one pair at a time. There is deliberately no intra-process
// parallelism: upstream rate limits are the bottleneck, and a single
// paced worker keeps request ordering predictable and the registry
// simple. Each fetched frame is stamped with a per-pass sequence
// number so rows written in the same pass win last-writer-merge
// deterministically over rows from earlier passes.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tickvault/tickvault/internal/logging"
	"github.com/tickvault/tickvault/internal/registry"
	"github.com/tickvault/tickvault/internal/source"
	"github.com/tickvault/tickvault/internal/storage"
)

// =============================================================================
// Types
// =============================================================================

// VenueJob describes one venue's worth of work for a pass.
type VenueJob struct {
	Market    string
	Source    string
	Dataset   string
	Intervals []string
	Tickers   []string
}

// Options holds scheduler options.
type Options struct {
	// Now supplies the current time. Overridable for tests.
	Now func() time.Time
}

// Stats summarizes one pass.
type Stats struct {
	PairsTotal   int
	PairsFetched int
	PairsSkipped int
	PairsFailed  int
	RowsStored   int64
}

// Scheduler runs fetch passes against a source and stores the results.
type Scheduler struct {
	backend *storage.Backend
	src     source.Source
	reg     *registry.Registry
	limiter *source.Limiter

	now func() time.Time
	log *slog.Logger
}

// New creates a Scheduler. The limiter may be nil when pacing is not
// wanted, everything else is required.
func New(backend *storage.Backend, src source.Source, reg *registry.Registry, limiter *source.Limiter, opts Options) *Scheduler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		backend: backend,
		src:     src,
		reg:     reg,
		limiter: limiter,
		now:     now,
		log:     logging.Component("scheduler"),
	}
}

// =============================================================================
// Pass Execution
// =============================================================================

// RunPass fetches every active (ticker, interval) pair across the given
// jobs and stores the results. A failing pair is recorded and skipped,
// the pass carries on. The registry is persisted once at the end even
// when the pass is cut short by context cancellation.
func (s *Scheduler) RunPass(ctx context.Context, jobs []VenueJob) (Stats, error) {
	var stats Stats

	// One sequence number for the whole pass. Every row stored in
	// this pass carries it, so a refetched bar always supersedes the
	// copy from an earlier pass.
	runSeq := s.now().UnixMilli()

	s.log.Info("starting pass", "venues", len(jobs), "run_seq", runSeq)

	var passErr error
pass:
	for _, job := range jobs {
		for _, interval := range job.Intervals {
			for _, ticker := range job.Tickers {
				if err := ctx.Err(); err != nil {
					passErr = err
					break pass
				}
				stats.PairsTotal++
				s.runPair(ctx, job, ticker, interval, runSeq, &stats)
			}
		}
	}

	if err := s.reg.Save(); err != nil {
		return stats, fmt.Errorf("persist registry: %w", err)
	}

	s.log.Info("pass complete",
		"pairs", stats.PairsTotal,
		"fetched", stats.PairsFetched,
		"skipped", stats.PairsSkipped,
		"failed", stats.PairsFailed,
		"rows", stats.RowsStored)

	return stats, passErr
}

func (s *Scheduler) runPair(ctx context.Context, job VenueJob, ticker, interval string, runSeq int64, stats *Stats) {
	if !s.reg.Active(ticker, interval, s.now()) {
		s.log.Debug("pair inactive, skipping", "ticker", ticker, "interval", interval)
		stats.PairsSkipped++
		return
	}

	if s.limiter != nil {
		s.limiter.Acquire()
	}

	// The window starts at the watermark inclusive: the newest stored
	// bar is refetched on purpose so late revisions (volume updates,
	// adjusted closes) flow through the merge.
	window := source.Window{StartMs: s.reg.Watermark(ticker, interval)}

	bars, err := s.src.Fetch(ctx, ticker, interval, window)
	if err != nil {
		s.log.Warn("fetch failed", "ticker", ticker, "interval", interval, "error", err)
		s.reg.RecordFailure(ticker, interval, s.now())
		stats.PairsFailed++
		return
	}

	for i := range bars {
		bars[i].Sequence = runSeq
	}

	req := storage.Request{
		Market:   job.Market,
		Source:   job.Source,
		Dataset:  job.Dataset,
		Interval: interval,
		Ticker:   ticker,
	}
	frame, err := s.backend.Save(req, bars)
	if err != nil {
		s.log.Error("store failed", "ticker", ticker, "interval", interval, "error", err)
		s.reg.RecordFailure(ticker, interval, s.now())
		stats.PairsFailed++
		return
	}

	s.reg.RecordSuccess(ticker, interval, frame.LastTimestamp(), s.now())
	stats.PairsFetched++
	stats.RowsStored += int64(len(bars))

	s.log.Debug("pair stored",
		"ticker", ticker,
		"interval", interval,
		"fetched", len(bars),
		"merged", frame.Len())
}
