// Package registry tracks fetch freshness and failure cooldowns per
// (ticker, interval) pair.
//
// The registry is bookkeeping, not a source of truth: losing it means
// refetching more than necessary, never losing data. It gates the
// scheduler (a cooled or disabled pair is skipped) and carries the
// watermark each incremental fetch resumes from.
package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/tickvault/tickvault/internal/logging"
)

// FileName is the registry document name under the base directory.
const FileName = "registry.json"

// Entry is the persisted state of one (ticker, interval) pair.
type Entry struct {
	LastRunAt           time.Time  `json:"last_run_at"`
	LastTimestampMs     int64      `json:"last_timestamp_ms"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	CooldownUntil       *time.Time `json:"cooldown_until,omitempty"`
	Disabled            bool       `json:"disabled,omitempty"`
}

// Options configures cooldown behavior.
type Options struct {
	// MaxFailures is how many consecutive failures arm the cooldown.
	MaxFailures int

	// Cooldown is how long an armed pair sits out.
	Cooldown time.Duration
}

// DefaultOptions returns production cooldown settings.
func DefaultOptions() Options {
	return Options{
		MaxFailures: 3,
		Cooldown:    time.Hour,
	}
}

// Registry is an in-memory view of the registry document. Callers
// mutate through RecordSuccess/RecordFailure and persist with Save.
type Registry struct {
	path string
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	entries map[string]*Entry
}

// document is the on-disk shape.
type document struct {
	Entries map[string]*Entry `json:"entries"`
}

func pairKey(ticker, interval string) string {
	return ticker + "|" + interval
}

// Open loads the registry at path, starting empty if the file does not
// exist. An unreadable document is logged and replaced by an empty
// registry rather than blocking every future run: the cost is extra
// refetching, which the merge-on-save path absorbs.
func Open(path string, opts Options) (*Registry, error) {
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = DefaultOptions().MaxFailures
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultOptions().Cooldown
	}

	r := &Registry{
		path:    path,
		opts:    opts,
		log:     logging.Component("registry"),
		entries: make(map[string]*Entry),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		r.log.Warn("registry unreadable, starting fresh", "path", path, "error", err)
		return r, nil
	}
	if doc.Entries != nil {
		r.entries = doc.Entries
	}
	return r, nil
}

// Active reports whether a pair should be fetched now. Unknown pairs
// are active: never seen means never tried.
func (r *Registry) Active(ticker, interval string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[pairKey(ticker, interval)]
	if !ok {
		return true
	}
	if e.Disabled {
		return false
	}
	if e.CooldownUntil != nil && now.Before(*e.CooldownUntil) {
		return false
	}
	return true
}

// Watermark returns the last stored row timestamp for a pair, zero if
// unknown. Incremental fetches start from here.
func (r *Registry) Watermark(ticker, interval string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[pairKey(ticker, interval)]; ok {
		return e.LastTimestampMs
	}
	return 0
}

// RecordSuccess clears failure state and advances the watermark. The
// watermark never regresses: a short fetch must not reopen an already
// covered window.
func (r *Registry) RecordSuccess(ticker, interval string, lastTimestampMs int64, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.ensure(ticker, interval)
	e.LastRunAt = now.UTC()
	e.ConsecutiveFailures = 0
	e.CooldownUntil = nil
	if lastTimestampMs > e.LastTimestampMs {
		e.LastTimestampMs = lastTimestampMs
	}
}

// RecordFailure counts a failure and arms the cooldown once the
// threshold is reached.
func (r *Registry) RecordFailure(ticker, interval string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.ensure(ticker, interval)
	e.LastRunAt = now.UTC()
	e.ConsecutiveFailures++
	if e.ConsecutiveFailures >= r.opts.MaxFailures {
		until := now.UTC().Add(r.opts.Cooldown)
		e.CooldownUntil = &until
		r.log.Warn("pair cooling down",
			"ticker", ticker,
			"interval", interval,
			"failures", e.ConsecutiveFailures,
			"until", until)
	}
}

// ensure returns the entry for a pair, creating it if absent. Callers
// hold r.mu.
func (r *Registry) ensure(ticker, interval string) *Entry {
	k := pairKey(ticker, interval)
	e, ok := r.entries[k]
	if !ok {
		e = &Entry{}
		r.entries[k] = e
	}
	return e
}

// Entry returns a copy of the pair's state and whether it exists.
func (r *Registry) Entry(ticker, interval string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[pairKey(ticker, interval)]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of tracked pairs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Path returns the document path the registry persists to.
func (r *Registry) Path() string {
	return r.path
}

// Save persists the registry atomically via temp+rename.
func (r *Registry) Save() error {
	r.mu.Lock()
	doc := document{Entries: r.entries}
	data, err := json.MarshalIndent(doc, "", "  ")
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	data = append(data, '\n')

	tmp := fmt.Sprintf("%s.tmp-%d", r.path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write registry temp: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename registry: %w", err)
	}
	return nil
}
