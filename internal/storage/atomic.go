package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/tickvault/tickvault/internal/layout"
)

// DurabilityType selects how hard a commit pushes bytes to disk before
// the rename that publishes them.
type DurabilityType int

const (
	// DurabilityBestEffort logs and proceeds when fsync fails. The
	// rename still only publishes fully written files.
	DurabilityBestEffort DurabilityType = iota
	// DurabilityStrict fails the save when fsync fails.
	DurabilityStrict
)

// ParseDurability parses a durability policy string.
func ParseDurability(s string) DurabilityType {
	if s == "strict" {
		return DurabilityStrict
	}
	return DurabilityBestEffort
}

// String returns the config spelling of the durability policy.
func (d DurabilityType) String() string {
	if d == DurabilityStrict {
		return "strict"
	}
	return "best_effort"
}

// tempToken returns the random part of a temp file name.
func tempToken() string {
	return uuid.NewString()[:8]
}

// commitAtomic stages a partition write through a temp file in the same
// directory and renames it over path. The final file is either the old
// version or the complete new version, never a partial write. On any
// failure before the rename the temp file is left behind for the run
// lock's cleanup scan and the final file is untouched.
func (b *Backend) commitAtomic(path string, write func(f *os.File) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp := filepath.Join(dir, layout.TempName(os.Getpid(), tempToken()))
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := f.Sync(); err != nil {
		if b.opts.Durability == DurabilityStrict {
			f.Close()
			return fmt.Errorf("fsync temp file: %w", err)
		}
		b.log.Warn("fsync failed, continuing under best-effort durability",
			"path", tmp, "error", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
