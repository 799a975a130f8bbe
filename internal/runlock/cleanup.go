package runlock

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tickvault/tickvault/internal/errors"
	"github.com/tickvault/tickvault/internal/layout"
)

// CleanupTempFiles scans the store tree for temp files abandoned by
// crashed writes and resolves each one: a temp whose final file exists
// is redundant and deleted, a temp without a final file is the only
// surviving copy and is promoted by rename. Returns the number of temp
// files handled. Safe to run any time, but meaningful at run start
// under the lock, before any new writes.
func (l *Lock) CleanupTempFiles() (int, error) {
	count := 0
	err := filepath.WalkDir(l.base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if d.Name() == LockDirName {
				return filepath.SkipDir
			}
			return nil
		}
		if !layout.IsTempName(d.Name()) {
			return nil
		}

		finalName, ok := layout.FinalFromTemp(d.Name())
		if !ok {
			return nil
		}
		final := filepath.Join(filepath.Dir(path), finalName)

		_, statErr := os.Stat(final)
		switch {
		case statErr == nil:
			// The write this temp belonged to completed, or a later
			// write already published. Either way the temp is garbage.
			if rmErr := os.Remove(path); rmErr != nil {
				return fmt.Errorf("delete redundant temp %s: %w", path, rmErr)
			}
			l.log.Info("deleted redundant temp file", "path", path)
		case os.IsNotExist(statErr):
			// Crash raced the rename. The temp is the freshest copy
			// there is; publish it. If it was mid-write and is
			// undecodable, the corrupt-read repair path takes over.
			if rnErr := os.Rename(path, final); rnErr != nil {
				return fmt.Errorf("promote temp %s: %w", path, rnErr)
			}
			l.log.Info("promoted temp file", "path", path, "final", final)
		default:
			return fmt.Errorf("stat final for temp %s: %w", path, statErr)
		}

		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("cleanup temp files: %w", err)
	}
	return count, nil
}
