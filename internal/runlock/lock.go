// Package runlock serializes store-mutating runs across processes.
//
// The lock is a `.run_lock` directory at the store root: directory
// creation is atomic on every platform, so exactly one process can
// create it. An owner file inside records pid, host, and acquisition
// time for diagnostics and stale detection. Locks abandoned by crashed
// processes are reclaimed when the recorded owner is provably dead on
// this host or the lock has outlived the staleness threshold.
package runlock

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/tickvault/tickvault/internal/errors"
	"github.com/tickvault/tickvault/internal/logging"
)

const (
	// LockDirName is the marker directory created at the store root.
	LockDirName = ".run_lock"

	// ownerFileName records who holds the lock.
	ownerFileName = "owner.json"

	// DefaultStaleAfter is the age past which a lock is reclaimable
	// regardless of owner liveness.
	DefaultStaleAfter = time.Hour
)

// OwnerInfo describes the process holding a lock.
type OwnerInfo struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Options configures a Lock.
type Options struct {
	// StaleAfter overrides DefaultStaleAfter when positive.
	StaleAfter time.Duration
}

// Lock is a handle on the store-root run lock. Each process entry point
// creates its own handle; the lock state lives on disk, not in the
// handle.
type Lock struct {
	base       string
	dir        string
	staleAfter time.Duration
	log        *slog.Logger

	mu   sync.Mutex
	held bool
}

// New creates a lock handle for the store rooted at base.
func New(base string, opts Options) *Lock {
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Lock{
		base:       base,
		dir:        filepath.Join(base, LockDirName),
		staleAfter: staleAfter,
		log:        logging.Component("runlock"),
	}
}

// Path returns the lock directory path.
func (l *Lock) Path() string {
	return l.dir
}

// Held reports whether this handle currently holds the lock.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// TryAcquire attempts to take the lock without blocking. A held lock is
// a normal negative result, not an error. A stale lock left by a dead
// or expired owner is broken and the acquisition retried once.
func (l *Lock) TryAcquire() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return true, nil
	}

	if err := os.MkdirAll(l.base, 0755); err != nil {
		return false, fmt.Errorf("create lock base: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		err := os.Mkdir(l.dir, 0755)
		if err == nil {
			if werr := l.writeOwner(); werr != nil {
				os.RemoveAll(l.dir)
				return false, werr
			}
			l.held = true
			l.log.Debug("run lock acquired", "path", l.dir)
			return true, nil
		}
		if !os.IsExist(err) {
			return false, fmt.Errorf("create lock dir: %w", err)
		}

		if !l.isStale() {
			return false, nil
		}

		l.log.Warn("breaking stale run lock", "path", l.dir)
		if rmErr := os.RemoveAll(l.dir); rmErr != nil {
			return false, fmt.Errorf("remove stale lock: %w", rmErr)
		}
	}

	return false, nil
}

// Acquire is TryAcquire with a typed failure for callers that treat
// contention as an error. It returns ErrLockHeld when another run owns
// the lock.
func (l *Lock) Acquire() error {
	ok, err := l.TryAcquire()
	if err != nil {
		return err
	}
	if !ok {
		if owner, oerr := l.OwnerInfo(); oerr == nil && owner != nil {
			return fmt.Errorf("held by pid %d on %s since %s: %w",
				owner.PID, owner.Host, owner.AcquiredAt.Format(time.RFC3339), errors.ErrLockHeld)
		}
		return errors.ErrLockHeld
	}
	return nil
}

// Release removes the lock directory. Releasing an unheld lock is a
// no-op. The removal is unconditional, which is what makes the CLI's
// manual break command possible; owners release what they acquired.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.RemoveAll(l.dir); err != nil {
		return fmt.Errorf("remove lock dir: %w", err)
	}
	if l.held {
		l.log.Debug("run lock released", "path", l.dir)
	}
	l.held = false
	return nil
}

// OwnerInfo returns the recorded owner of the lock, or nil when the
// lock is not held by anyone.
func (l *Lock) OwnerInfo() (*OwnerInfo, error) {
	owner, err := l.readOwner()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return owner, nil
}

// writeOwner records this process in the lock directory.
func (l *Lock) writeOwner() error {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	info := OwnerInfo{
		PID:        os.Getpid(),
		Host:       host,
		AcquiredAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal owner info: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.dir, ownerFileName), data, 0644); err != nil {
		return fmt.Errorf("write owner info: %w", err)
	}
	return nil
}

// readOwner loads the owner file of an existing lock.
func (l *Lock) readOwner() (*OwnerInfo, error) {
	data, err := os.ReadFile(filepath.Join(l.dir, ownerFileName))
	if err != nil {
		return nil, err
	}
	var info OwnerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse owner info: %w", err)
	}
	return &info, nil
}

// isStale decides whether an existing lock may be broken.
func (l *Lock) isStale() bool {
	owner, err := l.readOwner()
	if err != nil {
		// No or unreadable owner file. The holder may be between mkdir
		// and the owner write, so only age can condemn the lock.
		stat, serr := os.Stat(l.dir)
		if serr != nil {
			return false
		}
		return time.Since(stat.ModTime()) > l.staleAfter
	}

	if time.Since(owner.AcquiredAt) > l.staleAfter {
		return true
	}

	host, herr := os.Hostname()
	if herr == nil && owner.Host == host && !pidAlive(owner.PID) {
		return true
	}
	return false
}

// pidAlive reports whether a pid refers to a live process on this host.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrProcessDone) {
		return false
	}
	var errno syscall.Errno
	if errors.As(err, &errno) && errno == syscall.ESRCH {
		return false
	}
	// Signal refused (EPERM or similar): the process exists.
	return true
}
