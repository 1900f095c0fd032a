// Lock file implementation grounded on an advisory syscall.Flock /
// golang.org/x/sys/unix.Flock pattern: LOCK_EX|LOCK_NB acquisition,
// EWOULDBLOCK mapped to a named "already locked" error so callers can fall
// back to read-only.
package blobstore

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// ErrCaseLocked is returned by AcquireLock when another process already
// holds the case's write lock.
var ErrCaseLocked = errors.New("blobstore: case is locked by another process")

// Lock is the advisory writer lock on a case directory's `<case>.lock`
// file (spec 6, "Lock file").
type Lock struct {
	f        *os.File
	HolderID string // random per-acquisition token, for diagnosing stale locks
}

// AcquireLock attempts to take the exclusive, non-blocking advisory lock
// on path. Returns ErrCaseLocked if another process holds it; callers
// should then open the case read-only. On success, a fresh holder ID is
// written into the lock file's contents (pid + a random token) so a stuck
// lock can be traced back to the process that took it without relying on
// flock internals, which expose no such metadata.
func AcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrCaseLocked
		}
		return nil, err
	}
	holderID := uuid.NewString()
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.WriteAt([]byte(fmt.Sprintf("pid=%d holder=%s\n", os.Getpid(), holderID)), 0); err != nil {
		f.Close()
		return nil, err
	}
	return &Lock{f: f, HolderID: holderID}, nil
}

// Release unlocks and closes the lock file.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
