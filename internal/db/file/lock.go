package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 10 * time.Millisecond

// Lock is an advisory lock on a file, shared by every process that opens the same path.
// A Lock is not reentrant and must not be used by two goroutines at once.
type Lock struct {
	fl *flock.Flock
}

// NewLock returns an unlocked Lock on path. The file is created on first Acquire.
func NewLock(path string) *Lock {
	return &Lock{fl: flock.New(path)}
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.fl.Path() }

// Acquire blocks until the lock is held or ctx is done.
func (l *Lock) Acquire(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.fl.Path()), 0o750); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	ok, err := l.fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock %s: %w", filepath.Base(l.fl.Path()), err)
	}
	if !ok {
		return fmt.Errorf("lock %s: %w", filepath.Base(l.fl.Path()), ctx.Err())
	}
	return nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", filepath.Base(l.fl.Path()), err)
	}
	return nil
}
