package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

// DirLock is a cross-process lock on a data directory. It keeps two kbindex
// processes from indexing into the same local store at once.
type DirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDirLock creates a lock at <dir>/indexing.lock.
func NewDirLock(dir string) *DirLock {
	path := filepath.Join(dir, "indexing.lock")
	return &DirLock{path: path, flock: flock.New(path)}
}

// TryLock acquires the lock without blocking. A lock held by another
// process is ErrCodeIndexLocked.
func (l *DirLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return kberrors.New(kberrors.ErrCodeIndexLocked,
			fmt.Sprintf("another process is indexing (%s)", l.path), nil).
			WithSuggestion("Wait for the other kbindex process or remove the stale lock file")
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *DirLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DirLock) Path() string { return l.path }
