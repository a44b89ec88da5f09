package render

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName is the per-project lock inside the cache root.
const LockFileName = "render.lock"

// ErrLocked is returned when another render run holds the project lock.
var ErrLocked = errors.New("another render is already running for this project")

// Lock is an exclusive advisory lock on a project's cache root.
type Lock struct {
	lock *flock.Flock
}

// AcquireLock takes the project lock without blocking.
func AcquireLock(cacheRoot string) (*Lock, error) {
	if err := os.MkdirAll(cacheRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	fl := flock.New(filepath.Join(cacheRoot, LockFileName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock %s)", ErrLocked, fl.Path())
	}
	return &Lock{lock: fl}, nil
}

// Release drops the lock. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
