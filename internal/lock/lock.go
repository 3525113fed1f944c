package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// ErrLocked means another run holds the lock.
var ErrLocked = errors.New("another backup run is in progress")

type Lock struct {
	file *flock.Flock
}

// Acquire takes an exclusive lock on path so two runs never reconcile the same
// ledger at once, and records owner in the file for operators. An empty path
// disables locking.
func Acquire(path, owner string) (*Lock, error) {
	if path == "" {
		return &Lock{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		if holder := Holder(path); holder != "" {
			return nil, fmt.Errorf("%w (lock: %s, held by %s)", ErrLocked, path, holder)
		}
		return nil, fmt.Errorf("%w (lock: %s)", ErrLocked, path)
	}
	if owner != "" {
		// flock is advisory, the content is informational only.
		_ = os.WriteFile(path, []byte(fmt.Sprintf("%s pid=%d\n", owner, os.Getpid())), 0o640)
	}
	return &Lock{file: fl}, nil
}

// Holder returns the owner recorded by the current or last lock holder.
func Holder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Release frees the lock. The file is left in place so a waiting run never
// locks an unlinked inode.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Unlock()
}
