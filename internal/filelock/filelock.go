// Package filelock takes advisory, non-blocking locks on files. Every
// process with the store open holds a shared lock; a restore needs it
// exclusively.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrLocked is returned when another holder owns the lock. Retrying later is
// safe.
var ErrLocked = errors.New("filelock: already locked")

// Lock is a held lock. The lock file itself is left on disk after Unlock.
type Lock struct {
	f         *os.File
	path      string
	exclusive bool
}

// TryLock acquires an exclusive lock on path, creating the file if needed,
// and fails with ErrLocked instead of waiting.
func TryLock(path string) (*Lock, error) {
	return tryLock(path, true)
}

// TryLockShared acquires a shared lock on path. Any number of shared holders
// may coexist; they exclude every exclusive one.
func TryLockShared(path string) (*Lock, error) {
	return tryLock(path, false)
}

func tryLock(path string, exclusive bool) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := lockFile(f, exclusive); err != nil {
		f.Close()
		return nil, err
	}

	return &Lock{f: f, path: path, exclusive: exclusive}, nil
}

// Path is the lock file.
func (l *Lock) Path() string {
	return l.path
}

// Exclusive reports whether the lock is currently held exclusively.
func (l *Lock) Exclusive() bool {
	return l.exclusive
}

// Upgrade turns a shared lock into an exclusive one. It fails with ErrLocked
// while any other holder remains, and the shared lock is kept in that case.
func (l *Lock) Upgrade() error {
	if l.exclusive {
		return nil
	}
	if err := unlockFile(l.f); err != nil {
		return fmt.Errorf("release shared lock: %w", err)
	}
	if err := lockFile(l.f, true); err != nil {
		if rerr := lockFile(l.f, false); rerr != nil {
			return errors.Join(err, fmt.Errorf("reacquire shared lock: %w", rerr))
		}
		return err
	}
	l.exclusive = true
	return nil
}

// Downgrade turns an exclusive lock back into a shared one.
func (l *Lock) Downgrade() error {
	if !l.exclusive {
		return nil
	}
	if err := unlockFile(l.f); err != nil {
		return fmt.Errorf("release exclusive lock: %w", err)
	}
	l.exclusive = false
	return lockFile(l.f, false)
}

// Unlock releases the lock. Calling it twice is harmless.
func (l *Lock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlockFile(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
