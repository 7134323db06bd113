package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	ferrors "github.com/forge-ai/forge/internal/errors"
)

// LockFileName is the lock file created inside the data directory.
const LockFileName = "forge.lock"

// DataLock holds the single-writer lock on a data directory.
type DataLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDataLock returns an unlocked lock for <dataDir>/forge.lock.
func NewDataLock(dataDir string) *DataLock {
	p := filepath.Join(dataDir, LockFileName)
	return &DataLock{path: p, flock: flock.New(p)}
}

// Acquire takes the lock without waiting. A lock held by another process
// is a storage-fatal ErrCodeLocked error.
func (l *DataLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return ferrors.StorageError(ferrors.ErrCodeLocked, "failed to create data directory", err)
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return ferrors.StorageError(ferrors.ErrCodeLocked, "failed to acquire data directory lock", err)
	}
	if !ok {
		return ferrors.StorageError(ferrors.ErrCodeLocked,
			fmt.Sprintf("data directory is locked by another process (%s)", l.path), nil).
			WithSuggestion("wait for the other scan to finish, or remove the lock file if no forge process is running")
	}
	l.locked = true
	return nil
}

// Release drops the lock. It is safe to call more than once.
func (l *DataLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DataLock) Path() string { return l.path }

// Locked reports whether this handle holds the lock.
func (l *DataLock) Locked() bool { return l.locked }
