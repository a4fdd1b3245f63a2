package queue

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

const lockFilePermissions = 0o600

// ErrLocked means another process owns the job database.
var ErrLocked = errors.New("queue: job database is in use by another process")

// ErrReadOnly is returned by mutating operations on a read-only queue.
var ErrReadOnly = errors.New("queue: job database opened read-only")

// lockPath is the file whose flock marks the owner of dbPath.
func lockPath(dbPath string) string {
	return dbPath + ".lock"
}

// acquireLock takes a non-blocking exclusive flock next to dbPath. The lock
// belongs to the returned file and goes away when it is closed or the
// process exits.
func acquireLock(dbPath string) (*os.File, error) {
	f, err := os.OpenFile(lockPath(dbPath), os.O_CREATE|os.O_RDWR, lockFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("queue: opening lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, ErrLocked
		}

		return nil, fmt.Errorf("queue: locking %s: %w", lockPath(dbPath), err)
	}

	return f, nil
}
