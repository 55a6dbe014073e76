//go:build unix

package filelock

import (
	"os"

	"golang.org/x/sys/unix"
)

// AcquireExclusive takes an exclusive advisory lock on f. When blocking is
// false it returns ErrLocked immediately if another process already holds
// the lock; when true it waits until the lock is available.
func AcquireExclusive(f *os.File, blocking bool) error {
	how := unix.LOCK_EX
	if !blocking {
		how |= unix.LOCK_NB
	}
	err := unix.Flock(int(f.Fd()), how)
	if err == unix.EWOULDBLOCK {
		return ErrLocked
	}
	return err
}

// Release drops any advisory lock held on f.
func Release(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
