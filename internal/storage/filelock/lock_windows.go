//go:build windows

package filelock

import (
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

// AcquireExclusive takes an exclusive advisory lock on f. When blocking is
// false it returns ErrLocked immediately if another process already holds
// the lock; when true it waits until the lock is available.
func AcquireExclusive(f *os.File, blocking bool) error {
	flags := uint32(windows.LOCKFILE_EXCLUSIVE_LOCK)
	if !blocking {
		flags |= windows.LOCKFILE_FAIL_IMMEDIATELY
	}

	ol := &windows.Overlapped{}
	err := windows.LockFileEx(
		windows.Handle(f.Fd()),
		flags,
		0,
		0xFFFFFFFF,
		0xFFFFFFFF,
		ol,
	)

	if err == windows.ERROR_LOCK_VIOLATION || err == syscall.EWOULDBLOCK {
		return ErrLocked
	}
	return err
}

// Release drops any advisory lock held on f.
func Release(f *os.File) error {
	ol := &windows.Overlapped{}
	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 0xFFFFFFFF, 0xFFFFFFFF, ol)
}
