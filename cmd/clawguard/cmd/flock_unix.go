//go:build !windows

package cmd

import "syscall"

// flockTryLock attempts a non-blocking exclusive advisory lock on fd.
// Returns an error immediately if another process already holds it,
// rather than blocking, since callers use this to detect "is the server
// already running" rather than to queue behind it.
func flockTryLock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_EX|syscall.LOCK_NB)
}

func flockUnlock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_UN)
}
