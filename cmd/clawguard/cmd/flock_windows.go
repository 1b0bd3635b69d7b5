//go:build windows

package cmd

import "golang.org/x/sys/windows"

// flockTryLock attempts a non-blocking exclusive advisory lock on fd,
// failing immediately (LOCKFILE_FAIL_IMMEDIATELY) if another process
// already holds it.
func flockTryLock(fd uintptr) error {
	var ol windows.Overlapped
	return windows.LockFileEx(windows.Handle(fd), windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, &ol)
}

func flockUnlock(fd uintptr) error {
	var ol windows.Overlapped
	return windows.UnlockFileEx(windows.Handle(fd), 0, 1, 0, &ol)
}
