package cmd

import (
	"fmt"
	"os"
)

// acquireDBLock opens (creating if needed) dbPath+".lock" and takes a
// non-blocking advisory flock on it, guarding against two ClawGuard
// processes sharing one SQLite file. start holds it for the process
// lifetime; reset takes it just long enough to confirm no server
// instance is running against the same database before removing it.
func acquireDBLock(dbPath string) (*os.File, error) {
	f, err := os.OpenFile(dbPath+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := flockTryLock(f.Fd()); err != nil {
		f.Close()
		return nil, fmt.Errorf("database is locked by another process: %w", err)
	}
	return f, nil
}

// releaseDBLock unlocks and closes a lock file returned by acquireDBLock.
func releaseDBLock(f *os.File) {
	if f == nil {
		return
	}
	_ = flockUnlock(f.Fd())
	_ = f.Close()
}
