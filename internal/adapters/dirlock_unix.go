//go:build linux || darwin

package adapters

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// lockDir takes an exclusive advisory lock on a cache directory so
// concurrent processes cannot interleave extraction. The returned
// release function unlocks and closes the lock file.
func lockDir(dir string) (release func() error, err error) {
	lockPath := filepath.Join(dir, cacheLockFile)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, err
	}
	return func() error {
		unlockErr := unix.Flock(int(f.Fd()), unix.LOCK_UN)
		if closeErr := f.Close(); unlockErr == nil {
			unlockErr = closeErr
		}
		return unlockErr
	}, nil
}
