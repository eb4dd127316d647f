// Package lock provides the process-level advisory lock that keeps a second
// scheduler from running against the same store. The HTTP server may run in
// many processes; only the lock holder ticks.
package lock

import (
	"fmt"
	"os"
	"syscall"
)

// FileLock is a flock(2)-based advisory lock.
type FileLock struct {
	path string
	file *os.File
}

// Acquire takes the lock without blocking. It returns held=false when another
// process owns it; that is not an error.
func Acquire(path string) (*FileLock, bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("flock: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return &FileLock{path: path, file: f}, true, nil
}

// Release drops the lock. The file is left in place; the pid inside is only
// informational.
func (l *FileLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		return err
	}
	return l.file.Close()
}
