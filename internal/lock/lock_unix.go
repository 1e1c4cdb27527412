//go:build !windows

package lock

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// tryFlock takes a non-blocking exclusive advisory lock on f.
func tryFlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

func unlock(f *os.File) {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

// pidAlive reports whether a process with the given pid is alive, by
// sending signal 0 (no-op signal used purely for existence checks).
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
