//go:build unix

package lockfile

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// Flock uses flock(2). Locks belong to the open file description, so two
// opens of the same lock file contend even inside one process.
type Flock struct{}

func (Flock) Lock(f *os.File, mode Mode) error {
	how := unix.LOCK_SH
	if mode == Exclusive {
		how = unix.LOCK_EX
	}
	for {
		err := unix.Flock(int(f.Fd()), how)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

func (Flock) Unlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

func (Flock) Name() string { return "flock" }

func platformLocker() (Locker, bool) { return Flock{}, true }
