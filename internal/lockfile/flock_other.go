//go:build !unix

package lockfile

func platformLocker() (Locker, bool) { return nil, false }
