package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Mode selects a shared (read) or exclusive (write) lock.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

// Locker takes and drops advisory locks on an open file.
type Locker interface {
	Lock(f *os.File, mode Mode) error
	Unlock(f *os.File) error
	// Name identifies the implementation in logs.
	Name() string
}

// LockedStore reads and writes whole JSON string lists under advisory locks.
type LockedStore interface {
	Load(path string) ([]string, error)
	Save(path string, ids []string) error
	Update(path string, fn func(ids []string) ([]string, error)) error
	Exclusive(path string, fn func(ids []string) error) error
}

// FileStore implements LockedStore on the local filesystem. Locks are held on a
// sidecar "<path>.lock" file so the data file can be replaced by rename.
type FileStore struct {
	locker Locker
	logger *zap.Logger
}

var _ LockedStore = (*FileStore)(nil)

// NewFileStore builds a store using the given locker.
func NewFileStore(locker Locker, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{locker: locker, logger: logger}
}

// Locker returns the locking implementation in use.
func (s *FileStore) Locker() Locker { return s.locker }

// Load returns the list stored at path under a shared lock. A missing file or
// undecodable content yields an empty list.
func (s *FileStore) Load(path string) ([]string, error) {
	var out []string
	err := s.withLock(path, Shared, func() error {
		ids, err := s.read(path)
		if errors.Is(err, fs.ErrNotExist) {
			out = []string{}
			return nil
		}
		out = ids
		return err
	})
	return out, err
}

// Save replaces the content of path under an exclusive lock.
func (s *FileStore) Save(path string, ids []string) error {
	return s.withLock(path, Exclusive, func() error {
		return s.write(path, ids)
	})
}

// Update runs a read-modify-write cycle on path under one exclusive lock.
func (s *FileStore) Update(path string, fn func(ids []string) ([]string, error)) error {
	return s.withLock(path, Exclusive, func() error {
		ids, err := s.read(path)
		if errors.Is(err, fs.ErrNotExist) {
			ids = []string{}
		} else if err != nil {
			return err
		}
		next, err := fn(ids)
		if err != nil {
			return err
		}
		return s.write(path, next)
	})
}

// Exclusive holds an exclusive lock on path while fn runs with its current
// content. The data file must already exist; otherwise the returned error
// wraps fs.ErrNotExist and fn is not called.
func (s *FileStore) Exclusive(path string, fn func(ids []string) error) error {
	return s.withLock(path, Exclusive, func() error {
		ids, err := s.read(path)
		if err != nil {
			return err
		}
		return fn(ids)
	})
}

func (s *FileStore) withLock(path string, mode Mode, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	lf, err := os.OpenFile(path+".lock", os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer lf.Close()

	if err := s.locker.Lock(lf, mode); err != nil {
		return fmt.Errorf("lock %s: %w", filepath.Base(path), err)
	}
	defer func() {
		if err := s.locker.Unlock(lf); err != nil {
			s.logger.Warn("Failed to release lock", zap.String("path", path), zap.Error(err))
		}
	}()
	return fn()
}

// read decodes path. Missing files are reported as fs.ErrNotExist; corrupt
// content is logged and recovered as an empty list.
func (s *FileStore) read(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(data) == 0 {
		return []string{}, nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		s.logger.Warn("State file is corrupt, treating it as empty",
			zap.String("path", path), zap.Error(err))
		return []string{}, nil
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *FileStore) write(path string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// NoLock skips locking entirely.
type NoLock struct{}

func (NoLock) Lock(*os.File, Mode) error { return nil }
func (NoLock) Unlock(*os.File) error     { return nil }
func (NoLock) Name() string              { return "none" }

// Default returns a store using OS advisory locks when the platform has them.
// Otherwise it falls back to NoLock and warns that running several workers
// against the same state directory is unsafe.
func Default(logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if l, ok := platformLocker(); ok {
		return NewFileStore(l, logger)
	}
	logger.Warn("Advisory file locking is unavailable on this platform; concurrent workers are NOT safe")
	return NewFileStore(NoLock{}, logger)
}

// ForMode resolves a LOCK_MODE value ("flock", "none" or "" for the default).
func ForMode(mode string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch mode {
	case "", "auto", "flock":
		return Default(logger), nil
	case "none":
		logger.Warn("File locking disabled; only run a single worker against this state directory")
		return NewFileStore(NoLock{}, logger), nil
	default:
		return nil, fmt.Errorf("unknown lock mode %q", mode)
	}
}
