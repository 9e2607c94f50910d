package state

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"transcode-fleet/internal/lockfile"
)

const (
	DefaultProcessedFile  = "processed_videos.json"
	DefaultInProgressFile = "in_progress_videos.json"
)

// Store persists the Processed and In-Progress sets shared by every worker
// pointed at the same state directory.
type Store struct {
	files          lockfile.LockedStore
	processedPath  string
	inProgressPath string
	policy         ClaimPolicy
	logger         *zap.Logger
}

// Options configures file names and claim behaviour.
type Options struct {
	Dir            string
	ProcessedFile  string
	InProgressFile string
	Policy         ClaimPolicy
}

// New builds a store over files.
func New(files lockfile.LockedStore, opts Options, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ProcessedFile == "" {
		opts.ProcessedFile = DefaultProcessedFile
	}
	if opts.InProgressFile == "" {
		opts.InProgressFile = DefaultInProgressFile
	}
	if opts.Policy == (ClaimPolicy{}) {
		opts.Policy = DefaultClaimPolicy()
	}
	return &Store{
		files:          files,
		processedPath:  filepath.Join(opts.Dir, opts.ProcessedFile),
		inProgressPath: filepath.Join(opts.Dir, opts.InProgressFile),
		policy:         opts.Policy,
		logger:         logger,
	}
}

func (s *Store) ProcessedPath() string  { return s.processedPath }
func (s *Store) InProgressPath() string { return s.inProgressPath }

func (s *Store) LoadProcessed() (*Set, error) {
	ids, err := s.files.Load(s.processedPath)
	if err != nil {
		return nil, fmt.Errorf("load processed: %w", err)
	}
	return NewSet(ids...), nil
}

func (s *Store) SaveProcessed(set *Set) error {
	if err := s.files.Save(s.processedPath, set.Slice()); err != nil {
		return fmt.Errorf("save processed: %w", err)
	}
	return nil
}

func (s *Store) LoadInProgress() (*Set, error) {
	ids, err := s.files.Load(s.inProgressPath)
	if err != nil {
		return nil, fmt.Errorf("load in-progress: %w", err)
	}
	return NewSet(ids...), nil
}

func (s *Store) SaveInProgress(set *Set) error {
	if err := s.files.Save(s.inProgressPath, set.Slice()); err != nil {
		return fmt.Errorf("save in-progress: %w", err)
	}
	return nil
}

// MarkComplete records id as processed and drops its claim. If either write
// fails the completion is not durable and the error is returned.
func (s *Store) MarkComplete(id string) error {
	err := s.files.Update(s.processedPath, func(ids []string) ([]string, error) {
		set := NewSet(ids...)
		set.Add(id)
		return set.Slice(), nil
	})
	if err != nil {
		return fmt.Errorf("mark %s complete: %w", id, err)
	}
	if err := s.removeClaim(id); err != nil {
		return fmt.Errorf("mark %s complete: %w", id, err)
	}
	return nil
}

// MarkFailed drops the claim on id so any worker may pick it up again.
func (s *Store) MarkFailed(id string) error {
	if err := s.removeClaim(id); err != nil {
		return fmt.Errorf("mark %s failed: %w", id, err)
	}
	return nil
}

func (s *Store) removeClaim(id string) error {
	return s.files.Update(s.inProgressPath, func(ids []string) ([]string, error) {
		set := NewSet(ids...)
		set.Remove(id)
		return set.Slice(), nil
	})
}

// ResetAll empties both sets so every job becomes available again.
func (s *Store) ResetAll() error {
	if err := s.files.Save(s.processedPath, nil); err != nil {
		return fmt.Errorf("reset processed: %w", err)
	}
	if err := s.files.Save(s.inProgressPath, nil); err != nil {
		return fmt.Errorf("reset in-progress: %w", err)
	}
	s.logger.Info("State reset", zap.String("processed", s.processedPath), zap.String("in_progress", s.inProgressPath))
	return nil
}

// ClearInProgress empties the In-Progress set and returns the claims it dropped.
// Only safe while no worker is running against this state directory.
func (s *Store) ClearInProgress() ([]string, error) {
	var cleared []string
	err := s.files.Update(s.inProgressPath, func(ids []string) ([]string, error) {
		cleared = NewSet(ids...).Slice()
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("clear in-progress: %w", err)
	}
	return cleared, nil
}

// Snapshot is a point-in-time view of the shared state.
type Snapshot struct {
	Processed  []string `json:"processed"`
	InProgress []string `json:"in_progress"`
	Available  []string `json:"available,omitempty"`
}

// Snapshot loads both sets. When backlog is non-empty the available jobs are
// computed against it.
func (s *Store) Snapshot(backlog []string) (Snapshot, error) {
	processed, err := s.LoadProcessed()
	if err != nil {
		return Snapshot{}, err
	}
	inProgress, err := s.LoadInProgress()
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Processed: processed.Slice(), InProgress: inProgress.Slice()}
	if len(backlog) > 0 {
		snap.Available = Available(backlog, processed, inProgress)
	}
	return snap, nil
}
