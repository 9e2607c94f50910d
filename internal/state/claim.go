package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"go.uber.org/zap"

	"transcode-fleet/internal/retry"
	"transcode-fleet/internal/telemetry"
)

// ClaimPolicy bounds the acquisition retry loop.
type ClaimPolicy struct {
	MaxAttempts int
	// Short is the pause after creating a missing Processed file.
	Short retry.Window
	// Long is the pause after any other I/O failure.
	Long retry.Window
}

func DefaultClaimPolicy() ClaimPolicy {
	return ClaimPolicy{
		MaxAttempts: 10,
		Short:       retry.Window{Min: 100 * time.Millisecond, Max: 500 * time.Millisecond},
		Long:        retry.Window{Min: 500 * time.Millisecond, Max: 2 * time.Second},
	}
}

// Claim is the outcome of AcquireNext. OK is false when nothing was available.
type Claim struct {
	ID       string
	OK       bool
	Attempts int
}

// AcquireNext claims the first backlog entry that is neither processed nor in
// progress. The availability check and the In-Progress write happen while the
// Processed file is exclusively locked, so two workers can never claim the same
// job. maxAttempts <= 0 uses the store's policy.
//
// A drained backlog is reported as Claim{OK: false} with a nil error. When every
// attempt fails the error matches retry.ErrExhausted.
func (s *Store) AcquireNext(ctx context.Context, backlog []string, maxAttempts int) (Claim, error) {
	if maxAttempts <= 0 {
		maxAttempts = s.policy.MaxAttempts
	}
	var claim Claim
	err := retry.Do(ctx, maxAttempts, func(ctx context.Context, n int) error {
		claim.Attempts = n
		err := s.tryClaim(backlog, &claim)
		if err == nil {
			return nil
		}
		telemetry.ClaimRetries.Inc()
		if errors.Is(err, fs.ErrNotExist) {
			// Update keeps anything another worker wrote since our read.
			keep := func(ids []string) ([]string, error) { return ids, nil }
			if cerr := s.files.Update(s.processedPath, keep); cerr != nil {
				s.logger.Warn("Failed to create processed file", zap.Error(cerr))
				return retry.After(cerr, s.policy.Long)
			}
			s.logger.Debug("Created processed file", zap.String("path", s.processedPath))
			return retry.After(err, s.policy.Short)
		}
		s.logger.Warn("Claim attempt failed", zap.Int("attempt", n), zap.Int("max_attempts", maxAttempts), zap.Error(err))
		return retry.After(err, s.policy.Long)
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			telemetry.AcquireExhausted.Inc()
		}
		return Claim{Attempts: claim.Attempts}, fmt.Errorf("acquire next job: %w", err)
	}
	if claim.OK {
		telemetry.Claims.Inc()
	}
	return claim, nil
}

func (s *Store) tryClaim(backlog []string, claim *Claim) error {
	return s.files.Exclusive(s.processedPath, func(processedIDs []string) error {
		processed := NewSet(processedIDs...)
		inProgress, err := s.LoadInProgress()
		if err != nil {
			return err
		}
		available := Available(backlog, processed, inProgress)
		if len(available) == 0 {
			claim.ID, claim.OK = "", false
			return nil
		}
		candidate := available[0]
		inProgress.Add(candidate)
		if err := s.SaveInProgress(inProgress); err != nil {
			return err
		}
		claim.ID, claim.OK = candidate, true
		return nil
	})
}
