package recovery

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcode-fleet/internal/lockfile"
	"transcode-fleet/internal/state"
)

type failingReleaser struct{ calls int }

func (f *failingReleaser) MarkFailed(string) error {
	f.calls++
	return errors.New("storage unavailable")
}

func TestSlotAllowsOneClaim(t *testing.T) {
	var s Slot
	require.NoError(t, s.Hold("a"))
	err := s.Hold("b")
	assert.ErrorIs(t, err, ErrClaimHeld)

	id, ok := s.Current()
	assert.True(t, ok)
	assert.Equal(t, "a", id)

	id, ok = s.Take()
	assert.True(t, ok)
	assert.Equal(t, "a", id)

	_, ok = s.Take()
	assert.False(t, ok)
	require.NoError(t, s.Hold("b"))
}

func TestCrashThenResume(t *testing.T) {
	st := state.New(lockfile.Default(nil), state.Options{Dir: t.TempDir()}, nil)
	ctx := context.Background()

	claim, err := st.AcquireNext(ctx, []string{"lesson.mp4"}, 0)
	require.NoError(t, err)
	require.True(t, claim.OK)

	var slot Slot
	require.NoError(t, slot.Hold(claim.ID))

	var shutdownSig os.Signal
	h := NewHandler(&slot, st, nil)
	h.OnRelease = func(sig os.Signal) { shutdownSig = sig }

	signals := make(chan os.Signal, 1)
	signals <- syscall.SIGTERM
	h.Run(ctx, signals)

	assert.True(t, h.Fired())
	assert.Equal(t, syscall.SIGTERM, shutdownSig)

	inProgress, err := st.LoadInProgress()
	require.NoError(t, err)
	assert.False(t, inProgress.Has("lesson.mp4"))

	again, err := st.AcquireNext(ctx, []string{"lesson.mp4"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "lesson.mp4", again.ID)
}

func TestHandleRunsOnce(t *testing.T) {
	var slot Slot
	rel := &failingReleaser{}
	require.NoError(t, slot.Hold("a"))

	calls := 0
	h := NewHandler(&slot, rel, nil)
	h.OnRelease = func(os.Signal) { calls++ }

	h.Handle(os.Interrupt)
	h.Handle(syscall.SIGTERM)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, rel.calls)
}

func TestReleaseWithEmptySlot(t *testing.T) {
	rel := &failingReleaser{}
	h := NewHandler(&Slot{}, rel, nil)

	id, ok, err := h.Release()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, id)
	assert.Zero(t, rel.calls)
}

func TestReleaseFailureIsReported(t *testing.T) {
	var slot Slot
	require.NoError(t, slot.Hold("a"))
	h := NewHandler(&slot, &failingReleaser{}, nil)

	id, ok, err := h.Release()
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, "a", id)
}

func TestRunReturnsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := NewHandler(&Slot{}, &failingReleaser{}, nil)
	h.Run(ctx, make(chan os.Signal))
	assert.False(t, h.Fired())
}
