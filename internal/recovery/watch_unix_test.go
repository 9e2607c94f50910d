//go:build unix

package recovery

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcode-fleet/internal/lockfile"
	"transcode-fleet/internal/state"
)

func TestWatchReleasesOnRealSignal(t *testing.T) {
	st := state.New(lockfile.Default(nil), state.Options{Dir: t.TempDir()}, nil)
	claim, err := st.AcquireNext(context.Background(), []string{"lesson.mp4"}, 0)
	require.NoError(t, err)
	require.True(t, claim.OK)

	var slot Slot
	require.NoError(t, slot.Hold(claim.ID))

	released := make(chan os.Signal, 1)
	h := NewHandler(&slot, st, nil)
	h.OnRelease = func(sig os.Signal) { released <- sig }

	stop := Watch(context.Background(), h)
	defer stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case sig := <-released:
		assert.Equal(t, syscall.SIGTERM, sig)
	case <-time.After(5 * time.Second):
		t.Fatal("signal was not handled")
	}
	assert.True(t, h.Fired())

	inProgress, err := st.LoadInProgress()
	require.NoError(t, err)
	assert.False(t, inProgress.Has("lesson.mp4"))
}
