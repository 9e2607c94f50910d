package lockfile

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s := Default(nil)
	ids, err := s.Load(filepath.Join(t.TempDir(), "processed.json"))
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.NotNil(t, ids)
}

func TestLoadCorruptFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not": "a list"`), 0o644))

	ids, err := Default(nil).Load(path)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "in_progress.json")
	s := Default(nil)

	require.NoError(t, s.Save(path, []string{"a.mp4", "b.mp4"}))
	ids, err := s.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.mp4", "b.mp4"}, ids)

	require.NoError(t, s.Save(path, nil))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestExclusiveRequiresExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed.json")
	called := false
	err := Default(nil).Exclusive(path, func([]string) error {
		called = true
		return nil
	})
	assert.True(t, errors.Is(err, fs.ErrNotExist), "got %v", err)
	assert.False(t, called)
}

func TestUpdateSerialisesWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter.json")
	s := Default(nil)
	if _, ok := s.Locker().(NoLock); ok {
		t.Skip("advisory locking unavailable")
	}

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Update(path, func(ids []string) ([]string, error) {
				return append(ids, string(rune('a'+i))), nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	ids, err := s.Load(path)
	require.NoError(t, err)
	assert.Len(t, ids, writers)
}

func TestForMode(t *testing.T) {
	s, err := ForMode("none", nil)
	require.NoError(t, err)
	assert.Equal(t, "none", s.Locker().Name())

	_, err = ForMode("bogus", nil)
	assert.Error(t, err)
}
