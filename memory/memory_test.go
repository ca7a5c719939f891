package memory

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minios-linux/gametl/translate"
)

var _ translate.Memory = (*Store)(nil)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "mem", "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_GetPut(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "k", "Hello"))
	got, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Hello", got)

	require.NoError(t, s.Put(ctx, "k", "Hi"))
	got, _, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "Hi", got)

	entries, hits, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, entries)
	assert.Equal(t, 2, hits)
}

func TestStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "k\x00English", "Hello"))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, ok, err := s.Get(ctx, "k\x00English")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Hello", got)
}

func TestStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			assert.NoError(t, s.Put(ctx, key, key))
			_, _, err := s.Get(ctx, key)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	entries, _, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, entries)
}

func TestStore_Prune(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	require.NoError(t, s.Put(ctx, "k", "v"))

	n, err := s.Prune(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.Prune(ctx, -time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDigest_Stable(t *testing.T) {
	assert.Equal(t, digest("x"), digest("x"))
	assert.NotEqual(t, digest("x"), digest("y"))
	assert.Len(t, digest("x"), 64)
}
