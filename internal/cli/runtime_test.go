package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finlearnhub/supportdesk/internal/checkpoint"
	"github.com/finlearnhub/supportdesk/internal/config"
	"github.com/finlearnhub/supportdesk/internal/storage"
)

func TestOpenCheckpoints(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "cli.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cases := []struct {
		backend string
		want    any
	}{
		{checkpoint.BackendMemory, &checkpoint.MemoryStore{}},
		{checkpoint.BackendSQLite, &checkpoint.SQLStore{}},
		{checkpoint.BackendRedis, &checkpoint.RedisStore{}},
	}
	for _, tc := range cases {
		t.Run(tc.backend, func(t *testing.T) {
			cc := config.CheckpointConfig{Backend: tc.backend, Redis: checkpoint.RedisConfig{Addr: mr.Addr()}}
			s, closeFn, err := openCheckpoints(ctx, cc, store)
			require.NoError(t, err)
			defer closeFn()
			assert.IsType(t, tc.want, s)

			require.NoError(t, s.Put(ctx, &checkpoint.Record{SessionID: "s1", Status: "completed", Payload: []byte(`{}`)}))
			_, ok, err := s.Get(ctx, "s1")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}

	_, closeFn, err := openCheckpoints(ctx, config.CheckpointConfig{Backend: "etcd"}, store)
	assert.Error(t, err)
	assert.NoError(t, closeFn())
}

func TestExpandDocuments(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.md", "b.txt", "c.pdf", ".hidden.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))
	single := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(single, []byte("x"), 0o644))

	files, err := expandDocuments([]string{dir, single})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.md"), filepath.Join(dir, "b.txt"), single}, files)

	_, err = expandDocuments([]string{filepath.Join(dir, "missing.md")})
	assert.Error(t, err)
}
