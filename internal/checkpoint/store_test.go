package checkpoint

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finlearnhub/supportdesk/internal/storage"
)

func newSQLStore(t *testing.T) Store {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{
		Path: filepath.Join(t.TempDir(), "checkpoints.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	s, err := NewSQLStore(st)
	require.NoError(t, err)
	return s
}

func newRedisStore(t *testing.T) (Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s, err := NewRedisStore(context.Background(), RedisConfig{Addr: mr.Addr(), TTL: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestStores_RoundTrip(t *testing.T) {
	redisStore, _ := newRedisStore(t)
	stores := map[string]Store{
		BackendMemory: NewMemoryStore(),
		BackendSQLite: newSQLStore(t),
		BackendRedis:  redisStore,
	}

	for name, s := range stores {
		s := s
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := s.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Put(ctx, &Record{
				SessionID: "thread-1",
				Status:    "suspended",
				Node:      "refundTools",
				Payload:   []byte(`{"session_id":"thread-1"}`),
			}))

			got, ok, err := s.Get(ctx, "thread-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "suspended", got.Status)
			assert.Equal(t, "refundTools", got.Node)
			assert.JSONEq(t, `{"session_id":"thread-1"}`, string(got.Payload))

			require.NoError(t, s.Put(ctx, &Record{SessionID: "thread-1", Status: "completed", Payload: []byte(`{}`)}))
			got, ok, err = s.Get(ctx, "thread-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "completed", got.Status)
			assert.Empty(t, got.Node)

			require.NoError(t, s.Delete(ctx, "thread-1"))
			_, ok, err = s.Get(ctx, "thread-1")
			require.NoError(t, err)
			assert.False(t, ok)

			assert.ErrorIs(t, s.Put(ctx, &Record{SessionID: " "}), ErrInvalidSession)
		})
	}
}

func TestMemoryStore_IsolatesPayload(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	payload := []byte("abc")
	require.NoError(t, s.Put(ctx, &Record{SessionID: "a", Payload: payload}))
	payload[0] = 'X'

	got, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", string(got.Payload))
}

func TestRedisStore_AppliesTTL(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &Record{SessionID: "ttl", Status: "completed", Payload: []byte("{}")}))
	assert.Equal(t, time.Hour, mr.TTL(defaultRedisKeyPrefix+"ttl"))

	mr.FastForward(2 * time.Hour)
	_, ok, err := s.Get(ctx, "ttl")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_SuspendedNeverExpires(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()
	key := defaultRedisKeyPrefix + "wait"

	// 挂起时去掉过期时间，结束后恢复
	require.NoError(t, s.Put(ctx, &Record{SessionID: "wait", Status: "running", Payload: []byte("{}")}))
	require.NoError(t, s.Put(ctx, &Record{SessionID: "wait", Status: StatusSuspended, Node: "refundTools", Payload: []byte("{}")}))
	assert.Zero(t, mr.TTL(key))

	mr.FastForward(48 * time.Hour)
	_, ok, err := s.Get(ctx, "wait")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Put(ctx, &Record{SessionID: "wait", Status: "completed", Payload: []byte("{}")}))
	assert.Equal(t, time.Hour, mr.TTL(key))
}
