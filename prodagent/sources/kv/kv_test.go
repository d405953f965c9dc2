package kv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodagent/prodagent/utils/apperr"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, found, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "a", "1"))
	v, found, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "1", v)
}

func TestNamespacedIsolatesPrefixes(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	a := Namespaced(inner, "device-a")
	b := Namespaced(inner, "device-b")

	require.NoError(t, a.Set(ctx, "product", "x"))
	_, found, err := b.Get(ctx, "product")
	require.NoError(t, err)
	assert.False(t, found)

	v, _, _ := inner.Get(ctx, "device-a:product")
	assert.Equal(t, "x", v)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "sessions.yaml")

	require.NoError(t, NewFileStore(path).Set(ctx, "CM-FF-360-BLACK", "sid-1"))

	v, found, err := NewFileStore(path).Get(ctx, "CM-FF-360-BLACK")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "sid-1", v)
}

func TestFileStoreCorruptFileIsPersistenceError(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- a\n- b\n"), 0o600))

	_, _, err := NewFileStore(path).Get(ctx, "k")
	assert.Equal(t, apperr.KindPersistenceUnavailable, apperr.KindOf(err))
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("PRODAGENT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PRODAGENT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := NewRedisClient(addr, os.Getenv("PRODAGENT_TEST_REDIS_PASSWORD"), 1)
	defer client.Close()
	s := NewRedisStore(client)

	key := "test:" + t.Name()
	require.NoError(t, s.Set(ctx, key, "v"))
	v, found, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", v)
	client.Del(ctx, "prodagent:session:"+key)
}
