package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lexhaven/regtruth/internal/storage"
)

func TestPutAndGet(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	content := []byte("raw artifact")
	hash := storage.HashContent(content)

	uri, err := store.Put(context.Background(), hash, "text/plain", bytes.NewReader(content))
	require.NoError(t, err)
	require.Contains(t, uri, "memory://artifacts/")

	got, err := store.Get(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestPutIsImmutablePerHash(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	content := []byte("first")
	hash := storage.HashContent(content)

	_, err := store.Put(context.Background(), hash, "", bytes.NewReader(content))
	require.NoError(t, err)
	_, err = store.Put(context.Background(), hash, "", bytes.NewReader([]byte("second")))
	require.NoError(t, err)

	got, err := store.Get(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, content, got)
	require.Equal(t, 1, store.Len())
}

func TestGetUnknownHash(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.Get(context.Background(), storage.HashContent([]byte("missing")))
	require.Error(t, err)
}
