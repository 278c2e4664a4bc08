package local

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lexhaven/regtruth/internal/storage"
)

func TestPutAndGetRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	content := []byte("<html><body>Article 1</body></html>")
	hash := storage.HashContent(content)

	uri, err := store.Put(context.Background(), hash, "text/html", bytes.NewReader(content))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uri, "file://"))
	require.Contains(t, uri, hash)

	got, err := store.Get(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestPutSameHashTwiceKeepsFirstWrite(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	content := []byte("immutable bytes")
	hash := storage.HashContent(content)

	uri1, err := store.Put(context.Background(), hash, "", bytes.NewReader(content))
	require.NoError(t, err)
	uri2, err := store.Put(context.Background(), hash, "", bytes.NewReader([]byte("other")))
	require.NoError(t, err)
	require.Equal(t, uri1, uri2)

	got, err := store.Get(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestPutShardsByHashPrefix(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	content := []byte("sharded")
	hash := storage.HashContent(content)

	_, err = store.Put(context.Background(), hash, "", bytes.NewReader(content))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "artifacts", hash[:2], hash))
	require.NoError(t, err)
}

func TestGetUnknownHashFails(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.Get(context.Background(), storage.HashContent([]byte("never stored")))
	require.Error(t, err)
}

func TestRejectsShortHash(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "ab", "", bytes.NewReader(nil))
	require.Error(t, err)
}

func TestRejectsMissingBaseDirConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}
