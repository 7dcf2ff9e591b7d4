package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFS(t *testing.T) *FilesystemStore {
	t.Helper()
	s := NewFilesystemStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, s.EnsureReady(context.Background()))
	return s
}

func TestArchiveKey(t *testing.T) {
	key := ArchiveKey("alpha", "1.0.0", "deadbeef")
	assert.Equal(t, "alpha/1.0.0-deadbeef.tar.gz", key)
}

func TestFilesystemPutGetDelete(t *testing.T) {
	s := newTestFS(t)
	ctx := context.Background()
	key := ArchiveKey("alpha", "1.0.0", "deadbeef")

	require.NoError(t, s.PutArchive(ctx, key, []byte("archive bytes")))

	got, err := s.GetArchive(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("archive bytes"), got)

	// Overwrite is permitted.
	require.NoError(t, s.PutArchive(ctx, key, []byte("archive bytes")))

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.GetArchive(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent key is not an error.
	assert.NoError(t, s.Delete(ctx, key))
}

func TestFilesystemGetMissing(t *testing.T) {
	s := newTestFS(t)
	_, err := s.GetArchive(context.Background(), ArchiveKey("ghost", "0.0.1", "00"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemRejectsTraversal(t *testing.T) {
	s := newTestFS(t)
	ctx := context.Background()

	for _, key := range []string{"../escape.tar.gz", "a/../../escape", "/etc/passwd", "."} {
		assert.Error(t, s.PutArchive(ctx, key, []byte("x")), "key %q", key)
		_, err := s.GetArchive(ctx, key)
		assert.Error(t, err, "key %q", key)
	}
}

func TestFilesystemNoPartialWritesVisible(t *testing.T) {
	s := newTestFS(t)
	ctx := context.Background()
	key := ArchiveKey("alpha", "1.0.0", "deadbeef")
	require.NoError(t, s.PutArchive(ctx, key, []byte("bytes")))

	// No temp files left behind next to the blob.
	entries, err := os.ReadDir(filepath.Join(s.root, "alpha"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1.0.0-deadbeef.tar.gz", entries[0].Name())
}

func TestEnsureReadyIdempotent(t *testing.T) {
	s := newTestFS(t)
	assert.NoError(t, s.EnsureReady(context.Background()))
}
