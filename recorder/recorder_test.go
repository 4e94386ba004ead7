package recorder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWriteAndLoadRoundTrip(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)

	meta := Metadata{FileSize: 1 << 20, ModTime: 1700000000, BlockSize: 4 << 20, Key: "video.mp4", UpToken: "tok"}
	sess, err := r.OpenAndWriteMetadata("/data/video.mp4", "video.mp4", meta)
	require.NoError(t, err)

	require.NoError(t, sess.Append(BlockItem{PartNumber: 1, Offset: 0, Size: 4 << 20, Etag: "etag1"}))
	require.NoError(t, sess.Append(BlockItem{PartNumber: 2, Offset: 4 << 20, Size: 4 << 20, Etag: "etag2"}))
	require.NoError(t, sess.Close())

	loaded, blocks, ok := r.Load("/data/video.mp4", "video.mp4")
	require.True(t, ok)
	assert.Equal(t, meta, loaded)
	require.Len(t, blocks, 2)
	assert.Equal(t, "etag1", blocks[0].Etag)
	assert.Equal(t, "etag2", blocks[1].Etag)
}

func TestLoadMissingReturnsNotOK(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)
	_, _, ok := r.Load("/nowhere", "key")
	assert.False(t, ok)
}

func TestLoadDropsTruncatedFinalLine(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir)
	require.NoError(t, err)

	meta := Metadata{FileSize: 10, Key: "k"}
	sess, err := r.OpenAndWriteMetadata("/f", "k", meta)
	require.NoError(t, err)
	require.NoError(t, sess.Append(BlockItem{PartNumber: 1, Etag: "complete"}))
	require.NoError(t, sess.Close())

	// Simulate a crash mid-append: truncated JSON on the final line.
	path := filepath.Join(dir, identity("/f", "k")+".record")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"partNumber":2,"et`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	loaded, blocks, ok := r.Load("/f", "k")
	require.True(t, ok)
	assert.Equal(t, meta, loaded)
	require.Len(t, blocks, 1)
	assert.Equal(t, "complete", blocks[0].Etag)
}

func TestDropRemovesFile(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)
	sess, err := r.OpenAndWriteMetadata("/f", "k", Metadata{})
	require.NoError(t, err)
	require.NoError(t, sess.Close())

	require.NoError(t, r.Drop("/f", "k"))
	_, _, ok := r.Load("/f", "k")
	assert.False(t, ok)

	assert.NoError(t, r.Drop("/f", "k"), "dropping an already-gone record is not an error")
}
