package chunkstore

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/tabula/core/upload"
)

func newStore(t *testing.T) *FS {
	t.Helper()
	dir, err := ioutil.TempDir("", "chunks")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return New(dir)
}

func TestFS_Path(t *testing.T) {
	s := New("/data/chunks")
	assert.Equal(t, filepath.FromSlash("/data/chunks/42/chunk_000007"), s.Path(42, 7))
	assert.Equal(t, filepath.FromSlash("/data/chunks/42/chunk_123456"), s.Path(42, 123456))
}

func TestFS_SaveIsIdempotent(t *testing.T) {
	s := newStore(t)

	written, err := s.Save(1, 0, strings.NewReader("first"))
	require.NoError(t, err)
	assert.True(t, written)

	written, err = s.Save(1, 0, strings.NewReader("second"))
	require.NoError(t, err)
	assert.False(t, written)

	content, err := ioutil.ReadFile(s.Path(1, 0))
	require.NoError(t, err)
	assert.Equal(t, "first", string(content))

	entries, err := ioutil.ReadDir(s.dir(1))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFS_Verify(t *testing.T) {
	s := newStore(t)
	for _, i := range []int{0, 2} {
		_, err := s.Save(3, i, strings.NewReader("x"))
		require.NoError(t, err)
	}

	err := s.Verify(3, 3)
	require.Error(t, err)
	missing, ok := err.(*upload.MissingChunkError)
	require.True(t, ok)
	assert.Equal(t, 1, missing.Index)

	_, err = s.Save(3, 1, strings.NewReader("x"))
	require.NoError(t, err)
	assert.NoError(t, s.Verify(3, 3))
}

func TestFS_ReadAndDeleteInOrder(t *testing.T) {
	s := newStore(t)
	for _, i := range []int{2, 0, 1} {
		_, err := s.Save(9, i, strings.NewReader(string(rune('a'+i))))
		require.NoError(t, err)
	}

	var (
		order []int
		buf   bytes.Buffer
	)
	err := s.ReadAndDeleteInOrder(9, 3, func(index int, r io.Reader) error {
		order = append(order, index)
		_, err := io.Copy(&buf, r)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, order)
	assert.Equal(t, "abc", buf.String())

	_, err = os.Stat(s.dir(9))
	assert.True(t, os.IsNotExist(err), "session dir should be removed")
}

func TestFS_ReadAndDeleteInOrder_MissingChunk(t *testing.T) {
	s := newStore(t)
	_, err := s.Save(5, 0, strings.NewReader("a"))
	require.NoError(t, err)

	err = s.ReadAndDeleteInOrder(5, 2, func(int, io.Reader) error { return nil })
	require.Error(t, err)
	assert.True(t, upload.IsMissingChunk(err))
}

func TestFS_Discard(t *testing.T) {
	s := newStore(t)
	for _, i := range []int{0, 1} {
		_, err := s.Save(4, i, strings.NewReader("x"))
		require.NoError(t, err)
	}

	require.NoError(t, s.Discard(4, 0))
	_, err := os.Stat(s.Path(4, 0))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(s.dir(4))
	assert.NoError(t, err, "directory kept while chunks remain")

	require.NoError(t, s.Discard(4, 1))
	_, err = os.Stat(s.dir(4))
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, s.Discard(4, 1), "discarding a missing chunk is a no-op")
}

func TestFS_SaveStorageError(t *testing.T) {
	root := newStore(t).root
	blocker := filepath.Join(root, "file")
	require.NoError(t, ioutil.WriteFile(blocker, []byte("x"), 0o644))

	_, err := New(blocker).Save(1, 0, strings.NewReader("x"))
	require.Error(t, err)
	assert.True(t, upload.IsStorageError(err))
	assert.False(t, upload.IsMissingChunk(err))
}
