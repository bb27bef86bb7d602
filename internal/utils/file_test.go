package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	sum, err := FileChecksum(path)
	require.NoError(t, err)
	assert.Equal(t, "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", sum)
	assert.Equal(t, sum, BytesChecksum([]byte("hello")))

	fromReader, err := ReaderChecksum(strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, sum, fromReader)
}

func TestFileChecksum_Empty(t *testing.T) {
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", BytesChecksum(nil))
}

func TestFileChecksum_Missing(t *testing.T) {
	_, err := FileChecksum(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	dst := filepath.Join(dir, "sub", "dir", "b.txt")
	require.NoError(t, os.WriteFile(src, []byte("content"), 0o644))

	require.NoError(t, CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))

	size, err := FileSize(dst)
	require.NoError(t, err)
	assert.EqualValues(t, 7, size)

	_, err = FileSize(dir)
	assert.Error(t, err)
}
