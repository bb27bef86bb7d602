package sync

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/cmissync/internal/cmis"
	"github.com/openmined/cmissync/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTempFile(t *testing.T) {
	t.Run("successful write", func(t *testing.T) {
		tmpPath := filepath.Join(t.TempDir(), "test.txt.sync")
		content := []byte("Hello, World!")

		var reported []int64
		checksum, written, err := writeTempFile(tmpPath, bytes.NewReader(content), int64(len(content)), func(done int64) {
			reported = append(reported, done)
		})
		require.NoError(t, err)
		assert.Equal(t, int64(len(content)), written)
		assert.Equal(t, utils.BytesChecksum(content), checksum)
		require.NotEmpty(t, reported)
		assert.Equal(t, int64(len(content)), reported[len(reported)-1])

		fileContent, err := os.ReadFile(tmpPath)
		require.NoError(t, err)
		assert.Equal(t, content, fileContent)
	})

	t.Run("size mismatch removes the file", func(t *testing.T) {
		tmpPath := filepath.Join(t.TempDir(), "test.txt.sync")

		_, _, err := writeTempFile(tmpPath, bytes.NewReader([]byte("short")), 100, nil)
		assert.ErrorContains(t, err, "size mismatch")
		assert.NoFileExists(t, tmpPath)
	})

	t.Run("unknown length", func(t *testing.T) {
		tmpPath := filepath.Join(t.TempDir(), "test.txt.sync")

		_, written, err := writeTempFile(tmpPath, bytes.NewReader([]byte("abc")), -1, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(3), written)
	})

	t.Run("parent directory creation", func(t *testing.T) {
		tmpPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.txt.sync")

		_, _, err := writeTempFile(tmpPath, bytes.NewReader([]byte("nested")), -1, nil)
		require.NoError(t, err)
		assert.FileExists(t, tmpPath)
	})

	t.Run("overwrites a leftover temp file", func(t *testing.T) {
		tmpPath := filepath.Join(t.TempDir(), "test.txt.sync")
		require.NoError(t, os.WriteFile(tmpPath, []byte("leftover from a crash"), 0o644))

		_, _, err := writeTempFile(tmpPath, bytes.NewReader([]byte("new")), 3, nil)
		require.NoError(t, err)

		fileContent, err := os.ReadFile(tmpPath)
		require.NoError(t, err)
		assert.Equal(t, "new", string(fileContent))
	})
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "a", joinKey("", "a"))
	assert.Equal(t, "a/b", joinKey("a", "b"))
	assert.Equal(t, "", parentKey("a"))
	assert.Equal(t, "a", parentKey("a/b"))
	assert.Equal(t, "a/b", parentKey("a/b/c.txt"))
}

func TestRemoteNewer(t *testing.T) {
	cached := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tracked := &TrackedFile{ServerModTime: &cached}

	assert.True(t, remoteNewer(&cmis.Object{ModTime: cached.Add(time.Millisecond)}, tracked))
	assert.False(t, remoteNewer(&cmis.Object{ModTime: cached}, tracked))
	assert.False(t, remoteNewer(&cmis.Object{ModTime: cached.Add(-time.Hour)}, tracked))

	// without times the change token decides
	byToken := &TrackedFile{ObjectID: "doc-1", Metadata: Metadata{
		cmis.PropChangeToken: {Values: []string{"tok-1"}},
	}}
	assert.False(t, remoteNewer(&cmis.Object{ID: "doc-1", ChangeToken: "tok-1"}, byToken))
	assert.True(t, remoteNewer(&cmis.Object{ID: "doc-1", ChangeToken: "tok-2"}, byToken))
	assert.False(t, remoteNewer(&cmis.Object{ID: "doc-1", ModTime: cached, ChangeToken: "tok-1"}, byToken), "no cached time")

	// and without a token the object id
	byID := &TrackedFile{ObjectID: "doc-1"}
	assert.False(t, remoteNewer(&cmis.Object{ID: "doc-1"}, byID))
	assert.True(t, remoteNewer(&cmis.Object{ID: "doc-1;2.0"}, byID))

	local := cached.In(time.FixedZone("CEST", 2*60*60))
	require.NotNil(t, serverTime(&cmis.Object{ModTime: local}))
	assert.Equal(t, time.UTC, serverTime(&cmis.Object{ModTime: local}).Location())
	assert.Nil(t, serverTime(&cmis.Object{}))
}
