package sync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/cmissync/internal/cmis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t *testing.T) (*SyncDatabase, *PathMapper) {
	t.Helper()
	root := t.TempDir()
	paths := NewPathMapper(root, "/sync")
	sdb := NewSyncDatabase(filepath.Join(t.TempDir(), "data", "mapping.db"), paths)
	require.NoError(t, sdb.Open())
	t.Cleanup(func() { sdb.Close() })
	return sdb, paths
}

func writeLocal(t *testing.T, paths *PathMapper, key, content string) string {
	t.Helper()
	p := paths.Denormalize(key)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func utcTime(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	t = t.UTC()
	return &t
}

func TestSyncDatabase_AddFile(t *testing.T) {
	sdb, paths := newTestDatabase(t)
	abs := writeLocal(t, paths, "docs/a.txt", "hello")
	modTime := utcTime("2024-03-01T10:00:00Z")

	meta := Metadata{
		cmis.PropName: {DisplayName: "Name", Updatability: cmis.UpdatabilityReadWrite, Values: []string{"a.txt"}},
	}
	require.NoError(t, sdb.AddFile(abs, "obj-1", modTime, meta))

	// absolute and relative forms address the same row
	ok, err := sdb.ContainsFile("docs/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = sdb.ContainsFile(abs)
	require.NoError(t, err)
	assert.True(t, ok)

	f, err := sdb.GetFile(abs)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "docs/a.txt", f.Path)
	assert.Equal(t, "obj-1", f.ObjectID)
	assert.Equal(t, "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", f.Checksum)
	assert.True(t, modTime.Equal(*f.ServerModTime))
	assert.Equal(t, meta, f.Metadata)

	got, err := sdb.GetServerSideModificationDate("docs/a.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, modTime.Equal(*got))
	assert.Equal(t, time.UTC, got.Location())
}

func TestSyncDatabase_AddFileVanished(t *testing.T) {
	sdb, _ := newTestDatabase(t)

	require.NoError(t, sdb.AddFile("gone.txt", "obj-1", utcTime("2024-03-01T10:00:00Z"), nil))

	ok, err := sdb.ContainsFile("gone.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncDatabase_AddFileUnreadable(t *testing.T) {
	sdb, paths := newTestDatabase(t)

	// a directory where the file should be cannot be read
	require.NoError(t, os.MkdirAll(paths.Denormalize("a.txt"), 0o755))

	err := sdb.AddFile("a.txt", "obj-1", utcTime("2024-03-01T10:00:00Z"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to checksum a.txt")

	ok, err := sdb.ContainsFile("a.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncDatabase_NotTracked(t *testing.T) {
	sdb, _ := newTestDatabase(t)

	f, err := sdb.GetFile("nope.txt")
	require.NoError(t, err)
	assert.Nil(t, f)

	folder, err := sdb.GetFolder("nope")
	require.NoError(t, err)
	assert.Nil(t, folder)

	modTime, err := sdb.GetServerSideModificationDate("nope.txt")
	require.NoError(t, err)
	assert.Nil(t, modTime)

	obj, err := sdb.GetPathByObjectID("obj-404")
	require.NoError(t, err)
	assert.Nil(t, obj)
}

func TestSyncDatabase_RemoveFolderCascades(t *testing.T) {
	sdb, paths := newTestDatabase(t)
	modTime := utcTime("2024-03-01T10:00:00Z")

	require.NoError(t, sdb.AddFolder("a", "f-a", modTime))
	require.NoError(t, sdb.AddFolder("a/b", "f-ab", modTime))
	require.NoError(t, sdb.AddFolder("ab", "f-ab2", modTime))
	for _, key := range []string{"a/x.txt", "a/b/y.txt", "ab/z.txt", "top.txt"} {
		writeLocal(t, paths, key, key)
		require.NoError(t, sdb.AddFile(key, "id-"+key, modTime, nil))
	}

	require.NoError(t, sdb.RemoveFolder(paths.Denormalize("a")))

	for _, key := range []string{"a/x.txt", "a/b/y.txt"} {
		ok, err := sdb.ContainsFile(key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}
	for _, key := range []string{"ab/z.txt", "top.txt"} {
		ok, err := sdb.ContainsFile(key)
		require.NoError(t, err)
		assert.True(t, ok, key)
	}

	ok, err := sdb.ContainsFolder("a/b")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = sdb.ContainsFolder("ab")
	require.NoError(t, err)
	assert.True(t, ok, "sibling with a shared name prefix must survive")

	files, folders, err := sdb.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, files)
	assert.Equal(t, 1, folders)
}

func TestSyncDatabase_ChecksumDeterminism(t *testing.T) {
	sdb, paths := newTestDatabase(t)
	abs := writeLocal(t, paths, "a.txt", "same content")
	require.NoError(t, sdb.AddFile(abs, "obj-1", utcTime("2024-03-01T10:00:00Z"), nil))

	first, err := sdb.GetFile(abs)
	require.NoError(t, err)

	require.NoError(t, sdb.RecalculateChecksum(abs))
	second, err := sdb.GetFile(abs)
	require.NoError(t, err)
	assert.Equal(t, first.Checksum, second.Checksum)
	assert.False(t, sdb.LocalFileHasChanged(abs))

	// rewriting the same bytes is not a change
	writeLocal(t, paths, "a.txt", "same content")
	assert.False(t, sdb.LocalFileHasChanged(abs))
}

func TestSyncDatabase_LocalFileHasChanged(t *testing.T) {
	sdb, paths := newTestDatabase(t)
	abs := writeLocal(t, paths, "a.txt", "v1")
	require.NoError(t, sdb.AddFile(abs, "obj-1", utcTime("2024-03-01T10:00:00Z"), nil))

	assert.False(t, sdb.LocalFileHasChanged(abs))

	writeLocal(t, paths, "a.txt", "v2")
	assert.True(t, sdb.LocalFileHasChanged(abs))

	require.NoError(t, sdb.RecalculateChecksum(abs))
	assert.False(t, sdb.LocalFileHasChanged(abs))

	require.NoError(t, os.Remove(abs))
	assert.True(t, sdb.LocalFileHasChanged(abs), "unreadable file counts as changed")

	writeLocal(t, paths, "untracked.txt", "x")
	assert.True(t, sdb.LocalFileHasChanged("untracked.txt"), "no stored checksum counts as changed")
}

func TestSyncDatabase_SetServerSideModificationDate(t *testing.T) {
	sdb, paths := newTestDatabase(t)
	writeLocal(t, paths, "a.txt", "v1")
	require.NoError(t, sdb.AddFile("a.txt", "obj-1", utcTime("2024-03-01T10:00:00Z"), nil))

	later := utcTime("2024-03-02T10:00:00Z")
	require.NoError(t, sdb.SetFileServerSideModificationDate("a.txt", later))
	got, err := sdb.GetServerSideModificationDate("a.txt")
	require.NoError(t, err)
	assert.True(t, later.Equal(*got))

	local := later.In(time.FixedZone("CET", 3600))
	err = sdb.SetFileServerSideModificationDate("a.txt", &local)
	assert.ErrorIs(t, err, ErrNotUTC)
}

func TestSyncDatabase_ChangeLogToken(t *testing.T) {
	sdb, _ := newTestDatabase(t)

	token, err := sdb.GetChangeLogToken()
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, sdb.SetChangeLogToken("12"))
	require.NoError(t, sdb.SetChangeLogToken("15"))
	token, err = sdb.GetChangeLogToken()
	require.NoError(t, err)
	assert.Equal(t, "15", token)
}

func TestSyncDatabase_GetPathByObjectID(t *testing.T) {
	sdb, paths := newTestDatabase(t)
	modTime := utcTime("2024-03-01T10:00:00Z")
	writeLocal(t, paths, "d/a.txt", "x")
	require.NoError(t, sdb.AddFile("d/a.txt", "obj-file", modTime, nil))
	require.NoError(t, sdb.AddFolder("d", "obj-folder", modTime))

	obj, err := sdb.GetPathByObjectID("obj-file")
	require.NoError(t, err)
	assert.Equal(t, &TrackedObject{Path: "d/a.txt"}, obj)

	obj, err = sdb.GetPathByObjectID("obj-folder")
	require.NoError(t, err)
	assert.Equal(t, &TrackedObject{Path: "d", Folder: true}, obj)

	files, err := sdb.FilesUnder("d")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "d/a.txt", files[0].Path)
}

func TestSyncDatabase_PersistsAcrossReopen(t *testing.T) {
	root := t.TempDir()
	paths := NewPathMapper(root, "/")
	dbPath := filepath.Join(t.TempDir(), "m.db")

	sdb := NewSyncDatabase(dbPath, paths)
	require.NoError(t, sdb.Open())
	assert.ErrorIs(t, sdb.Open(), ErrDatabaseAlreadyOpen)
	require.NoError(t, sdb.AddFolder("x", "obj-x", utcTime("2024-03-01T10:00:00Z")))
	require.NoError(t, sdb.SetChangeLogToken("7"))
	require.NoError(t, sdb.Close())
	assert.ErrorIs(t, sdb.Close(), ErrDatabaseNotOpen)

	require.NoError(t, sdb.Open())
	defer sdb.Close()
	ok, err := sdb.ContainsFolder("x")
	require.NoError(t, err)
	assert.True(t, ok)
	token, err := sdb.GetChangeLogToken()
	require.NoError(t, err)
	assert.Equal(t, "7", token)
}

func TestSyncDatabase_Destroy(t *testing.T) {
	paths := NewPathMapper(t.TempDir(), "/")
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "m.db")

	sdb := NewSyncDatabase(dbPath, paths)
	require.NoError(t, sdb.Open())
	require.NoError(t, sdb.Destroy())

	assert.NoFileExists(t, dbPath)
	matches, err := filepath.Glob(filepath.Join(dir, "m.db.*.bak"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
