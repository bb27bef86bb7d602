package sync

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEnabledChanges(t *testing.T) (*FileSystemChanges, string) {
	t.Helper()
	root := t.TempDir()
	c := NewFileSystemChanges(root, nil)
	c.SetEnabled(true)
	c.Reset()
	return c, root
}

func TestFileSystemChanges_DisabledDropsEvents(t *testing.T) {
	root := t.TempDir()
	c := NewFileSystemChanges(root, nil)

	c.OnCreated(filepath.Join(root, "1.txt"))
	assert.Equal(t, 0, c.Len())

	c.SetEnabled(true)
	c.OnCreated(filepath.Join(root, "2.txt"))
	c.OnCreated(filepath.Join(root, "3.txt"))
	assert.Equal(t, []string{filepath.Join(root, "2.txt"), filepath.Join(root, "3.txt")}, c.ChangeList())

	c.SetEnabled(false)
	c.OnCreated(filepath.Join(root, "4.txt"))
	assert.Equal(t, 2, c.Len(), "disabling keeps the list but drops new events")

	c.SetEnabled(true)
	c.OnCreated(filepath.Join(root, "5.txt"))
	list := c.ChangeList()
	require.Len(t, list, 3)
	assert.Equal(t, filepath.Join(root, "5.txt"), list[2])
}

func TestFileSystemChanges_ContinuouslyEnabled(t *testing.T) {
	root := t.TempDir()
	c := NewFileSystemChanges(root, nil)
	assert.False(t, c.ContinuouslyEnabled(), "never enabled")

	c.SetEnabled(true)
	assert.False(t, c.ContinuouslyEnabled(), "enabled but not reset")

	c.Reset()
	assert.True(t, c.ContinuouslyEnabled())

	c.SetEnabled(false)
	c.SetEnabled(true)
	assert.False(t, c.ContinuouslyEnabled(), "a disabled period is an interruption")

	c.Reset()
	assert.True(t, c.ContinuouslyEnabled())

	c.OnError(errors.New("queue overflow"))
	assert.False(t, c.ContinuouslyEnabled(), "watcher errors are an interruption")
}

func TestFileSystemChanges_CreatedThenChanged(t *testing.T) {
	c, root := newEnabledChanges(t)

	var names []string
	for _, n := range []string{"a", "b", "c"} {
		p := filepath.Join(root, n)
		names = append(names, p)
		c.OnCreated(p)
	}
	for _, p := range names {
		c.OnChanged(p)
	}

	assert.Equal(t, names, c.ChangeList(), "changing every file in order keeps the order")
	for _, p := range names {
		assert.Equal(t, ChangeChanged, c.GetChangeType(p))
	}
}

func TestFileSystemChanges_SupersedeMovesToEnd(t *testing.T) {
	c, root := newEnabledChanges(t)
	a := filepath.Join(root, "a")
	b := filepath.Join(root, "b")

	c.OnCreated(a)
	c.OnCreated(b)
	c.OnDeleted(a)

	assert.Equal(t, []FileChange{
		{Path: b, Type: ChangeCreated},
		{Path: a, Type: ChangeDeleted},
	}, c.Changes())

	c.OnCreated(a)
	assert.Equal(t, ChangeCreated, c.GetChangeType(a))
	assert.Equal(t, 2, c.Len())
}

func TestFileSystemChanges_InvalidTransition(t *testing.T) {
	c, root := newEnabledChanges(t)
	a := filepath.Join(root, "a")
	c.OnDeleted(a)

	if invariantsPanic {
		assert.Panics(t, func() { c.OnChanged(a) })
		return
	}

	c.OnChanged(a)
	assert.Equal(t, ChangeChanged, c.GetChangeType(a), "the new event is applied after logging")
	assert.Equal(t, 1, c.Len())
}

func TestFileSystemChanges_OutsideRoot(t *testing.T) {
	c, _ := newEnabledChanges(t)
	outside := filepath.Join(t.TempDir(), "x")

	if invariantsPanic {
		assert.Panics(t, func() { c.OnCreated(outside) })
		return
	}
	c.OnCreated(outside)
	assert.Equal(t, 0, c.Len())
}

func TestFileSystemChanges_Rename(t *testing.T) {
	c, root := newEnabledChanges(t)
	outside := filepath.Join(filepath.Dir(root), "elsewhere.txt")
	a := filepath.Join(root, "a.txt")
	b := filepath.Join(root, "b.txt")

	c.OnRenamed(a, b)
	assert.Equal(t, []FileChange{
		{Path: a, Type: ChangeDeleted},
		{Path: b, Type: ChangeCreated},
	}, c.Changes())

	c.RemoveAll()
	c.OnRenamed(outside, a)
	assert.Equal(t, []FileChange{{Path: a, Type: ChangeCreated}}, c.Changes(), "old name outside the root is not recorded")

	c.RemoveAll()
	c.OnRenamed(b, outside)
	assert.Equal(t, []FileChange{{Path: b, Type: ChangeDeleted}}, c.Changes(), "new name outside the root is not recorded")

	c.RemoveAll()
	c.OnRenamed(outside, outside+"2")
	assert.Equal(t, 0, c.Len())
}

func TestFileSystemChanges_RemoveChange(t *testing.T) {
	c, root := newEnabledChanges(t)
	a := filepath.Join(root, "a")
	b := filepath.Join(root, "b")
	c.OnCreated(a)
	c.OnCreated(b)

	assert.False(t, c.RemoveChange(a, ChangeChanged), "type no longer matches")
	assert.Equal(t, ChangeCreated, c.GetChangeType(a))

	assert.True(t, c.RemoveChange(a, ChangeCreated))
	assert.Equal(t, ChangeNone, c.GetChangeType(a))
	assert.Equal(t, []string{b}, c.ChangeList())

	assert.False(t, c.RemoveChange(a, ChangeCreated))

	c.RemoveAll()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, ChangeNone, c.GetChangeType(b))
}

func TestFileSystemChanges_SnapshotIsCopy(t *testing.T) {
	c, root := newEnabledChanges(t)
	c.OnCreated(filepath.Join(root, "a"))

	snapshot := c.Changes()
	c.OnCreated(filepath.Join(root, "b"))
	assert.Len(t, snapshot, 1)

	list := c.ChangeList()
	list[0] = "mutated"
	assert.Equal(t, filepath.Join(root, "a"), c.ChangeList()[0])
}

func testBackendDetects(t *testing.T, backendName string) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	backend, err := NewWatcherBackend(backendName)
	require.NoError(t, err)
	c := NewFileSystemChanges(root, backend)
	require.NoError(t, c.Start(t.Context()))
	defer c.Stop()

	c.SetEnabled(true)
	c.Reset()

	path := filepath.Join(root, "test.txt")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		return c.GetChangeType(path) != ChangeNone
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	require.Eventually(t, func() bool {
		return c.GetChangeType(path) == ChangeChanged
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		return c.GetChangeType(path) == ChangeDeleted
	}, 2*time.Second, 10*time.Millisecond)

	// new subdirectories are watched too
	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.Eventually(t, func() bool {
		return c.GetChangeType(sub) == ChangeCreated
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	nested := filepath.Join(sub, "nested.txt")
	require.NoError(t, os.WriteFile(nested, []byte("x"), 0o644))
	require.Eventually(t, func() bool {
		return c.GetChangeType(nested) != ChangeNone
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileSystemChanges_FsnotifyBackend(t *testing.T) {
	testBackendDetects(t, BackendFsnotify)
}

func TestFileSystemChanges_NotifyBackend(t *testing.T) {
	testBackendDetects(t, BackendNotify)
}

func TestNewWatcherBackend_Unknown(t *testing.T) {
	_, err := NewWatcherBackend("inotify-ng")
	assert.Error(t, err)
}

func TestWatcherBackend_StartMissingDir(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	assert.ErrorIs(t, NewFsnotifyWatcher().Start(t.Context(), missing, nil), ErrDirNotExist)
	assert.ErrorIs(t, NewNotifyWatcher().Start(t.Context(), missing, nil), ErrDirNotExist)
}
