package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncIgnoreList_Defaults(t *testing.T) {
	ignore := NewSyncIgnoreList(t.TempDir(), nil)
	ignore.Load()

	for _, key := range []string{
		"report.docx.sync",
		"docs/~$report.docx",
		"docs/.~lock.report.odt#",
		"notes.txt~",
		"a/b/.DS_Store",
		"Thumbs.db",
		"x/.main.go.swp",
		"build.tmp",
		".cmissyncignore",
	} {
		assert.False(t, ignore.WorthSyncing(key), key)
	}

	for _, key := range []string{"", "report.docx", "docs/sync.txt", "a/b/c.md", "synced/file"} {
		assert.True(t, ignore.WorthSyncing(key), key)
	}
}

func TestSyncIgnoreList_CustomRules(t *testing.T) {
	baseDir := t.TempDir()
	ignore := NewSyncIgnoreList(baseDir, nil)
	ignore.Load()
	assert.True(t, ignore.WorthSyncing("build/out.bin"))

	custom := []byte(`
build/
*.bak
`)
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, ".cmissyncignore"), custom, 0o644))
	ignore.Load()

	assert.False(t, ignore.WorthSyncing("build/out.bin"))
	assert.False(t, ignore.WorthSyncing("docs/old.bak"))
	assert.False(t, ignore.WorthSyncing("a.sync"), "defaults still apply")
	assert.True(t, ignore.WorthSyncing("docs/new.txt"))
}

func TestSyncIgnoreList_IgnoredRemotePaths(t *testing.T) {
	ignore := NewSyncIgnoreList(t.TempDir(), []string{
		"/Sites/docs/private",
		"/**/.svn",
		"/Sites/docs/*.log",
		"[invalid",
	})

	assert.True(t, ignore.IsPathIgnored("/Sites/docs/private"))
	assert.True(t, ignore.IsPathIgnored("/Sites/docs/private/deep/file.txt"), "descendants of an ignored folder")
	assert.True(t, ignore.IsPathIgnored("/Sites/docs/a/.svn"))
	assert.True(t, ignore.IsPathIgnored("/Sites/docs/build.log"))
	assert.False(t, ignore.IsPathIgnored("/Sites/docs/public/file.txt"))
	assert.False(t, ignore.IsPathIgnored("/Sites/docs/privateer"))
	assert.False(t, ignore.IsPathIgnored("/"))

	none := NewSyncIgnoreList(t.TempDir(), nil)
	assert.False(t, none.IsPathIgnored("/anything"))
}

func TestIsInvalidName(t *testing.T) {
	for _, name := range []string{"", ".", "..", "a/b", "nul\x00byte"} {
		assert.True(t, IsInvalidName(name), "%q", name)
	}
	for _, name := range []string{"a.txt", "folder", "with space", "ünïcode"} {
		assert.False(t, IsInvalidName(name), name)
	}
}
