package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/cmissync/internal/client/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigJSON = `
{
	"data_dir": "/tmp/cmissync-test-json",
	"interval": "2m",
	"watcher": "notify",
	"user": "shared",
	"folders": [
		{
			"name": "docs",
			"local_path": "/tmp/cmissync-test-json/Documents",
			"remote_path": "/Sites/docs",
			"url": "https://cmis.example.com/browser",
			"ignored_paths": ["/Sites/docs/archive/**"]
		}
	]
}`

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(testConfigJSON), 0o600))
	return path
}

func TestLoadConfigJSON(t *testing.T) {
	tmp := isolate(t)
	os.Unsetenv("CMISSYNC_DATA_DIR")
	path := writeTestConfig(t, tmp)

	root := newTestRoot()
	require.NoError(t, root.PersistentFlags().Set("config", path))

	cfg, err := loadConfig(root)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "/tmp/cmissync-test-json", cfg.DataDir)
	assert.Equal(t, 2*time.Minute, cfg.Interval)
	assert.Equal(t, "notify", cfg.WatcherBackend)
	assert.Equal(t, filepath.Join(tmp, "logs", "cmissync.log"), cfg.LogFile)

	require.Len(t, cfg.Folders, 1)
	f := cfg.Folders[0]
	assert.Equal(t, "docs", f.Name)
	assert.Equal(t, "shared", f.User)
	assert.Equal(t, []string{"/Sites/docs/archive/**"}, f.IgnoredPaths)
}

func TestLoadConfigEnv(t *testing.T) {
	tmp := isolate(t)
	path := writeTestConfig(t, tmp)
	t.Setenv("CMISSYNC_CONFIG_PATH", path)
	t.Setenv("CMISSYNC_DATA_DIR", filepath.Join(tmp, "env-data"))
	t.Setenv("CMISSYNC_INTERVAL", "45s")
	t.Setenv("CMISSYNC_PASSWORD", "from-env")

	cfg, err := loadConfig(newTestRoot())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, filepath.Join(tmp, "env-data"), cfg.DataDir)
	assert.Equal(t, 45*time.Second, cfg.Interval)
	assert.Equal(t, "from-env", cfg.Folders[0].Password)
}

func TestLoadConfigFlagsOverride(t *testing.T) {
	tmp := isolate(t)
	path := writeTestConfig(t, tmp)

	root := newTestRoot()
	require.NoError(t, root.PersistentFlags().Set("config", path))
	require.NoError(t, root.PersistentFlags().Set("datadir", filepath.Join(tmp, "flag-data")))
	require.NoError(t, root.PersistentFlags().Set("interval", "10s"))
	require.NoError(t, root.PersistentFlags().Set("watcher", "fsnotify"))

	cfg, err := loadConfig(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmp, "flag-data"), cfg.DataDir)
	assert.Equal(t, 10*time.Second, cfg.Interval)
	assert.Equal(t, "fsnotify", cfg.WatcherBackend)
}

func TestLoadConfigMissingFile(t *testing.T) {
	tmp := isolate(t)

	cfg, err := loadConfig(newTestRoot())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmp, "config.json"), cfg.Path)
	assert.Empty(t, cfg.Folders)
	assert.ErrorIs(t, cfg.Validate(), config.ErrNoFolders)
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	tmp := isolate(t)
	path := filepath.Join(tmp, "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := loadConfig(newTestRoot())
	assert.ErrorContains(t, err, "config read")
}
